package tickets

import (
	"errors"

	"ticketbot/lang"
)

// ValidationError is a user-facing rejection. Nothing was mutated.
type ValidationError struct {
	Key  string
	Args []string
}

func (e *ValidationError) Error() string {
	return lang.T(e.Key, e.Args...)
}

func invalid(key string, args ...string) error {
	return &ValidationError{Key: key, Args: args}
}

// ErrChannelCreate means the ticket channel could not be created; no record
// was persisted.
var ErrChannelCreate = errors.New("create ticket channel")

func isValidation(err error) (*ValidationError, bool) {
	var v *ValidationError
	ok := errors.As(err, &v)
	return v, ok
}
