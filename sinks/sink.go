// Package sinks delivers ticket lifecycle records, transcripts and ratings to
// the places staff read them: the guild log channel, a message broker and a
// dashboard feed. Every delivery is best-effort.
package sinks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindLifecycle  Kind = "lifecycle"
	KindTranscript Kind = "transcript"
	KindRating     Kind = "rating"
)

const (
	ColorSuccess = 0x57F287
	ColorWarning = 0xFEE75C
	ColorError   = 0xED4245
	ColorInfo    = 0x5865F2
)

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Artifact is a rendered file attached to a record.
type Artifact struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type Record struct {
	Kind         Kind      `json:"kind"`
	Action       string    `json:"action"`
	GuildID      string    `json:"guild_id"`
	TicketID     int64     `json:"ticket_id"`
	TicketNumber int       `json:"ticket_number"`
	ActorID      string    `json:"actor_id,omitempty"`
	Title        string    `json:"title"`
	Color        int       `json:"color"`
	Fields       []Field   `json:"fields,omitempty"`
	Artifact     *Artifact `json:"artifact,omitempty"`
	At           time.Time `json:"at"`
}

type Sink interface {
	Name() string
	Deliver(ctx context.Context, r Record) error
}

// Multi fans a record out to every sink. One failing sink never stops the
// others; the failures are joined into the returned error.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Add(s Sink) {
	m.sinks = append(m.sinks, s)
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Len() int { return len(m.sinks) }

func (m *Multi) Deliver(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Deliver(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds a connection.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// RatingColor buckets a 1..5 rating into an embed colour.
func RatingColor(rating int) int {
	switch {
	case rating >= 4:
		return ColorSuccess
	case rating == 3:
		return ColorWarning
	default:
		return ColorError
	}
}
