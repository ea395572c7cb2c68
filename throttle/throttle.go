// Package throttle implements time-windowed suppression of repeated triggers.
//
// A scope key names what is being de-duplicated (an actor creating a ticket in
// a guild, a ticket being closed, a transcript being rendered). The first
// trigger opens a window; triggers for the same key inside the window are
// suppressed and do not extend it. This is best-effort de-duplication, not
// mutual exclusion: entries are process-local (memory) or TTL keys (redis).
package throttle

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"ticketbot/clock"
)

// Store records open windows.
type Store interface {
	// Acquire opens a window for key held by holder unless one is already
	// open, in which case it returns false and the current holder.
	Acquire(ctx context.Context, key, holder string, now time.Time, window time.Duration) (bool, string, error)
	Release(ctx context.Context, key string) error
}

type Throttle struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

func New(store Store, c clock.Clock, logger *zap.Logger) *Throttle {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{store: store, clock: c, logger: logger}
}

// Key joins scope parts into a scope key, e.g. Key(userID, guildID, "ticket_create").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// ShouldSuppress reports whether key was triggered within window. When it
// returns false the current time is recorded for key.
func (t *Throttle) ShouldSuppress(key string, window time.Duration) bool {
	suppressed, _ := t.Check(context.Background(), key, "", window)
	return suppressed
}

// Check is ShouldSuppress with the actor that opened the window reported back,
// so callers can tell a repeated trigger from a second actor racing the first.
func (t *Throttle) Check(ctx context.Context, key, actor string, window time.Duration) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ok, holder, err := t.store.Acquire(ctx, key, actor, t.clock.Now(), window)
	if err != nil {
		// Fail open: a broken throttle must not block ticket work.
		t.logger.Warn("throttle store unavailable", zap.String("key", key), zap.Error(err))
		return false, ""
	}
	return !ok, holder
}

// Release closes the window for key early.
func (t *Throttle) Release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.store.Release(ctx, key); err != nil {
		t.logger.Warn("throttle release failed", zap.String("key", key), zap.Error(err))
	}
}
