package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrContention is returned when a write could not acquire the database
// lock within the retry bound. Callers distinguish it from ordinary
// statement errors via errors.Is.
var ErrContention = errors.New("database write contention not resolved within retry bound")

// RetryPolicy is the single shared retry definition used by every write
// path. Attempt N (1-based) waits N × Backoff before retrying.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Do runs fn, retrying on lock contention with linearly increasing
// backoff. Non-contention errors surface immediately. After MaxAttempts
// the failure surfaces as ErrContention wrapping the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := time.Duration(attempt) * p.Backoff
		slog.Debug("Database busy, backing off",
			"attempt", attempt, "max_attempts", p.MaxAttempts, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrContention, p.MaxAttempts, lastErr)
}

// IsBusy reports whether err is a lock/contention failure from the
// embedded engine (SQLITE_BUSY or SQLITE_LOCKED).
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
