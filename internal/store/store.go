// Package store defines the commit-layer contract the pipeline workers drive.
package store

import (
	"context"
	"errors"

	"strandpipe/internal/domain"
)

// Sink durably applies decoded password-change events. Commit is invoked
// exactly once per decoded event by a worker and must tolerate retries after
// transient failures (idempotent-safe).
type Sink interface {
	Commit(ctx context.Context, ev domain.Event) error
	Close() error
}

// CommitError classifies a failed commit. Transient failures are retried a
// bounded number of times with backoff; permanent ones surface immediately.
type CommitError struct {
	Transient bool
	Err       error
}

func (e *CommitError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return "commit (" + kind + "): " + e.Err.Error()
}

func (e *CommitError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying. Unclassified errors are
// treated as permanent.
func IsTransient(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce) && ce.Transient
}

func Permanent(err error) error { return &CommitError{Err: err} }
func Retryable(err error) error { return &CommitError{Transient: true, Err: err} }
