package core

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes backends and stores report.
// Callers match with errors.Is.
var (
	// ErrNotFound means an entry vanished between listing and a later
	// stat/read. This is a benign race: the next planning pass re-diffs.
	ErrNotFound = errors.New("entry not found")

	// ErrInvalidURL means a URL's scheme does not match any backend, or the
	// URL is malformed. Configuration error, never retried.
	ErrInvalidURL = errors.New("invalid url")

	// ErrUnresolvable means a hierarchical path segment has no matching
	// directory record. Configuration error, never retried.
	ErrUnresolvable = errors.New("unresolvable path")

	// ErrCycleDetected means a directory upsert would create a cycle.
	// Always fatal to that operation, never silently repaired.
	ErrCycleDetected = errors.New("directory cycle detected")

	// ErrChecksumRead means content could not be streamed to completion
	// while hashing. The entry is skipped for the pass and retried next time.
	ErrChecksumRead = errors.New("checksum read failed")

	// ErrActionClaimed means a pending action is already being applied by a
	// concurrent executor invocation.
	ErrActionClaimed = errors.New("action already claimed")
)

// TransientError marks a backend failure worth retrying: timeouts, rate
// limits, transient network conditions.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a backend failure that retrying cannot fix:
// authorization, quota, misconfiguration.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as non-retryable. Returns nil for nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is eligible for retry. Deadline expiry on a
// backend call counts as transient.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
