// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the relay error taxonomy.
type ErrorKind int

const (
	// KindTransient errors are retried with bounded exponential backoff.
	KindTransient ErrorKind = iota
	// KindRateLimited errors are retried after the server's wait hint.
	KindRateLimited
	// KindPermanent errors are recorded immediately and never retried.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// RemoteError wraps a remote platform failure with its classification and,
// for rate limits, the server's flood-wait hint.
type RemoteError struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s): %v", e.Kind, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure.
func Transient(err error) *RemoteError {
	return &RemoteError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) *RemoteError {
	return &RemoteError{Kind: KindPermanent, Err: err}
}

// RateLimited wraps err as a flood-wait with the server's hint.
func RateLimited(err error, retryAfter time.Duration) *RemoteError {
	return &RemoteError{Kind: KindRateLimited, RetryAfter: retryAfter, Err: err}
}

// Classify returns the error kind and, for rate limits, the wait hint.
// Unclassified errors (plain network failures, timeouts) default to
// transient so they get retried.
func Classify(err error) (ErrorKind, time.Duration) {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Kind, remote.RetryAfter
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindTransient, 0
	}
	return KindTransient, 0
}
