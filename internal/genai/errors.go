// Package genai provides the resilient generation client for CareFlow.
package genai

import (
	"errors"
	"fmt"
)

// Sentinel errors distinguishing the two failure classes of the generation
// boundary. RemoteError and MalformedError match these via errors.Is.
var (
	// ErrRemoteFailure covers network errors, timeouts, and empty responses
	// from the generation service. Retryable.
	ErrRemoteFailure = errors.New("generation service failure")
	// ErrMalformedResponse covers responses that could not be parsed or
	// validated against the expected schema. Not retryable.
	ErrMalformedResponse = errors.New("malformed generation response")
)

// RemoteError wraps a failure of the remote generation call.
type RemoteError struct {
	Attempts int
	Err      error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("generation service failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRemoteFailure) match wrapped remote errors.
func (e *RemoteError) Is(target error) bool { return target == ErrRemoteFailure }

// MalformedError wraps a response that failed schema validation after the
// fallback parse attempt. Retrying a malformed response wastes quota without
// improving correctness, so the client never retries these.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed generation response: %v", e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrMalformedResponse) match wrapped malformed errors.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformedResponse }

// IsRetryable reports whether a failed attempt should be retried.
func IsRetryable(err error) bool {
	return !errors.Is(err, ErrMalformedResponse)
}
