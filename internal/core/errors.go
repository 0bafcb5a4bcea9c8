package core

import "errors"

// Error taxonomy for the pipeline. Components wrap these with fmt.Errorf and
// callers classify with errors.Is.
var (
	// ErrConfigInvalid means a registry or configuration document failed
	// validation. Surfaces at startup and aborts.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrPreconditionFailed is an optimistic-concurrency loss on a conditional
	// write. Callers re-read and retry up to three times.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrConflict is surfaced after precondition retries are exhausted.
	ErrConflict = errors.New("conflict")

	// ErrThrottled is a capacity rejection from the entity store. Retryable.
	ErrThrottled = errors.New("throttled")

	// ErrTimeout is a deadline expiry on a remote call or a whole article.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidTransition is a disallowed (state, decision) pair. Not retryable.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrValidation is missing or wrongly-typed input. Not retryable.
	ErrValidation = errors.New("validation error")

	// ErrModelFailure is an LLM, embedding, or moderation backend failure.
	// Callers degrade gracefully and record a warning.
	ErrModelFailure = errors.New("model failure")

	// ErrNotFound is an absent entity, surfaced where semantically meaningful.
	ErrNotFound = errors.New("not found")
)

// IsTransient reports whether err should be retried with backoff.
// Schema failures, invalid transitions, and validation errors never are.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrTimeout)
}
