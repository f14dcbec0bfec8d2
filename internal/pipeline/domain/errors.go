package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the store
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob is returned by the queue when the idempotency key
	// already has a live (non-terminal) entry
	ErrDuplicateJob = errors.New("duplicate job: idempotency key already enqueued")

	// ErrNoEntryReady is returned by a lease attempt when no entry is due
	// or the targeted entry is held by another worker
	ErrNoEntryReady = errors.New("no queue entry ready")

	// ErrEntryNotFound is returned when a queue entry does not exist
	ErrEntryNotFound = errors.New("queue entry not found")

	// ErrAlreadyTerminal is returned when a transition is attempted on a
	// job that has already reached a terminal state. Callers treat it as a
	// no-op signal, never as a failure.
	ErrAlreadyTerminal = errors.New("job already in a terminal state")

	// ErrInvalidPayload is returned when the job payload cannot be decoded
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrProviderIDConflict is returned on an attempt to overwrite an
	// already-set provider job id with a different value
	ErrProviderIDConflict = errors.New("provider job id already set")

	// ErrProviderUnavailable marks transient provider failures (network, 5xx)
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrInvalidParams marks provider-side validation rejections
	ErrInvalidParams = errors.New("provider rejected generation params")

	// ErrQuotaExceeded marks provider quota rejections
	ErrQuotaExceeded = errors.New("provider quota exceeded")

	// ErrPollingTimeout is raised when the reconciliation poll budget is
	// exhausted without observing a terminal provider state
	ErrPollingTimeout = errors.New("polling budget exhausted")

	// ErrPublishFailed marks artifact publication failures. Publication is
	// non-fatal: the job still completes with the provider URL.
	ErrPublishFailed = errors.New("artifact publish failed")
)

// ProviderFailure carries a terminal failure reported by the provider for a
// submitted generation. It is retried like any other job error.
type ProviderFailure struct {
	Code    string
	Message string
}

func (e *ProviderFailure) Error() string {
	return "provider reported failure: " + e.Message
}

// RetryableError wraps transient errors that should route through the
// backoff path rather than dead-lettering immediately
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// ErrorCode maps a job lifecycle error to the code persisted on the job
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "PROVIDER_UNAVAILABLE"
	case errors.Is(err, ErrInvalidParams):
		return "INVALID_PARAMS"
	case errors.Is(err, ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	case errors.Is(err, ErrPollingTimeout):
		return "POLLING_TIMEOUT"
	case errors.Is(err, ErrPublishFailed):
		return "PUBLISH_FAILED"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	}
	var pf *ProviderFailure
	if errors.As(err, &pf) && pf.Code != "" {
		return pf.Code
	}
	return "INTERNAL"
}
