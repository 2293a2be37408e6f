package service

import (
	"errors"
)

var (
	ErrStaging           = errors.New("media staging failed")
	ErrProviderTransient = errors.New("provider temporarily unavailable")
	ErrContentRejected   = errors.New("content rejected by provider")
	ErrAuthExpired       = errors.New("account authorization expired")
	ErrRateLimited       = errors.New("provider rate limit reached")
	ErrPollTimeout       = errors.New("timed out waiting for provider")
)

const (
	genericFailureMessage = "Something went wrong making your post. Please try again."
	stagingFailureMessage = "We couldn't upload your media. Please try again."
)

// ProviderError is the only error shape adapters return. Error() is the
// user-facing message; the raw provider payload never leaves the adapter.
type ProviderError struct {
	Provider string
	Step     string
	Code     string
	Kind     error
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// IsTransient reports whether a retry later may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderTransient) || errors.Is(err, ErrPollTimeout)
}

// UserMessage extracts the text safe to show for err.
func UserMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	if errors.Is(err, ErrStaging) {
		return stagingFailureMessage
	}
	return genericFailureMessage
}

// ErrorKind names the taxonomy bucket of err for persistence and API output.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrContentRejected):
		return "content_rejected"
	case errors.Is(err, ErrPollTimeout):
		return "timeout"
	case errors.Is(err, ErrStaging):
		return "staging"
	default:
		return "transient"
	}
}

func errorStep(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Step
	}
	return ""
}

// errorCause is the provider detail behind err, for logs only.
func errorCause(err error) error {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err
	}
	return err
}
