package invalidation

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrInvalidInput indicates the path list failed validation
	ErrInvalidInput = errors.New("invalid input")

	// ErrWildcardNotAllowed indicates a wildcard path was submitted while the
	// path policy forbids wildcards
	ErrWildcardNotAllowed = errors.New("wildcard invalidation is disabled")

	// ErrProviderRequired indicates the service was built without a primary provider
	ErrProviderRequired = errors.New("primary provider is required")

	// ErrAuditLogRequired indicates the service was built without an audit log
	ErrAuditLogRequired = errors.New("audit log is required")
)

// ValidationError describes why a path list was rejected
type ValidationError struct {
	Index  int // -1 when the error concerns the whole list
	Path   string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%v: %s", e.Err, e.Reason)
	}
	return fmt.Sprintf("%v: path %d (%q): %s", e.Err, e.Index, e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ProviderError is returned by providers when the remote side answered but
// did not accept the invalidation
type ProviderError struct {
	Provider   string
	Outcome    Outcome
	Code       string
	Message    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("provider %s %s: %s: %s", e.Provider, e.outcome(), e.Code, msg)
	}
	return fmt.Sprintf("provider %s %s: %s", e.Provider, e.outcome(), msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) outcome() Outcome {
	if e.Outcome == "" {
		return OutcomeRejected
	}
	return e.Outcome
}

// NewProviderError creates a rejected-outcome provider error
func NewProviderError(provider, code, message string, statusCode int, err error) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Outcome:    OutcomeRejected,
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// InvalidationError is the failure surfaced to callers once all attempts are
// exhausted. It carries the primary attempt's outcome and message.
type InvalidationError struct {
	Outcome  Outcome
	Provider string
	Message  string
	Record   *AuditRecord
	Err      error
}

func (e *InvalidationError) Error() string {
	return fmt.Sprintf("invalidation %s via %s: %s", e.Outcome, e.Provider, e.Message)
}

func (e *InvalidationError) Unwrap() error {
	return e.Err
}

// OutcomeOf extracts the outcome from an error returned by Invalidate.
// Errors that are not invalidation failures report an empty outcome.
func OutcomeOf(err error) Outcome {
	var ie *InvalidationError
	if errors.As(err, &ie) {
		return ie.Outcome
	}
	return ""
}
