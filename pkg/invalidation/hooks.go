package invalidation

import (
	"context"
	"time"
)

// Hook system lets callers observe the pipeline without modifying it.
// Hooks run synchronously in registration order; their errors are ignored.

// Hooks defines all available pipeline hooks
type Hooks struct {
	// AfterAttempt runs after every provider call, primary or fallback
	AfterAttempt []AfterAttemptHook

	// AfterInvalidate runs once per validated request with the final record
	AfterInvalidate []AfterInvalidateHook

	// OnValidationError runs when a request is rejected before any provider call
	OnValidationError []ValidationErrorHook

	// OnAuditError runs when the audit log refuses a record
	OnAuditError []AuditErrorHook
}

// AfterAttemptHook is called after each provider attempt
type AfterAttemptHook func(ctx context.Context, attempt Attempt, elapsed time.Duration)

// AfterInvalidateHook is called with the record written for a request
type AfterInvalidateHook func(ctx context.Context, record *AuditRecord)

// ValidationErrorHook is called when validation fails
type ValidationErrorHook func(ctx context.Context, err error)

// AuditErrorHook is called when appending a record fails
type AuditErrorHook func(ctx context.Context, record *AuditRecord, err error)

// Merge appends the hooks of other after the receiver's own.
func (h *Hooks) Merge(other Hooks) {
	h.AfterAttempt = append(h.AfterAttempt, other.AfterAttempt...)
	h.AfterInvalidate = append(h.AfterInvalidate, other.AfterInvalidate...)
	h.OnValidationError = append(h.OnValidationError, other.OnValidationError...)
	h.OnAuditError = append(h.OnAuditError, other.OnAuditError...)
}

func (h *Hooks) runAfterAttempt(ctx context.Context, attempt Attempt, elapsed time.Duration) {
	for _, hook := range h.AfterAttempt {
		hook(ctx, attempt, elapsed)
	}
}

func (h *Hooks) runAfterInvalidate(ctx context.Context, record *AuditRecord) {
	for _, hook := range h.AfterInvalidate {
		hook(ctx, record)
	}
}

func (h *Hooks) runOnValidationError(ctx context.Context, err error) {
	for _, hook := range h.OnValidationError {
		hook(ctx, err)
	}
}

func (h *Hooks) runOnAuditError(ctx context.Context, record *AuditRecord, err error) {
	for _, hook := range h.OnAuditError {
		hook(ctx, record, err)
	}
}
