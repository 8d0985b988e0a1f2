package invalidation

import (
	"context"
)

// SubmitRequest is what the pipeline hands to a provider for one attempt.
type SubmitRequest struct {
	// CallerReference is unique per attempt and is never reused, including
	// on fallback.
	CallerReference string
	Paths           []string
	Actor           Identity
}

// Provider submits invalidations to a CDN.
//
// Implementations return a *ProviderError when the remote side answered but
// did not accept the request. Any other error is treated as a transport
// failure.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (*Invalidation, error)
}

// AuditLog is an append-only store of audit records.
type AuditLog interface {
	// Append durably stores one record. Existing records are never rewritten.
	Append(ctx context.Context, record *AuditRecord) error

	// ReadAll returns every stored entry, most recent first. Entries that
	// cannot be decoded are returned raw rather than dropped.
	ReadAll(ctx context.Context) ([]AuditEntry, error)
}
