package invalidation

import (
	"context"
)

// Service defines the main interface for the invalidation library
type Service interface {
	// Invalidate validates paths, submits them to the configured providers and
	// records exactly one audit record for any request that passes validation.
	Invalidate(ctx context.Context, actor Identity, paths []string) (*Result, error)

	// Logs returns audit entries, most recent first. A limit <= 0 returns all.
	Logs(ctx context.Context, limit int) ([]AuditEntry, error)

	// PathPolicy returns the policy applied by Invalidate.
	PathPolicy() PathPolicy
}
