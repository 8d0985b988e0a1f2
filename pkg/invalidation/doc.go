// Package invalidation provides a small library for submitting CDN cache
// invalidations and keeping an audit trail of every submission.
//
// It exposes a single Service interface that validates a list of paths,
// submits them to a primary Provider, optionally retries once through a
// secondary Provider, and appends exactly one AuditRecord per request that
// passes validation to an AuditLog. Provider implementations (CloudFront, API
// Gateway forwarding, in-memory) and audit log backends (file, memory,
// Postgres) are provided under subpackages.
//
// # Audit Record Strategy
//
// A record is written once per Invalidate call after validation succeeds,
// whatever the provider outcome. The final outcome is either a result
// (invalidation id and status) or an error message, never both. The
// individual provider attempts that led to it are kept in Attempts.
package invalidation
