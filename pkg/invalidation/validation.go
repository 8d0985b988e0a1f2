package invalidation

import (
	"fmt"
	"strings"
)

// DefaultMaxPaths is the CloudFront limit on paths per invalidation batch.
const DefaultMaxPaths = 3000

// PathPolicy controls which path lists Invalidate accepts.
type PathPolicy struct {
	// AllowWildcard permits '*' as the final character of a path, including
	// the full-distribution purge "/*". Off unless explicitly enabled.
	AllowWildcard bool

	// RequireLeadingSlash rejects paths that do not start with '/'.
	RequireLeadingSlash bool

	// MaxPaths caps the number of paths per request. Zero means no cap.
	MaxPaths int
}

// DefaultPathPolicy returns the policy used when none is configured.
func DefaultPathPolicy() PathPolicy {
	return PathPolicy{
		AllowWildcard:       false,
		RequireLeadingSlash: true,
		MaxPaths:            DefaultMaxPaths,
	}
}

// NormalizePaths trims every path and returns the trimmed copy.
func NormalizePaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

// SplitPathList turns the newline-separated text a form submits into a path
// list, dropping blank lines.
func SplitPathList(text string) []string {
	var paths []string
	for _, line := range strings.Split(text, "\n") {
		if p := strings.TrimSpace(line); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Validate checks already-normalized paths against the policy.
func (p PathPolicy) Validate(paths []string) error {
	if len(paths) == 0 {
		return &ValidationError{Index: -1, Reason: "paths must contain at least one entry", Err: ErrInvalidInput}
	}
	if p.MaxPaths > 0 && len(paths) > p.MaxPaths {
		return &ValidationError{
			Index:  -1,
			Reason: fmt.Sprintf("at most %d paths per request, got %d", p.MaxPaths, len(paths)),
			Err:    ErrInvalidInput,
		}
	}

	for i, path := range paths {
		if path == "" {
			return &ValidationError{Index: i, Path: path, Reason: "path is empty", Err: ErrInvalidInput}
		}
		if p.RequireLeadingSlash && !strings.HasPrefix(path, "/") {
			return &ValidationError{Index: i, Path: path, Reason: "path must start with '/'", Err: ErrInvalidInput}
		}
		star := strings.IndexByte(path, '*')
		if star < 0 {
			continue
		}
		if !p.AllowWildcard {
			return &ValidationError{Index: i, Path: path, Reason: "wildcard paths are not allowed", Err: ErrWildcardNotAllowed}
		}
		if star != len(path)-1 {
			return &ValidationError{Index: i, Path: path, Reason: "'*' may only appear at the end of a path", Err: ErrInvalidInput}
		}
	}
	return nil
}
