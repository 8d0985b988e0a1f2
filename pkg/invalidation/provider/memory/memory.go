package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
)

// DefaultStatus is the status reported for accepted invalidations, matching
// what CloudFront returns for a freshly created batch.
const DefaultStatus = "InProgress"

// Provider is an in-memory implementation of the invalidation.Provider
// interface. It accepts every request unless told to fail, which makes it the
// simulated backend for development and the scriptable backend for tests.
type Provider struct {
	mu     sync.Mutex
	name   string
	status string
	err    error
	idFunc func() string
	calls  []invalidation.SubmitRequest
}

// Option configures a Provider
type Option func(*Provider)

// WithName overrides the provider name (default "memory")
func WithName(name string) Option {
	return func(p *Provider) {
		p.name = name
	}
}

// WithStatus overrides the status reported for accepted invalidations
func WithStatus(status string) Option {
	return func(p *Provider) {
		p.status = status
	}
}

// WithIDFunc overrides invalidation id generation
func WithIDFunc(fn func() string) Option {
	return func(p *Provider) {
		p.idFunc = fn
	}
}

// New creates a new in-memory provider
func New(opts ...Option) *Provider {
	p := &Provider{
		name:   "memory",
		status: DefaultStatus,
		idFunc: newInvalidationID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// newInvalidationID mimics the shape of CloudFront ids: 'I' followed by
// upper-case alphanumerics.
func newInvalidationID() string {
	return "I" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:13]
}

// Name returns the provider name
func (p *Provider) Name() string {
	return p.name
}

// Submit records the request and accepts it, or returns the configured error
func (p *Provider) Submit(ctx context.Context, req invalidation.SubmitRequest) (*invalidation.Invalidation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, req)

	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &invalidation.Invalidation{
		ID:              p.idFunc(),
		Status:          p.status,
		Provider:        p.name,
		CallerReference: req.CallerReference,
	}, nil
}

// FailWith makes subsequent calls return err. Pass nil to accept again.
func (p *Provider) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Calls returns a copy of every request received so far
func (p *Provider) Calls() []invalidation.SubmitRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]invalidation.SubmitRequest, len(p.calls))
	copy(out, p.calls)
	return out
}
