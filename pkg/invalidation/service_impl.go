package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"
)

// DefaultProviderTimeout bounds a single provider attempt.
const DefaultProviderTimeout = 10 * time.Second

// DefaultCallerReferencePrefix prefixes generated caller references.
const DefaultCallerReferencePrefix = "portal"

// service implements the Service interface
type service struct {
	primary   Provider
	secondary Provider
	auditLog  AuditLog

	policy          PathPolicy
	enableFallback  bool
	providerTimeout time.Duration

	callerReferencePrefix string
	newCallerReference    func(prefix string) string
	now                   func() time.Time

	logger *slog.Logger
	hooks  Hooks
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithPrimaryProvider sets the provider every request is submitted to first
func WithPrimaryProvider(p Provider) Option {
	return func(s *service) {
		s.primary = p
	}
}

// WithFallbackProvider sets the provider tried once when the primary fails
func WithFallbackProvider(p Provider) Option {
	return func(s *service) {
		s.secondary = p
	}
}

// WithAuditLog sets the audit log backend
func WithAuditLog(log AuditLog) Option {
	return func(s *service) {
		s.auditLog = log
	}
}

// WithPathPolicy replaces the default path policy
func WithPathPolicy(policy PathPolicy) Option {
	return func(s *service) {
		s.policy = policy
	}
}

// WithFallback enables or disables the fallback attempt (enabled by default)
func WithFallback(enabled bool) Option {
	return func(s *service) {
		s.enableFallback = enabled
	}
}

// WithProviderTimeout bounds each provider attempt. Zero disables the bound.
func WithProviderTimeout(d time.Duration) Option {
	return func(s *service) {
		s.providerTimeout = d
	}
}

// WithCallerReferencePrefix sets the prefix of generated caller references
func WithCallerReferencePrefix(prefix string) Option {
	return func(s *service) {
		s.callerReferencePrefix = prefix
	}
}

// WithCallerReferenceFunc replaces the caller reference generator
func WithCallerReferenceFunc(fn func(prefix string) string) Option {
	return func(s *service) {
		s.newCallerReference = fn
	}
}

// WithClock sets the time source used for record timestamps
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithLogger sets the logger for operational messages
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithHooks registers pipeline hooks
func WithHooks(hooks Hooks) Option {
	return func(s *service) {
		s.hooks.Merge(hooks)
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		policy:                DefaultPathPolicy(),
		enableFallback:        true,
		providerTimeout:       DefaultProviderTimeout,
		callerReferencePrefix: DefaultCallerReferencePrefix,
		newCallerReference:    NewCallerReference,
		now:                   time.Now,
	}

	for _, option := range options {
		option(s)
	}

	if s.primary == nil {
		return nil, ErrProviderRequired
	}
	if s.auditLog == nil {
		return nil, ErrAuditLogRequired
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	return s, nil
}

// NewCallerReference builds a reference unique per call:
// <prefix>-<unix millis>-<8 hex chars>.
func NewCallerReference(prefix string) string {
	suffix := uuid.NewString()[:8]
	if prefix == "" {
		return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixMilli(), suffix)
}

// Classify maps a provider error to an outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeAccepted
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.outcome()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeGatewayTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return OutcomeGatewayTimeout
	}
	return OutcomeGatewayUnreachable
}

func (s *service) PathPolicy() PathPolicy {
	return s.policy
}

func (s *service) Invalidate(ctx context.Context, actor Identity, paths []string) (*Result, error) {
	normalized := NormalizePaths(paths)
	if err := s.policy.Validate(normalized); err != nil {
		s.hooks.runOnValidationError(ctx, err)
		return nil, err
	}

	inv, primary, primaryErr := s.attempt(ctx, s.primary, actor, normalized)
	attempts := []Attempt{primary}
	final, finalInv := primary, inv
	usedFallback := false

	if primaryErr != nil && s.enableFallback && s.secondary != nil {
		usedFallback = true
		s.logger.WarnContext(ctx, "Primary provider failed, trying fallback",
			"provider", primary.Provider,
			"outcome", primary.Outcome,
			"fallback", s.secondary.Name(),
			"err", primaryErr)

		fallbackInv, fallback, fallbackErr := s.attempt(ctx, s.secondary, actor, normalized)
		attempts = append(attempts, fallback)
		if fallbackErr == nil {
			final, finalInv = fallback, fallbackInv
		} else {
			s.logger.ErrorContext(ctx, "Fallback provider failed",
				"provider", fallback.Provider,
				"outcome", fallback.Outcome,
				"err", fallbackErr)
		}
	}

	record := &AuditRecord{
		Version:   AuditSchemaVersion,
		Timestamp: s.now().UTC(),
		User:      actor.User(),
		Role:      actor.RoleOrUnknown(),
		Paths:     append([]string(nil), normalized...),
		Outcome:   final.Outcome,
		Provider:  final.Provider,
		Fallback:  usedFallback,
		Attempts:  attempts,
	}
	var message string
	if final.Outcome == OutcomeAccepted {
		record.Result = finalInv.Summary()
	} else {
		message = failureMessage(primaryErr)
		record.Error = message
	}

	s.persist(ctx, record)
	s.hooks.runAfterInvalidate(ctx, record)

	if final.Outcome != OutcomeAccepted {
		return nil, &InvalidationError{
			Outcome:  primary.Outcome,
			Provider: primary.Provider,
			Message:  message,
			Record:   record,
			Err:      primaryErr,
		}
	}

	s.logger.InfoContext(ctx, "Invalidation accepted",
		"user", record.User,
		"provider", final.Provider,
		"invalidation_id", finalInv.ID,
		"paths", len(normalized),
		"fallback", usedFallback)

	return &Result{
		Invalidation: finalInv,
		Paths:        record.Paths,
		Fallback:     usedFallback,
		Record:       record,
	}, nil
}

func (s *service) attempt(ctx context.Context, p Provider, actor Identity, paths []string) (*Invalidation, Attempt, error) {
	ref := s.newCallerReference(s.callerReferencePrefix)

	attemptCtx := ctx
	if s.providerTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.providerTimeout)
		defer cancel()
	}

	start := time.Now()
	inv, err := p.Submit(attemptCtx, SubmitRequest{
		CallerReference: ref,
		Paths:           append([]string(nil), paths...),
		Actor:           actor,
	})
	elapsed := time.Since(start)

	if err == nil && inv == nil {
		err = NewProviderError(p.Name(), "", "provider returned no invalidation", 0, nil)
	}

	a := Attempt{
		Provider:        p.Name(),
		CallerReference: ref,
		DurationMS:      elapsed.Milliseconds(),
	}
	if err != nil {
		a.Outcome = Classify(err)
		a.Error = err.Error()
		inv = nil
	} else {
		a.Outcome = OutcomeAccepted
		a.InvalidationID = inv.ID
		if inv.Provider == "" {
			inv.Provider = p.Name()
		}
		if inv.CallerReference == "" {
			inv.CallerReference = ref
		}
	}

	s.hooks.runAfterAttempt(ctx, a, elapsed)
	return inv, a, err
}

// persist appends the record. Failures are logged and reported to hooks but
// never change the invalidation outcome.
func (s *service) persist(ctx context.Context, record *AuditRecord) {
	if err := s.auditLog.Append(context.WithoutCancel(ctx), record); err != nil {
		s.logger.ErrorContext(ctx, "Failed to append audit record",
			"err", err,
			"user", record.User,
			"outcome", record.Outcome)
		s.hooks.runOnAuditError(ctx, record, err)
	}
}

// failureMessage is the human-readable message returned to clients.
func failureMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Message != "" {
			return pe.Message
		}
		return "invalidation rejected by provider"
	}
	switch Classify(err) {
	case OutcomeGatewayTimeout:
		return "invalidation gateway timed out"
	default:
		return "invalidation gateway unreachable"
	}
}

func (s *service) Logs(ctx context.Context, limit int) ([]AuditEntry, error) {
	entries, err := s.auditLog.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
