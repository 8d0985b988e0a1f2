package invalidation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
	auditmemory "github.com/tendant/simple-invalidation/pkg/invalidation/auditlog/memory"
	"github.com/tendant/simple-invalidation/pkg/invalidation/provider/memory"
)

var operator = invalidation.Identity{Email: "seo@company.com", Name: "SEO Operator", Role: "admin"}

// blockingProvider never answers before its context ends
type blockingProvider struct{ name string }

func (p blockingProvider) Name() string { return p.name }

func (p blockingProvider) Submit(ctx context.Context, req invalidation.SubmitRequest) (*invalidation.Invalidation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// nilProvider answers with neither an invalidation nor an error
type nilProvider struct{}

func (nilProvider) Name() string { return "nil" }

func (nilProvider) Submit(context.Context, invalidation.SubmitRequest) (*invalidation.Invalidation, error) {
	return nil, nil
}

func setupTestService(t *testing.T, opts ...invalidation.Option) (invalidation.Service, *memory.Provider, *auditmemory.Log) {
	t.Helper()
	primary := memory.New(memory.WithName("primary"))
	log := auditmemory.New()

	options := append([]invalidation.Option{
		invalidation.WithPrimaryProvider(primary),
		invalidation.WithAuditLog(log),
	}, opts...)

	svc, err := invalidation.New(options...)
	require.NoError(t, err)
	require.NotNil(t, svc)
	return svc, primary, log
}

func TestServiceCreation(t *testing.T) {
	tests := []struct {
		name    string
		options []invalidation.Option
		wantErr error
	}{
		{
			name:    "no options should fail",
			options: []invalidation.Option{},
			wantErr: invalidation.ErrProviderRequired,
		},
		{
			name: "missing audit log should fail",
			options: []invalidation.Option{
				invalidation.WithPrimaryProvider(memory.New()),
			},
			wantErr: invalidation.ErrAuditLogRequired,
		},
		{
			name: "provider and audit log should succeed",
			options: []invalidation.Option{
				invalidation.WithPrimaryProvider(memory.New()),
				invalidation.WithAuditLog(auditmemory.New()),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := invalidation.New(tt.options...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, svc)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, svc)
			assert.Equal(t, invalidation.DefaultPathPolicy(), svc.PathPolicy())
		})
	}
}

func TestInvalidateAccepted(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	svc, primary, log := setupTestService(t, invalidation.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	result, err := svc.Invalidate(ctx, operator, []string{" /index.html ", "/css/site.css"})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.Invalidation.ID)
	assert.Equal(t, memory.DefaultStatus, result.Invalidation.Status)
	assert.Equal(t, "primary", result.Invalidation.Provider)
	assert.False(t, result.Fallback)
	assert.Equal(t, []string{"/index.html", "/css/site.css"}, result.Paths)

	calls := primary.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"/index.html", "/css/site.css"}, calls[0].Paths)
	assert.Equal(t, operator, calls[0].Actor)
	assert.Equal(t, calls[0].CallerReference, result.Invalidation.CallerReference)

	entries, err := svc.Logs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, log.Len())

	rec := entries[0].Record
	require.NotNil(t, rec)
	assert.Equal(t, invalidation.AuditSchemaVersion, rec.Version)
	assert.True(t, now.Equal(rec.Timestamp))
	assert.Equal(t, "seo@company.com", rec.User)
	assert.Equal(t, "admin", rec.Role)
	assert.Equal(t, result.Paths, rec.Paths)
	require.NotNil(t, rec.Result)
	assert.Equal(t, result.Invalidation.ID, rec.Result.ID)
	assert.Empty(t, rec.Error)
	assert.Equal(t, invalidation.OutcomeAccepted, rec.Outcome)
	require.Len(t, rec.Attempts, 1)
	assert.Equal(t, invalidation.OutcomeAccepted, rec.Attempts[0].Outcome)
}

func TestInvalidateUnknownActor(t *testing.T) {
	svc, _, _ := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Invalidate(ctx, invalidation.Identity{}, []string{"/a"})
	require.NoError(t, err)

	entries, err := svc.Logs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, invalidation.UnknownActor, entries[0].Record.User)
	assert.Equal(t, invalidation.UnknownActor, entries[0].Record.Role)
}

func TestInvalidateValidationFailureHasNoSideEffects(t *testing.T) {
	var validationErrors []error
	hooks := invalidation.Hooks{
		OnValidationError: []invalidation.ValidationErrorHook{
			func(ctx context.Context, err error) { validationErrors = append(validationErrors, err) },
		},
	}
	svc, primary, log := setupTestService(t, invalidation.WithHooks(hooks))

	tests := []struct {
		name    string
		paths   []string
		wantErr error
	}{
		{"empty", []string{}, invalidation.ErrInvalidInput},
		{"whitespace only", []string{"   "}, invalidation.ErrInvalidInput},
		{"relative", []string{"index.html"}, invalidation.ErrInvalidInput},
		{"wildcard", []string{"/*"}, invalidation.ErrWildcardNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := svc.Invalidate(context.Background(), operator, tt.paths)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, invalidation.OutcomeOf(err))
		})
	}

	assert.Empty(t, primary.Calls())
	assert.Equal(t, 0, log.Len())
	assert.Len(t, validationErrors, len(tests))
}

func TestInvalidateWildcardAllowedByPolicy(t *testing.T) {
	svc, primary, _ := setupTestService(t, invalidation.WithPathPolicy(invalidation.PathPolicy{
		AllowWildcard:       true,
		RequireLeadingSlash: true,
	}))

	result, err := svc.Invalidate(context.Background(), operator, []string{"/*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/*"}, result.Paths)
	assert.Len(t, primary.Calls(), 1)
}

func TestInvalidateRejectedWithoutFallback(t *testing.T) {
	svc, primary, log := setupTestService(t)
	primary.FailWith(invalidation.NewProviderError("primary", "AccessDenied", "User is not authorized", 403, nil))

	result, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
	assert.Nil(t, result)
	require.Error(t, err)

	var ie *invalidation.InvalidationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, invalidation.OutcomeRejected, ie.Outcome)
	assert.Equal(t, "primary", ie.Provider)
	assert.Equal(t, "User is not authorized", ie.Message)
	assert.Equal(t, invalidation.OutcomeRejected, invalidation.OutcomeOf(err))

	var pe *invalidation.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "AccessDenied", pe.Code)

	require.Equal(t, 1, log.Len())
	entries, err := svc.Logs(context.Background(), 0)
	require.NoError(t, err)
	rec := entries[0].Record
	require.NotNil(t, rec)
	assert.Nil(t, rec.Result)
	assert.Equal(t, "User is not authorized", rec.Error)
	assert.Equal(t, invalidation.OutcomeRejected, rec.Outcome)
	assert.False(t, rec.Fallback)
}

func TestInvalidateGatewayUnreachable(t *testing.T) {
	svc, primary, _ := setupTestService(t)
	primary.FailWith(errors.New("dial tcp 10.0.0.1:443: connect: connection refused"))

	_, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
	require.Error(t, err)
	assert.Equal(t, invalidation.OutcomeGatewayUnreachable, invalidation.OutcomeOf(err))

	var ie *invalidation.InvalidationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "invalidation gateway unreachable", ie.Message)
	assert.Equal(t, "invalidation gateway unreachable", ie.Record.Error)
}

func TestInvalidateFallback(t *testing.T) {
	t.Run("secondary accepts after primary rejects", func(t *testing.T) {
		secondary := memory.New(memory.WithName("secondary"))
		svc, primary, log := setupTestService(t, invalidation.WithFallbackProvider(secondary))
		primary.FailWith(invalidation.NewProviderError("primary", "", "gateway said no", 500, nil))

		result, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
		require.NoError(t, err)
		assert.True(t, result.Fallback)
		assert.Equal(t, "secondary", result.Invalidation.Provider)

		require.Len(t, primary.Calls(), 1)
		require.Len(t, secondary.Calls(), 1)
		assert.NotEqual(t, primary.Calls()[0].CallerReference, secondary.Calls()[0].CallerReference)

		require.Equal(t, 1, log.Len(), "exactly one record per request")
		rec := result.Record
		assert.True(t, rec.Fallback)
		assert.Equal(t, "secondary", rec.Provider)
		assert.Equal(t, invalidation.OutcomeAccepted, rec.Outcome)
		require.Len(t, rec.Attempts, 2)
		assert.Equal(t, invalidation.OutcomeRejected, rec.Attempts[0].Outcome)
		assert.Equal(t, invalidation.OutcomeAccepted, rec.Attempts[1].Outcome)
	})

	t.Run("both fail surfaces the primary failure", func(t *testing.T) {
		secondary := memory.New(memory.WithName("secondary"))
		secondary.FailWith(invalidation.NewProviderError("secondary", "Throttling", "slow down", 400, nil))
		svc, primary, log := setupTestService(t, invalidation.WithFallbackProvider(secondary))
		primary.FailWith(errors.New("connection reset by peer"))

		_, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
		require.Error(t, err)

		var ie *invalidation.InvalidationError
		require.True(t, errors.As(err, &ie))
		assert.Equal(t, invalidation.OutcomeGatewayUnreachable, ie.Outcome)
		assert.Equal(t, "primary", ie.Provider)
		assert.Equal(t, "invalidation gateway unreachable", ie.Message)

		require.Equal(t, 1, log.Len())
		assert.True(t, ie.Record.Fallback)
		assert.Len(t, ie.Record.Attempts, 2)
		assert.Equal(t, "invalidation gateway unreachable", ie.Record.Error)
	})

	t.Run("disabled fallback never calls the secondary", func(t *testing.T) {
		secondary := memory.New(memory.WithName("secondary"))
		svc, primary, _ := setupTestService(t,
			invalidation.WithFallbackProvider(secondary),
			invalidation.WithFallback(false))
		primary.FailWith(errors.New("down"))

		_, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
		require.Error(t, err)
		assert.Empty(t, secondary.Calls())
	})

	t.Run("accepted primary never calls the secondary", func(t *testing.T) {
		secondary := memory.New(memory.WithName("secondary"))
		svc, _, _ := setupTestService(t, invalidation.WithFallbackProvider(secondary))

		result, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
		require.NoError(t, err)
		assert.False(t, result.Fallback)
		assert.Empty(t, secondary.Calls())
	})
}

func TestInvalidateProviderTimeout(t *testing.T) {
	secondary := memory.New(memory.WithName("secondary"))
	log := auditmemory.New()
	svc, err := invalidation.New(
		invalidation.WithPrimaryProvider(blockingProvider{name: "slow"}),
		invalidation.WithFallbackProvider(secondary),
		invalidation.WithAuditLog(log),
		invalidation.WithProviderTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	result, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	require.Len(t, result.Record.Attempts, 2)
	assert.Equal(t, invalidation.OutcomeGatewayTimeout, result.Record.Attempts[0].Outcome)
	assert.Equal(t, "slow", result.Record.Attempts[0].Provider)
}

func TestInvalidateProviderTimeoutWithoutFallback(t *testing.T) {
	svc, err := invalidation.New(
		invalidation.WithPrimaryProvider(blockingProvider{name: "slow"}),
		invalidation.WithAuditLog(auditmemory.New()),
		invalidation.WithProviderTimeout(20*time.Millisecond),
	)
	require.NoError(t, err)

	_, err = svc.Invalidate(context.Background(), operator, []string{"/a"})
	require.Error(t, err)
	assert.Equal(t, invalidation.OutcomeGatewayTimeout, invalidation.OutcomeOf(err))

	var ie *invalidation.InvalidationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "invalidation gateway timed out", ie.Message)
}

func TestInvalidateNilAnswerIsRejected(t *testing.T) {
	svc, err := invalidation.New(
		invalidation.WithPrimaryProvider(nilProvider{}),
		invalidation.WithAuditLog(auditmemory.New()),
	)
	require.NoError(t, err)

	_, err = svc.Invalidate(context.Background(), operator, []string{"/a"})
	assert.Equal(t, invalidation.OutcomeRejected, invalidation.OutcomeOf(err))
}

func TestInvalidateAuditFailureDoesNotChangeOutcome(t *testing.T) {
	var auditErrors []error
	hooks := invalidation.Hooks{
		OnAuditError: []invalidation.AuditErrorHook{
			func(ctx context.Context, record *invalidation.AuditRecord, err error) {
				auditErrors = append(auditErrors, err)
			},
		},
	}
	svc, _, log := setupTestService(t, invalidation.WithHooks(hooks))
	log.FailWith(errors.New("disk full"))

	result, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Invalidation.ID)
	require.Len(t, auditErrors, 1)
	assert.EqualError(t, auditErrors[0], "disk full")
	assert.Equal(t, 0, log.Len())
}

func TestInvalidateAuditSurvivesCanceledRequest(t *testing.T) {
	secondary := memory.New(memory.WithName("secondary"))
	svc, primary, log := setupTestService(t, invalidation.WithFallbackProvider(secondary))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Invalidate(ctx, operator, []string{"/a"})
	require.Error(t, err)
	assert.Len(t, primary.Calls(), 1)
	assert.Equal(t, 1, log.Len(), "the record is written even when the caller went away")
}

func TestCallerReferencesAreUnique(t *testing.T) {
	svc, primary, _ := setupTestService(t, invalidation.WithCallerReferencePrefix("test"))

	for i := 0; i < 20; i++ {
		_, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for _, call := range primary.Calls() {
		assert.Regexp(t, `^test-\d+-[0-9a-f]{8}$`, call.CallerReference)
		assert.False(t, seen[call.CallerReference], "duplicate caller reference %s", call.CallerReference)
		seen[call.CallerReference] = true
	}
}

func TestCallerReferenceFunc(t *testing.T) {
	n := 0
	svc, primary, _ := setupTestService(t, invalidation.WithCallerReferenceFunc(func(prefix string) string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}))

	_, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
	require.NoError(t, err)
	assert.Equal(t, invalidation.DefaultCallerReferencePrefix+"-1", primary.Calls()[0].CallerReference)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want invalidation.Outcome
	}{
		{"nil", nil, invalidation.OutcomeAccepted},
		{"provider error", invalidation.NewProviderError("p", "", "no", 400, nil), invalidation.OutcomeRejected},
		{"wrapped provider error", fmt.Errorf("submit: %w", invalidation.NewProviderError("p", "", "no", 400, nil)), invalidation.OutcomeRejected},
		{"provider error with outcome", &invalidation.ProviderError{Provider: "p", Outcome: invalidation.OutcomeGatewayTimeout}, invalidation.OutcomeGatewayTimeout},
		{"deadline", context.DeadlineExceeded, invalidation.OutcomeGatewayTimeout},
		{"wrapped deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), invalidation.OutcomeGatewayTimeout},
		{"canceled", context.Canceled, invalidation.OutcomeGatewayUnreachable},
		{"other", errors.New("connection refused"), invalidation.OutcomeGatewayUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, invalidation.Classify(tt.err))
		})
	}
}

func TestLogs(t *testing.T) {
	svc, primary, log := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Invalidate(ctx, operator, []string{"/first"})
	require.NoError(t, err)
	log.AppendRaw("this line is corrupted")
	primary.FailWith(errors.New("down"))
	_, err = svc.Invalidate(ctx, operator, []string{"/second"})
	require.Error(t, err)

	entries, err := svc.Logs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.NotNil(t, entries[0].Record)
	assert.Equal(t, []string{"/second"}, entries[0].Record.Paths)
	assert.NotEmpty(t, entries[0].Record.Error)

	assert.Nil(t, entries[1].Record)
	assert.Equal(t, "this line is corrupted", entries[1].Raw)

	require.NotNil(t, entries[2].Record)
	assert.Equal(t, []string{"/first"}, entries[2].Record.Paths)

	limited, err := svc.Logs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, entries[:2], limited)

	again, err := svc.Logs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, entries, again, "reading is idempotent")
}

func TestInvalidateHooks(t *testing.T) {
	var mu sync.Mutex
	var attempts []invalidation.Attempt
	var records []*invalidation.AuditRecord

	hooks := invalidation.Hooks{
		AfterAttempt: []invalidation.AfterAttemptHook{
			func(ctx context.Context, attempt invalidation.Attempt, elapsed time.Duration) {
				mu.Lock()
				defer mu.Unlock()
				attempts = append(attempts, attempt)
			},
		},
		AfterInvalidate: []invalidation.AfterInvalidateHook{
			func(ctx context.Context, record *invalidation.AuditRecord) {
				mu.Lock()
				defer mu.Unlock()
				records = append(records, record)
			},
		},
	}

	secondary := memory.New(memory.WithName("secondary"))
	svc, primary, _ := setupTestService(t, invalidation.WithHooks(hooks), invalidation.WithFallbackProvider(secondary))
	primary.FailWith(errors.New("down"))

	_, err := svc.Invalidate(context.Background(), operator, []string{"/a"})
	require.NoError(t, err)

	require.Len(t, attempts, 2)
	assert.Equal(t, "primary", attempts[0].Provider)
	assert.Equal(t, "secondary", attempts[1].Provider)
	require.Len(t, records, 1)
	assert.True(t, records[0].Fallback)
}

func TestConcurrentInvalidations(t *testing.T) {
	svc, primary, log := setupTestService(t)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Invalidate(context.Background(), operator, []string{fmt.Sprintf("/page-%d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, primary.Calls(), 25)
	assert.Equal(t, 25, log.Len())
}
