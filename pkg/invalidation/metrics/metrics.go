package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
)

// LoginOutcome captures the result of a login attempt.
type LoginOutcome string

const (
	// LoginSucceeded indicates a token was issued.
	LoginSucceeded LoginOutcome = "success"
	// LoginRejected indicates the credentials did not match.
	LoginRejected LoginOutcome = "rejected"
)

// Recorder publishes Prometheus metrics for the invalidation pipeline.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	invalidations  *prometheus.CounterVec
	rejectedInput  *prometheus.CounterVec
	auditFailures  prometheus.Counter
	logins         *prometheus.CounterVec
	pathsSubmitted prometheus.Counter
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so tests can build several recorders.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	r := &Recorder{
		gatherer: reg,
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invalidation",
			Subsystem: "provider",
			Name:      "attempts_total",
			Help:      "Provider attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		attemptLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "invalidation",
			Subsystem: "provider",
			Name:      "attempt_duration_seconds",
			Help:      "Latency of provider attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invalidation",
			Name:      "requests_total",
			Help:      "Validated invalidation requests by final outcome.",
		}, []string{"outcome", "fallback"}),
		rejectedInput: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invalidation",
			Name:      "validation_failures_total",
			Help:      "Requests rejected before reaching a provider.",
		}, []string{"reason"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "invalidation",
			Subsystem: "audit",
			Name:      "append_failures_total",
			Help:      "Audit records that could not be persisted.",
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invalidation",
			Subsystem: "auth",
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		pathsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "invalidation",
			Name:      "paths_total",
			Help:      "Paths contained in validated requests.",
		}),
	}

	reg.MustRegister(
		r.attempts,
		r.attemptLatency,
		r.invalidations,
		r.rejectedInput,
		r.auditFailures,
		r.logins,
		r.pathsSubmitted,
	)
	r.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return r
}

// Handler serves the metrics exposition.
func (r *Recorder) Handler() http.Handler {
	return r.handler
}

// Gatherer exposes the underlying registry for tests.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.gatherer
}

// ObserveLogin counts a login attempt.
func (r *Recorder) ObserveLogin(outcome LoginOutcome) {
	r.logins.WithLabelValues(string(outcome)).Inc()
}

// Hooks returns pipeline hooks that feed this recorder.
func (r *Recorder) Hooks() invalidation.Hooks {
	return invalidation.Hooks{
		AfterAttempt: []invalidation.AfterAttemptHook{
			func(ctx context.Context, attempt invalidation.Attempt, elapsed time.Duration) {
				outcome := string(attempt.Outcome)
				r.attempts.WithLabelValues(attempt.Provider, outcome).Inc()
				r.attemptLatency.WithLabelValues(attempt.Provider, outcome).Observe(elapsed.Seconds())
			},
		},
		AfterInvalidate: []invalidation.AfterInvalidateHook{
			func(ctx context.Context, record *invalidation.AuditRecord) {
				fallback := "false"
				if record.Fallback {
					fallback = "true"
				}
				r.invalidations.WithLabelValues(string(record.Outcome), fallback).Inc()
				r.pathsSubmitted.Add(float64(len(record.Paths)))
			},
		},
		OnValidationError: []invalidation.ValidationErrorHook{
			func(ctx context.Context, err error) {
				reason := "invalid_input"
				if errors.Is(err, invalidation.ErrWildcardNotAllowed) {
					reason = "wildcard"
				}
				r.rejectedInput.WithLabelValues(reason).Inc()
			},
		},
		OnAuditError: []invalidation.AuditErrorHook{
			func(ctx context.Context, record *invalidation.AuditRecord, err error) {
				r.auditFailures.Inc()
			},
		},
	}
}
