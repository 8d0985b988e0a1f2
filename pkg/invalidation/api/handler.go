package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
	"github.com/tendant/simple-invalidation/pkg/invalidation/auth"
	"github.com/tendant/simple-invalidation/pkg/invalidation/metrics"
)

// maxRequestBody bounds JSON request bodies
const maxRequestBody = 1 << 20

// Authenticator issues and verifies identity tokens
type Authenticator interface {
	TokenVerifier
	Login(email, password string) (*auth.Session, error)
}

// LoginObserver is notified of every login attempt
type LoginObserver interface {
	ObserveLogin(outcome metrics.LoginOutcome)
}

// LoginRequest is the request body for POST /login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse describes the authenticated user
type UserResponse struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// LoginResponse is the response body for POST /login
type LoginResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// InvalidateRequest is the request body for POST /invalidate
type InvalidateRequest struct {
	Paths []string `json:"paths"`
}

// InvalidateResponse is the response body for a successful POST /invalidate
type InvalidateResponse struct {
	Success        bool                              `json:"success"`
	Result         *invalidation.InvalidationSummary `json:"result"`
	Provider       string                            `json:"provider"`
	DistributionID string                            `json:"distributionId,omitempty"`
	Fallback       bool                              `json:"fallback"`
	Paths          []string                          `json:"paths"`
}

// LogsResponse is the response body for GET /logs
type LogsResponse struct {
	Success bool                      `json:"success"`
	Logs    []invalidation.AuditEntry `json:"logs"`
}

// Handler serves the invalidation portal API
type Handler struct {
	service       invalidation.Service
	authenticator Authenticator
	metrics       http.Handler
	logins        LoginObserver
	logger        *slog.Logger
	corsOrigins   []string
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithMetricsHandler exposes the given handler on GET /metrics
func WithMetricsHandler(h http.Handler) HandlerOption {
	return func(handler *Handler) {
		handler.metrics = h
	}
}

// WithLoginObserver reports login attempts to the observer
func WithLoginObserver(o LoginObserver) HandlerOption {
	return func(handler *Handler) {
		handler.logins = o
	}
}

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) HandlerOption {
	return func(handler *Handler) {
		handler.logger = logger
	}
}

// WithCORSOrigins sets the origins allowed by CORS
func WithCORSOrigins(origins []string) HandlerOption {
	return func(handler *Handler) {
		handler.corsOrigins = origins
	}
}

// NewHandler creates a new API handler
func NewHandler(service invalidation.Service, authenticator Authenticator, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:       service,
		authenticator: authenticator,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router with all portal routes and middleware
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoveryMiddleware(h.logger))
	r.Use(LoggingMiddleware(h.logger))
	r.Use(CORSMiddleware(h.corsOrigins, nil, nil))

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestSizeLimitMiddleware(maxRequestBody))
		r.Post("/login", h.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(h.authenticator, h.logger))
		r.Use(RequestSizeLimitMiddleware(maxRequestBody))
		r.Post("/invalidate", h.Invalidate)
		r.Get("/logs", h.Logs)
	})

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Login exchanges credentials for a token
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}

	session, err := h.authenticator.Login(req.Email, req.Password)
	if h.logins != nil {
		outcome := metrics.LoginSucceeded
		if err != nil {
			outcome = metrics.LoginRejected
		}
		h.logins.ObserveLogin(outcome)
	}
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.WarnContext(r.Context(), "Login rejected", "email", req.Email)
		} else {
			h.logger.ErrorContext(r.Context(), "Failed to issue token", "err", err)
		}
		writeError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Login succeeded", "email", session.Identity.Email)

	render.JSON(w, r, LoginResponse{
		Success:   true,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.UTC(),
		User: UserResponse{
			Email: session.Identity.Email,
			Name:  session.Identity.Name,
			Role:  session.Identity.Role,
		},
	})
}

// Invalidate submits a path list to the invalidation pipeline
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && strings.HasPrefix(typeErr.Field, "paths") {
			writeFailure(w, r, http.StatusBadRequest, codeInvalidInput, "paths must be an array of strings")
			return
		}
		writeFailure(w, r, http.StatusBadRequest, codeBadRequest, "Invalid request body")
		return
	}

	identity, _ := IdentityFromContext(r.Context())

	result, err := h.service.Invalidate(r.Context(), identity, req.Paths)
	if err != nil {
		status, _, _ := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "Invalidation failed", "err", err, "user", identity.User())
		} else {
			h.logger.WarnContext(r.Context(), "Invalidation refused", "err", err, "user", identity.User())
		}
		writeError(w, r, err)
		return
	}

	render.JSON(w, r, InvalidateResponse{
		Success:        true,
		Result:         result.Invalidation.Summary(),
		Provider:       result.Invalidation.Provider,
		DistributionID: result.Invalidation.DistributionID,
		Fallback:       result.Fallback,
		Paths:          result.Paths,
	})
}

// Logs returns the audit history, most recent first
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeFailure(w, r, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.service.Logs(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to read audit log", "err", err)
		writeFailure(w, r, http.StatusInternalServerError, codeInternal, "Failed to read logs")
		return
	}
	if entries == nil {
		entries = []invalidation.AuditEntry{}
	}

	render.JSON(w, r, LogsResponse{
		Success: true,
		Logs:    entries,
	})
}
