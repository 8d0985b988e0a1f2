package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
	"github.com/tendant/simple-invalidation/pkg/invalidation/auth"
)

// Error codes returned in the "error" field of failure bodies
const (
	codeBadRequest         = "bad_request"
	codeInvalidInput       = "invalid_input"
	codeWildcardNotAllowed = "wildcard_not_allowed"
	codeMissingToken       = "missing_token"
	codeInvalidToken       = "invalid_token"
	codeOutsideWindow      = "outside_access_window"
	codeInvalidCredentials = "invalid_credentials"
	codeInternal           = "internal_error"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// statusFor maps an error to its HTTP status, error code and client message
func statusFor(err error) (int, string, string) {
	var ie *invalidation.InvalidationError
	switch {
	case errors.Is(err, invalidation.ErrWildcardNotAllowed):
		return http.StatusForbidden, codeWildcardNotAllowed, err.Error()
	case errors.Is(err, invalidation.ErrInvalidInput):
		return http.StatusBadRequest, codeInvalidInput, err.Error()
	case errors.Is(err, auth.ErrMissingToken):
		return http.StatusForbidden, codeMissingToken, auth.ErrMissingToken.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, codeInvalidToken, auth.ErrInvalidToken.Error()
	case errors.Is(err, auth.ErrOutsideAccessWindow):
		return http.StatusForbidden, codeOutsideWindow, auth.ErrOutsideAccessWindow.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, codeInvalidCredentials, "Invalid credentials"
	case errors.As(err, &ie):
		if ie.Outcome.IsGatewayFailure() {
			return http.StatusBadGateway, string(ie.Outcome), ie.Message
		}
		return http.StatusInternalServerError, string(ie.Outcome), ie.Message
	default:
		return http.StatusInternalServerError, codeInternal, "An internal server error occurred"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := statusFor(err)
	writeFailure(w, r, status, code, message)
}

func writeFailure(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{
		Success: false,
		Message: message,
		Error:   code,
	})
}
