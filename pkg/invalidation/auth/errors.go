package auth

import "errors"

var (
	// ErrInvalidCredentials indicates the email/password pair does not match the configured account
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrMissingToken indicates no token was presented
	ErrMissingToken = errors.New("no token provided")

	// ErrInvalidToken indicates the token failed signature, issuer or expiry checks
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrOutsideAccessWindow indicates a valid token was presented outside the allowed hours
	ErrOutsideAccessWindow = errors.New("access outside allowed window")
)
