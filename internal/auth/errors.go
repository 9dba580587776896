package auth

import "errors"

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrUsernameTaken = errors.New("auth: username already taken")
	ErrEmailTaken    = errors.New("auth: email already registered")
	ErrInvalidInput  = errors.New("auth: invalid input")
	// ErrUnauthorized covers every credential failure: wrong password,
	// unknown username, inactive account, expired or replayed token.
	// Callers never learn which factor failed.
	ErrUnauthorized = errors.New("auth: unauthorized")
)

// ErrInvalidToken indicates an access token failed verification.
var ErrInvalidToken = errors.New("auth: invalid token")
