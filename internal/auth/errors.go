package auth

import "errors"

var (
	// ErrUnauthorized is returned when no credentials were presented.
	ErrUnauthorized = errors.New("auth: unauthorized")
	// ErrInvalidToken wraps every token validation failure.
	ErrInvalidToken = errors.New("auth: invalid token")
)
