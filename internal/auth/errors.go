package auth

import "errors"

var (
	// ErrEmptyToken is returned when no bearer token is present.
	ErrEmptyToken = errors.New("auth: empty token")
	// ErrInvalidToken is returned for malformed or badly signed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrInvalidRole is returned when the role claim is unknown.
	ErrInvalidRole = errors.New("auth: invalid role")
	// ErrTokenExpired is returned for expired tokens.
	ErrTokenExpired = errors.New("auth: token expired")
)
