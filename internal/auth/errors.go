package auth

import "errors"

var (
	ErrAuthDisabled = errors.New("token verification is disabled")
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)
