package backplane

import "errors"

var (
	ErrUnknownDriver   = errors.New("unknown backplane driver")
	ErrMissingEndpoint = errors.New("backplane endpoint is required")
)
