package registry

import "errors"

// Registry-related errors
var (
	ErrNilHandle        = errors.New("handle cannot be nil")
	ErrIdentityMismatch = errors.New("handle is already bound to a different user")
)
