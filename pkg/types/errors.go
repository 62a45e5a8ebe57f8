package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUserID     = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidGroupID    = errors.New("group ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidMessageID  = errors.New("message ID is required")
	ErrInvalidPost       = errors.New("post requires an author and a record")
	ErrSelfFriendship    = errors.New("friend request parties must differ")
	ErrInvalidAction     = errors.New("invalid friend request action")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidPayload    = errors.New("invalid event payload")
	ErrInvalidTargetKind = errors.New("invalid target kind")
)
