package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteQueueFull   = errors.New("write queue full")
	ErrAlreadyBound     = errors.New("connection already bound to another user")
)
