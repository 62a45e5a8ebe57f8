package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHandleNotAttached = errors.New("handle is not attached")
	ErrNotAnnounced      = errors.New("handle has not announced an identity")
)
