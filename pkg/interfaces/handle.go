package interfaces

// Handle is one live duplex connection.
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures clean boundaries between WebSocket infrastructure and routing
type Handle interface {
	// ID returns the identifier of the physical connection (unique per connect)
	ID() string

	// UserID returns the announced identity, empty until Bind succeeds
	UserID() string

	// Bind associates the handle with a user identity. Binding the same
	// identity twice is a no-op; binding a different one fails.
	Bind(userID string) error

	// Send enqueues an encoded frame for delivery (thread-safe, non-blocking)
	// FUNCTIONAL DISCOVERY: Frames are written in Send order by a single writer
	Send(frame []byte) error

	// Close tears down the transport and rejects further Sends
	Close() error
}
