package interfaces

import "context"

// Directory is the authoritative social graph the relay consults for
// fan-out and join authorization.
// ARCHITECTURAL DISCOVERY: Mirror of the application's durable store; the relay
// never decides membership itself
type Directory interface {
	// Friends returns the user IDs befriended by userID
	Friends(ctx context.Context, userID string) ([]string, error)

	// AddFriendship records a symmetric friendship (idempotent)
	AddFriendship(ctx context.Context, userID, friendID string) error

	// RemoveFriendship deletes both directions (idempotent)
	RemoveFriendship(ctx context.Context, userID, friendID string) error

	// GroupMembers returns the member user IDs of groupID
	GroupMembers(ctx context.Context, groupID string) ([]string, error)

	// IsGroupMember reports whether userID belongs to groupID
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)

	// AddGroupMember records membership (idempotent)
	AddGroupMember(ctx context.Context, groupID, userID string) error

	// RemoveGroupMember deletes membership (idempotent)
	RemoveGroupMember(ctx context.Context, groupID, userID string) error

	// HealthCheck verifies the backing store is reachable
	HealthCheck(ctx context.Context) error

	// Close releases the backing store
	Close() error
}
