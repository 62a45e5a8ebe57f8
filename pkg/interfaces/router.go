package interfaces

import (
	"context"

	"campuslink/pkg/types"
)

// EventRouter delivers events to connected handles.
// ARCHITECTURAL DISCOVERY: Delivery is fire-and-forget - per-handle failures are
// logged by the implementation and never returned to the caller. Targets are
// resolved against current membership at delivery time.
type EventRouter interface {
	// SendToUser delivers to every live handle of userID; offline is a no-op
	SendToUser(ctx context.Context, userID string, event types.OutboundEvent)

	// SendToUsers de-duplicates userIDs, then delivers once per live handle
	SendToUsers(ctx context.Context, userIDs []string, event types.OutboundEvent)

	// SendToChannel delivers to every handle subscribed to channel,
	// including the sender's own handles
	SendToChannel(ctx context.Context, channel string, event types.OutboundEvent)

	// Broadcast delivers to every attached handle, announced or not
	Broadcast(ctx context.Context, event types.OutboundEvent)

	// SendPresenceSnapshot sends the current online-user list to the
	// handles of the given users
	SendPresenceSnapshot(ctx context.Context, userIDs ...string)
}
