// Package router resolves event targets against the local registry and
// channel memberships and writes encoded frames to the matching handles.
package router

import (
	"context"
	"time"

	"go.uber.org/zap"

	"campuslink/internal/observability"
	"campuslink/pkg/interfaces"
	"campuslink/pkg/types"
)

// Connections is the read side of the connection registry.
type Connections interface {
	HandlesFor(userID string) []interfaces.Handle
	Handle(handleID string) (interfaces.Handle, bool)
	All() []interfaces.Handle
	OnlineUserIDs() []string
}

// Subscriptions is the read side of the channel manager.
type Subscriptions interface {
	MembersOf(channel string) []string
}

// Router implements interfaces.EventRouter for the handles of this process.
// ARCHITECTURAL DISCOVERY: Pure routing logic without connection lifecycle;
// the hub serializes calls, the router only resolves and writes
type Router struct {
	conns   Connections
	subs    Subscriptions
	logger  *zap.Logger
	metrics *observability.Metrics
}

var _ interfaces.EventRouter = (*Router)(nil)

// NewRouter creates a router. subs may be nil when channels are unused.
func NewRouter(conns Connections, subs Subscriptions, logger *zap.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		conns:   conns,
		subs:    subs,
		logger:  logger.Named("router"),
		metrics: metrics,
	}
}

// SendToUser delivers to every live handle of userID.
func (r *Router) SendToUser(ctx context.Context, userID string, event types.OutboundEvent) {
	r.SendToUsers(ctx, []string{userID}, event)
}

// SendToUsers delivers once per live handle of the given users.
func (r *Router) SendToUsers(ctx context.Context, userIDs []string, event types.OutboundEvent) {
	r.send(ctx, types.Target{Kind: types.TargetUsers, UserIDs: userIDs}, event)
}

// SendToChannel delivers to every handle subscribed to channel.
func (r *Router) SendToChannel(ctx context.Context, channel string, event types.OutboundEvent) {
	r.send(ctx, types.Target{Kind: types.TargetChannel, Channel: channel}, event)
}

// Broadcast delivers to every attached handle.
func (r *Router) Broadcast(ctx context.Context, event types.OutboundEvent) {
	r.send(ctx, types.Target{Kind: types.TargetAll}, event)
}

// BroadcastExcept delivers to every attached handle not bound to exceptUserID.
func (r *Router) BroadcastExcept(ctx context.Context, exceptUserID string, event types.OutboundEvent) {
	frame, ok := r.encode(event)
	if !ok {
		return
	}

	started := time.Now()
	handles := make([]interfaces.Handle, 0)
	for _, h := range r.conns.All() {
		if h.UserID() != exceptUserID {
			handles = append(handles, h)
		}
	}
	r.write(handles, event.Name(), frame)
	r.metrics.ObserveDelivery(string(types.TargetAll), started)
}

// SendPresenceSnapshot sends the current online list to the given users.
func (r *Router) SendPresenceSnapshot(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	r.Deliver(ctx, types.Target{Kind: types.TargetPresence, UserIDs: userIDs}, "", nil)
}

// Deliver writes an already encoded frame to the handles target resolves to
// and returns how many handles accepted it. Presence targets ignore frame and
// encode the online list of this process instead.
// FUNCTIONAL DISCOVERY: Resolution happens here, at delivery time, so a
// handle that left a channel before this call never receives the frame
func (r *Router) Deliver(ctx context.Context, target types.Target, event string, frame []byte) int {
	started := time.Now()
	defer r.metrics.ObserveDelivery(string(target.Kind), started)

	if target.Kind == types.TargetPresence {
		snapshot := types.UserOnline(r.conns.OnlineUserIDs())
		encoded, ok := r.encode(snapshot)
		if !ok {
			return 0
		}
		event, frame = snapshot.Name(), encoded
		target = types.Target{Kind: types.TargetUsers, UserIDs: target.UserIDs}
	}

	return r.write(r.resolve(target), event, frame)
}

func (r *Router) send(ctx context.Context, target types.Target, event types.OutboundEvent) {
	frame, ok := r.encode(event)
	if !ok {
		return
	}
	r.Deliver(ctx, target, event.Name(), frame)
}

// encode renders the frame once per routing call
func (r *Router) encode(event types.OutboundEvent) ([]byte, bool) {
	if event.IsZero() {
		r.logger.Warn("dropping event built without a constructor")
		return nil, false
	}
	frame, err := event.Frame()
	if err != nil {
		r.logger.Error("dropping unencodable event",
			zap.String("event", event.Name()),
			zap.Error(err),
		)
		return nil, false
	}
	return frame, true
}

// resolve returns the distinct handles a target names. Unknown users and
// channels resolve to nothing.
func (r *Router) resolve(target types.Target) []interfaces.Handle {
	switch target.Kind {
	case types.TargetUsers:
		seenUsers := make(map[string]struct{}, len(target.UserIDs))
		seenHandles := make(map[string]struct{})
		var out []interfaces.Handle
		for _, userID := range target.UserIDs {
			if _, dup := seenUsers[userID]; dup || userID == "" {
				continue
			}
			seenUsers[userID] = struct{}{}
			for _, h := range r.conns.HandlesFor(userID) {
				if _, dup := seenHandles[h.ID()]; dup {
					continue
				}
				seenHandles[h.ID()] = struct{}{}
				out = append(out, h)
			}
		}
		return out

	case types.TargetChannel:
		if r.subs == nil {
			return nil
		}
		ids := r.subs.MembersOf(target.Channel)
		out := make([]interfaces.Handle, 0, len(ids))
		for _, id := range ids {
			// membership may briefly outlive a handle torn down elsewhere
			if h, ok := r.conns.Handle(id); ok {
				out = append(out, h)
			}
		}
		return out

	case types.TargetAll:
		return r.conns.All()

	default:
		r.logger.Warn("unknown target kind", zap.String("kind", string(target.Kind)))
		return nil
	}
}

// write enqueues frame on each handle. A failing handle is logged and
// skipped; the rest still receive the frame.
func (r *Router) write(handles []interfaces.Handle, event string, frame []byte) int {
	delivered := 0
	for _, h := range handles {
		if err := h.Send(frame); err != nil {
			r.metrics.DeliveryFailed(event)
			r.logger.Warn("delivery failed",
				zap.String("event", event),
				zap.String("handle_id", h.ID()),
				zap.String("user_id", h.UserID()),
				zap.Error(err),
			)
			continue
		}
		r.metrics.EventDelivered(event)
		delivered++
	}
	return delivered
}
