// Package backplane fans routed events out to every relay node through a
// message broker. Each node, the publisher included, resolves the target
// against its own connections.
package backplane

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"campuslink/internal/observability"
	"campuslink/pkg/interfaces"
	"campuslink/pkg/types"
)

// Transport moves encoded envelopes between nodes.
type Transport interface {
	// Publish sends one envelope to every subscribed node
	Publish(ctx context.Context, payload []byte) error

	// Subscribe calls handler for every envelope until ctx ends
	Subscribe(ctx context.Context, handler func(payload []byte)) error

	// Name identifies the broker in logs
	Name() string

	Close() error
}

// LocalDeliverer delivers an envelope to the handles of this node. The hub
// satisfies it.
type LocalDeliverer interface {
	DeliverEnvelope(ctx context.Context, env types.Envelope)
}

// Router implements interfaces.EventRouter across nodes.
// ARCHITECTURAL DISCOVERY: Frames are encoded once by the publishing node;
// receiving nodes only resolve targets and write bytes
type Router struct {
	nodeID    string
	transport Transport
	local     LocalDeliverer
	logger    *zap.Logger
	metrics   *observability.Metrics
}

var _ interfaces.EventRouter = (*Router)(nil)

// NewRouter creates a broker-backed router for nodeID.
func NewRouter(nodeID string, transport Transport, local LocalDeliverer, logger *zap.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		nodeID:    nodeID,
		transport: transport,
		local:     local,
		logger:    logger.Named("backplane").With(zap.String("node_id", nodeID), zap.String("broker", transport.Name())),
		metrics:   metrics,
	}
}

// Run subscribes to the broker and delivers incoming envelopes locally
// until ctx ends.
func (r *Router) Run(ctx context.Context) error {
	r.logger.Info("subscribing to backplane")
	return r.transport.Subscribe(ctx, func(payload []byte) {
		r.receive(ctx, payload)
	})
}

func (r *Router) SendToUser(ctx context.Context, userID string, event types.OutboundEvent) {
	r.SendToUsers(ctx, []string{userID}, event)
}

func (r *Router) SendToUsers(ctx context.Context, userIDs []string, event types.OutboundEvent) {
	if len(userIDs) == 0 {
		return
	}
	r.publish(ctx, types.Target{Kind: types.TargetUsers, UserIDs: userIDs}, event)
}

func (r *Router) SendToChannel(ctx context.Context, channel string, event types.OutboundEvent) {
	r.publish(ctx, types.Target{Kind: types.TargetChannel, Channel: channel}, event)
}

func (r *Router) Broadcast(ctx context.Context, event types.OutboundEvent) {
	r.publish(ctx, types.Target{Kind: types.TargetAll}, event)
}

// SendPresenceSnapshot asks every node to send its own online list to the
// given users. Clients union successive lists.
func (r *Router) SendPresenceSnapshot(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	env := types.Envelope{
		Origin:    r.nodeID,
		Event:     types.EventUserOnline.String(),
		Target:    types.Target{Kind: types.TargetPresence, UserIDs: userIDs},
		Timestamp: time.Now().UTC(),
	}
	r.send(ctx, env)
}

func (r *Router) publish(ctx context.Context, target types.Target, event types.OutboundEvent) {
	frame, err := event.Frame()
	if err != nil {
		r.logger.Error("dropping unencodable event", zap.String("event", event.Name()), zap.Error(err))
		return
	}
	r.send(ctx, types.Envelope{
		Origin:    r.nodeID,
		Event:     event.Name(),
		Target:    target,
		Frame:     frame,
		Timestamp: time.Now().UTC(),
	})
}

// send publishes env. When the broker is unreachable the envelope is still
// delivered to this node so local users are not cut off.
func (r *Router) send(ctx context.Context, env types.Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("failed to encode envelope", zap.String("event", env.Event), zap.Error(err))
		return
	}

	if err := r.transport.Publish(ctx, payload); err != nil {
		r.metrics.BackplaneMessage("published", "error")
		r.logger.Warn("publish failed, delivering locally only",
			zap.String("event", env.Event),
			zap.Error(err),
		)
		r.local.DeliverEnvelope(ctx, env)
		return
	}
	r.metrics.BackplaneMessage("published", "ok")
}

func (r *Router) receive(ctx context.Context, payload []byte) {
	var env types.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		r.metrics.BackplaneMessage("received", "error")
		r.logger.Warn("discarding malformed envelope", zap.Error(err))
		return
	}
	// one malformed recipient must not cost every other recipient the event
	target, dropped := env.Target.WithoutInvalidUsers()
	if len(dropped) > 0 {
		r.logger.Warn("dropping invalid recipients from envelope",
			zap.String("origin", env.Origin),
			zap.String("event", env.Event),
			zap.Strings("user_ids", dropped),
		)
		env.Target = target
	}
	if err := env.Target.Validate(); err != nil {
		r.metrics.BackplaneMessage("received", "error")
		r.logger.Warn("discarding envelope with invalid target",
			zap.String("origin", env.Origin),
			zap.String("event", env.Event),
			zap.Error(err),
		)
		return
	}
	if env.Target.Kind != types.TargetPresence && len(env.Frame) == 0 {
		r.metrics.BackplaneMessage("received", "error")
		r.logger.Warn("discarding envelope without frame", zap.String("origin", env.Origin), zap.String("event", env.Event))
		return
	}

	r.metrics.BackplaneMessage("received", "ok")
	r.local.DeliverEnvelope(ctx, env)
}
