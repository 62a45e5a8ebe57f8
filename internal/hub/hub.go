// Package hub owns the single event loop that serializes every connection
// lifecycle change and every routing call of this process.
package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"campuslink/internal/channel"
	"campuslink/internal/observability"
	"campuslink/internal/presence"
	"campuslink/internal/registry"
	"campuslink/internal/router"
	"campuslink/pkg/interfaces"
	"campuslink/pkg/types"
)

// opBuffer absorbs bursts of connects and notifications without blocking
// callers while the loop is busy.
const opBuffer = 1000

// op is one unit of work executed to completion on the loop.
type op struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// Hub runs the event loop and implements interfaces.EventRouter for the
// local process.
// ARCHITECTURAL DISCOVERY: Registry mutation and the presence broadcast it
// triggers run inside one loop iteration, so observers never see a half-applied
// connect or disconnect
type Hub struct {
	ops      chan op
	shutdown chan struct{}
	stopped  chan struct{}

	registry *registry.Registry
	channels *channel.Manager
	router   *router.Router
	presence *presence.Tracker
	logger   *zap.Logger
	metrics  *observability.Metrics

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

var _ interfaces.EventRouter = (*Hub)(nil)

// NewHub wires a hub over the given registry and channel manager.
func NewHub(reg *registry.Registry, channels *channel.Manager, mode presence.Mode, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	r := router.NewRouter(reg, channels, logger, metrics)
	return &Hub{
		ops:      make(chan op, opBuffer),
		registry: reg,
		channels: channels,
		router:   r,
		presence: presence.NewTracker(reg, r, mode, logger, metrics),
		logger:   logger.Named("hub"),
		metrics:  metrics,
	}
}

// Start launches the loop. It stops when Stop is called or ctx ends.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.stopped = make(chan struct{})

	h.logger.Info("starting event loop", zap.String("presence_mode", string(h.presence.Mode())))
	go h.run(ctx, h.shutdown, h.stopped)
	return nil
}

// Stop ends the loop and waits for the current operation to finish.
// Operations still queued are abandoned.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	stopped := h.stopped
	h.mu.Unlock()

	<-stopped
	h.logger.Info("event loop stopped")
	return nil
}

// IsRunning reports whether the loop accepts operations.
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// run is the event loop
// TECHNICAL DISCOVERY: Single select loop handles all coordination
// preventing race conditions while maintaining ordering
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	for {
		select {
		case o := <-h.ops:
			o.fn(o.ctx)
			close(o.done)

		case <-shutdown:
			return

		case <-ctx.Done():
			h.logger.Info("event loop context cancelled")
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			return
		}
	}
}

// Do runs fn on the loop and waits for it to finish. Calls made from one
// goroutine execute in call order.
func (h *Hub) Do(ctx context.Context, fn func(ctx context.Context)) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	stopped := h.stopped
	h.mu.RUnlock()

	o := op{ctx: ctx, fn: fn, done: make(chan struct{})}

	select {
	case h.ops <- o:
	case <-stopped:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-o.done:
		return nil
	case <-stopped:
		// the loop may have finished o right before exiting
		select {
		case <-o.done:
			return nil
		default:
			return ErrHubNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect attaches a freshly upgraded handle. It receives broadcasts from
// now on but is not online until it announces.
func (h *Hub) Connect(ctx context.Context, handle interfaces.Handle) error {
	var err error
	if doErr := h.Do(ctx, func(ctx context.Context) {
		if err = h.registry.Attach(handle); err != nil {
			return
		}
		h.metrics.SetConnections(len(h.registry.All()))
		h.logger.Debug("handle attached", zap.String("handle_id", handle.ID()))
	}); doErr != nil {
		return doErr
	}
	return err
}

// Announce binds handle to userID and broadcasts presence when the user
// comes online with this handle.
func (h *Hub) Announce(ctx context.Context, userID string, handle interfaces.Handle) error {
	var err error
	if doErr := h.Do(ctx, func(ctx context.Context) {
		var cameOnline bool
		cameOnline, err = h.registry.Register(userID, handle)
		if err != nil {
			return
		}
		h.metrics.SetConnections(len(h.registry.All()))
		h.logger.Debug("handle announced",
			zap.String("handle_id", handle.ID()),
			zap.String("user_id", userID),
			zap.Bool("came_online", cameOnline),
		)
		if cameOnline {
			h.presence.UserConnected(ctx, userID)
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Join subscribes an announced handle to a group channel. Authorization is
// the caller's job. It reports whether membership changed.
func (h *Hub) Join(ctx context.Context, handle interfaces.Handle, groupID string) (bool, error) {
	if !types.IsValidGroupID(groupID) {
		return false, types.ErrInvalidGroupID
	}

	var (
		joined bool
		err    error
	)
	if doErr := h.Do(ctx, func(ctx context.Context) {
		if _, ok := h.registry.Handle(handle.ID()); !ok {
			err = ErrHandleNotAttached
			return
		}
		if handle.UserID() == "" {
			err = ErrNotAnnounced
			return
		}
		joined = h.channels.Join(handle.ID(), channel.GroupChannel(groupID))
	}); doErr != nil {
		return false, doErr
	}
	return joined, err
}

// Leave unsubscribes a handle from a group channel. Leaving a channel the
// handle never joined is a no-op.
func (h *Hub) Leave(ctx context.Context, handle interfaces.Handle, groupID string) (bool, error) {
	if !types.IsValidGroupID(groupID) {
		return false, types.ErrInvalidGroupID
	}

	var left bool
	if err := h.Do(ctx, func(ctx context.Context) {
		left = h.channels.Leave(handle.ID(), channel.GroupChannel(groupID))
	}); err != nil {
		return false, err
	}
	return left, nil
}

// Disconnect tears handle down: it leaves the registry and every channel,
// and the user goes offline when this was the last handle. Repeated calls
// are no-ops.
func (h *Hub) Disconnect(ctx context.Context, handle interfaces.Handle) error {
	return h.Do(ctx, func(ctx context.Context) {
		userID, wentOffline := h.registry.Unregister(handle)
		h.metrics.SetConnections(len(h.registry.All()))
		h.logger.Debug("handle detached",
			zap.String("handle_id", handle.ID()),
			zap.String("user_id", userID),
			zap.Bool("went_offline", wentOffline),
		)
		if wentOffline {
			h.presence.UserDisconnected(ctx, userID)
		}
	})
}

// CloseAll closes and unregisters every attached handle without presence
// broadcasts, since every observer is going away too. Read pumps that exit
// afterwards find their handle gone and Disconnect becomes a no-op.
func (h *Hub) CloseAll(ctx context.Context) (int, error) {
	var closed int
	err := h.Do(ctx, func(ctx context.Context) {
		for _, handle := range h.registry.All() {
			h.registry.Unregister(handle)
			if err := handle.Close(); err != nil {
				h.logger.Debug("close failed", zap.String("handle_id", handle.ID()), zap.Error(err))
			}
			closed++
		}
		h.metrics.SetConnections(0)
		h.metrics.SetOnlineUsers(0)
	})
	return closed, err
}

// SendToUser implements interfaces.EventRouter.
func (h *Hub) SendToUser(ctx context.Context, userID string, event types.OutboundEvent) {
	h.route(ctx, event.Name(), func(ctx context.Context) {
		h.router.SendToUser(ctx, userID, event)
	})
}

// SendToUsers implements interfaces.EventRouter.
func (h *Hub) SendToUsers(ctx context.Context, userIDs []string, event types.OutboundEvent) {
	h.route(ctx, event.Name(), func(ctx context.Context) {
		h.router.SendToUsers(ctx, userIDs, event)
	})
}

// SendToChannel implements interfaces.EventRouter.
func (h *Hub) SendToChannel(ctx context.Context, channel string, event types.OutboundEvent) {
	h.route(ctx, event.Name(), func(ctx context.Context) {
		h.router.SendToChannel(ctx, channel, event)
	})
}

// Broadcast implements interfaces.EventRouter.
func (h *Hub) Broadcast(ctx context.Context, event types.OutboundEvent) {
	h.route(ctx, event.Name(), func(ctx context.Context) {
		h.router.Broadcast(ctx, event)
	})
}

// SendPresenceSnapshot implements interfaces.EventRouter.
func (h *Hub) SendPresenceSnapshot(ctx context.Context, userIDs ...string) {
	h.route(ctx, types.EventUserOnline.String(), func(ctx context.Context) {
		h.presence.Snapshot(ctx, userIDs...)
	})
}

// DeliverEnvelope routes a pre-encoded frame received from a backplane
// against the handles of this process.
func (h *Hub) DeliverEnvelope(ctx context.Context, env types.Envelope) {
	h.route(ctx, env.Event, func(ctx context.Context) {
		h.router.Deliver(ctx, env.Target, env.Event, env.Frame)
	})
}

// route runs a delivery on the loop. Delivery is best effort, so a stopped
// hub or cancelled context is logged, not returned.
func (h *Hub) route(ctx context.Context, event string, fn func(ctx context.Context)) {
	if err := h.Do(ctx, fn); err != nil {
		h.metrics.DeliveryFailed(event)
		h.logger.Warn("event not routed", zap.String("event", event), zap.Error(err))
	}
}

// IsOnline reports whether userID has a live handle on this process.
func (h *Hub) IsOnline(userID string) bool {
	return h.registry.IsOnline(userID)
}

// ConnectionCount returns how many live handles userID has.
func (h *Hub) ConnectionCount(userID string) int {
	return h.registry.ConnectionCount(userID)
}

// OnlineUserIDs returns the online users of this process, sorted.
func (h *Hub) OnlineUserIDs() []string {
	return h.registry.OnlineUserIDs()
}

// GetStats merges registry and channel statistics for monitoring.
func (h *Hub) GetStats() map[string]int {
	stats := h.registry.GetStats()
	for k, v := range h.channels.GetStats() {
		stats[k] = v
	}
	return stats
}
