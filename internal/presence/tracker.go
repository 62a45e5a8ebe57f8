// Package presence turns registry transitions into user:online and
// user:offline broadcasts.
package presence

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"campuslink/internal/observability"
	"campuslink/pkg/types"
)

// Mode selects what a user:online broadcast carries.
type Mode string

const (
	// ModeFull sends the complete online list to every handle.
	ModeFull Mode = "full"
	// ModeDelta sends the complete list to the new user's handles and only
	// the new user ID to everyone else.
	ModeDelta Mode = "delta"
)

// ParseMode validates a configured mode. Empty selects ModeFull.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeDelta:
		return ModeDelta, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// OnlineSet is the read side of the connection registry.
type OnlineSet interface {
	OnlineUserIDs() []string
	IsOnline(userID string) bool
}

// Deliverer is the part of the router presence needs.
type Deliverer interface {
	Broadcast(ctx context.Context, event types.OutboundEvent)
	BroadcastExcept(ctx context.Context, exceptUserID string, event types.OutboundEvent)
	SendToUser(ctx context.Context, userID string, event types.OutboundEvent)
	SendToUsers(ctx context.Context, userIDs []string, event types.OutboundEvent)
}

// Tracker emits presence events. It keeps no state of its own: the registry
// owns the online set and the hub calls in only on real transitions.
// ARCHITECTURAL DISCOVERY: Calls run on the hub loop right after the registry
// mutation, so no other connect or disconnect can slip in between
type Tracker struct {
	online  OnlineSet
	out     Deliverer
	mode    Mode
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewTracker creates a tracker.
func NewTracker(online OnlineSet, out Deliverer, mode Mode, logger *zap.Logger, metrics *observability.Metrics) *Tracker {
	if mode == "" {
		mode = ModeFull
	}
	return &Tracker{
		online:  online,
		out:     out,
		mode:    mode,
		logger:  logger.Named("presence"),
		metrics: metrics,
	}
}

// Mode returns the configured broadcast mode.
func (t *Tracker) Mode() Mode {
	return t.mode
}

// UserConnected announces that userID went from zero to one live handle.
func (t *Tracker) UserConnected(ctx context.Context, userID string) {
	online := t.online.OnlineUserIDs()
	t.metrics.PresenceTransition("online")
	t.metrics.SetOnlineUsers(len(online))

	t.logger.Info("user online",
		zap.String("user_id", userID),
		zap.Int("online_users", len(online)),
	)

	switch t.mode {
	case ModeDelta:
		t.out.SendToUser(ctx, userID, types.UserOnline(online))
		t.out.BroadcastExcept(ctx, userID, types.UserOnline([]string{userID}))
	default:
		t.out.Broadcast(ctx, types.UserOnline(online))
	}
}

// UserDisconnected announces that userID lost its last live handle.
func (t *Tracker) UserDisconnected(ctx context.Context, userID string) {
	if t.online.IsOnline(userID) {
		// a reconnect already landed; nothing changed for observers
		t.logger.Debug("offline transition superseded", zap.String("user_id", userID))
		return
	}

	online := t.online.OnlineUserIDs()
	t.metrics.PresenceTransition("offline")
	t.metrics.SetOnlineUsers(len(online))

	t.logger.Info("user offline",
		zap.String("user_id", userID),
		zap.Int("online_users", len(online)),
	)

	t.out.Broadcast(ctx, types.UserOffline(userID))
}

// Snapshot sends the current full online list to the handles of userIDs.
// Used after a friendship is accepted so both parties refresh presence.
func (t *Tracker) Snapshot(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	t.out.SendToUsers(ctx, userIDs, types.UserOnline(t.online.OnlineUserIDs()))
}
