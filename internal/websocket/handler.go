package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campuslink/internal/auth"
	"campuslink/internal/hub"
	"campuslink/internal/observability"
	"campuslink/internal/registry"
	"campuslink/pkg/interfaces"
	"campuslink/pkg/types"
)

// Error codes carried by outbound error frames.
const (
	CodeInvalidFrame         = "invalid_frame"
	CodeInvalidPayload       = "invalid_payload"
	CodeUnknownEvent         = "unknown_event"
	CodeIdentityMismatch     = "identity_mismatch"
	CodeNotAnnounced         = "not_announced"
	CodeNotMember            = "not_member"
	CodeDirectoryUnavailable = "directory_unavailable"
	CodeRateLimited          = "rate_limited"
	CodeInternal             = "internal_error"
)

// Hub is the part of the event loop the transport drives.
type Hub interface {
	Connect(ctx context.Context, h interfaces.Handle) error
	Announce(ctx context.Context, userID string, h interfaces.Handle) error
	Join(ctx context.Context, h interfaces.Handle, groupID string) (bool, error)
	Leave(ctx context.Context, h interfaces.Handle, groupID string) (bool, error)
	Disconnect(ctx context.Context, h interfaces.Handle) error
}

// Options tune the transport.
type Options struct {
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	RateLimit       int
	RateWindow      time.Duration
	AllowedOrigins  []string
}

// DefaultOptions mirrors the heartbeat and buffer sizes the relay ships with.
func DefaultOptions() Options {
	return Options{
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		WriteTimeout:    5 * time.Second,
		MaxMessageBytes: 64 * 1024,
		SendBuffer:      100,
		RateLimit:       100,
		RateWindow:      time.Minute,
	}
}

// Handler upgrades HTTP requests and runs each connection's read pump.
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic;
// every state change is handed to the hub, membership checks to the directory
type Handler struct {
	hub       Hub
	directory interfaces.Directory
	verifier  *auth.Verifier
	limiter   *RateLimiter
	upgrader  websocket.Upgrader
	opts      Options
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewHandler creates a handler. directory may be nil, in which case group
// joins are not authorized against membership.
func NewHandler(h Hub, directory interfaces.Directory, verifier *auth.Verifier, opts Options, logger *zap.Logger, metrics *observability.Metrics) *Handler {
	return &Handler{
		hub:       h,
		directory: directory,
		verifier:  verifier,
		limiter:   NewRateLimiter(opts.RateLimit, opts.RateWindow),
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(opts.AllowedOrigins),
			HandshakeTimeout: 10 * time.Second,
		},
		opts:    opts,
		logger:  logger.Named("websocket"),
		metrics: metrics,
	}
}

// originChecker allows every origin when allowed is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Limiter exposes the inbound rate limiter for periodic cleanup.
func (h *Handler) Limiter() *RateLimiter {
	return h.limiter
}

// ServeHTTP authenticates, upgrades and serves one connection until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	verified, err := h.verifier.Authenticate(r)
	if err != nil {
		h.logger.Info("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// FUNCTIONAL DISCOVERY: Upgrade after validation prevents resource waste
	// on invalid requests while providing proper HTTP error responses
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConnection(ws, h.opts.SendBuffer, h.opts.WriteTimeout)
	conn.verified = verified

	if err := h.hub.Connect(r.Context(), conn); err != nil {
		h.logger.Error("failed to attach connection", zap.String("handle_id", conn.ID()), zap.Error(err))
		_ = conn.Close()
		return
	}

	h.logger.Debug("connection attached",
		zap.String("handle_id", conn.ID()),
		zap.String("verified_user", verified),
		zap.String("remote", r.RemoteAddr),
	)

	h.handleConnection(conn)
}

// handleConnection runs heartbeat and read pump, then tears the connection down.
// ARCHITECTURAL DISCOVERY: One goroutine per connection handles both heartbeat
// and message reading to prevent goroutine proliferation and resource leaks
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup ensures resources are released
		// even if connection handling exits unexpectedly
		h.limiter.Forget(conn.ID())
		if err := h.hub.Disconnect(context.Background(), conn); err != nil {
			h.logger.Warn("disconnect not processed", zap.String("handle_id", conn.ID()), zap.Error(err))
		}
		_ = conn.Close()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageBytes)

	// TECHNICAL DISCOVERY: Read deadline longer than the ping interval
	// gives every healthy peer time to answer at least one ping
	if err := ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		h.logger.Warn("failed to set read deadline", zap.Error(err))
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.heartbeat(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", zap.String("handle_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if !h.limiter.Allow(conn.ID()) {
			h.metrics.InboundFrame("unparsed", "rejected")
			h.reject(conn, CodeRateLimited, "too many frames")
			continue
		}

		h.dispatch(conn, data)
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}

// dispatch decodes one inbound frame and applies it.
func (h *Handler) dispatch(conn *Connection, data []byte) {
	var frame types.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		h.metrics.InboundFrame("unparsed", "rejected")
		h.reject(conn, CodeInvalidFrame, "frame must be {\"event\", \"data\"}")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opts.ReadTimeout)
	defer cancel()

	var code, message string
	switch frame.Event {
	case types.InboundUserOnline:
		code, message = h.announce(ctx, conn, frame.Data)
	case types.InboundGroupJoin:
		code, message = h.join(ctx, conn, frame.Data)
	case types.InboundGroupLeave:
		code, message = h.leave(ctx, conn, frame.Data)
	default:
		h.metrics.InboundFrame("unknown", "rejected")
		h.reject(conn, CodeUnknownEvent, "unknown event "+frame.Event)
		return
	}

	if code != "" {
		h.metrics.InboundFrame(frame.Event, "rejected")
		h.reject(conn, code, message)
		return
	}
	h.metrics.InboundFrame(frame.Event, "ok")
}

func (h *Handler) announce(ctx context.Context, conn *Connection, data json.RawMessage) (string, string) {
	var payload types.AnnouncePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return CodeInvalidPayload, "user:online expects {userId}"
	}
	if !types.IsValidUserID(payload.UserID) {
		return CodeInvalidPayload, types.ErrInvalidUserID.Error()
	}
	if verified := conn.Verified(); verified != "" && verified != payload.UserID {
		h.logger.Warn("announce does not match token",
			zap.String("handle_id", conn.ID()),
			zap.String("verified_user", verified),
			zap.String("announced_user", payload.UserID),
		)
		return CodeIdentityMismatch, "announced identity does not match token"
	}

	err := h.hub.Announce(ctx, payload.UserID, conn)
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, registry.ErrIdentityMismatch):
		return CodeIdentityMismatch, "connection already announced another identity"
	default:
		h.logger.Error("announce failed", zap.String("handle_id", conn.ID()), zap.Error(err))
		return CodeInternal, "announce failed"
	}
}

func (h *Handler) join(ctx context.Context, conn *Connection, data json.RawMessage) (string, string) {
	var payload types.GroupPayload
	if err := json.Unmarshal(data, &payload); err != nil || !types.IsValidGroupID(payload.GroupID) {
		return CodeInvalidPayload, "group:join expects {groupId}"
	}

	userID := conn.UserID()
	if userID == "" {
		return CodeNotAnnounced, "announce with user:online first"
	}

	if h.directory != nil {
		member, err := h.directory.IsGroupMember(ctx, payload.GroupID, userID)
		if err != nil {
			h.logger.Error("membership lookup failed",
				zap.String("group_id", payload.GroupID),
				zap.String("user_id", userID),
				zap.Error(err),
			)
			return CodeDirectoryUnavailable, "membership could not be verified"
		}
		if !member {
			return CodeNotMember, "not a member of group " + payload.GroupID
		}
	}

	if _, err := h.hub.Join(ctx, conn, payload.GroupID); err != nil {
		if errors.Is(err, hub.ErrNotAnnounced) {
			return CodeNotAnnounced, "announce with user:online first"
		}
		h.logger.Error("join failed", zap.String("handle_id", conn.ID()), zap.Error(err))
		return CodeInternal, "join failed"
	}
	return "", ""
}

func (h *Handler) leave(ctx context.Context, conn *Connection, data json.RawMessage) (string, string) {
	var payload types.GroupPayload
	if err := json.Unmarshal(data, &payload); err != nil || !types.IsValidGroupID(payload.GroupID) {
		return CodeInvalidPayload, "group:leave expects {groupId}"
	}

	if _, err := h.hub.Leave(ctx, conn, payload.GroupID); err != nil {
		h.logger.Error("leave failed", zap.String("handle_id", conn.ID()), zap.Error(err))
		return CodeInternal, "leave failed"
	}
	return "", ""
}

// reject sends an error frame back to the connection that caused it.
func (h *Handler) reject(conn *Connection, code, message string) {
	frame, err := types.Error(code, message).Frame()
	if err != nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		h.logger.Debug("error frame not delivered", zap.String("handle_id", conn.ID()), zap.Error(err))
	}
}
