// Package api exposes the relay over HTTP: notification endpoints the CRUD
// application calls after persisting a write, directory sync, presence
// queries, health, metrics and the websocket upgrade.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"campuslink/internal/observability"
	"campuslink/pkg/interfaces"
	"campuslink/pkg/types"
)

// KeyHeader carries the shared secret on /api requests.
const KeyHeader = "X-Relay-Key"

const maxBodyBytes = 1 << 20

// Notifier is the delivery coordinator as seen by the HTTP layer.
type Notifier interface {
	DirectMessage(ctx context.Context, msg types.Message) error
	FriendRequest(ctx context.Context, action string, req types.FriendRequest) error
	PostCreated(ctx context.Context, post types.Post) error
	GroupPostCreated(ctx context.Context, groupID string, post types.Post) error
	CommentAdded(ctx context.Context, post types.Post, commenterID string, priorCommenters []string) error
}

// Presence answers who is connected to this node.
type Presence interface {
	OnlineUserIDs() []string
	IsOnline(userID string) bool
	ConnectionCount(userID string) int
	GetStats() map[string]int
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	notifier  Notifier
	directory interfaces.Directory
	presence  Presence
	websocket http.Handler
	apiKey    string
	metrics   *observability.Metrics
	logger    *zap.Logger
	started   time.Time
	router    *http.ServeMux
}

// NewServer wires the routes. websocket may be nil when the node serves no
// clients; apiKey empty disables the shared-secret check.
func NewServer(notifier Notifier, directory interfaces.Directory, presence Presence, websocket http.Handler, apiKey string, logger *zap.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		notifier:  notifier,
		directory: directory,
		presence:  presence,
		websocket: websocket,
		apiKey:    apiKey,
		metrics:   metrics,
		logger:    logger.Named("api"),
		started:   time.Now(),
		router:    http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all JSON routes for web client compatibility
func (s *Server) setupRoutes() {
	api := func(h http.HandlerFunc) http.Handler {
		return s.corsMiddleware(s.jsonMiddleware(s.keyMiddleware(h)))
	}

	s.router.Handle("/api/notify/message", api(s.notifyMessage))
	s.router.Handle("/api/notify/friend-request", api(s.notifyFriendRequest))
	s.router.Handle("/api/notify/post", api(s.notifyPost))
	s.router.Handle("/api/notify/group-post", api(s.notifyGroupPost))
	s.router.Handle("/api/notify/comment", api(s.notifyComment))

	s.router.Handle("/api/groups/{groupId}/members/{userId}", api(s.groupMember))
	s.router.Handle("/api/friendships/{userId}/{friendId}", api(s.friendship))

	s.router.Handle("/api/presence", api(s.listPresence))
	s.router.Handle("/api/presence/{userId}", api(s.userPresence))

	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/metrics", s.metrics.Handler())
	if s.websocket != nil {
		s.router.Handle("/ws", s.websocket)
	}
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization

type FriendRequestNotification struct {
	Action string `json:"action"`
	types.FriendRequest
}

type GroupPostNotification struct {
	GroupID string     `json:"groupId"`
	Post    types.Post `json:"post"`
}

type CommentNotification struct {
	Post              types.Post `json:"post"`
	CommenterID       string     `json:"commenterId"`
	PriorCommenterIDs []string   `json:"priorCommenterIds"`
}

type AcceptedResponse struct {
	Status string `json:"status"`
}

type OnlineResponse struct {
	Online []string `json:"online"`
}

type UserPresenceResponse struct {
	UserID      string `json:"userId"`
	Online      bool   `json:"online"`
	Connections int    `json:"connections"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Directory   string         `json:"directory"`
	Connections map[string]int `json:"connections"`
	System      map[string]any `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FUNCTIONAL DISCOVERY: POST /api/notify/message - persisted direct message
func (s *Server) notifyMessage(w http.ResponseWriter, r *http.Request) {
	var msg types.Message
	if !s.decodeNotification(w, r, "message", &msg) {
		return
	}
	s.finishNotification(w, "message", s.notifier.DirectMessage(r.Context(), msg))
}

// FUNCTIONAL DISCOVERY: POST /api/notify/friend-request - one lifecycle action
func (s *Server) notifyFriendRequest(w http.ResponseWriter, r *http.Request) {
	var req FriendRequestNotification
	if !s.decodeNotification(w, r, "friend_request", &req) {
		return
	}
	if !types.IsValidFriendAction(req.Action) {
		s.rejectNotification(w, "friend_request", types.ErrInvalidAction.Error())
		return
	}
	s.finishNotification(w, "friend_request", s.notifier.FriendRequest(r.Context(), req.Action, req.FriendRequest))
}

// FUNCTIONAL DISCOVERY: POST /api/notify/post - feed post for the author's friends
func (s *Server) notifyPost(w http.ResponseWriter, r *http.Request) {
	var post types.Post
	if !s.decodeNotification(w, r, "post", &post) {
		return
	}
	s.finishNotification(w, "post", s.notifier.PostCreated(r.Context(), post))
}

// FUNCTIONAL DISCOVERY: POST /api/notify/group-post - post for every group member
func (s *Server) notifyGroupPost(w http.ResponseWriter, r *http.Request) {
	var req GroupPostNotification
	if !s.decodeNotification(w, r, "group_post", &req) {
		return
	}
	s.finishNotification(w, "group_post", s.notifier.GroupPostCreated(r.Context(), req.GroupID, req.Post))
}

// FUNCTIONAL DISCOVERY: POST /api/notify/comment - author and earlier commenters
func (s *Server) notifyComment(w http.ResponseWriter, r *http.Request) {
	var req CommentNotification
	if !s.decodeNotification(w, r, "comment", &req) {
		return
	}
	s.finishNotification(w, "comment", s.notifier.CommentAdded(r.Context(), req.Post, req.CommenterID, req.PriorCommenterIDs))
}

func (s *Server) decodeNotification(w http.ResponseWriter, r *http.Request, flow string, dst any) bool {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		s.rejectNotification(w, flow, "Invalid JSON")
		return false
	}
	return true
}

// finishNotification maps a coordinator result to a response. The
// coordinator only reports malformed input.
func (s *Server) finishNotification(w http.ResponseWriter, flow string, err error) {
	if err != nil {
		s.rejectNotification(w, flow, err.Error())
		return
	}
	s.metrics.NotifyRequest(flow, "accepted")
	s.sendJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

func (s *Server) rejectNotification(w http.ResponseWriter, flow, message string) {
	s.metrics.NotifyRequest(flow, "rejected")
	s.sendError(w, message, http.StatusBadRequest)
}

// FUNCTIONAL DISCOVERY: PUT|DELETE /api/groups/{groupId}/members/{userId} - membership sync
func (s *Server) groupMember(w http.ResponseWriter, r *http.Request) {
	groupID, userID := r.PathValue("groupId"), r.PathValue("userId")
	if !types.IsValidGroupID(groupID) {
		s.sendError(w, types.ErrInvalidGroupID.Error(), http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}

	var err error
	switch r.Method {
	case http.MethodPut:
		err = s.directory.AddGroupMember(r.Context(), groupID, userID)
	case http.MethodDelete:
		err = s.directory.RemoveGroupMember(r.Context(), groupID, userID)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		s.logger.Error("group membership sync failed",
			zap.String("method", r.Method),
			zap.String("group_id", groupID),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		s.sendError(w, "Directory unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FUNCTIONAL DISCOVERY: PUT|DELETE /api/friendships/{userId}/{friendId} - friendship sync
func (s *Server) friendship(w http.ResponseWriter, r *http.Request) {
	req := types.FriendRequest{FromID: r.PathValue("userId"), ToID: r.PathValue("friendId")}
	if err := req.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	switch r.Method {
	case http.MethodPut:
		err = s.directory.AddFriendship(r.Context(), req.FromID, req.ToID)
	case http.MethodDelete:
		err = s.directory.RemoveFriendship(r.Context(), req.FromID, req.ToID)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		s.logger.Error("friendship sync failed",
			zap.String("method", r.Method),
			zap.String("user_id", req.FromID),
			zap.String("friend_id", req.ToID),
			zap.Error(err),
		)
		s.sendError(w, "Directory unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FUNCTIONAL DISCOVERY: GET /api/presence - users with a live connection on this node
func (s *Server) listPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendJSON(w, http.StatusOK, OnlineResponse{Online: s.presence.OnlineUserIDs()})
}

// FUNCTIONAL DISCOVERY: GET /api/presence/{userId}
func (s *Server) userPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := r.PathValue("userId")
	if !types.IsValidUserID(userID) {
		s.sendError(w, types.ErrInvalidUserID.Error(), http.StatusBadRequest)
		return
	}
	s.sendJSON(w, http.StatusOK, UserPresenceResponse{
		UserID:      userID,
		Online:      s.presence.IsOnline(userID),
		Connections: s.presence.ConnectionCount(userID),
	})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	directoryStatus := "healthy"
	if err := s.directory.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		directoryStatus = "error: " + err.Error()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Directory:   directoryStatus,
		Connections: s.presence.GetStats(),
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("response not written", zap.Error(err))
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+KeyHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// keyMiddleware enforces the shared secret when one is configured.
func (s *Server) keyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			presented := r.Header.Get(KeyHeader)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(s.apiKey)) != 1 {
				s.sendError(w, "Missing or invalid "+KeyHeader, http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
