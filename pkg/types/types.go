package types

import (
	"encoding/json"
	"time"
)

// Message is a direct message record that has already been persisted by the
// application. The relay only forwards it.
type Message struct {
	ID         string    `json:"_id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text,omitempty"`
	Image      string    `json:"image,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Post carries the populated post document exactly as the application
// rendered it. Record is forwarded verbatim to clients.
// ARCHITECTURAL DISCOVERY: Only AuthorID is interpreted by the relay, the rest
// of the document stays opaque to routing
type Post struct {
	ID       string          `json:"id"`
	AuthorID string          `json:"authorId"`
	Record   json.RawMessage `json:"record"`
}

// FriendRequest identifies the two parties of a friend-request lifecycle
// event. FromUser is the requester's public profile summary, if supplied.
type FriendRequest struct {
	FromID   string          `json:"from"`
	ToID     string          `json:"to"`
	FromUser json.RawMessage `json:"fromUser,omitempty"`
}

// Friend request lifecycle actions accepted by the notification API
const (
	FriendActionSent      = "sent"
	FriendActionAccepted  = "accepted"
	FriendActionRejected  = "rejected"
	FriendActionCancelled = "cancelled"
	FriendActionRemoved   = "removed"
)

// InboundFrame is a client → server frame on the websocket.
type InboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names
const (
	InboundUserOnline = "user:online"
	InboundGroupJoin  = "group:join"
	InboundGroupLeave = "group:leave"
)

// AnnouncePayload is the body of an inbound user:online frame.
type AnnouncePayload struct {
	UserID string `json:"userId"`
}

// GroupPayload is the body of inbound group:join and group:leave frames.
type GroupPayload struct {
	GroupID string `json:"groupId"`
}

// TargetKind selects how a routed event resolves its recipients.
type TargetKind string

const (
	TargetUsers    TargetKind = "users"
	TargetChannel  TargetKind = "channel"
	TargetAll      TargetKind = "all"
	TargetPresence TargetKind = "presence"
)

// Target is the scope of a routed event.
type Target struct {
	Kind    TargetKind `json:"kind"`
	UserIDs []string   `json:"user_ids,omitempty"`
	Channel string     `json:"channel,omitempty"`
}

// Envelope is what travels over a broker backplane: an already encoded
// frame plus the scope every node must resolve locally.
type Envelope struct {
	Origin    string          `json:"origin"`
	Event     string          `json:"event"`
	Target    Target          `json:"target"`
	Frame     json.RawMessage `json:"frame,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
