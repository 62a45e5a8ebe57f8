package types

import (
	"encoding/json"
	"fmt"
)

// EventKind is the closed set of server → client events. Adding an event
// means adding a kind, a name and a constructor here.
type EventKind uint8

const (
	EventUserOnline EventKind = iota + 1
	EventUserOffline
	EventMessageReceive
	EventFriendRequest
	EventFriendRequestAccepted
	EventFriendRequestRejected
	EventFriendRequestCancelled
	EventFriendListChanged
	EventPostNew
	EventGroupPostNew
	EventPostComment
	EventError
)

var eventNames = map[EventKind]string{
	EventUserOnline:             "user:online",
	EventUserOffline:            "user:offline",
	EventMessageReceive:         "message:receive",
	EventFriendRequest:          "friend:request",
	EventFriendRequestAccepted:  "friend:request:accepted",
	EventFriendRequestRejected:  "friend:request:rejected",
	EventFriendRequestCancelled: "friend:request:cancelled",
	EventFriendListChanged:      "friend:list:changed",
	EventPostNew:                "post:new",
	EventGroupPostNew:           "group:post:new",
	EventPostComment:            "post:comment",
	EventError:                  "error",
}

// String returns the wire name of the event.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Valid reports whether k is one of the declared kinds.
func (k EventKind) Valid() bool {
	_, ok := eventNames[k]
	return ok
}

// OutboundEvent is an immutable server → client event. Values are only
// built through the constructors below so every kind carries its own
// payload type.
type OutboundEvent struct {
	kind    EventKind
	payload any
}

// Name returns the wire name of the event.
func (e OutboundEvent) Name() string { return e.kind.String() }

// IsZero reports whether e was never constructed.
func (e OutboundEvent) IsZero() bool { return e.kind == 0 }

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Frame encodes the event as a websocket text frame:
// {"event": "<name>", "data": <payload>}
func (e OutboundEvent) Frame() ([]byte, error) {
	if !e.kind.Valid() {
		return nil, ErrUnknownEvent
	}
	data, err := json.Marshal(frame{Event: e.kind.String(), Data: e.payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", e.kind, err)
	}
	return data, nil
}

// FriendRequestPayload is the body of friend:request.
type FriendRequestPayload struct {
	From     string          `json:"from"`
	FromUser json.RawMessage `json:"fromUser,omitempty"`
}

// FriendUpdatePayload is the body of the accepted/rejected/cancelled events.
// Friend always names the other party from the recipient's point of view.
type FriendUpdatePayload struct {
	Friend string `json:"friend"`
	Action string `json:"action"`
}

// GroupPostPayload is the body of group:post:new.
type GroupPostPayload struct {
	GroupID string          `json:"groupId"`
	Post    json.RawMessage `json:"post"`
}

// ErrorPayload is sent back to a handle whose inbound frame was rejected.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UserOnline carries the list of online user IDs. The list is copied.
func UserOnline(userIDs []string) OutboundEvent {
	ids := make([]string, len(userIDs))
	copy(ids, userIDs)
	return OutboundEvent{kind: EventUserOnline, payload: ids}
}

// UserOffline carries the single departed user ID.
func UserOffline(userID string) OutboundEvent {
	return OutboundEvent{kind: EventUserOffline, payload: userID}
}

// MessageReceive carries a persisted direct message.
func MessageReceive(m Message) OutboundEvent {
	return OutboundEvent{kind: EventMessageReceive, payload: m}
}

// FriendRequestReceived notifies the recipient of a new request.
func FriendRequestReceived(from string, fromUser json.RawMessage) OutboundEvent {
	return OutboundEvent{kind: EventFriendRequest, payload: FriendRequestPayload{From: from, FromUser: fromUser}}
}

// FriendRequestAccepted tells one party that friend is now a friend.
func FriendRequestAccepted(friend string) OutboundEvent {
	return OutboundEvent{kind: EventFriendRequestAccepted, payload: FriendUpdatePayload{Friend: friend, Action: FriendActionAccepted}}
}

// FriendRequestRejected tells the requester that friend declined.
func FriendRequestRejected(friend string) OutboundEvent {
	return OutboundEvent{kind: EventFriendRequestRejected, payload: FriendUpdatePayload{Friend: friend, Action: FriendActionRejected}}
}

// FriendRequestCancelled tells the recipient that friend withdrew the request.
func FriendRequestCancelled(friend string) OutboundEvent {
	return OutboundEvent{kind: EventFriendRequestCancelled, payload: FriendUpdatePayload{Friend: friend, Action: FriendActionCancelled}}
}

// FriendListChanged has no payload; clients refetch their friend list.
func FriendListChanged() OutboundEvent {
	return OutboundEvent{kind: EventFriendListChanged}
}

// PostNew carries the populated post record.
func PostNew(p Post) OutboundEvent {
	return OutboundEvent{kind: EventPostNew, payload: p.Record}
}

// GroupPostNew carries the group ID and the populated post record.
func GroupPostNew(groupID string, p Post) OutboundEvent {
	return OutboundEvent{kind: EventGroupPostNew, payload: GroupPostPayload{GroupID: groupID, Post: p.Record}}
}

// PostComment carries the updated post record.
func PostComment(p Post) OutboundEvent {
	return OutboundEvent{kind: EventPostComment, payload: p.Record}
}

// Error reports a rejected inbound frame to its sender.
func Error(code, message string) OutboundEvent {
	return OutboundEvent{kind: EventError, payload: ErrorPayload{Code: code, Message: message}}
}
