package types

import (
	"encoding/json"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if a user ID meets format requirements. Document
// store object IDs (24 hex characters) and UUIDs both qualify.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return idRegex.MatchString(userID)
}

// IsValidGroupID applies the same rules as IsValidUserID.
func IsValidGroupID(groupID string) bool {
	return IsValidUserID(groupID)
}

// Validate ensures the message can be routed.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrInvalidMessageID
	}
	if !IsValidUserID(m.SenderID) || !IsValidUserID(m.ReceiverID) {
		return ErrInvalidUserID
	}
	return nil
}

// Validate ensures the post has an author and a well-formed record.
func (p *Post) Validate() error {
	if !IsValidUserID(p.AuthorID) {
		return ErrInvalidUserID
	}
	if len(p.Record) == 0 || !json.Valid(p.Record) {
		return ErrInvalidPost
	}
	return nil
}

// Validate ensures both parties are valid and distinct.
func (r *FriendRequest) Validate() error {
	if !IsValidUserID(r.FromID) || !IsValidUserID(r.ToID) {
		return ErrInvalidUserID
	}
	if r.FromID == r.ToID {
		return ErrSelfFriendship
	}
	if len(r.FromUser) > 0 && !json.Valid(r.FromUser) {
		return ErrInvalidPayload
	}
	return nil
}

// IsValidFriendAction reports whether action is a known lifecycle action.
func IsValidFriendAction(action string) bool {
	switch action {
	case FriendActionSent,
		FriendActionAccepted,
		FriendActionRejected,
		FriendActionCancelled,
		FriendActionRemoved:
		return true
	default:
		return false
	}
}

// Validate checks that a target carries what its kind needs.
func (t Target) Validate() error {
	switch t.Kind {
	case TargetUsers, TargetPresence:
		for _, id := range t.UserIDs {
			if !IsValidUserID(id) {
				return ErrInvalidUserID
			}
		}
		return nil
	case TargetChannel:
		if t.Channel == "" {
			return ErrInvalidPayload
		}
		return nil
	case TargetAll:
		return nil
	default:
		return ErrInvalidTargetKind
	}
}

// WithoutInvalidUsers returns t with malformed user IDs removed, along with
// the IDs it removed. Channel and broadcast targets are returned unchanged.
func (t Target) WithoutInvalidUsers() (Target, []string) {
	if t.Kind != TargetUsers && t.Kind != TargetPresence {
		return t, nil
	}

	var dropped []string
	kept := make([]string, 0, len(t.UserIDs))
	for _, id := range t.UserIDs {
		if IsValidUserID(id) {
			kept = append(kept, id)
		} else {
			dropped = append(dropped, id)
		}
	}
	if dropped == nil {
		return t, nil
	}
	t.UserIDs = kept
	return t, dropped
}
