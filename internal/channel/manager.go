// Package channel keeps transient, opt-in channel subscriptions per
// connection. Handles are referenced by ID only.
package channel

import (
	"sort"
	"sync"
)

// GroupPrefix namespaces group channels.
const GroupPrefix = "group:"

// GroupChannel returns the channel name for a group.
func GroupChannel(groupID string) string {
	return GroupPrefix + groupID
}

// Manager owns ChannelMembership.
type Manager struct {
	mu       sync.RWMutex
	members  map[string]map[string]struct{} // channel -> handleIDs
	joinedBy map[string]map[string]struct{} // handleID -> channels
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		members:  make(map[string]map[string]struct{}),
		joinedBy: make(map[string]map[string]struct{}),
	}
}

// Join subscribes handleID to channel. It reports whether membership changed.
func (m *Manager) Join(handleID, channel string) bool {
	if handleID == "" || channel == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.members[channel]
	if _, ok := subs[handleID]; ok {
		return false
	}
	if subs == nil {
		subs = make(map[string]struct{})
		m.members[channel] = subs
	}
	subs[handleID] = struct{}{}

	joined := m.joinedBy[handleID]
	if joined == nil {
		joined = make(map[string]struct{})
		m.joinedBy[handleID] = joined
	}
	joined[channel] = struct{}{}
	return true
}

// Leave unsubscribes handleID from channel. It reports whether membership changed.
func (m *Manager) Leave(handleID, channel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.leaveLocked(handleID, channel)
}

// LeaveAll drops every subscription of handleID and returns the channels it
// left, sorted.
func (m *Manager) LeaveAll(handleID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	joined := m.joinedBy[handleID]
	left := make([]string, 0, len(joined))
	for channel := range joined {
		left = append(left, channel)
	}
	for _, channel := range left {
		m.leaveLocked(handleID, channel)
	}
	sort.Strings(left)
	return left
}

func (m *Manager) leaveLocked(handleID, channel string) bool {
	subs, ok := m.members[channel]
	if !ok {
		return false
	}
	if _, member := subs[handleID]; !member {
		return false
	}
	delete(subs, handleID)
	if len(subs) == 0 {
		delete(m.members, channel)
	}

	if joined, ok := m.joinedBy[handleID]; ok {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(m.joinedBy, handleID)
		}
	}
	return true
}

// MembersOf returns the handle IDs subscribed to channel, sorted.
func (m *Manager) MembersOf(channel string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := m.members[channel]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ChannelsOf returns the channels handleID is subscribed to, sorted.
func (m *Manager) ChannelsOf(handleID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	joined := m.joinedBy[handleID]
	out := make([]string, 0, len(joined))
	for channel := range joined {
		out = append(out, channel)
	}
	sort.Strings(out)
	return out
}

// GetStats returns channel counts for monitoring.
func (m *Manager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subscriptions := 0
	for _, subs := range m.members {
		subscriptions += len(subs)
	}
	return map[string]int{
		"channels":      len(m.members),
		"subscriptions": subscriptions,
	}
}
