package registry

import (
	"fmt"
	"sort"
	"sync"

	"campuslink/pkg/interfaces"
	"campuslink/pkg/types"
)

// MembershipPruner drops every channel subscription of a handle. The channel
// manager satisfies it; teardown calls it inside Unregister.
type MembershipPruner interface {
	LeaveAll(handleID string) []string
}

// Registry maps user identities to their live handles and is the source of
// truth for who is online.
// ARCHITECTURAL DISCOVERY: Pure connection tracking without routing or broadcast;
// presence transitions are reported to the caller, never emitted from here
type Registry struct {
	mu      sync.RWMutex
	handles map[string]interfaces.Handle            // handleID -> Handle, announced or not
	byUser  map[string]map[string]interfaces.Handle // userID -> handleID -> Handle
	pruner  MembershipPruner
}

// NewRegistry creates an empty registry. pruner may be nil when no channel
// manager is in use.
func NewRegistry(pruner MembershipPruner) *Registry {
	return &Registry{
		handles: make(map[string]interfaces.Handle),
		byUser:  make(map[string]map[string]interfaces.Handle),
		pruner:  pruner,
	}
}

// Attach tracks a freshly connected handle that has not announced an
// identity yet. Attached handles receive broadcasts.
func (r *Registry) Attach(h interfaces.Handle) error {
	if h == nil {
		return ErrNilHandle
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.handles[h.ID()] = h
	return nil
}

// Register associates h with userID. It reports cameOnline when userID had no
// live handles before this call. Registering the same handle twice is a no-op.
// FUNCTIONAL DISCOVERY: Transition detection uses the before/after handle count,
// so a reconnect that lands before the old teardown never looks like 0 -> 1
func (r *Registry) Register(userID string, h interfaces.Handle) (bool, error) {
	if h == nil {
		return false, ErrNilHandle
	}
	if !types.IsValidUserID(userID) {
		return false, types.ErrInvalidUserID
	}
	if bound := h.UserID(); bound != "" && bound != userID {
		return false, fmt.Errorf("%w: bound=%s announced=%s", ErrIdentityMismatch, bound, userID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byUser[userID]
	if _, exists := set[h.ID()]; exists {
		return false, nil
	}

	if err := h.Bind(userID); err != nil {
		return false, fmt.Errorf("%w: %v", ErrIdentityMismatch, err)
	}

	before := len(set)
	if set == nil {
		set = make(map[string]interfaces.Handle)
		r.byUser[userID] = set
	}
	set[h.ID()] = h
	r.handles[h.ID()] = h

	return before == 0, nil
}

// Unregister removes h from its user's set and from every channel it joined.
// It returns the user the handle was bound to and whether that user went
// fully offline. Calling it again for the same handle is a no-op.
func (r *Registry) Unregister(h interfaces.Handle) (string, bool) {
	if h == nil {
		return "", false
	}

	id := h.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, tracked := r.handles[id]; !tracked {
		return "", false
	}
	delete(r.handles, id)

	// ChannelMembership must not outlive the handle
	if r.pruner != nil {
		r.pruner.LeaveAll(id)
	}

	userID := h.UserID()
	set, exists := r.byUser[userID]
	if !exists {
		return userID, false
	}
	if _, member := set[id]; !member {
		return userID, false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byUser, userID)
		return userID, true
	}
	return userID, false
}

// HandlesFor returns the live handles of userID, empty when offline.
func (r *Registry) HandlesFor(userID string) []interfaces.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	out := make([]interfaces.Handle, 0, len(set))
	for _, h := range set {
		out = append(out, h)
	}
	return out
}

// Handle looks up a tracked handle by connection ID.
func (r *Registry) Handle(handleID string) (interfaces.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[handleID]
	return h, ok
}

// All returns every tracked handle, announced or not.
func (r *Registry) All() []interfaces.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]interfaces.Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// IsOnline reports whether userID has at least one live handle.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser[userID]) > 0
}

// ConnectionCount returns how many live handles userID has.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser[userID])
}

// OnlineUserIDs returns the online users in ascending order.
func (r *Registry) OnlineUserIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.byUser))
	for userID := range r.byUser {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	announced := 0
	for _, set := range r.byUser {
		announced += len(set)
	}

	return map[string]int{
		"total_connections":     len(r.handles),
		"announced_connections": announced,
		"online_users":          len(r.byUser),
	}
}
