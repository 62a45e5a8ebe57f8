package testutil

import (
	"context"
	"sort"
	"sync"
)

// MemoryDirectory is an in-memory interfaces.Directory. Err, when set, is
// returned by every call.
type MemoryDirectory struct {
	mu      sync.Mutex
	friends map[string]map[string]struct{}
	groups  map[string]map[string]struct{}
	Err     error
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		friends: make(map[string]map[string]struct{}),
		groups:  make(map[string]map[string]struct{}),
	}
}

func (d *MemoryDirectory) Friends(ctx context.Context, userID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	return sortedKeys(d.friends[userID]), nil
}

func (d *MemoryDirectory) AddFriendship(ctx context.Context, userID, friendID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	add(d.friends, userID, friendID)
	add(d.friends, friendID, userID)
	return nil
}

func (d *MemoryDirectory) RemoveFriendship(ctx context.Context, userID, friendID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	delete(d.friends[userID], friendID)
	delete(d.friends[friendID], userID)
	return nil
}

func (d *MemoryDirectory) GroupMembers(ctx context.Context, groupID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return nil, d.Err
	}
	return sortedKeys(d.groups[groupID]), nil
}

func (d *MemoryDirectory) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return false, d.Err
	}
	_, ok := d.groups[groupID][userID]
	return ok, nil
}

func (d *MemoryDirectory) AddGroupMember(ctx context.Context, groupID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	add(d.groups, groupID, userID)
	return nil
}

func (d *MemoryDirectory) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	delete(d.groups[groupID], userID)
	return nil
}

func (d *MemoryDirectory) HealthCheck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Err
}

func (d *MemoryDirectory) Close() error { return nil }

func add(m map[string]map[string]struct{}, key, value string) {
	set := m[key]
	if set == nil {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[value] = struct{}{}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
