package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"campuslink/internal/channel"
	"campuslink/internal/testutil"
	"campuslink/pkg/types"
)

// Functional Validation Tests

func TestRegistry_RegisterValidation(t *testing.T) {
	reg := NewRegistry(nil)

	if _, err := reg.Register("alice", nil); !errors.Is(err, ErrNilHandle) {
		t.Errorf("Expected ErrNilHandle, got %v", err)
	}

	if _, err := reg.Register("", testutil.NewFakeHandle("h1")); !errors.Is(err, types.ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}

	if err := reg.Attach(nil); !errors.Is(err, ErrNilHandle) {
		t.Errorf("Expected ErrNilHandle from Attach, got %v", err)
	}
}

func TestRegistry_FirstHandleComesOnline(t *testing.T) {
	reg := NewRegistry(nil)
	h := testutil.NewFakeHandle("h1")

	cameOnline, err := reg.Register("alice", h)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !cameOnline {
		t.Error("Expected first handle to report cameOnline")
	}
	if h.UserID() != "alice" {
		t.Errorf("Expected handle bound to alice, got %q", h.UserID())
	}
	if !reg.IsOnline("alice") {
		t.Error("alice should be online")
	}
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	h := testutil.NewFakeHandle("h1")

	if _, err := reg.Register("alice", h); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	cameOnline, err := reg.Register("alice", h)
	if err != nil {
		t.Fatalf("Second register failed: %v", err)
	}
	if cameOnline {
		t.Error("Second register of the same handle must not report a transition")
	}
	if got := reg.ConnectionCount("alice"); got != 1 {
		t.Errorf("Expected 1 connection, got %d", got)
	}
}

func TestRegistry_RebindToOtherUserRejected(t *testing.T) {
	reg := NewRegistry(nil)
	h := testutil.NewFakeHandle("h1")

	if _, err := reg.Register("alice", h); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := reg.Register("bob", h); !errors.Is(err, ErrIdentityMismatch) {
		t.Errorf("Expected ErrIdentityMismatch, got %v", err)
	}
	if reg.IsOnline("bob") {
		t.Error("bob must not come online through alice's handle")
	}
}

// Two tabs for one user: the user stays online until the last one closes.
func TestRegistry_MultiHandleLifecycle(t *testing.T) {
	reg := NewRegistry(nil)
	tab1 := testutil.NewFakeHandle("tab1")
	tab2 := testutil.NewFakeHandle("tab2")

	first, _ := reg.Register("alice", tab1)
	second, _ := reg.Register("alice", tab2)
	if !first || second {
		t.Fatalf("Expected transitions (true,false), got (%v,%v)", first, second)
	}

	userID, wentOffline := reg.Unregister(tab1)
	if userID != "alice" || wentOffline {
		t.Errorf("Closing one tab: expected (alice,false), got (%s,%v)", userID, wentOffline)
	}
	if !reg.IsOnline("alice") {
		t.Error("alice should still be online")
	}

	userID, wentOffline = reg.Unregister(tab2)
	if userID != "alice" || !wentOffline {
		t.Errorf("Closing last tab: expected (alice,true), got (%s,%v)", userID, wentOffline)
	}
	if reg.IsOnline("alice") {
		t.Error("alice should be offline")
	}
	if len(reg.OnlineUserIDs()) != 0 {
		t.Errorf("Expected no online users, got %v", reg.OnlineUserIDs())
	}
}

func TestRegistry_UnregisterIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	h := testutil.NewFakeHandle("h1")
	reg.Register("alice", h)

	if _, wentOffline := reg.Unregister(h); !wentOffline {
		t.Error("First unregister should report wentOffline")
	}
	userID, wentOffline := reg.Unregister(h)
	if userID != "" || wentOffline {
		t.Errorf("Second unregister should be a no-op, got (%q,%v)", userID, wentOffline)
	}
	if _, wentOffline := reg.Unregister(nil); wentOffline {
		t.Error("nil unregister should be a no-op")
	}
}

func TestRegistry_UnannouncedHandle(t *testing.T) {
	reg := NewRegistry(nil)
	h := testutil.NewFakeHandle("anon")

	if err := reg.Attach(h); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if len(reg.All()) != 1 {
		t.Errorf("Expected attached handle in All(), got %d", len(reg.All()))
	}
	if len(reg.OnlineUserIDs()) != 0 {
		t.Error("Unannounced handle must not appear online")
	}

	userID, wentOffline := reg.Unregister(h)
	if userID != "" || wentOffline {
		t.Errorf("Expected (\"\",false) for unannounced handle, got (%q,%v)", userID, wentOffline)
	}
	if _, ok := reg.Handle("anon"); ok {
		t.Error("Handle should be gone after Unregister")
	}
}

func TestRegistry_UnregisterPrunesChannels(t *testing.T) {
	channels := channel.NewManager()
	reg := NewRegistry(channels)
	h := testutil.NewFakeHandle("h1")
	reg.Register("alice", h)

	channels.Join("h1", channel.GroupChannel("g1"))
	channels.Join("h1", channel.GroupChannel("g2"))

	reg.Unregister(h)

	if got := channels.ChannelsOf("h1"); len(got) != 0 {
		t.Errorf("Expected no channel memberships after unregister, got %v", got)
	}
	if got := channels.MembersOf(channel.GroupChannel("g1")); len(got) != 0 {
		t.Errorf("Expected empty channel, got %v", got)
	}
}

func TestRegistry_OnlineUserIDsSorted(t *testing.T) {
	reg := NewRegistry(nil)
	for i, user := range []string{"carol", "alice", "bob"} {
		reg.Register(user, testutil.NewFakeHandle(fmt.Sprintf("h%d", i)))
	}

	got := reg.OnlineUserIDs()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRegistry_GetStats(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Attach(testutil.NewFakeHandle("anon"))
	reg.Register("alice", testutil.NewFakeHandle("a1"))
	reg.Register("alice", testutil.NewFakeHandle("a2"))
	reg.Register("bob", testutil.NewFakeHandle("b1"))

	stats := reg.GetStats()
	if stats["total_connections"] != 4 {
		t.Errorf("Expected 4 total connections, got %d", stats["total_connections"])
	}
	if stats["announced_connections"] != 3 {
		t.Errorf("Expected 3 announced connections, got %d", stats["announced_connections"])
	}
	if stats["online_users"] != 2 {
		t.Errorf("Expected 2 online users, got %d", stats["online_users"])
	}
}

// Technical Validation Tests

func TestRegistry_ConcurrentRegisterUnregister(t *testing.T) {
	reg := NewRegistry(channel.NewManager())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := testutil.NewFakeHandle(fmt.Sprintf("h%d", i))
			user := fmt.Sprintf("user%d", i%5)
			if _, err := reg.Register(user, h); err != nil {
				t.Errorf("Register failed: %v", err)
				return
			}
			reg.OnlineUserIDs()
			reg.Unregister(h)
		}(i)
	}
	wg.Wait()

	if n := len(reg.OnlineUserIDs()); n != 0 {
		t.Errorf("Expected empty registry after churn, got %d online", n)
	}
	if n := len(reg.All()); n != 0 {
		t.Errorf("Expected no tracked handles, got %d", n)
	}
}
