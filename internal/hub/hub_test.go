package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"campuslink/internal/channel"
	"campuslink/internal/observability"
	"campuslink/internal/presence"
	"campuslink/internal/registry"
	"campuslink/internal/testutil"
	"campuslink/pkg/types"
)

func startHub(t *testing.T, mode presence.Mode) *Hub {
	t.Helper()
	channels := channel.NewManager()
	h := NewHub(registry.NewRegistry(channels), channels, mode, zaptest.NewLogger(t), observability.NewMetrics())
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		if h.IsRunning() {
			h.Stop()
		}
	})
	return h
}

func announce(t *testing.T, h *Hub, handleID, userID string) *testutil.FakeHandle {
	t.Helper()
	fh := testutil.NewFakeHandle(handleID)
	ctx := context.Background()
	if err := h.Connect(ctx, fh); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := h.Announce(ctx, userID, fh); err != nil {
		t.Fatalf("Announce failed: %v", err)
	}
	return fh
}

// Architectural Validation Tests

func TestHub_StartStop(t *testing.T) {
	channels := channel.NewManager()
	h := NewHub(registry.NewRegistry(channels), channels, presence.ModeFull, zaptest.NewLogger(t), nil)

	if err := h.Stop(); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := h.Start(context.Background()); !errors.Is(err, ErrHubAlreadyRunning) {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := h.Do(context.Background(), func(context.Context) {}); !errors.Is(err, ErrHubNotRunning) {
		t.Errorf("Expected ErrHubNotRunning after stop, got %v", err)
	}
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	channels := channel.NewManager()
	h := NewHub(registry.NewRegistry(channels), channels, presence.ModeFull, zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for h.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("Loop did not stop after context cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Functional Validation Tests

// Two tabs: presence is announced once and withdrawn once.
func TestHub_MultiTabPresence(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	ctx := context.Background()
	observer := announce(t, h, "o1", "observer")

	tab1 := announce(t, h, "a1", "alice")
	tab2 := announce(t, h, "a2", "alice")
	onlineBefore := observer.Count("user:online")

	if err := h.Disconnect(ctx, tab1); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if observer.Count("user:offline") != 0 {
		t.Fatal("user:offline emitted while a tab is still open")
	}
	if !h.IsOnline("alice") || h.ConnectionCount("alice") != 1 {
		t.Fatal("alice should remain online with one handle")
	}

	h.Disconnect(ctx, tab2)
	h.Disconnect(ctx, tab2)

	if observer.Count("user:offline") != 1 {
		t.Errorf("Expected exactly one user:offline, got %d", observer.Count("user:offline"))
	}
	if observer.Count("user:online") != onlineBefore {
		t.Error("Second tab must not re-announce alice")
	}
	if h.IsOnline("alice") {
		t.Error("alice should be offline")
	}
}

func TestHub_AnnounceIdentityMismatch(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	fh := announce(t, h, "a1", "alice")

	err := h.Announce(context.Background(), "mallory", fh)
	if !errors.Is(err, registry.ErrIdentityMismatch) {
		t.Errorf("Expected ErrIdentityMismatch, got %v", err)
	}
	if h.IsOnline("mallory") {
		t.Error("mallory must not come online")
	}
}

func TestHub_GroupChannelLifecycle(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	ctx := context.Background()
	member := announce(t, h, "a1", "alice")
	outsider := announce(t, h, "b1", "bob")

	joined, err := h.Join(ctx, member, "g1")
	if err != nil || !joined {
		t.Fatalf("Join failed: (%v,%v)", joined, err)
	}
	if again, _ := h.Join(ctx, member, "g1"); again {
		t.Error("Second join should be a no-op")
	}

	post := types.Post{ID: "p1", AuthorID: "alice", Record: json.RawMessage(`{"_id":"p1"}`)}
	h.SendToChannel(ctx, channel.GroupChannel("g1"), types.GroupPostNew("g1", post))

	if member.Count("group:post:new") != 1 {
		t.Error("Member should receive the channel event")
	}
	if outsider.Count("group:post:new") != 0 {
		t.Error("Outsider must not receive the channel event")
	}

	h.Disconnect(ctx, member)
	if stats := h.GetStats(); stats["subscriptions"] != 0 {
		t.Errorf("Disconnect should prune channel memberships, got %v", stats)
	}
}

func TestHub_JoinRequiresAnnouncedHandle(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	ctx := context.Background()

	stranger := testutil.NewFakeHandle("x1")
	if _, err := h.Join(ctx, stranger, "g1"); !errors.Is(err, ErrHandleNotAttached) {
		t.Errorf("Expected ErrHandleNotAttached, got %v", err)
	}

	anon := testutil.NewFakeHandle("x2")
	h.Connect(ctx, anon)
	if _, err := h.Join(ctx, anon, "g1"); !errors.Is(err, ErrNotAnnounced) {
		t.Errorf("Expected ErrNotAnnounced, got %v", err)
	}

	if _, err := h.Join(ctx, anon, "bad id!"); !errors.Is(err, types.ErrInvalidGroupID) {
		t.Errorf("Expected ErrInvalidGroupID, got %v", err)
	}
}

func TestHub_LeaveUnknownChannelIsNoop(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	fh := announce(t, h, "a1", "alice")

	left, err := h.Leave(context.Background(), fh, "never-joined")
	if err != nil || left {
		t.Errorf("Expected (false,nil), got (%v,%v)", left, err)
	}
}

func TestHub_SendPresenceSnapshot(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	alice := announce(t, h, "a1", "alice")
	announce(t, h, "b1", "bob")
	alice.Reset()

	h.SendPresenceSnapshot(context.Background(), "alice")

	if alice.Count("user:online") != 1 {
		t.Errorf("Expected one snapshot, got %v", alice.Events())
	}
}

func TestHub_DeliverEnvelope(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	bob := announce(t, h, "b1", "bob")

	frame, _ := types.FriendListChanged().Frame()
	h.DeliverEnvelope(context.Background(), types.Envelope{
		Origin: "node-2",
		Event:  "friend:list:changed",
		Target: types.Target{Kind: types.TargetUsers, UserIDs: []string{"bob"}},
		Frame:  frame,
	})

	if bob.Count("friend:list:changed") != 1 {
		t.Errorf("Expected envelope delivered, got %v", bob.Events())
	}
}

func TestHub_RoutingAfterStopIsDropped(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	bob := announce(t, h, "b1", "bob")
	h.Stop()

	h.SendToUser(context.Background(), "bob", types.FriendListChanged())

	if len(bob.Frames()) != 1 {
		t.Errorf("Only the initial presence frame expected, got %v", bob.Events())
	}
}

// Technical Validation Tests

// Events from one sender arrive in send order.
func TestHub_PerSenderOrdering(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	bob := announce(t, h, "b1", "bob")
	bob.Reset()

	const n = 200
	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(sender int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				msg := types.Message{ID: fmt.Sprintf("%d-%d", sender, i), SenderID: fmt.Sprintf("s%d", sender), ReceiverID: "bob"}
				h.SendToUser(context.Background(), "bob", types.MessageReceive(msg))
			}
		}(s)
	}
	wg.Wait()

	next := make(map[string]int)
	for _, fr := range bob.Frames() {
		var msg types.Message
		if err := json.Unmarshal(fr.Data, &msg); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		want := fmt.Sprintf("%s-%d", msg.SenderID[1:], next[msg.SenderID])
		if msg.ID != want {
			t.Fatalf("Out of order for %s: got %s want %s", msg.SenderID, msg.ID, want)
		}
		next[msg.SenderID]++
	}
	if len(bob.Frames()) != 4*n {
		t.Errorf("Expected %d frames, got %d", 4*n, len(bob.Frames()))
	}
}

// Concurrent connects and disconnects leave the observer with a consistent
// story: every user that came online also went offline.
func TestHub_ConcurrentChurn(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	observer := announce(t, h, "o1", "observer")
	observer.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := context.Background()
			fh := testutil.NewFakeHandle(fmt.Sprintf("h%d", i))
			user := fmt.Sprintf("user%d", i%8)
			if err := h.Connect(ctx, fh); err != nil {
				t.Errorf("Connect failed: %v", err)
				return
			}
			if err := h.Announce(ctx, user, fh); err != nil {
				t.Errorf("Announce failed: %v", err)
			}
			h.Disconnect(ctx, fh)
		}(i)
	}
	wg.Wait()

	if online := h.OnlineUserIDs(); len(online) != 1 || online[0] != "observer" {
		t.Errorf("Expected only observer online, got %v", online)
	}
	if on, off := observer.Count("user:online"), observer.Count("user:offline"); on != off {
		t.Errorf("Transitions out of balance: %d online vs %d offline", on, off)
	}
}

func TestHub_CloseAll(t *testing.T) {
	h := startHub(t, presence.ModeFull)
	alice := announce(t, h, "h1", "alice")
	lurker := testutil.NewFakeHandle("h2")
	if err := h.Connect(context.Background(), lurker); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	alice.Reset()

	closed, err := h.CloseAll(context.Background())
	if err != nil {
		t.Fatalf("CloseAll failed: %v", err)
	}
	if closed != 2 {
		t.Errorf("Expected 2 closed handles, got %d", closed)
	}
	if h.IsOnline("alice") || len(h.OnlineUserIDs()) != 0 {
		t.Error("No user should remain online")
	}
	if err := alice.Send([]byte("{}")); !errors.Is(err, testutil.ErrFakeClosed) {
		t.Errorf("Handle should be closed, got %v", err)
	}
	if alice.Count("user:offline") != 0 {
		t.Error("CloseAll must not broadcast presence")
	}

	// the read pump's own disconnect arrives later and changes nothing
	if err := h.Disconnect(context.Background(), alice); err != nil {
		t.Errorf("Late disconnect failed: %v", err)
	}
}
