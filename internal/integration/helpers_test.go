package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campuslink/internal/api"
	"campuslink/internal/channel"
	"campuslink/internal/delivery"
	"campuslink/internal/directory"
	"campuslink/internal/hub"
	"campuslink/internal/observability"
	"campuslink/internal/presence"
	"campuslink/internal/registry"
	"campuslink/internal/testutil"
	ws "campuslink/internal/websocket"
	"campuslink/pkg/types"
)

// stack is one relay node on a real SQLite directory, served over httptest.
type stack struct {
	hub       *hub.Hub
	directory *directory.Store
	server    *httptest.Server
}

func newStack(t *testing.T, mode presence.Mode) *stack {
	t.Helper()
	// connection goroutines outlive the test body, so nothing logs through t
	logger := zap.NewNop()
	ctx := context.Background()

	cfg := directory.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "campuslink.db")
	cfg.RetryDelay = 10 * time.Millisecond
	store, err := directory.Open(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to open directory: %v", err)
	}
	if _, err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate directory: %v", err)
	}

	metrics := observability.NewMetrics()
	channels := channel.NewManager()
	h := hub.NewHub(registry.NewRegistry(channels), channels, mode, logger, metrics)
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Hub start failed: %v", err)
	}

	coordinator := delivery.NewCoordinator(h, store, logger)
	handler := ws.NewHandler(h, store, nil, ws.DefaultOptions(), logger, metrics)
	server := httptest.NewServer(api.NewServer(coordinator, store, h, handler, "", logger, metrics))

	t.Cleanup(func() {
		server.Close()
		h.Stop()
		store.Close()
	})
	return &stack{hub: h, directory: store, server: server}
}

// post sends a JSON body to the notification API and checks the status.
func (s *stack) post(t *testing.T, path string, body any, want int) {
	t.Helper()
	s.request(t, http.MethodPost, path, body, want)
}

func (s *stack) request(t *testing.T, method, path string, body any, want int) {
	t.Helper()
	var payload []byte
	if body != nil {
		payload, _ = json.Marshal(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	resp.Body.Close()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d", method, path, want, resp.StatusCode)
	}
}

type client struct {
	t      *testing.T
	conn   *websocket.Conn
	userID string
}

// connect dials the websocket endpoint and announces userID.
func (s *stack) connect(t *testing.T, userID string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &client{t: t, conn: conn, userID: userID}
	before := s.hub.ConnectionCount(userID)
	c.emit(types.InboundUserOnline, types.AnnouncePayload{UserID: userID})
	if before > 0 {
		// an extra tab does not change presence, so no user:online follows
		waitFor(t, userID+" tab", func() bool { return s.hub.ConnectionCount(userID) == before+1 })
		return c
	}
	for {
		if contains(c.onlineList(), userID) {
			return c
		}
	}
}

func (c *client) emit(event string, data any) {
	c.t.Helper()
	raw, _ := json.Marshal(data)
	if err := c.conn.WriteJSON(types.InboundFrame{Event: event, Data: raw}); err != nil {
		c.t.Fatalf("Write failed: %v", err)
	}
}

// expect reads until a frame named event arrives, skipping others.
func (c *client) expect(event string) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		c.conn.SetReadDeadline(deadline)
		var frame testutil.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.t.Fatalf("%s waiting for %s: %v", c.userID, event, err)
		}
		if frame.Event == event {
			return frame.Data
		}
	}
}

// expectNone fails if a frame named event arrives within wait. The expired
// read deadline breaks the connection, so it must be the client's last read.
func (c *client) expectNone(event string, wait time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(wait)
	for {
		c.conn.SetReadDeadline(deadline)
		var frame testutil.Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Event == event {
			c.t.Errorf("%s should not receive %s, got %s", c.userID, event, frame.Data)
			return
		}
	}
}

func (c *client) onlineList() []string {
	var ids []string
	json.Unmarshal(c.expect("user:online"), &ids)
	return ids
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
