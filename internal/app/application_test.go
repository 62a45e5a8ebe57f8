package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"campuslink/internal/backplane"
	"campuslink/internal/config"
	"campuslink/internal/testutil"
	"campuslink/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "campuslink.db")
	cfg.HTTP.ShutdownTimeout = 2 * time.Second
	return cfg
}

// Functional Validation Tests

func TestApplication_ServeEndToEnd(t *testing.T) {
	// connection goroutines outlive the test body, so nothing logs through t
	application, err := NewApplication(context.Background(), testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, ln) }()
	defer func() {
		cancel()
		<-done
	}()

	resp, err := http.Get(base + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected healthy relay, got %d", resp.StatusCode)
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(base, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer ws.Close()

	ws.WriteJSON(types.InboundFrame{Event: types.InboundUserOnline, Data: json.RawMessage(`{"userId":"bob"}`)})
	readUntil(t, ws, "user:online")

	body := `{"_id":"m1","senderId":"alice","receiverId":"bob","text":"hello"}`
	resp, err = http.Post(base+"/api/notify/message", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	frame := readUntil(t, ws, "message:receive")
	var msg types.Message
	json.Unmarshal(frame.Data, &msg)
	if msg.ID != "m1" || msg.Text != "hello" {
		t.Errorf("Unexpected message %+v", msg)
	}
}

func TestApplication_ServeStopsOnCancel(t *testing.T) {
	application, err := NewApplication(context.Background(), testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, ln) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve should return nil on cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
	if application.hub.IsRunning() {
		t.Error("Hub should be stopped after Serve returns")
	}
	if err := application.directory.HealthCheck(context.Background()); err == nil {
		t.Error("Directory should be closed after Serve returns")
	}
}

func TestApplication_ShutdownClosesConnections(t *testing.T) {
	application, err := NewApplication(context.Background(), testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- application.Serve(ctx, ln) }()

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		cancel()
		t.Fatalf("Dial failed: %v", err)
	}
	defer ws.Close()
	ws.WriteJSON(types.InboundFrame{Event: types.InboundUserOnline, Data: json.RawMessage(`{"userId":"bob"}`)})
	readUntil(t, ws, "user:online")

	cancel()
	<-done

	// the server side is gone, so reads fail instead of timing out
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			t.Fatal("Connection should be closed by shutdown")
		}
		break
	}
}

// Error Handling Tests

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Presence.Mode = "sometimes"
	if _, err := NewApplication(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("Invalid presence mode should fail")
	}

	cfg = testConfig(t)
	cfg.Backplane.Driver = backplane.DriverRedis
	// nothing listens on port 1
	cfg.Backplane.Redis.Addr = "127.0.0.1:1"
	if _, err := NewApplication(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("Unreachable redis should fail startup")
	}
}

func readUntil(t *testing.T, ws *websocket.Conn, event string) testutil.Frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		ws.SetReadDeadline(deadline)
		var frame testutil.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			t.Fatalf("Waiting for %s: %v", event, err)
		}
		if frame.Event == event {
			return frame
		}
	}
}
