package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Functional Validation Tests

func TestConnection_NewConnectionInitialization(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), 0, 0)
	defer conn.Close()

	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected default write buffer of 100, got %d", cap(conn.writeCh))
	}
	if conn.writeTimeout != 5*time.Second {
		t.Errorf("Expected default write timeout 5s, got %v", conn.writeTimeout)
	}
	if conn.ID() == "" {
		t.Error("Connection should have an ID")
	}
	if conn.UserID() != "" {
		t.Error("New connection should not be bound")
	}

	other := NewConnection(createTestWebSocketConnection(t), 10, time.Second)
	defer other.Close()
	if other.ID() == conn.ID() {
		t.Error("Connection IDs must be unique")
	}
}

func TestConnection_Bind(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), 10, time.Second)
	defer conn.Close()

	if err := conn.Bind("alice"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := conn.Bind("alice"); err != nil {
		t.Errorf("Rebinding the same user should succeed, got %v", err)
	}
	if err := conn.Bind("bob"); !errors.Is(err, ErrAlreadyBound) {
		t.Errorf("Expected ErrAlreadyBound, got %v", err)
	}
	if conn.UserID() != "alice" {
		t.Errorf("Expected alice, got %s", conn.UserID())
	}
}

func TestConnection_SendDelivers(t *testing.T) {
	received := make(chan string, 1)
	conn := NewConnection(createEchoTarget(t, received), 10, time.Second)
	defer conn.Close()

	if err := conn.Send([]byte(`{"event":"friend:list:changed"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-received:
		if got != `{"event":"friend:list:changed"}` {
			t.Errorf("Unexpected frame %s", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Frame not delivered")
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), 10, time.Second)

	if err := conn.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed after Close")
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), 10, time.Second)
	conn.Close()

	if err := conn.Send([]byte("{}")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_SendQueueFull(t *testing.T) {
	// a connection nobody drains: construct without the writer goroutine
	conn := &Connection{writeCh: make(chan []byte, 2)}
	conn.ctx, conn.cancel = context.WithCancel(context.Background())
	defer conn.cancel()

	conn.Send([]byte("1"))
	conn.Send([]byte("2"))
	if err := conn.Send([]byte("3")); !errors.Is(err, ErrWriteQueueFull) {
		t.Errorf("Expected ErrWriteQueueFull, got %v", err)
	}
}

// Technical Validation Tests (Race Detection)

func TestConnection_ConcurrentSends(t *testing.T) {
	conn := NewConnection(createTestWebSocketConnection(t), 1000, time.Second)
	defer conn.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				conn.Send([]byte(`{"event":"post:new","data":{}}`))
				conn.UserID()
			}
		}()
	}
	wg.Wait()
}

// createTestWebSocketConnection dials a server that reads and discards frames.
func createTestWebSocketConnection(t *testing.T) *websocket.Conn {
	return dialTestServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// createEchoTarget dials a server that reports every text frame it reads.
func createEchoTarget(t *testing.T, received chan<- string) *websocket.Conn {
	return dialTestServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})
}

func dialTestServer(t *testing.T, serve func(conn *websocket.Conn)) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()
		serve(conn)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
