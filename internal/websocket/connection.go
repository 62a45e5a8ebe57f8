package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"campuslink/pkg/interfaces"
)

// Connection implements interfaces.Handle over a gorilla websocket.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: FIFO per connection, drained by one writer
	writeTimeout time.Duration
	verified     string             // identity proven at handshake, empty when none
	ctx          context.Context    // For cancellation
	cancel       context.CancelFunc // For cleanup
	closeOnce    sync.Once          // Ensure single close

	mu     sync.RWMutex
	userID string // Set by Bind on announce
}

var _ interfaces.Handle = (*Connection)(nil)

// NewConnection wraps conn and starts its writer goroutine.
func NewConnection(conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = 100
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.New().String(),
		conn:         conn,
		writeCh:      make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// a dead peer ends the read pump too, which triggers teardown
				c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// Bind sets the announced identity once.
func (c *Connection) Bind(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.userID != "" && c.userID != userID {
		return ErrAlreadyBound
	}
	c.userID = userID
	return nil
}

// Verified returns the identity proven by the handshake token, if any.
func (c *Connection) Verified() string {
	return c.verified
}

// Send enqueues an encoded frame without blocking. A full queue means the
// peer is not keeping up; the frame is dropped and the caller logs it.
func (c *Connection) Send(frame []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrWriteQueueFull
	}
}

// Done is closed once the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
