package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/canvakit/graphsync/pkg/schema"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long the connection survives without a pong.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// Conn is one client's long-lived WebSocket connection. It implements
// registry.Sink: broadcasts are queued on the send channel and written
// by the write pump, never inline from registry code.
type Conn struct {
	id string
	ws *websocket.Conn

	send   chan *schema.Envelope
	closed chan struct{}
	once   sync.Once

	// registrations maps resource key to the session id this connection
	// holds on it. Guarded by mu; touched by the dispatcher only.
	mu            sync.Mutex
	registrations map[string]string
}

func newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:            id,
		ws:            ws,
		send:          make(chan *schema.Envelope, sendBufferSize),
		closed:        make(chan struct{}),
		registrations: make(map[string]string),
	}
}

// ID returns the connection id, used for log correlation.
func (c *Conn) ID() string { return c.id }

// Send queues msg for delivery. Returns false when the connection is
// closed or its buffer is full; the registry counts that as a dropped
// broadcast and the client recovers by re-registering.
func (c *Conn) Send(msg *schema.Envelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close marks the connection dead. Idempotent; both pumps call it.
func (c *Conn) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// addRegistration stores the session this connection holds on
// resourceKey and returns the session id it displaced, if any. A
// re-register supersedes the previous session; the caller must
// deregister it or it would keep receiving broadcasts.
func (c *Conn) addRegistration(resourceKey, sessionID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.registrations[resourceKey]
	c.registrations[resourceKey] = sessionID
	return prev, ok && prev != sessionID
}

func (c *Conn) sessionFor(resourceKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.registrations[resourceKey]
	return id, ok
}

func (c *Conn) takeRegistrations() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.registrations
	c.registrations = make(map[string]string)
	return out
}

// writePump owns all writes on the socket: queued messages and
// keepalive pings. Exits when the send path closes or a write fails.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
