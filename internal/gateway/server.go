package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/canvakit/graphsync/internal/logging"
	"github.com/canvakit/graphsync/internal/registry"
)

// AuthFunc decides whether an incoming connection may be upgraded. It
// runs before any registration; the protocol itself carries user
// identity per message.
type AuthFunc func(r *http.Request) error

// AllowAll accepts every connection.
func AllowAll(*http.Request) error { return nil }

// Server upgrades WebSocket connections and runs the per-connection
// read loop against the dispatcher.
type Server struct {
	dispatcher *Dispatcher
	registry   *registry.Registry
	auth       AuthFunc
	logger     *slog.Logger

	upgrader websocket.Upgrader
}

// NewServer builds the WebSocket endpoint handler.
func NewServer(d *Dispatcher, reg *registry.Registry, auth AuthFunc, logger *slog.Logger) *Server {
	if auth == nil {
		auth = AllowAll
	}
	return &Server{
		dispatcher: d,
		registry:   reg,
		auth:       auth,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin policy is the proxy's concern; the auth hook is
			// the gate here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP handles the WebSocket endpoint.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := s.auth(r); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConn(uuid.New().String(), ws)
	ctx := logging.WithConnID(r.Context(), c.ID())
	s.logger.InfoContext(ctx, "connection opened")

	go c.writePump()
	s.readPump(ctx, c)
}

// readPump reads messages until the connection dies, dispatching each
// one sequentially so a client's messages apply in arrival order.
func (s *Server) readPump(ctx context.Context, c *Conn) {
	defer s.teardown(ctx, c)

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.InfoContext(ctx, "connection read failed", slog.String("error", err.Error()))
			}
			return
		}
		resp := s.dispatcher.Handle(ctx, c, raw)
		if !c.Send(resp) {
			// Response sink full or closed: the request is already
			// committed, the client recovers via catch-up.
			s.logger.WarnContext(ctx, "response dropped", slog.String("request_id", resp.RequestID))
		}
	}
}

// teardown deregisters every session this connection held and closes
// the socket. Reconnection is always a fresh register, never a resume.
func (s *Server) teardown(ctx context.Context, c *Conn) {
	c.close()
	// The request context dies with the connection; deregistration must
	// still run.
	ctx = context.WithoutCancel(ctx)
	for resourceKey, sessionID := range c.takeRegistrations() {
		s.registry.Unregister(ctx, resourceKey, sessionID)
	}
	s.logger.InfoContext(ctx, "connection closed")
}
