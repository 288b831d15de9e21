package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 54 * time.Second
	maxMessageSize = 1 << 20
)

// wsConn adapts a gorilla websocket connection to the Conn interface.
// Gorilla permits one concurrent writer, so all sends funnel through a
// mutex: presence timers, peer broadcasts, and the session's own replies may
// all send concurrently.
type wsConn struct {
	socket *websocket.Conn
	sendMu sync.Mutex
}

func newWSConn(socket *websocket.Conn) *wsConn {
	return &wsConn{socket: socket}
}

func (c *wsConn) Send(event Event) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.socket.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.socket.WriteJSON(event)
}

func (c *wsConn) ping() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// HandlerConfig wires the websocket entry point.
type HandlerConfig struct {
	Registry *Registry
	Gateway  PersistenceGateway
	Logger   *zap.Logger
	// CheckOrigin overrides the upgrader's origin policy; nil allows all
	// origins, matching the anonymous nature of the service.
	CheckOrigin func(r *http.Request) bool
}

// Handler upgrades HTTP requests to websocket connections and runs one
// session per connection.
type Handler struct {
	registry *Registry
	gateway  PersistenceGateway
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler constructs the websocket handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("realtime: registry is required")
	}
	if cfg.Gateway == nil {
		return nil, errors.New("realtime: persistence gateway is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		registry: cfg.Registry,
		gateway:  cfg.Gateway,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}, nil
}

// ServeHTTP upgrades the request and pumps messages until the client
// disconnects or a fatal setup failure occurs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	conn := newWSConn(socket)
	session, err := NewSession(SessionConfig{
		Conn:     conn,
		Registry: h.registry,
		Gateway:  h.gateway,
		Logger:   h.logger.With(zap.String("conn_id", connID)),
	})
	if err != nil {
		h.logger.Error("session setup failed", zap.Error(err))
		_ = socket.Close()
		return
	}

	h.logger.Debug("websocket connected", zap.String("conn_id", connID))
	defer func() {
		session.Disconnect()
		_ = socket.Close()
		h.logger.Debug("websocket disconnected", zap.String("conn_id", connID))
	}()

	socket.SetReadLimit(maxMessageSize)
	_ = socket.SetReadDeadline(time.Now().Add(pongTimeout))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	stopPings := make(chan struct{})
	defer close(stopPings)
	go h.keepAlive(conn, stopPings)

	h.readLoop(r, conn, session)
}

func (h *Handler) keepAlive(conn *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (h *Handler) readLoop(r *http.Request, conn *wsConn, session *Session) {
	ctx := r.Context()
	for {
		_, raw, err := conn.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			_ = conn.Send(errorEvent("malformed message"))
			continue
		}

		if err := h.dispatch(ctx, session, envelope); err != nil {
			// Handler errors are protocol violations (bad note id, wrong
			// room, double join); the event already told the client why.
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, session *Session, envelope Envelope) error {
	switch envelope.Event {
	case EventJoinNote:
		var payload JoinPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return h.rejectPayload(session, err)
		}
		return session.HandleJoin(ctx, payload)
	case EventAuth:
		var payload AuthPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return h.rejectPayload(session, err)
		}
		return session.HandleAuth(ctx, payload)
	case EventUpdateContent:
		var payload UpdatePayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return h.rejectPayload(session, err)
		}
		return session.HandleUpdate(ctx, payload)
	case EventPasswordChanged:
		var payload PasswordChangedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return h.rejectPayload(session, err)
		}
		return session.HandlePasswordChanged(ctx, payload)
	case EventReadOnlyChanged:
		var payload ReadOnlyChangedPayload
		if err := json.Unmarshal(envelope.Data, &payload); err != nil {
			return h.rejectPayload(session, err)
		}
		return session.HandleReadOnlyChanged(ctx, payload)
	default:
		session.send(errorEvent("unknown event: " + envelope.Event))
		return nil
	}
}

func (h *Handler) rejectPayload(session *Session, err error) error {
	h.logger.Debug("payload decode failed", zap.Error(err))
	session.send(errorEvent("malformed payload"))
	return nil
}
