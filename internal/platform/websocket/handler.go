package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/habms/habms/internal/platform/session"
)

const (
	sendBuffer   = 64
	maxFrameSize = 1 << 20
	writeWait    = 10 * time.Second
)

// LineDispatcher runs one request line for a session and returns the
// encoded response.
type LineDispatcher interface {
	Dispatch(ctx context.Context, sess *session.Session, line []byte) []byte
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests and serves the request protocol on the
// resulting connection. Each connection has its own anonymous session.
type Handler struct {
	hub         *Hub
	dispatcher  LineDispatcher
	logger      zerolog.Logger
	idleTimeout time.Duration

	mu    sync.Mutex
	conns map[*gorillawebsocket.Conn]struct{}
}

// NewHandler creates a Handler. An idleTimeout of zero disables the read
// deadline.
func NewHandler(hub *Hub, dispatcher LineDispatcher, logger zerolog.Logger, idleTimeout time.Duration) *Handler {
	return &Handler{
		hub:         hub,
		dispatcher:  dispatcher,
		logger:      logger,
		idleTimeout: idleTimeout,
		conns:       make(map[*gorillawebsocket.Conn]struct{}),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection and blocks until the client goes
// away.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	ws.SetReadLimit(maxFrameSize)
	h.track(ws)
	defer h.untrack(ws)

	client := NewClient(uuid.New().String(), sendBuffer)
	h.hub.Register(client)

	logger := h.logger.With().
		Str("conn_id", client.ID).
		Str("transport", "ws").
		Str("remote", c.RealIP()).
		Logger()
	logger.Info().Msg("connection opened")

	ctx := WithClient(logger.WithContext(c.Request().Context()), client)

	done := make(chan struct{})
	go h.writePump(client, ws, done)
	h.readPump(ctx, client, ws, done)

	logger.Info().Msg("connection closed")
	return nil
}

func (h *Handler) readPump(ctx context.Context, client *Client, ws *gorillawebsocket.Conn, done <-chan struct{}) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	sess := &session.Session{}
	for {
		if h.idleTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}
		msgType, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != gorillawebsocket.TextMessage || len(message) == 0 {
			continue
		}

		resp := h.dispatcher.Dispatch(ctx, sess, message)
		select {
		case client.Send <- resp:
		case <-done:
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn, done chan<- struct{}) {
	defer func() {
		close(done)
		ws.Close()
	}()

	for frame := range client.Send {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, frame); err != nil {
			return
		}
	}
	_ = ws.WriteControl(gorillawebsocket.CloseMessage,
		gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (h *Handler) track(ws *gorillawebsocket.Conn) {
	h.mu.Lock()
	h.conns[ws] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(ws *gorillawebsocket.Conn) {
	h.mu.Lock()
	delete(h.conns, ws)
	h.mu.Unlock()
}

// Close drops every open WebSocket connection. Hijacked connections are not
// covered by the HTTP server's Shutdown.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ws := range h.conns {
		ws.Close()
	}
}
