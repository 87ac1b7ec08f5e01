package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-server/internal/models"
	ws "chat-server/internal/websocket"
)

// ConnectionRegistry authenticates handshakes and tracks live connections.
type ConnectionRegistry interface {
	Authenticate(ctx context.Context, token, sessionID string) (*models.Identity, error)
	Attach(c *ws.Client)
}

type WebSocketOptions struct {
	AllowedOrigins  []string
	EventsPerSecond float64
	EventBurst      int
}

type WebSocketHandlers struct {
	// ctx outlives individual requests so replies already in flight survive
	// a disconnect.
	ctx      context.Context
	registry ConnectionRegistry
	events   ws.Handler
	opts     WebSocketOptions
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewWebSocketHandlers(ctx context.Context, registry ConnectionRegistry, events ws.Handler, opts WebSocketOptions, log *slog.Logger) *WebSocketHandlers {
	if log == nil {
		log = slog.Default()
	}
	h := &WebSocketHandlers{
		ctx:      ctx,
		registry: registry,
		events:   events,
		opts:     opts,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.opts.AllowedOrigins, "*") || slices.Contains(h.opts.AllowedOrigins, origin)
}

// HandleWebSocket authenticates before upgrading so a rejected handshake gets
// a plain HTTP error with its wire code.
func (h *WebSocketHandlers) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c)
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		sessionID = c.GetHeader(sessionIDHeader)
	}

	id, err := h.registry.Authenticate(c.Request.Context(), token, sessionID)
	if err != nil {
		h.log.Warn("websocket_auth_failed", "client_ip", c.ClientIP(), "err", err)
		writeError(c, h.log, "websocket_auth", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket_upgrade_failed", "user_id", id.UserID, "err", err)
		return
	}

	client := ws.NewClient(conn, *id, ws.ClientOptions{
		UserAgent:       c.Request.UserAgent(),
		IPAddress:       c.ClientIP(),
		EventsPerSecond: h.opts.EventsPerSecond,
		EventBurst:      h.opts.EventBurst,
		Logger:          h.log,
	})
	h.registry.Attach(client)
	h.log.Info("client_connected", "user_id", id.UserID, "conn_id", client.ID(), "client_ip", c.ClientIP())

	go client.WritePump()
	go client.ReadPump(h.ctx, h.events)
}
