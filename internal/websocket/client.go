package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// Close reasons.
const (
	ReasonClientGone     = "client_disconnected"
	ReasonDuplicateLogin = "duplicate_login"
	ReasonForceLogout    = "force_logout"
	ReasonSlowConsumer   = "slow_consumer"
	ReasonServerShutdown = "server_shutdown"
)

var (
	ErrClientClosed   = errors.New("client connection closed")
	ErrSendBufferFull = errors.New("client send buffer full")
)

// Handler receives decoded inbound events for a client.
type Handler interface {
	HandleEvent(ctx context.Context, c *Client, env models.Envelope)
	HandleDisconnect(c *Client, reason string)
}

type ClientOptions struct {
	UserAgent       string
	IPAddress       string
	EventsPerSecond float64
	EventBurst      int
	Logger          *slog.Logger
}

// Client is one authenticated socket. conn may be nil when the client is
// driven without a transport; frames then accumulate in Outgoing.
type Client struct {
	id        string
	conn      *websocket.Conn
	identity  models.Identity
	userAgent string
	ipAddress string
	limiter   *rate.Limiter
	log       *slog.Logger

	mu          sync.Mutex
	send        chan []byte
	closed      bool
	closeReason string
	done        chan struct{}
}

func NewClient(conn *websocket.Conn, identity models.Identity, opts ClientOptions) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	if opts.EventsPerSecond > 0 {
		limit = rate.Limit(opts.EventsPerSecond)
	}
	burst := opts.EventBurst
	if burst <= 0 {
		burst = 1
	}

	id := uuid.NewString()
	return &Client{
		id:        id,
		conn:      conn,
		identity:  identity,
		userAgent: opts.UserAgent,
		ipAddress: opts.IPAddress,
		limiter:   rate.NewLimiter(limit, burst),
		log:       log.With("conn_id", id, "user_id", identity.UserID),
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
}

func (c *Client) ID() string                { return c.id }
func (c *Client) UserID() string            { return c.identity.UserID }
func (c *Client) Identity() models.Identity { return c.identity }
func (c *Client) UserAgent() string         { return c.userAgent }
func (c *Client) IPAddress() string         { return c.ipAddress }

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Outgoing exposes queued frames. WritePump is the normal consumer.
func (c *Client) Outgoing() <-chan []byte { return c.send }

// Emit queues one event for this client only.
func (c *Client) Emit(event string, payload any) error {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

// EmitError reports err to the client with its wire code.
func (c *Client) EmitError(err error) {
	code := cerrors.Code(err)
	if code == cerrors.CodeInternal {
		c.log.Error("event_failed", "err", err)
		_ = c.Emit(models.EventError, models.ErrorPayload{Code: code, Message: "internal server error"})
		return
	}
	_ = c.Emit(models.EventError, models.ErrorPayload{Code: code, Message: err.Error()})
}

func (c *Client) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the client. The first reason wins.
func (c *Client) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeReason = reason
	close(c.send)
	close(c.done)
}

func (c *Client) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeReason == "" {
		return ReasonClientGone
	}
	return c.closeReason
}

func encodeFrame(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(models.Envelope{Event: event, Data: data})
}

// ReadPump decodes inbound frames and hands them to h. It returns when the
// socket fails or the client is closed, after notifying h of the disconnect.
func (c *Client) ReadPump(ctx context.Context, h Handler) {
	defer func() {
		c.Close(ReasonClientGone)
		if c.conn != nil {
			c.conn.Close()
		}
		h.HandleDisconnect(c, c.CloseReason())
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket_read_error", "err", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.EmitError(cerrors.ErrRateLimited)
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.EmitError(cerrors.ErrInvalidInput)
			continue
		}
		h.HandleEvent(ctx, c, env)
	}
}

// WritePump drains the send queue onto the socket and keeps it alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.CloseReason()))
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("websocket_write_error", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
