package websocket

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chat-server/internal/models"
)

// Authenticator verifies a handshake's token and session id.
type Authenticator interface {
	Authenticate(ctx context.Context, token, sessionID string) (*models.Identity, error)
}

const sessionEndedDuplicateMessage = "다른 기기에서 로그인하여 현재 세션이 종료되었습니다."

// Registry tracks the single live connection of each user.
type Registry struct {
	auth  Authenticator
	grace time.Duration
	log   *slog.Logger
	now   func() time.Time

	mu    sync.Mutex
	conns map[string]*Client
}

func NewRegistry(auth Authenticator, grace time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		auth:  auth,
		grace: grace,
		log:   log,
		now:   time.Now,
		conns: make(map[string]*Client),
	}
}

// Authenticate returns an AuthError for expired, invalid or revoked
// credentials. Nothing is registered until Attach.
func (r *Registry) Authenticate(ctx context.Context, token, sessionID string) (*models.Identity, error) {
	return r.auth.Authenticate(ctx, token, sessionID)
}

// Attach makes c the user's live connection. A previous connection is told
// about the takeover now and closed once the grace period elapses; c is
// usable immediately.
func (r *Registry) Attach(c *Client) {
	r.mu.Lock()
	prev := r.conns[c.UserID()]
	r.conns[c.UserID()] = c
	r.mu.Unlock()

	if prev == nil || prev == c {
		return
	}

	r.log.Info("duplicate_login_detected", "user_id", c.UserID(), "old_conn", prev.ID(), "new_conn", c.ID())
	_ = prev.Emit(models.EventDuplicateLogin, models.DuplicateLogin{
		Type:       "new_login_attempt",
		DeviceInfo: c.UserAgent(),
		IPAddress:  c.IPAddress(),
		Timestamp:  r.now().UnixMilli(),
	})

	time.AfterFunc(r.grace, func() {
		_ = prev.Emit(models.EventSessionEnded, models.SessionEnded{
			Reason:  ReasonDuplicateLogin,
			Message: sessionEndedDuplicateMessage,
		})
		prev.Close(ReasonDuplicateLogin)
	})
}

// Detach forgets c if it is still the user's live connection.
func (r *Registry) Detach(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.UserID()] != c {
		return false
	}
	delete(r.conns, c.UserID())
	return true
}

func (r *Registry) Lookup(userID string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[userID]
}

// EmitTo sends an event to the user's live connection, if any.
func (r *Registry) EmitTo(userID, event string, payload any) bool {
	c := r.Lookup(userID)
	if c == nil {
		return false
	}
	return c.Emit(event, payload) == nil
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll ends every live connection, used on shutdown.
func (r *Registry) CloseAll(reason string) {
	r.mu.Lock()
	conns := make([]*Client, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	for _, c := range conns {
		c.Close(reason)
	}
}
