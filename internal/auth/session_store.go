package auth

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/valkey-io/valkey-go"

	cerrors "chat-server/internal/errors"
)

const sessionKeyPrefix = "chat:session:"

// SessionRecord is the single live session a user may hold.
type SessionRecord struct {
	SessionID    string    `json:"sessionId"`
	UserID       string    `json:"userId"`
	UserAgent    string    `json:"userAgent,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// SessionStore keeps one session record per user in Valkey. Issuing a new
// session replaces the previous one, which is how older tokens get revoked.
type SessionStore struct {
	client valkey.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewSessionStore(client valkey.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{client: client, ttl: ttl, now: time.Now}
}

func sessionKey(userID string) string {
	return sessionKeyPrefix + userID
}

func (s *SessionStore) Create(ctx context.Context, rec SessionRecord) error {
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.LastActivity = now
	return s.put(ctx, rec, "session_create")
}

func (s *SessionStore) put(ctx context.Context, rec SessionRecord, op string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session record: %w", err)
	}
	cmd := s.client.B().Set().Key(sessionKey(rec.UserID)).Value(string(data)).Ex(s.ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return cerrors.RedisError{Operation: op, Err: err}
	}
	return nil
}

// Get returns the stored record, or cerrors.ErrNotFound when none is live.
func (s *SessionStore) Get(ctx context.Context, userID string) (*SessionRecord, error) {
	cmd := s.client.B().Get().Key(sessionKey(userID)).Build()
	raw, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, cerrors.ErrNotFound
		}
		return nil, cerrors.RedisError{Operation: "session_get", Err: err}
	}

	var rec SessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal session record: %w", err)
	}
	return &rec, nil
}

// Validate fails with a revoked AuthError when sessionID is not the user's
// current session.
func (s *SessionStore) Validate(ctx context.Context, userID, sessionID string) (*SessionRecord, error) {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		if cerrors.Code(err) == cerrors.CodeNotFound {
			return nil, cerrors.AuthError{Kind: cerrors.AuthRevoked, Err: fmt.Errorf("no active session")}
		}
		return nil, err
	}
	if rec.SessionID != sessionID {
		return nil, cerrors.AuthError{Kind: cerrors.AuthRevoked, Err: fmt.Errorf("session superseded")}
	}
	return rec, nil
}

// Touch validates the session and refreshes its last activity and TTL.
func (s *SessionStore) Touch(ctx context.Context, userID, sessionID string) error {
	rec, err := s.Validate(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	rec.LastActivity = s.now()
	return s.put(ctx, *rec, "session_touch")
}

// Revoke deletes the record if it still belongs to sessionID.
func (s *SessionStore) Revoke(ctx context.Context, userID, sessionID string) error {
	rec, err := s.Get(ctx, userID)
	if err != nil {
		if cerrors.Code(err) == cerrors.CodeNotFound {
			return nil
		}
		return err
	}
	if sessionID != "" && rec.SessionID != sessionID {
		return nil
	}
	cmd := s.client.B().Del().Key(sessionKey(userID)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return cerrors.RedisError{Operation: "session_revoke", Err: err}
	}
	return nil
}
