package relay

import (
	"slices"
	"strings"
	"sync"
	"time"

	"chat-server/internal/models"
)

// StreamingSession is a reply still being generated. It exists only between
// the start and the terminal event of one generation.
type StreamingSession struct {
	MessageID   string
	RoomID      string
	RequestedBy string
	AIType      string
	Content     strings.Builder
	Timestamp   time.Time
	LastUpdate  time.Time
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*StreamingSession
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*StreamingSession)}
}

func (s *sessionStore) put(sess *StreamingSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.MessageID] = sess
}

// appendChunk reports false when the session was already released.
func (s *sessionStore) appendChunk(messageID, chunk string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[messageID]
	if !ok {
		return false
	}
	sess.Content.WriteString(chunk)
	sess.LastUpdate = at
	return true
}

func (s *sessionStore) remove(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, messageID)
}

func (s *sessionStore) snapshot(roomID string) []models.StreamSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.StreamSnapshot{}
	for _, sess := range s.sessions {
		if sess.RoomID != roomID {
			continue
		}
		out = append(out, models.StreamSnapshot{
			ID:          sess.MessageID,
			Type:        models.MessageTypeAI,
			AIType:      sess.AIType,
			Content:     sess.Content.String(),
			Timestamp:   sess.Timestamp,
			IsStreaming: true,
		})
	}
	slices.SortFunc(out, func(a, b models.StreamSnapshot) int { return a.Timestamp.Compare(b.Timestamp) })
	return out
}

func (s *sessionStore) releaseUser(userID, roomID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.RequestedBy == userID && (roomID == "" || sess.RoomID == roomID) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
