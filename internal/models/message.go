package models

import (
	"slices"
	"time"
)

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
	MessageTypeAI     MessageType = "ai"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeFile, MessageTypeSystem, MessageTypeAI:
		return true
	}
	return false
}

type Message struct {
	ID        string              `json:"id"`
	RoomID    string              `json:"room"`
	SenderID  string              `json:"-"`
	Sender    *User               `json:"sender,omitempty"`
	Type      MessageType         `json:"type"`
	Content   string              `json:"content"`
	AIType    string              `json:"aiType,omitempty"`
	File      *File               `json:"file,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	Reactions map[string][]string `json:"reactions"`
	Readers   []Reader            `json:"readers,omitempty"`
}

type Reader struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// AddReaction records userID under reaction. It reports false when the
// reaction was already present.
func (m *Message) AddReaction(reaction, userID string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	if slices.Contains(m.Reactions[reaction], userID) {
		return false
	}
	m.Reactions[reaction] = append(m.Reactions[reaction], userID)
	return true
}

// RemoveReaction drops userID from reaction, deleting the kind once empty.
func (m *Message) RemoveReaction(reaction, userID string) bool {
	users, ok := m.Reactions[reaction]
	if !ok {
		return false
	}
	idx := slices.Index(users, userID)
	if idx < 0 {
		return false
	}
	users = slices.Delete(users, idx, idx+1)
	if len(users) == 0 {
		delete(m.Reactions, reaction)
	} else {
		m.Reactions[reaction] = users
	}
	return true
}

// HasReader reports whether userID already read the message.
func (m *Message) HasReader(userID string) bool {
	return slices.ContainsFunc(m.Readers, func(r Reader) bool { return r.UserID == userID })
}

// Page is one backfill result, ordered oldest to newest.
type Page struct {
	Messages        []*Message `json:"messages"`
	HasMore         bool       `json:"hasMore"`
	OldestTimestamp *time.Time `json:"oldestTimestamp"`
}
