package models

import (
	"time"

	json "github.com/goccy/go-json"
)

// Inbound events.
const (
	EventJoinRoom              = "joinRoom"
	EventLeaveRoom             = "leaveRoom"
	EventFetchPreviousMessages = "fetchPreviousMessages"
	EventChatMessage           = "chatMessage"
	EventMarkMessagesAsRead    = "markMessagesAsRead"
	EventMessageReaction       = "messageReaction"
	EventForceLogin            = "forceLogin"
)

// Outbound events.
const (
	EventMessage                = "message"
	EventJoinRoomSuccess        = "joinRoomSuccess"
	EventJoinRoomError          = "joinRoomError"
	EventMessageLoadStart       = "messageLoadStart"
	EventPreviousMessagesLoaded = "previousMessagesLoaded"
	EventParticipantsUpdate     = "participantsUpdate"
	EventUserLeft               = "userLeft"
	EventMessagesRead           = "messagesRead"
	EventAIMessageStart         = "aiMessageStart"
	EventAIMessageChunk         = "aiMessageChunk"
	EventAIMessageComplete      = "aiMessageComplete"
	EventAIMessageError         = "aiMessageError"
	EventMessageReactionUpdate  = "messageReactionUpdate"
	EventDuplicateLogin         = "duplicate_login"
	EventSessionEnded           = "session_ended"
	EventPrivateMessage         = "privateMessage"
	EventGameStateUpdate        = "gameStateUpdate"
	EventMafiaGameStateUpdate   = "mafiaGameStateUpdate"
	EventError                  = "error"
)

// Envelope is the frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RoomRequest struct {
	RoomID string `json:"roomId"`
}

type FetchPreviousMessagesRequest struct {
	RoomID string     `json:"roomId"`
	Before *time.Time `json:"before,omitempty"`
}

type FileRef struct {
	ID string `json:"id"`
}

type ChatMessageRequest struct {
	Room     string      `json:"room"`
	Type     MessageType `json:"type"`
	Content  string      `json:"content"`
	FileData *FileRef    `json:"fileData,omitempty"`
}

type MarkMessagesAsReadRequest struct {
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds"`
}

type ReactionOp string

const (
	ReactionAdd    ReactionOp = "add"
	ReactionRemove ReactionOp = "remove"
)

type MessageReactionRequest struct {
	MessageID string     `json:"messageId"`
	Reaction  string     `json:"reaction"`
	Type      ReactionOp `json:"type"`
}

type ForceLoginRequest struct {
	Token string `json:"token"`
}

type JoinRoomSuccess struct {
	RoomID          string           `json:"roomId"`
	Participants    []*User          `json:"participants,omitempty"`
	Messages        []*Message       `json:"messages"`
	HasMore         bool             `json:"hasMore"`
	OldestTimestamp *time.Time       `json:"oldestTimestamp"`
	ActiveStreams   []StreamSnapshot `json:"activeStreams"`
}

type ParticipantsUpdate struct {
	RoomID       string  `json:"roomId"`
	Participants []*User `json:"participants"`
}

type UserLeft struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type MessagesRead struct {
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

type ReactionUpdate struct {
	MessageID string              `json:"messageId"`
	Reactions map[string][]string `json:"reactions"`
}

type DuplicateLogin struct {
	Type       string `json:"type"`
	DeviceInfo string `json:"deviceInfo"`
	IPAddress  string `json:"ipAddress"`
	Timestamp  int64  `json:"timestamp"`
}

type SessionEnded struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PrivateMessage struct {
	From      string    `json:"from"`
	GameType  string    `json:"gameType"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamSnapshot is an in-progress generated reply, shown to late joiners.
type StreamSnapshot struct {
	ID          string      `json:"id"`
	Type        MessageType `json:"type"`
	AIType      string      `json:"aiType"`
	Content     string      `json:"content"`
	Timestamp   time.Time   `json:"timestamp"`
	IsStreaming bool        `json:"isStreaming"`
}

type AIMessageStart struct {
	MessageID string    `json:"messageId"`
	AIType    string    `json:"aiType"`
	Timestamp time.Time `json:"timestamp"`
}

type AIMessageChunk struct {
	MessageID    string    `json:"messageId"`
	CurrentChunk string    `json:"currentChunk"`
	FullContent  string    `json:"fullContent"`
	IsCodeBlock  bool      `json:"isCodeBlock"`
	AIType       string    `json:"aiType"`
	Timestamp    time.Time `json:"timestamp"`
	IsComplete   bool      `json:"isComplete"`
}

type AIMessageComplete struct {
	MessageID  string    `json:"messageId"`
	Message    *Message  `json:"message"`
	Content    string    `json:"content"`
	AIType     string    `json:"aiType"`
	Query      string    `json:"query"`
	Timestamp  time.Time `json:"timestamp"`
	IsComplete bool      `json:"isComplete"`
}

type AIMessageError struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
	AIType    string `json:"aiType"`
}

// GameStateUpdate carries a number or mafia game snapshot.
type GameStateUpdate struct {
	RoomID    string `json:"roomId"`
	GameState any    `json:"gameState"`
}
