package database

import (
	"context"
	"time"

	"chat-server/internal/models"
)

type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type RoomRepository interface {
	CreateRoom(ctx context.Context, req *models.CreateRoomRequest, creatorID string) (*models.Room, error)
	GetRoomByID(ctx context.Context, id string) (*models.Room, error)
	ListUserRooms(ctx context.Context, userID string) ([]*models.Room, error)
	DeleteRoom(ctx context.Context, roomID, requesterID string) error
}

// ParticipantRepository manages a room's persisted participant set.
type ParticipantRepository interface {
	IsParticipant(ctx context.Context, roomID, userID string) (bool, error)
	// AddParticipant is idempotent and returns the updated participant list.
	AddParticipant(ctx context.Context, roomID, userID string) ([]*models.User, error)
	RemoveParticipant(ctx context.Context, roomID, userID string) ([]*models.User, error)
	ListParticipants(ctx context.Context, roomID string) ([]*models.User, error)
}

type MessageRepository interface {
	SaveMessage(ctx context.Context, msg *models.Message) error
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	// LoadMessagesBefore returns at most limit messages strictly older than
	// before (or the newest when before is nil), newest first.
	LoadMessagesBefore(ctx context.Context, roomID string, before *time.Time, limit int) ([]*models.Message, error)
	MarkAsRead(ctx context.Context, roomID, userID string, messageIDs []string) error
	// UpdateReaction applies add/remove under a row lock and returns the
	// resulting message.
	UpdateReaction(ctx context.Context, messageID, reaction, userID string, op models.ReactionOp) (*models.Message, error)
}

type FileRepository interface {
	GetFileForUser(ctx context.Context, fileID, userID string) (*models.File, error)
}

type Database interface {
	UserRepository
	RoomRepository
	ParticipantRepository
	MessageRepository
	FileRepository
	Close() error
}
