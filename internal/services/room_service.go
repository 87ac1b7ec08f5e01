package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"chat-server/internal/database"
	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

const maxRoomNameLength = 50

type RoomService struct {
	db database.RoomRepository
}

func NewRoomService(db database.RoomRepository) *RoomService {
	return &RoomService{db: db}
}

func (s *RoomService) CreateRoom(ctx context.Context, req *models.CreateRoomRequest, creatorID string) (*models.Room, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("room name is required: %w", cerrors.ErrInvalidInput)
	}
	if utf8.RuneCountInString(req.Name) > maxRoomNameLength {
		return nil, fmt.Errorf("room name must be at most %d characters: %w", maxRoomNameLength, cerrors.ErrInvalidInput)
	}

	return s.db.CreateRoom(ctx, req, creatorID)
}

func (s *RoomService) ListUserRooms(ctx context.Context, userID string) ([]*models.Room, error) {
	return s.db.ListUserRooms(ctx, userID)
}

// GetRoom returns a room the user may see: public rooms, or private rooms
// they participate in.
func (s *RoomService) GetRoom(ctx context.Context, roomID, userID string) (*models.Room, error) {
	room, err := s.db.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsPublic && !room.HasParticipant(userID) {
		return nil, cerrors.AccessDeniedError{Reason: "not a participant of this room"}
	}
	return room, nil
}

func (s *RoomService) DeleteRoom(ctx context.Context, roomID, requesterID string) error {
	return s.db.DeleteRoom(ctx, roomID, requesterID)
}
