package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

type RoomService interface {
	CreateRoom(ctx context.Context, req *models.CreateRoomRequest, creatorID string) (*models.Room, error)
	ListUserRooms(ctx context.Context, userID string) ([]*models.Room, error)
	GetRoom(ctx context.Context, roomID, userID string) (*models.Room, error)
	DeleteRoom(ctx context.Context, roomID, requesterID string) error
}

type RoomHandlers struct {
	roomService RoomService
	log         *slog.Logger
}

func NewRoomHandlers(roomService RoomService, log *slog.Logger) *RoomHandlers {
	if log == nil {
		log = slog.Default()
	}
	return &RoomHandlers{
		roomService: roomService,
		log:         log,
	}
}

func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	var req models.CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, "create_room", fmt.Errorf("invalid request: %w", cerrors.ErrInvalidInput))
		return
	}

	id := identity(c)
	room, err := h.roomService.CreateRoom(c.Request.Context(), &req, id.UserID)
	if err != nil {
		writeError(c, h.log, "create_room", err)
		return
	}

	h.log.Info("room_created", "room_id", room.ID, "user_id", id.UserID, "public", room.IsPublic)
	c.JSON(http.StatusCreated, room)
}

func (h *RoomHandlers) ListRooms(c *gin.Context) {
	rooms, err := h.roomService.ListUserRooms(c.Request.Context(), identity(c).UserID)
	if err != nil {
		writeError(c, h.log, "list_rooms", err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}
	c.JSON(http.StatusOK, rooms)
}

func (h *RoomHandlers) GetRoom(c *gin.Context) {
	room, err := h.roomService.GetRoom(c.Request.Context(), c.Param("id"), identity(c).UserID)
	if err != nil {
		writeError(c, h.log, "get_room", err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	roomID := c.Param("id")
	id := identity(c)
	if err := h.roomService.DeleteRoom(c.Request.Context(), roomID, id.UserID); err != nil {
		writeError(c, h.log, "delete_room", err)
		return
	}

	h.log.Info("room_deleted", "room_id", roomID, "user_id", id.UserID)
	c.Status(http.StatusNoContent)
}
