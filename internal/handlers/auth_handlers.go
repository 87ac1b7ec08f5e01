package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-server/internal/auth"
	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

type AuthService interface {
	Register(ctx context.Context, req *models.RegisterRequest, info auth.ClientInfo) (*models.LoginResponse, error)
	Login(ctx context.Context, req *models.LoginRequest, info auth.ClientInfo) (*models.LoginResponse, error)
	Logout(ctx context.Context, userID, sessionID string) error
}

type AuthHandlers struct {
	authService AuthService
	log         *slog.Logger
}

func NewAuthHandlers(authService AuthService, log *slog.Logger) *AuthHandlers {
	if log == nil {
		log = slog.Default()
	}
	return &AuthHandlers{
		authService: authService,
		log:         log,
	}
}

func clientInfo(c *gin.Context) auth.ClientInfo {
	return auth.ClientInfo{UserAgent: c.Request.UserAgent(), IPAddress: c.ClientIP()}
}

func (h *AuthHandlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, "register", fmt.Errorf("invalid request: %w", cerrors.ErrInvalidInput))
		return
	}

	response, err := h.authService.Register(c.Request.Context(), &req, clientInfo(c))
	if err != nil {
		writeError(c, h.log, "register", err)
		return
	}

	h.log.Info("user_registered", "user_id", response.User.ID)
	c.JSON(http.StatusCreated, response)
}

func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, "login", fmt.Errorf("invalid request: %w", cerrors.ErrInvalidInput))
		return
	}

	response, err := h.authService.Login(c.Request.Context(), &req, clientInfo(c))
	if err != nil {
		writeError(c, h.log, "login", err)
		return
	}

	h.log.Info("user_logged_in", "user_id", response.User.ID, "client_ip", c.ClientIP())
	c.JSON(http.StatusOK, response)
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	id := identity(c)
	if err := h.authService.Logout(c.Request.Context(), id.UserID, id.SessionID); err != nil {
		writeError(c, h.log, "logout", err)
		return
	}
	c.Status(http.StatusNoContent)
}
