package handlers

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

const (
	identityKey     = "identity"
	sessionIDHeader = "x-session-id"
)

// Authenticator resolves a bearer token and session id to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token, sessionID string) (*models.Identity, error)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// RequireAuth rejects requests without a live session.
func RequireAuth(authn Authenticator, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, sessionID := bearerToken(c), c.GetHeader(sessionIDHeader)
		if token == "" || sessionID == "" {
			writeError(c, log, "authenticate", cerrors.AuthError{Kind: cerrors.AuthInvalid, Err: errors.New("missing credentials")})
			return
		}
		id, err := authn.Authenticate(c.Request.Context(), token, sessionID)
		if err != nil {
			writeError(c, log, "authenticate", err)
			return
		}
		c.Set(identityKey, *id)
		c.Next()
	}
}

func identity(c *gin.Context) models.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(models.Identity)
	return id
}

// LoggerMiddleware logs one line per request, skipping the given paths.
func LoggerMiddleware(log *slog.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}
		log.Info("http_request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
