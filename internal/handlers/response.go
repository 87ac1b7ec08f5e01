package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-server/internal/auth"
	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

func statusFor(err error) int {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return http.StatusUnauthorized
	}
	switch cerrors.Code(err) {
	case cerrors.CodeTokenExpired, cerrors.CodeInvalidToken, cerrors.CodeSessionRevoked, cerrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case cerrors.CodeAccessDenied:
		return http.StatusForbidden
	case cerrors.CodeInvalidInput:
		return http.StatusBadRequest
	case cerrors.CodeNotFound:
		return http.StatusNotFound
	case cerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeError aborts the request with the error's status and wire code.
// Internal failures are logged and reported without detail.
func writeError(c *gin.Context, log *slog.Logger, op string, err error) {
	status := statusFor(err)
	code := cerrors.Code(err)
	message := err.Error()

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		code = cerrors.CodeUnauthorized
	case status == http.StatusInternalServerError:
		log.Error(op+"_failed", "path", c.FullPath(), "err", err)
		message = "internal server error"
	}
	c.AbortWithStatusJSON(status, models.ErrorPayload{Code: code, Message: message})
}
