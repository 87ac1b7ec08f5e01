// Package errors defines the error taxonomy shared by the chat server and the
// wire codes each error is reported with.
package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrLoadTimeout      = errors.New("message loading timed out")
	ErrAlreadyLoading   = errors.New("messages are already loading")
	ErrRetriesExhausted = errors.New("maximum retries exceeded")
	ErrRateLimited      = errors.New("too many events")
)

// AuthKind classifies handshake failures.
type AuthKind string

const (
	AuthExpired AuthKind = "expired"
	AuthInvalid AuthKind = "invalid"
	AuthRevoked AuthKind = "revoked"
)

// AuthError rejects a connection. It is never retried server side.
type AuthError struct {
	Kind AuthKind
	Err  error
}

func (e AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth error kind=%s", e.Kind)
	}
	return fmt.Sprintf("auth error kind=%s: %v", e.Kind, e.Err)
}

func (e AuthError) Unwrap() error { return e.Err }

// AccessDeniedError is returned for room and file authorization failures.
type AccessDeniedError struct {
	Reason string
}

func (e AccessDeniedError) Error() string {
	if e.Reason == "" {
		return "access denied"
	}
	return "access denied: " + e.Reason
}

// GameRuleViolation is reported back to the player as a plain message;
// the game state is left untouched.
type GameRuleViolation struct {
	Message string
}

func (e GameRuleViolation) Error() string { return e.Message }

// StreamError wraps a provider failure during generation.
type StreamError struct {
	MessageID string
	Err       error
}

func (e StreamError) Error() string {
	return fmt.Sprintf("stream error message=%s: %v", e.MessageID, e.Err)
}

func (e StreamError) Unwrap() error { return e.Err }

type DatabaseError struct {
	Operation string
	Err       error
}

func (e DatabaseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("db error operation=%s", e.Operation)
	}
	return fmt.Sprintf("db error operation=%s: %v", e.Operation, e.Err)
}

func (e DatabaseError) Unwrap() error { return e.Err }

type RedisError struct {
	Operation string
	Err       error
}

func (e RedisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("redis error operation=%s", e.Operation)
	}
	return fmt.Sprintf("redis error operation=%s: %v", e.Operation, e.Err)
}

func (e RedisError) Unwrap() error { return e.Err }

// Wire error codes.
const (
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeTokenExpired   = "TOKEN_EXPIRED"
	CodeInvalidToken   = "INVALID_TOKEN"
	CodeSessionRevoked = "SESSION_REVOKED"
	CodeAccessDenied   = "ACCESS_DENIED"
	CodeLoadError      = "LOAD_ERROR"
	CodeAlreadyLoading = "ALREADY_LOADING"
	CodeMessageError   = "MESSAGE_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeNotFound       = "NOT_FOUND"
	CodeGameRule       = "GAME_RULE"
	CodeInternal       = "INTERNAL_ERROR"
)

// Code maps err to its wire code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var authErr AuthError
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case AuthExpired:
			return CodeTokenExpired
		case AuthRevoked:
			return CodeSessionRevoked
		default:
			return CodeInvalidToken
		}
	}
	var denied AccessDeniedError
	if errors.As(err, &denied) {
		return CodeAccessDenied
	}
	var rule GameRuleViolation
	if errors.As(err, &rule) {
		return CodeGameRule
	}
	switch {
	case errors.Is(err, ErrAlreadyLoading):
		return CodeAlreadyLoading
	case errors.Is(err, ErrLoadTimeout), errors.Is(err, ErrRetriesExhausted):
		return CodeLoadError
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	}
	return CodeInternal
}

// IsRetryable reports whether a backfill failure may be retried.
// Caller misuse (bad input, missing access) is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var denied AccessDeniedError
	if errors.As(err, &denied) {
		return false
	}
	return !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrAlreadyLoading)
}
