package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"expired", AuthError{Kind: AuthExpired}, CodeTokenExpired},
		{"revoked", fmt.Errorf("handshake: %w", AuthError{Kind: AuthRevoked}), CodeSessionRevoked},
		{"invalid", AuthError{Kind: AuthInvalid}, CodeInvalidToken},
		{"denied", AccessDeniedError{Reason: "not a participant"}, CodeAccessDenied},
		{"timeout", fmt.Errorf("attempt 2: %w", ErrLoadTimeout), CodeLoadError},
		{"busy", ErrAlreadyLoading, CodeAlreadyLoading},
		{"rule", GameRuleViolation{Message: "wrong phase"}, CodeGameRule},
		{"db", DatabaseError{Operation: "save", Err: errors.New("boom")}, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Fatalf("Code() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(AccessDeniedError{}) {
		t.Error("access denied must not be retried")
	}
	if IsRetryable(fmt.Errorf("bad cursor: %w", ErrInvalidInput)) {
		t.Error("invalid input must not be retried")
	}
	if !IsRetryable(ErrLoadTimeout) {
		t.Error("timeouts are retried")
	}
	if !IsRetryable(DatabaseError{Operation: "load", Err: errors.New("conn reset")}) {
		t.Error("database failures are retried")
	}
}

func TestWrappedErrorsUnwrap(t *testing.T) {
	cause := errors.New("conn refused")
	err := RedisError{Operation: "session_get", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected RedisError to unwrap its cause")
	}
	stream := StreamError{MessageID: "m1", Err: cause}
	if !errors.Is(stream, cause) {
		t.Fatal("expected StreamError to unwrap its cause")
	}
}
