package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/valkey-io/valkey-go"

	"chat-server/internal/config"
	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, cerrors.ErrNotFound
}

func (f *fakeUsers) CreateUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return cerrors.ErrInvalidInput
		}
	}
	cp := *user
	f.users[user.ID] = &cp
	return nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, cerrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func newTestService(t *testing.T) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{mini.Addr()},
		DisableCache: true,
	})
	if err != nil {
		t.Fatalf("failed to create valkey client: %v", err)
	}
	t.Cleanup(client.Close)

	store := NewSessionStore(client, time.Hour)
	svc := NewService(&fakeUsers{users: map[string]*models.User{}}, store, config.JWTConfig{
		Secret:    []byte("test-secret"),
		ExpiresIn: time.Hour,
	})
	return svc, mini
}

func register(t *testing.T, svc *Service, email string) *models.LoginResponse {
	t.Helper()
	resp, err := svc.Register(context.Background(), &models.RegisterRequest{
		Name:     "Alice",
		Email:    email,
		Password: "password123",
	}, ClientInfo{UserAgent: "test-agent"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return resp
}

func TestRegisterThenAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	resp := register(t, svc, "alice@example.com")

	if resp.Token == "" || resp.SessionID == "" {
		t.Fatalf("expected token and session id, got %+v", resp)
	}
	if resp.User.PasswordHash != "" {
		t.Fatal("password hash must not be returned")
	}

	id, err := svc.Authenticate(context.Background(), resp.Token, resp.SessionID)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.UserID != resp.User.ID || id.Name != "Alice" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	register(t, svc, "alice@example.com")

	_, err := svc.Login(context.Background(), &models.LoginRequest{Email: "alice@example.com", Password: "nope"}, ClientInfo{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}

	_, err = svc.Login(context.Background(), &models.LoginRequest{Email: "bob@example.com", Password: "password123"}, ClientInfo{})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestSecondLoginRevokesFirstSession(t *testing.T) {
	svc, _ := newTestService(t)
	first := register(t, svc, "alice@example.com")

	second, err := svc.Login(context.Background(), &models.LoginRequest{Email: "alice@example.com", Password: "password123"}, ClientInfo{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err = svc.Authenticate(context.Background(), first.Token, first.SessionID)
	if got := cerrors.Code(err); got != cerrors.CodeSessionRevoked {
		t.Fatalf("expected %s, got %s (%v)", cerrors.CodeSessionRevoked, got, err)
	}
	if _, err := svc.Authenticate(context.Background(), second.Token, second.SessionID); err != nil {
		t.Fatalf("second session should be valid: %v", err)
	}
}

func TestAuthenticateDistinguishesExpiredAndInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	resp := register(t, svc, "alice@example.com")

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err := svc.Authenticate(context.Background(), resp.Token, resp.SessionID)
	if got := cerrors.Code(err); got != cerrors.CodeTokenExpired {
		t.Fatalf("expected %s, got %s", cerrors.CodeTokenExpired, got)
	}

	svc.now = time.Now
	_, err = svc.Authenticate(context.Background(), resp.Token+"x", resp.SessionID)
	if got := cerrors.Code(err); got != cerrors.CodeInvalidToken {
		t.Fatalf("expected %s, got %s", cerrors.CodeInvalidToken, got)
	}

	_, err = svc.Authenticate(context.Background(), "", resp.SessionID)
	if got := cerrors.Code(err); got != cerrors.CodeInvalidToken {
		t.Fatalf("expected %s for empty token, got %s", cerrors.CodeInvalidToken, got)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	svc, _ := newTestService(t)
	resp := register(t, svc, "alice@example.com")

	if err := svc.Logout(context.Background(), resp.User.ID, resp.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	_, err := svc.Authenticate(context.Background(), resp.Token, resp.SessionID)
	if got := cerrors.Code(err); got != cerrors.CodeSessionRevoked {
		t.Fatalf("expected revoked after logout, got %s", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		req  models.RegisterRequest
	}{
		{"missing fields", models.RegisterRequest{Email: "a@b.co"}},
		{"bad email", models.RegisterRequest{Name: "Al", Email: "not-an-email", Password: "password123"}},
		{"short password", models.RegisterRequest{Name: "Al", Email: "a@b.co", Password: "short"}},
		{"short name", models.RegisterRequest{Name: "A", Email: "a@b.co", Password: "password123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := svc.Register(context.Background(), &req, ClientInfo{})
			if !errors.Is(err, cerrors.ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}
