package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chat-server/internal/config"
	"chat-server/internal/database"
	cerrors "chat-server/internal/errors"
	"chat-server/internal/models"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Claims is the token payload. Subject carries the user id.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ClientInfo describes the device a login came from.
type ClientInfo struct {
	UserAgent string
	IPAddress string
}

type Service struct {
	users    database.UserRepository
	sessions *SessionStore
	cfg      config.JWTConfig
	now      func() time.Time
}

func NewService(users database.UserRepository, sessions *SessionStore, cfg config.JWTConfig) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Service) Register(ctx context.Context, req *models.RegisterRequest, info ClientInfo) (*models.LoginResponse, error) {
	if err := validateRegistrationRequest(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        strings.ToLower(req.Email),
		PasswordHash: string(hash),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.issue(ctx, user, info)
}

func (s *Service) Login(ctx context.Context, req *models.LoginRequest, info ClientInfo) (*models.LoginResponse, error) {
	user, err := s.users.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, cerrors.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(ctx, user, info)
}

// Logout revokes the session so sockets using it are refused.
func (s *Service) Logout(ctx context.Context, userID, sessionID string) error {
	return s.sessions.Revoke(ctx, userID, sessionID)
}

// issue replaces any previous session record with a fresh one.
func (s *Service) issue(ctx context.Context, user *models.User, info ClientInfo) (*models.LoginResponse, error) {
	token, err := s.generateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	sessionID := uuid.NewString()
	err = s.sessions.Create(ctx, SessionRecord{
		SessionID: sessionID,
		UserID:    user.ID,
		UserAgent: info.UserAgent,
		IPAddress: info.IPAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	user.PasswordHash = ""
	return &models.LoginResponse{
		Token:     token,
		SessionID: sessionID,
		User:      *user,
	}, nil
}

// VerifyToken checks signature and expiry only.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.Secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, cerrors.AuthError{Kind: cerrors.AuthExpired, Err: err}
		}
		return nil, cerrors.AuthError{Kind: cerrors.AuthInvalid, Err: err}
	}
	if !token.Valid || claims.Subject == "" {
		return nil, cerrors.AuthError{Kind: cerrors.AuthInvalid, Err: errors.New("missing subject")}
	}
	return claims, nil
}

// Authenticate verifies the token and that sessionID is the user's live
// session.
func (s *Service) Authenticate(ctx context.Context, tokenString, sessionID string) (*models.Identity, error) {
	if tokenString == "" || sessionID == "" {
		return nil, cerrors.AuthError{Kind: cerrors.AuthInvalid, Err: errors.New("missing credentials")}
	}
	claims, err := s.VerifyToken(tokenString)
	if err != nil {
		return nil, err
	}
	if _, err := s.sessions.Validate(ctx, claims.Subject, sessionID); err != nil {
		return nil, err
	}
	return &models.Identity{
		UserID:    claims.Subject,
		Name:      claims.Name,
		Email:     claims.Email,
		SessionID: sessionID,
	}, nil
}

// TouchSession refreshes the live session, failing if it was revoked.
func (s *Service) TouchSession(ctx context.Context, userID, sessionID string) error {
	return s.sessions.Touch(ctx, userID, sessionID)
}

func (s *Service) generateToken(user *models.User) (string, error) {
	now := s.now()
	claims := Claims{
		Name:  user.Name,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.ExpiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.Secret)
}

func validateRegistrationRequest(req *models.RegisterRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return fmt.Errorf("missing required fields: %w", cerrors.ErrInvalidInput)
	}

	if !emailRegex.MatchString(req.Email) {
		return fmt.Errorf("invalid email format: %w", cerrors.ErrInvalidInput)
	}

	if len(req.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long: %w", cerrors.ErrInvalidInput)
	}

	if n := utf8.RuneCountInString(req.Name); n < 2 || n > 30 {
		return fmt.Errorf("name must be 2-30 characters long: %w", cerrors.ErrInvalidInput)
	}

	return nil
}
