package models

import "time"

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	ProfileImage string    `json:"profileImage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse carries everything a client needs for the socket handshake.
type LoginResponse struct {
	Token     string `json:"token"`
	SessionID string `json:"sessionId"`
	User      User   `json:"user"`
}

// Identity is the authenticated principal behind a connection.
type Identity struct {
	UserID    string
	Name      string
	Email     string
	SessionID string
}
