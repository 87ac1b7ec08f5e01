package models

import "time"

type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	IsPublic     bool      `json:"isPublic"`
	CreatorID    string    `json:"creatorId,omitempty"`
	Participants []*User   `json:"participants,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HasParticipant reports whether userID is in the persisted participant set.
func (r *Room) HasParticipant(userID string) bool {
	for _, p := range r.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

type CreateRoomRequest struct {
	Name     string `json:"name"`
	IsPublic bool   `json:"isPublic"`
}

type File struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId,omitempty"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalname"`
	MimeType     string    `json:"mimetype"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"createdAt"`
}
