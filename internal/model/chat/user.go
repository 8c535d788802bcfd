package chat

import (
	"time"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
)

// User is the registered chat participant.
type User struct {
	ID        int64     `json:"id"`
	Nickname  string    `json:"nickname"`
	Password  string    `json:"-"`
	IPAddress string    `json:"ipAddress,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AvatarBinding maps a (user, emotion) pair to a displayable image.
type AvatarBinding struct {
	ID        int64         `json:"id"`
	UserID    int64         `json:"userId"`
	Emotion   emotion.Label `json:"emotion"`
	ImagePath string        `json:"imagePath"`
}

// UnknownSender is shown when a sender's user record cannot be loaded.
const UnknownSender = "unknown user"
