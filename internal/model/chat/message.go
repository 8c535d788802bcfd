package chat

import (
	"time"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
)

// Event is one persisted chat message tagged with its classified emotion.
type Event struct {
	ID                int64         `json:"id"`
	SenderID          int64         `json:"senderId"`
	SenderDisplayName string        `json:"senderDisplayName"`
	Content           string        `json:"content"`
	Emotion           emotion.Label `json:"emotion"`
	CreatedAt         time.Time     `json:"createdAt"`
}

// HistoryEntry is the classifier's view of a past Event.
type HistoryEntry struct {
	DisplayName string
	Content     string
}

// Broadcast is the outbound frame delivered to every live session.
type Broadcast struct {
	UserID   int64         `json:"user_id"`
	Nickname string        `json:"nickname"`
	Content  string        `json:"content"`
	Emotion  emotion.Label `json:"emotion"`
	Avatar   string        `json:"avatar"`
}

// Inbound is the frame a client sends over the relay.
type Inbound struct {
	Content string `json:"content"`
}

// Notice is sent only to the originating session when its message was not processed.
type Notice struct {
	Error string `json:"error"`
}
