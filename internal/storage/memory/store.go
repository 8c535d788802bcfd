package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	"github.com/zhouzirui/emochat/backend/internal/model/chat"
	"github.com/zhouzirui/emochat/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps users, avatars and messages in process memory, suitable for
// local runs and tests.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	users    map[int64]chat.User
	avatars  []chat.AvatarBinding
	messages []chat.Event
}

// NewStore bootstraps an empty in-memory store.
func NewStore() *Store {
	return &Store{
		users:    make(map[int64]chat.User),
		messages: make([]chat.Event, 0, 64),
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// CreateUser registers a nickname; nicknames are unique.
func (s *Store) CreateUser(_ context.Context, nickname, password, ipAddress string) (chat.User, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return chat.User{}, fmt.Errorf("nickname is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.users {
		if user.Nickname == nickname {
			return chat.User{}, fmt.Errorf("nickname %q already taken", nickname)
		}
	}

	user := chat.User{
		ID:        s.id(),
		Nickname:  nickname,
		Password:  password,
		IPAddress: ipAddress,
		CreatedAt: time.Now().UTC(),
	}
	s.users[user.ID] = user
	return user, nil
}

// QueryUser retrieves a user by identifier.
func (s *Store) QueryUser(_ context.Context, userID int64) (chat.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	if !ok {
		return chat.User{}, storage.ErrNotFound
	}
	return user, nil
}

// QueryUserByNickname retrieves a user by exact nickname.
func (s *Store) QueryUserByNickname(_ context.Context, nickname string) (chat.User, error) {
	nickname = strings.TrimSpace(nickname)

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if user.Nickname == nickname {
			return user, nil
		}
	}
	return chat.User{}, storage.ErrNotFound
}

// BindAvatar sets the image for (userID, label), replacing any earlier one.
func (s *Store) BindAvatar(_ context.Context, userID int64, label emotion.Label, imagePath string) (chat.AvatarBinding, error) {
	if !label.Valid() {
		return chat.AvatarBinding{}, fmt.Errorf("invalid emotion tag %q", label)
	}
	if strings.TrimSpace(imagePath) == "" {
		return chat.AvatarBinding{}, fmt.Errorf("image path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, binding := range s.avatars {
		if binding.UserID == userID && binding.Emotion == label {
			s.avatars[i].ImagePath = imagePath
			return s.avatars[i], nil
		}
	}
	binding := chat.AvatarBinding{ID: s.id(), UserID: userID, Emotion: label, ImagePath: imagePath}
	s.avatars = append(s.avatars, binding)
	return binding, nil
}

// QueryAvatarBinding returns the image bound to (userID, label).
func (s *Store) QueryAvatarBinding(_ context.Context, userID int64, label emotion.Label) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, binding := range s.avatars {
		if binding.UserID == userID && binding.Emotion == label {
			return binding.ImagePath, true, nil
		}
	}
	return "", false, nil
}

// SaveEvent appends a message to the log.
func (s *Store) SaveEvent(_ context.Context, userID int64, content string, label emotion.Label) (chat.Event, error) {
	if !label.Valid() {
		return chat.Event{}, fmt.Errorf("invalid emotion %q", label)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	event := chat.Event{
		ID:        s.id(),
		SenderID:  userID,
		Content:   content,
		Emotion:   label,
		CreatedAt: time.Now().UTC(),
	}
	s.messages = append(s.messages, event)
	return event, nil
}

// QueryRecent returns up to limit events, newest first.
func (s *Store) QueryRecent(_ context.Context, limit int) ([]chat.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		return nil, nil
	}
	events := make([]chat.Event, 0, min(limit, len(s.messages)))
	for i := len(s.messages) - 1; i >= 0 && len(events) < limit; i-- {
		event := s.messages[i]
		if user, ok := s.users[event.SenderID]; ok {
			event.SenderDisplayName = user.Nickname
		}
		events = append(events, event)
	}
	return events, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
