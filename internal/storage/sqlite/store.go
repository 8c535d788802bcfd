package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zhouzirui/emochat/backend/internal/analysis/emotion"
	"github.com/zhouzirui/emochat/backend/internal/model/chat"
	"github.com/zhouzirui/emochat/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store provides SQLite-backed persistence for users, avatars and messages.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path and ensures the tables exist.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent sessions.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

// CreateUser inserts a user and returns it with its assigned id.
func (s *Store) CreateUser(ctx context.Context, nickname, password, ipAddress string) (chat.User, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return chat.User{}, fmt.Errorf("nickname is required")
	}

	createdAt := time.Now().UTC()
	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO users (nickname, password, ip_address, created_at) VALUES (?, ?, ?, ?)`,
		nickname, password, ipAddress, createdAt.UnixMilli(),
	)
	if err != nil {
		return chat.User{}, fmt.Errorf("insert user: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return chat.User{}, fmt.Errorf("user id: %w", err)
	}
	return chat.User{
		ID:        id,
		Nickname:  nickname,
		Password:  password,
		IPAddress: ipAddress,
		CreatedAt: createdAt,
	}, nil
}

// QueryUser loads a user by id; storage.ErrNotFound when absent.
func (s *Store) QueryUser(ctx context.Context, userID int64) (chat.User, error) {
	return scanUser(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, nickname, password, COALESCE(ip_address, ''), created_at FROM users WHERE id = ?`,
		userID,
	))
}

// QueryUserByNickname retrieves a user by exact nickname.
func (s *Store) QueryUserByNickname(ctx context.Context, nickname string) (chat.User, error) {
	return scanUser(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, nickname, password, COALESCE(ip_address, ''), created_at FROM users WHERE nickname = ?`,
		strings.TrimSpace(nickname),
	))
}

func scanUser(row *sql.Row) (chat.User, error) {
	var user chat.User
	var createdAt int64
	if err := row.Scan(&user.ID, &user.Nickname, &user.Password, &user.IPAddress, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.User{}, storage.ErrNotFound
		}
		return chat.User{}, fmt.Errorf("get user: %w", err)
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return user, nil
}

// BindAvatar sets the image for (userID, label), replacing any earlier one.
func (s *Store) BindAvatar(ctx context.Context, userID int64, label emotion.Label, imagePath string) (chat.AvatarBinding, error) {
	if !label.Valid() {
		return chat.AvatarBinding{}, fmt.Errorf("invalid emotion tag %q", label)
	}
	if strings.TrimSpace(imagePath) == "" {
		return chat.AvatarBinding{}, fmt.Errorf("image path is required")
	}

	var id int64
	err := s.sqlDB.QueryRowContext(ctx,
		`INSERT INTO avatars (user_id, image_path, emotion_tag) VALUES (?, ?, ?)
		ON CONFLICT(user_id, emotion_tag) DO UPDATE SET image_path = excluded.image_path
		RETURNING id`,
		userID, imagePath, string(label),
	).Scan(&id)
	if err != nil {
		return chat.AvatarBinding{}, fmt.Errorf("upsert avatar: %w", err)
	}
	return chat.AvatarBinding{ID: id, UserID: userID, Emotion: label, ImagePath: imagePath}, nil
}

// QueryAvatarBinding returns the image bound to (userID, label).
func (s *Store) QueryAvatarBinding(ctx context.Context, userID int64, label emotion.Label) (string, bool, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT image_path FROM avatars WHERE user_id = ? AND emotion_tag = ?`,
		userID, string(label),
	)

	var imagePath string
	if err := row.Scan(&imagePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get avatar: %w", err)
	}
	return imagePath, true, nil
}

// SaveEvent appends a chat message with its detected emotion.
func (s *Store) SaveEvent(ctx context.Context, userID int64, content string, label emotion.Label) (chat.Event, error) {
	if !label.Valid() {
		return chat.Event{}, fmt.Errorf("invalid emotion %q", label)
	}

	createdAt := time.Now().UTC()
	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (user_id, content, detected_emotion, created_at) VALUES (?, ?, ?, ?)`,
		userID, content, string(label), createdAt.UnixNano(),
	)
	if err != nil {
		return chat.Event{}, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return chat.Event{}, fmt.Errorf("message id: %w", err)
	}
	return chat.Event{
		ID:        id,
		SenderID:  userID,
		Content:   content,
		Emotion:   label,
		CreatedAt: createdAt,
	}, nil
}

// QueryRecent returns up to limit events, newest first, with sender nicknames.
// Senders without a users row get an empty nickname.
func (s *Store) QueryRecent(ctx context.Context, limit int) ([]chat.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT m.id, m.user_id, COALESCE(u.nickname, ''), m.content, m.detected_emotion, m.created_at
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.user_id
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	events := make([]chat.Event, 0, limit)
	for rows.Next() {
		var event chat.Event
		var rawEmotion string
		var createdAt int64
		if err := rows.Scan(&event.ID, &event.SenderID, &event.SenderDisplayName, &event.Content, &rawEmotion, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		label, ok := emotion.Parse(rawEmotion)
		if !ok {
			label = emotion.Neutral
		}
		event.Emotion = label
		event.CreatedAt = time.Unix(0, createdAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return events, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	nickname TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	ip_address TEXT,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS avatars (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	image_path TEXT NOT NULL,
	emotion_tag TEXT NOT NULL,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
DROP INDEX IF EXISTS idx_avatars_user_emotion;
DELETE FROM avatars WHERE id NOT IN (SELECT MAX(id) FROM avatars GROUP BY user_id, emotion_tag);
CREATE UNIQUE INDEX IF NOT EXISTS idx_avatars_user_emotion_unique ON avatars(user_id, emotion_tag);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	detected_emotion TEXT NOT NULL DEFAULT 'neutral',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
`
