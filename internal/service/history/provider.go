package history

import (
	"context"
	"fmt"

	"github.com/zhouzirui/emochat/backend/internal/model/chat"
)

// Store returns the newest events first.
type Store interface {
	QueryRecent(ctx context.Context, limit int) ([]chat.Event, error)
}

// Provider exposes recent chat events in chronological order.
type Provider struct {
	store Store
}

// NewProvider wraps store.
func NewProvider(store Store) *Provider {
	return &Provider{store: store}
}

// Recent returns at most limit entries, oldest first. An empty store yields an
// empty slice.
func (p *Provider) Recent(ctx context.Context, limit int) ([]chat.HistoryEntry, error) {
	if limit <= 0 {
		return []chat.HistoryEntry{}, nil
	}

	events, err := p.store.QueryRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	if len(events) > limit {
		events = events[:limit]
	}

	entries := make([]chat.HistoryEntry, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		name := events[i].SenderDisplayName
		if name == "" {
			name = chat.UnknownSender
		}
		entries = append(entries, chat.HistoryEntry{
			DisplayName: name,
			Content:     events[i].Content,
		})
	}
	return entries, nil
}
