// Package chat maintains the room chat log: user messages plus the system
// announcements the auction state machine emits. Chat carries no settlement
// semantics and is only eventually consistent across clients.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/events"
	"github.com/dibslive/dibs/go/internal/store"
)

// RecentLimit caps how much chat history a snapshot replays to clients.
const RecentLimit = 50

// Log appends chat entries to the store and mirrors them onto the bus.
type Log struct {
	store  store.Store
	events events.Sink
	clock  clockwork.Clock
}

// NewLog returns a chat log backed by the given store and bus.
func NewLog(st store.Store, sink events.Sink, clock clockwork.Clock) *Log {
	return &Log{store: st, events: sink, clock: clock}
}

// Append pushes one entry and publishes it.
func (l *Log) Append(ctx context.Context, roomID string, entry models.ChatEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal chat entry: %w", err)
	}
	if _, err := l.store.Push(ctx, store.ChatPath(roomID), payload); err != nil {
		return fmt.Errorf("failed to append chat entry: %w", err)
	}

	if err := l.events.Publish(ctx, roomID, events.TypeChatMessage, events.ChatMessagePayload{Entry: entry}); err != nil {
		// The entry is already in the store; fan-out catches up via the
		// next snapshot.
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish chat event")
	}
	return nil
}

// Announce appends a system entry (rendered as a bid update rather than a
// user message).
func (l *Log) Announce(ctx context.Context, roomID, text string) error {
	return l.Append(ctx, roomID, models.ChatEntry{
		Text:   text,
		Type:   models.ChatSystem,
		SentAt: l.clock.Now().UnixMilli(),
	})
}

// Recent returns the newest entries in chronological order, capped at limit.
func (l *Log) Recent(ctx context.Context, roomID string, limit int) ([]models.ChatEntry, error) {
	raw, err := l.store.List(ctx, store.ChatPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to list chat: %w", err)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	// Push keys sort chronologically.
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	out := make([]models.ChatEntry, 0, len(keys))
	for _, k := range keys {
		var entry models.ChatEntry
		if err := json.Unmarshal(raw[k], &entry); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("skipping malformed chat entry")
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
