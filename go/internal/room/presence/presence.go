// Package presence tracks who is in a room right now. The viewer set is
// covered by per-connection disconnect cleanup, so an abrupt drop never
// leaves a ghost viewer behind.
package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/events"
	"github.com/dibslive/dibs/go/internal/store"
)

// Tracker manages the per-room viewer set.
type Tracker struct {
	store  store.Store
	events events.Sink
	clock  clockwork.Clock
}

// NewTracker returns a presence tracker.
func NewTracker(st store.Store, sink events.Sink, clock clockwork.Clock) *Tracker {
	return &Tracker{store: st, events: sink, clock: clock}
}

// Join registers userID as online in the room. The disconnect cleanup is
// armed before the viewer entry is considered established, so a crash right
// after Join still removes the entry.
func (t *Tracker) Join(ctx context.Context, roomID, userID, connID string) error {
	path := store.ViewerPath(roomID, userID)

	// Arm cleanup first. If the write below fails the cleanup fires on a
	// nonexistent path, which is harmless.
	if err := t.store.RegisterOnDisconnect(ctx, connID, path); err != nil {
		return fmt.Errorf("failed to arm disconnect cleanup: %w", err)
	}
	if err := t.write(ctx, roomID, userID, models.PresenceOnline); err != nil {
		return err
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_id", userID).
		Msg("viewer joined")
	return t.publishChange(ctx, roomID, userID)
}

// MarkOnline flips the viewer back to online, e.g. when the tab regains
// focus.
func (t *Tracker) MarkOnline(ctx context.Context, roomID, userID string) error {
	if err := t.write(ctx, roomID, userID, models.PresenceOnline); err != nil {
		return err
	}
	return t.publishChange(ctx, roomID, userID)
}

// MarkIdle flips the viewer to idle. Idle viewers still count as present.
func (t *Tracker) MarkIdle(ctx context.Context, roomID, userID string) error {
	if err := t.write(ctx, roomID, userID, models.PresenceIdle); err != nil {
		return err
	}
	return t.publishChange(ctx, roomID, userID)
}

// Leave removes the viewer explicitly. The armed disconnect cleanup for the
// same path stays registered and fires as a no-op later.
func (t *Tracker) Leave(ctx context.Context, roomID, userID string) error {
	if err := t.store.Delete(ctx, store.ViewerPath(roomID, userID)); err != nil {
		return fmt.Errorf("failed to remove viewer: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("user_id", userID).
		Msg("viewer left")
	return t.publishChange(ctx, roomID, userID)
}

// Heartbeat refreshes the liveness lease behind a connection's disconnect
// cleanup. Called on every websocket pong; if the gateway process dies and
// the lease lapses, the store reaper fires the cleanup instead.
func (t *Tracker) Heartbeat(ctx context.Context, connID string) error {
	if err := t.store.Heartbeat(ctx, connID); err != nil {
		return fmt.Errorf("failed to refresh heartbeat: %w", err)
	}
	return nil
}

// Disconnected runs the cleanup armed for a dropped connection.
func (t *Tracker) Disconnected(ctx context.Context, connID string) error {
	if err := t.store.Disconnect(ctx, connID); err != nil {
		return fmt.Errorf("failed to run disconnect cleanup: %w", err)
	}
	return nil
}

// Count returns how many viewers the room currently has, idle included.
func (t *Tracker) Count(ctx context.Context, roomID string) (int, error) {
	raw, err := t.store.List(ctx, store.ViewersPath(roomID))
	if err != nil {
		return 0, fmt.Errorf("failed to list viewers: %w", err)
	}
	return len(raw), nil
}

// Viewers returns the current viewer entries.
func (t *Tracker) Viewers(ctx context.Context, roomID string) ([]models.Viewer, error) {
	raw, err := t.store.List(ctx, store.ViewersPath(roomID))
	if err != nil {
		return nil, fmt.Errorf("failed to list viewers: %w", err)
	}

	out := make([]models.Viewer, 0, len(raw))
	for key, val := range raw {
		var v models.Viewer
		if err := json.Unmarshal(val, &v); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed viewer entry")
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *Tracker) write(ctx context.Context, roomID, userID string, state models.PresenceState) error {
	v := models.Viewer{
		UserID:        userID,
		State:         state,
		LastChangedAt: t.clock.Now().UnixMilli(),
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal viewer: %w", err)
	}
	if err := t.store.Write(ctx, store.ViewerPath(roomID, userID), raw); err != nil {
		return fmt.Errorf("failed to write viewer: %w", err)
	}
	return nil
}

func (t *Tracker) publishChange(ctx context.Context, roomID, userID string) error {
	count, err := t.Count(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to count viewers for presence event")
		count = -1
	}
	if err := t.events.Publish(ctx, roomID, events.TypePresenceChanged, events.PresenceChangedPayload{
		UserID: userID,
		Count:  count,
	}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish presence change")
	}
	return nil
}
