// Package moderation mutates the per-user restriction flags stored under
// audience_data. Flags are durable: they survive reconnects because they
// live on the session record, not the connection.
package moderation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/events"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
	"github.com/dibslive/dibs/go/internal/store"
)

// Service applies restriction changes to audience entries.
type Service struct {
	store  store.Store
	events events.Sink
}

// NewService returns a moderation service.
func NewService(st store.Store, sink events.Sink) *Service {
	return &Service{store: st, events: sink}
}

// SetRestriction flips one flag on the target's audience entry. The update
// is atomic against concurrent moderation of the same user.
func (s *Service) SetRestriction(ctx context.Context, roomID, sessionKey string, kind models.RestrictionKind, value bool) error {
	var target string
	var opErr error

	_, err := s.store.AtomicUpdate(ctx, store.AudienceEntryPath(roomID, sessionKey), func(current []byte) ([]byte, bool) {
		if current == nil {
			opErr = roomerr.Validationf("no such audience member")
			return nil, false
		}
		var entry models.AudienceEntry
		if err := json.Unmarshal(current, &entry); err != nil {
			opErr = roomerr.Invariantf("audience entry unreadable: %v", err)
			return nil, false
		}
		target = entry.UserID

		switch kind {
		case models.RestrictionMute:
			entry.Restrictions.IsMuted = value
		case models.RestrictionBidBan:
			entry.Restrictions.IsBidBanned = value
		case models.RestrictionKick:
			entry.Restrictions.IsKicked = value
		default:
			opErr = roomerr.Validationf("unknown restriction %q", kind)
			return nil, false
		}

		next, err := json.Marshal(entry)
		if err != nil {
			opErr = fmt.Errorf("failed to marshal audience entry: %w", err)
			return nil, false
		}
		return next, true
	})
	if opErr != nil {
		return opErr
	}
	if err != nil {
		return fmt.Errorf("failed to update restriction: %w", err)
	}

	log.Info().
		Str("room_id", roomID).
		Str("target_user_id", target).
		Str("restriction", string(kind)).
		Bool("value", value).
		Msg("restriction updated")

	if err := s.events.Publish(ctx, roomID, events.TypeRestrictionSet, events.RestrictionSetPayload{
		TargetUserID: target,
		Kind:         kind,
		Value:        value,
	}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish restriction event")
	}
	return nil
}

// Kick marks the target kicked and removes their viewer entry so they stop
// counting as present. The kicked flag persists on the session; a reconnect
// with the same session key is rejected at validation.
func (s *Service) Kick(ctx context.Context, roomID, sessionKey string) error {
	if err := s.SetRestriction(ctx, roomID, sessionKey, models.RestrictionKick, true); err != nil {
		return err
	}

	entry, err := s.Entry(ctx, roomID, sessionKey)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, store.ViewerPath(roomID, entry.UserID)); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("user_id", entry.UserID).Msg("failed to drop kicked viewer")
	}
	return nil
}

// Entry reads one audience entry.
func (s *Service) Entry(ctx context.Context, roomID, sessionKey string) (models.AudienceEntry, error) {
	raw, err := s.store.Read(ctx, store.AudienceEntryPath(roomID, sessionKey))
	if err != nil {
		return models.AudienceEntry{}, fmt.Errorf("failed to read audience entry: %w", err)
	}
	var entry models.AudienceEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.AudienceEntry{}, roomerr.Invariantf("audience entry unreadable: %v", err)
	}
	return entry, nil
}

// Register creates the audience entry for a new session key.
func (s *Service) Register(ctx context.Context, roomID, sessionKey string, entry models.AudienceEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audience entry: %w", err)
	}
	if err := s.store.Write(ctx, store.AudienceEntryPath(roomID, sessionKey), raw); err != nil {
		return fmt.Errorf("failed to register audience entry: %w", err)
	}
	return nil
}
