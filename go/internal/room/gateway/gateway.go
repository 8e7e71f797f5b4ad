// Package gateway is the boundary between clients and room state: it
// validates sessions, runs every command through the restriction gate, routes
// to the owning component and fans full-state snapshots back out over
// websockets.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/auction"
	"github.com/dibslive/dibs/go/internal/room/chat"
	"github.com/dibslive/dibs/go/internal/room/gate"
	"github.com/dibslive/dibs/go/internal/room/moderation"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
	"github.com/dibslive/dibs/go/internal/store"
)

const (
	// retryAttempts bounds how often a command is retried when the store is
	// unreachable. Retrying lives at this boundary only; inner components
	// surface ErrUnavailable untouched.
	retryAttempts = 3
	retryBaseWait = 100 * time.Millisecond
)

// Service dispatches validated client commands into the room components.
type Service struct {
	auction    *auction.App
	chat       *chat.Log
	moderation *moderation.Service
	state      *StateProvider
	sessions   *SessionValidator
	clock      clockwork.Clock
}

// NewService wires the command dispatcher.
func NewService(app *auction.App, chatLog *chat.Log, mod *moderation.Service, state *StateProvider, sessions *SessionValidator, clock clockwork.Clock) *Service {
	return &Service{
		auction:    app,
		chat:       chatLog,
		moderation: mod,
		state:      state,
		sessions:   sessions,
		clock:      clock,
	}
}

// Sessions exposes the validator for the connection handshake.
func (s *Service) Sessions() *SessionValidator {
	return s.sessions
}

// State exposes the snapshot provider for fan-out.
func (s *Service) State() *StateProvider {
	return s.state
}

// Dispatch runs one command for a verified session. The gate runs before
// anything touches room state, so a denied command has no side effects at
// all. Store unavailability is retried here with backoff; every other error
// is returned to the client as-is.
func (s *Service) Dispatch(ctx context.Context, session models.Session, cmd Command) error {
	action, ok := actionFor(cmd.Type)
	if !ok {
		// Malformed input, not a permission problem.
		return roomerr.Validationf("unknown command %q", cmd.Type)
	}

	if err := gate.Check(session.Role, session.Restrictions, action); err != nil {
		log.Debug().
			Str("room_id", session.RoomID).
			Str("user_id", session.UserID).
			Str("command", string(cmd.Type)).
			Err(err).
			Msg("command denied by gate")
		return err
	}

	return s.withRetry(ctx, func() error {
		return s.route(ctx, session, cmd)
	})
}

func (s *Service) route(ctx context.Context, session models.Session, cmd Command) error {
	roomID := session.RoomID

	switch cmd.Type {
	case CmdSendChat:
		if cmd.Text == "" {
			return roomerr.Validationf("message is empty")
		}
		return s.chat.Append(ctx, roomID, models.ChatEntry{
			User:   session.UserID,
			Text:   cmd.Text,
			IsHost: session.Role == models.RoleHost,
			Type:   models.ChatMsg,
			SentAt: s.clock.Now().UnixMilli(),
		})

	case CmdPlaceBid:
		_, err := s.auction.PlaceBid(ctx, roomID, session.UserID, cmd.Amount)
		return err

	case CmdSelectItem:
		if cmd.Item == nil {
			return roomerr.Validationf("no item given")
		}
		return s.auction.SelectItem(ctx, roomID, *cmd.Item)

	case CmdSetStartPrice:
		return s.auction.SetStartPrice(ctx, roomID, cmd.Amount)

	case CmdStartAuction:
		return s.auction.StartAuction(ctx, roomID)

	case CmdStopAuction:
		return s.auction.StopAuction(ctx, roomID)

	case CmdSetRestriction:
		return s.moderation.SetRestriction(ctx, roomID, cmd.TargetSessionKey, cmd.Restriction, cmd.Value)

	case CmdKickUser:
		return s.moderation.Kick(ctx, roomID, cmd.TargetSessionKey)

	case CmdSetPublishing:
		return s.state.SetPublishing(ctx, roomID, cmd.Live)

	default:
		return roomerr.Validationf("unknown command %q", cmd.Type)
	}
}

// withRetry retries fn when the store is unreachable. Validation and
// permission errors never retry.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.clock.After(wait):
			}
			log.Warn().Int("attempt", attempt+1).Msg("retrying command after store unavailability")
		}
		err = fn()
		if !errors.Is(err, store.ErrUnavailable) {
			return err
		}
	}
	return fmt.Errorf("store unavailable after %d attempts: %w", retryAttempts, err)
}
