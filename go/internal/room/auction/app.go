// Package auction is the per-room auction state machine: it owns the
// idle → active → settling → idle lifecycle and is the only writer of the
// auction record outside the price arbiter.
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/arbiter"
	"github.com/dibslive/dibs/go/internal/room/chat"
	"github.com/dibslive/dibs/go/internal/room/events"
	"github.com/dibslive/dibs/go/internal/room/ledger"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
	"github.com/dibslive/dibs/go/internal/room/timer"
	"github.com/dibslive/dibs/go/internal/store"
)

// HistoryWriter persists one permanent record per settled auction.
type HistoryWriter interface {
	Insert(ctx context.Context, entry models.HistoryEntry) error
}

// Config holds room-level auction defaults.
type Config struct {
	// Duration is the countdown length for a fresh auction.
	Duration time.Duration
	// MinIncrement is the suggested bid step surfaced in announcements.
	MinIncrement int64
	// TopBidders caps the settlement summary length.
	TopBidders int
}

// DefaultConfig returns the observed production values.
func DefaultConfig() Config {
	return Config{
		Duration:     30 * time.Second,
		MinIncrement: 10,
		TopBidders:   3,
	}
}

// App orchestrates auction transitions, invoking the price arbiter, the bid
// ledger and the auction timer, and emitting chat/system events.
type App struct {
	store   store.Store
	arbiter *arbiter.Arbiter
	ledger  *ledger.Ledger
	timer   *timer.Timer
	history HistoryWriter
	chat    *chat.Log
	events  events.Sink
	clock   clockwork.Clock
	cfg     Config
}

// NewApp wires the state machine. It also binds itself to the timer as the
// settler, closing the timer→settlement loop.
func NewApp(st store.Store, arb *arbiter.Arbiter, led *ledger.Ledger, tmr *timer.Timer, hist HistoryWriter, chatLog *chat.Log, sink events.Sink, clock clockwork.Clock, cfg Config) *App {
	app := &App{
		store:   st,
		arbiter: arb,
		ledger:  led,
		timer:   tmr,
		history: hist,
		chat:    chatLog,
		events:  sink,
		clock:   clock,
		cfg:     cfg,
	}
	tmr.Bind(app)
	return app
}

// Record reads the room's auction record; a missing record reads as a
// zero-value idle auction.
func (a *App) Record(ctx context.Context, roomID string) (models.AuctionRecord, error) {
	raw, err := a.store.Read(ctx, store.AuctionPath(roomID))
	if errors.Is(err, store.ErrNotFound) {
		return models.AuctionRecord{State: models.AuctionIdle}, nil
	}
	if err != nil {
		return models.AuctionRecord{}, fmt.Errorf("failed to read auction record: %w", err)
	}

	var rec models.AuctionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.AuctionRecord{}, roomerr.Invariantf("auction record unreadable: %v", err)
	}
	if rec.State == "" {
		rec.State = models.AuctionIdle
	}
	return rec, nil
}

// SelectItem stages an item snapshot on the idle auction record and resets
// the price to the item's starting price. The snapshot is copied at
// selection time; later catalog edits never reach an in-flight auction.
func (a *App) SelectItem(ctx context.Context, roomID string, item models.ItemSnapshot) error {
	if item.ID == "" || item.Name == "" {
		return roomerr.Validationf("item needs an id and a name")
	}
	if item.StartPrice < 0 {
		return roomerr.Validationf("starting price cannot be negative")
	}

	err := a.updateIdle(ctx, roomID, "change the item", func(rec *models.AuctionRecord) {
		snapshot := item
		rec.Item = &snapshot
		rec.CurrentPrice = item.StartPrice
		rec.LastBidder = ""
	})
	if err != nil {
		return err
	}

	if err := a.events.Publish(ctx, roomID, events.TypeItemSelected, events.ItemSelectedPayload{Item: item}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish item selection")
	}
	return nil
}

// SetStartPrice stages the price the next auction opens at. Host-only
// pre-auction knob; rejected while an auction is running.
func (a *App) SetStartPrice(ctx context.Context, roomID string, price int64) error {
	if price < 0 {
		return roomerr.Validationf("price cannot be negative")
	}
	return a.updateIdle(ctx, roomID, "change the price", func(rec *models.AuctionRecord) {
		rec.CurrentPrice = price
	})
}

// updateIdle applies mutate to the auction record only while no auction is
// running.
func (a *App) updateIdle(ctx context.Context, roomID, what string, mutate func(*models.AuctionRecord)) error {
	var stateErr error
	_, err := a.store.AtomicUpdate(ctx, store.AuctionPath(roomID), func(current []byte) ([]byte, bool) {
		var rec models.AuctionRecord
		if current != nil {
			if err := json.Unmarshal(current, &rec); err != nil {
				stateErr = roomerr.Invariantf("auction record unreadable: %v", err)
				return nil, false
			}
		}
		if rec.State == models.AuctionActive || rec.State == models.AuctionSettling {
			stateErr = roomerr.Validationf("cannot %s while an auction is running", what)
			return nil, false
		}
		rec.State = models.AuctionIdle
		mutate(&rec)

		next, err := json.Marshal(rec)
		if err != nil {
			stateErr = fmt.Errorf("failed to marshal auction record: %w", err)
			return nil, false
		}
		return next, true
	})
	if stateErr != nil {
		return stateErr
	}
	if err != nil {
		return fmt.Errorf("failed to update auction record: %w", err)
	}
	return nil
}

// StartAuction moves the room to active. Requires a staged item; the
// validation error is user-visible, not a crash.
func (a *App) StartAuction(ctx context.Context, roomID string) error {
	rec, err := a.timer.Start(ctx, roomID, a.cfg.Duration)
	if err != nil {
		return err
	}

	if err := a.events.Publish(ctx, roomID, events.TypeAuctionStarted, events.AuctionStartedPayload{
		AuctionID:  rec.AuctionID,
		Item:       *rec.Item,
		StartPrice: rec.CurrentPrice,
		EndAt:      rec.EndTime(),
	}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish auction start")
	}

	text := fmt.Sprintf("🚨 AUCTION STARTED: %s at %d!", rec.Item.Name, rec.CurrentPrice)
	if err := a.chat.Announce(ctx, roomID, text); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to announce auction start")
	}
	return nil
}

// PlaceBid submits one bid. A result with Committed=false is the normal
// concurrency-loss outcome: the bid is simply not applied and the caller
// re-derives its next proposal from the now-current price.
func (a *App) PlaceBid(ctx context.Context, roomID, userID string, amount int64) (arbiter.Result, error) {
	if amount <= 0 {
		return arbiter.Result{}, roomerr.Validationf("bid amount must be positive")
	}

	res, err := a.arbiter.TryRaise(ctx, roomID, amount, userID)
	if err != nil {
		return arbiter.Result{}, err
	}
	if !res.Committed {
		log.Debug().
			Str("room_id", roomID).
			Str("user_id", userID).
			Int64("amount", amount).
			Int64("current_price", res.NewPrice).
			Msg("bid lost the race or was below the current price")
		return res, nil
	}

	now := a.clock.Now()
	bid := models.Bid{
		ID:          uuid.New().String(),
		AuctionID:   res.AuctionID,
		UserID:      userID,
		Amount:      amount,
		SubmittedAt: now,
	}
	if err := a.ledger.Append(ctx, roomID, bid); err != nil {
		// The price is already committed; the ledger entry is best-effort
		// for the settlement summary, so log rather than unwind the bid.
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to append committed bid to ledger")
	}

	extension, err := a.timer.OnBidAccepted(ctx, roomID, now)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to apply overtime rule")
	}

	if err := a.events.Publish(ctx, roomID, events.TypeBidPlaced, events.BidPlacedPayload{
		AuctionID: res.AuctionID,
		UserID:    userID,
		Amount:    amount,
		Extension: extension,
	}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish bid event")
	}

	if err := a.chat.Announce(ctx, roomID, fmt.Sprintf("%s bid %d", userID, amount)); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to announce bid")
	}
	return res, nil
}

// StopAuction is the host's manual settle. Calling it while no auction is
// active is a no-op, which makes a manual stop racing a timer expiry
// harmless.
func (a *App) StopAuction(ctx context.Context, roomID string) error {
	return a.Settle(ctx, roomID)
}

// Settle finalizes the active auction: exactly one caller wins the
// active→settling transition; every other invocation (duplicate stop,
// redundant tick) is a no-op. The winner reads the final price and leader,
// derives the top-bidder summary, writes one history entry, clears the
// ledger and returns the room to idle.
func (a *App) Settle(ctx context.Context, roomID string) error {
	var final models.AuctionRecord
	_, err := a.store.AtomicUpdate(ctx, store.AuctionPath(roomID), func(current []byte) ([]byte, bool) {
		if current == nil {
			return nil, false
		}
		var rec models.AuctionRecord
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, false
		}
		if rec.State != models.AuctionActive {
			return nil, false
		}
		rec.State = models.AuctionSettling
		final = rec

		next, err := json.Marshal(rec)
		if err != nil {
			return nil, false
		}
		return next, true
	})
	if errors.Is(err, store.ErrAborted) {
		return nil // already settled or never active; idempotent
	}
	if err != nil {
		return fmt.Errorf("failed to begin settlement: %w", err)
	}

	winner := final.LastBidder
	if winner == "" {
		winner = "Nobody"
	}

	topBidders, err := a.ledger.TopByUser(ctx, roomID, final.AuctionID, a.cfg.TopBidders)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to derive top bidders")
		topBidders = nil
	}

	settledAt := a.clock.Now().UTC()
	entry := models.HistoryEntry{
		ID:         uuid.New().String(),
		RoomID:     roomID,
		Item:       *final.Item,
		FinalPrice: final.CurrentPrice,
		Winner:     winner,
		TopBidders: topBidders,
		SettledAt:  settledAt,
	}
	if err := a.history.Insert(ctx, entry); err != nil {
		// Settlement still completes; a wedged settling state would block
		// the room forever, which is worse than a missing archive row.
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to persist auction history entry")
	}

	if err := a.ledger.Clear(ctx, roomID, final.AuctionID); err != nil {
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to clear bid ledger")
	}

	// settling → idle. The staged item and the final price remain visible.
	// Conditioned on the record still belonging to this settlement: the host
	// may start the next auction while history is being written, and that
	// newer active record must win over the stale idle snapshot.
	idle := final
	idle.State = models.AuctionIdle
	idle.EndAt = 0
	raw, err := json.Marshal(idle)
	if err != nil {
		return fmt.Errorf("failed to marshal idle record: %w", err)
	}
	_, err = a.store.AtomicUpdate(ctx, store.AuctionPath(roomID), func(current []byte) ([]byte, bool) {
		if current == nil {
			return nil, false
		}
		var rec models.AuctionRecord
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, false
		}
		if rec.State != models.AuctionSettling || rec.AuctionID != final.AuctionID {
			return nil, false
		}
		return raw, true
	})
	if errors.Is(err, store.ErrAborted) {
		log.Info().
			Str("room_id", roomID).
			Str("auction_id", final.AuctionID).
			Msg("newer auction superseded the settled one, leaving its record intact")
	} else if err != nil {
		return fmt.Errorf("failed to finish settlement: %w", err)
	}
	a.timer.UntrackAuction(ctx, roomID, final.AuctionID)

	if err := a.events.Publish(ctx, roomID, events.TypeAuctionSettled, events.AuctionSettledPayload{
		AuctionID:  final.AuctionID,
		Item:       *final.Item,
		FinalPrice: final.CurrentPrice,
		Winner:     winner,
		TopBidders: topBidders,
		SettledAt:  settledAt,
	}); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish settlement")
	}

	text := fmt.Sprintf("🛑 %s CALLED DIBS ON %s FOR %d!", winner, final.Item.Name, final.CurrentPrice)
	if err := a.chat.Announce(ctx, roomID, text); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to announce settlement")
	}

	log.Info().
		Str("room_id", roomID).
		Str("auction_id", final.AuctionID).
		Str("winner", winner).
		Int64("final_price", final.CurrentPrice).
		Msg("auction settled")
	return nil
}

// ForceIdle recovers a room whose auction record violated an invariant: the
// record is reset to idle and a fresh start is required. Never guesses which
// of two conflicting auctions was authoritative.
func (a *App) ForceIdle(ctx context.Context, roomID string) error {
	rec := models.AuctionRecord{State: models.AuctionIdle}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal idle record: %w", err)
	}
	if err := a.store.Write(ctx, store.AuctionPath(roomID), raw); err != nil {
		return fmt.Errorf("failed to force room idle: %w", err)
	}
	a.timer.Untrack(ctx, roomID)

	log.Warn().Str("room_id", roomID).Msg("room forced to idle after invariant violation")
	return nil
}
