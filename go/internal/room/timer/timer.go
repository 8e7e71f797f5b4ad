// Package timer owns the auction countdown and the overtime-extension rule.
// It is the sole authority that triggers settlement: one scheduler loop on
// one clock, so the deadline is never raced by multiple tickers.
package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
	"github.com/dibslive/dibs/go/internal/store"
)

// Settler finalizes an expired auction. Implemented by the auction state
// machine; its active→settling guard makes redundant calls harmless.
type Settler interface {
	Settle(ctx context.Context, roomID string) error
}

// Config holds the countdown tuning knobs.
type Config struct {
	// TickInterval is the scheduler cadence.
	TickInterval time.Duration
	// OvertimeWindow is how close to expiry a bid must land to extend the
	// deadline.
	OvertimeWindow time.Duration
	// MaxBonus caps the random extension drawn per qualifying bid.
	MaxBonus time.Duration
}

// DefaultConfig returns the observed production values.
func DefaultConfig() Config {
	return Config{
		TickInterval:   100 * time.Millisecond,
		OvertimeWindow: 10 * time.Second,
		MaxBonus:       5 * time.Second,
	}
}

// tracked is one scheduled deadline. Entries carry the auction id so a stale
// untrack can never drop a newer auction that reused the room slot.
type tracked struct {
	auctionID string
	end       time.Time
}

// registryEntry is the durable mirror of a tracked room, written under
// store.ActiveAuctionPath so a restarted process can recover its deadlines.
type registryEntry struct {
	AuctionID string `json:"auctionId"`
	EndAt     int64  `json:"endAt"`
}

// Timer drives every room countdown from a single loop.
type Timer struct {
	store   store.Store
	clock   clockwork.Clock
	cfg     Config
	settler Settler

	mu      sync.Mutex
	endAt   map[string]tracked // tracked active rooms
	bonusFn func() time.Duration
}

// New creates a timer. Bind a settler before Run.
func New(st store.Store, clock clockwork.Clock, cfg Config) *Timer {
	t := &Timer{
		store: st,
		clock: clock,
		cfg:   cfg,
		endAt: make(map[string]tracked),
	}
	// The bonus is drawn server-side: the anti-snipe mechanism is a design
	// choice, not a security boundary, but the draw must not be forgeable
	// by a modified client.
	t.bonusFn = func() time.Duration {
		return time.Duration(rand.Int63n(int64(cfg.MaxBonus) + 1))
	}
	return t
}

// Bind wires the settler. Separate from New because the state machine and
// the timer reference each other.
func (t *Timer) Bind(s Settler) {
	t.settler = s
}

// Start transitions the room's auction to active: fresh auction id, deadline
// now+duration, cleared last bidder. The staged item and price on the idle
// record carry over. Starting over an already-active auction is a
// validation error, never a second active auction.
func (t *Timer) Start(ctx context.Context, roomID string, duration time.Duration) (*models.AuctionRecord, error) {
	now := t.clock.Now()
	var started models.AuctionRecord
	var startErr error

	_, err := t.store.AtomicUpdate(ctx, store.AuctionPath(roomID), func(current []byte) ([]byte, bool) {
		var rec models.AuctionRecord
		if current != nil {
			if err := json.Unmarshal(current, &rec); err != nil {
				startErr = roomerr.Invariantf("auction record unreadable: %v", err)
				return nil, false
			}
		}
		if rec.State == models.AuctionActive {
			startErr = roomerr.Validationf("an auction is already running")
			return nil, false
		}
		if rec.Item == nil {
			startErr = roomerr.Validationf("select an item before starting the auction")
			return nil, false
		}

		rec.AuctionID = uuid.New().String()
		rec.State = models.AuctionActive
		rec.EndAt = now.Add(duration).UnixMilli()
		rec.LastBidder = ""
		started = rec

		next, err := json.Marshal(rec)
		if err != nil {
			startErr = fmt.Errorf("failed to marshal auction record: %w", err)
			return nil, false
		}
		return next, true
	})
	if startErr != nil {
		return nil, startErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start auction: %w", err)
	}

	t.track(roomID, started.AuctionID, started.EndTime())
	t.writeRegistry(ctx, roomID, started.AuctionID, started.EndAt)

	log.Info().
		Str("room_id", roomID).
		Str("auction_id", started.AuctionID).
		Str("item", started.Item.Name).
		Int64("start_price", started.CurrentPrice).
		Time("end_at", started.EndTime()).
		Msg("auction started")
	return &started, nil
}

// OnBidAccepted applies the overtime rule for a bid accepted at now: when
// the deadline is within OvertimeWindow and not yet passed, it is pushed out
// by an independent random bonus in [0, MaxBonus]. The deadline only ever
// increases. Returns the extension applied (zero when none).
func (t *Timer) OnBidAccepted(ctx context.Context, roomID string, now time.Time) (time.Duration, error) {
	var extension time.Duration
	var extended models.AuctionRecord

	_, err := t.store.AtomicUpdate(ctx, store.AuctionPath(roomID), func(current []byte) ([]byte, bool) {
		if current == nil {
			return nil, false
		}
		var rec models.AuctionRecord
		if err := json.Unmarshal(current, &rec); err != nil {
			return nil, false
		}
		remaining := rec.EndTime().Sub(now)
		if rec.State != models.AuctionActive || remaining <= 0 || remaining > t.cfg.OvertimeWindow {
			return nil, false
		}

		extension = t.bonusFn()
		rec.EndAt = rec.EndTime().Add(extension).UnixMilli()
		extended = rec

		next, err := json.Marshal(rec)
		if err != nil {
			return nil, false
		}
		return next, true
	})
	if errors.Is(err, store.ErrAborted) {
		return 0, nil // outside the overtime window, or auction no longer active
	}
	if err != nil {
		return 0, fmt.Errorf("failed to extend deadline: %w", err)
	}

	if extension > 0 {
		t.mu.Lock()
		if cur, ok := t.endAt[roomID]; ok && cur.auctionID == extended.AuctionID {
			cur.end = cur.end.Add(extension)
			t.endAt[roomID] = cur
		}
		t.mu.Unlock()
		t.writeRegistry(ctx, roomID, extended.AuctionID, extended.EndAt)

		log.Info().
			Str("room_id", roomID).
			Dur("extension", extension).
			Msg("overtime extension applied")
	}
	return extension, nil
}

// Untrack unconditionally drops the room from the scheduler. Recovery-path
// helper; settlement paths use UntrackAuction so they cannot drop a newer
// auction started in the same room.
func (t *Timer) Untrack(ctx context.Context, roomID string) {
	t.mu.Lock()
	delete(t.endAt, roomID)
	t.mu.Unlock()
	t.dropRegistry(ctx, roomID)
}

// UntrackAuction drops the room from the scheduler only while it still tracks
// the given auction. A no-op when a newer auction has taken over the room.
func (t *Timer) UntrackAuction(ctx context.Context, roomID, auctionID string) {
	t.mu.Lock()
	cur, ok := t.endAt[roomID]
	if ok && cur.auctionID == auctionID {
		delete(t.endAt, roomID)
	} else {
		ok = false
	}
	t.mu.Unlock()
	if ok {
		t.dropRegistry(ctx, roomID)
	}
}

func (t *Timer) track(roomID, auctionID string, endAt time.Time) {
	t.mu.Lock()
	t.endAt[roomID] = tracked{auctionID: auctionID, end: endAt}
	t.mu.Unlock()
}

func (t *Timer) writeRegistry(ctx context.Context, roomID, auctionID string, endAt int64) {
	raw, err := json.Marshal(registryEntry{AuctionID: auctionID, EndAt: endAt})
	if err != nil {
		return
	}
	if err := t.store.Write(ctx, store.ActiveAuctionPath(roomID), raw); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to record active auction for recovery")
	}
}

func (t *Timer) dropRegistry(ctx context.Context, roomID string) {
	if err := t.store.Delete(ctx, store.ActiveAuctionPath(roomID)); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("failed to drop active auction record")
	}
}

// Recover re-tracks every room the registry marks active, so auctions in
// flight when the process died still settle after a restart. The auction
// record in the store is authoritative; stale registry entries for rooms no
// longer active are dropped.
func (t *Timer) Recover(ctx context.Context) error {
	entries, err := t.store.List(ctx, store.ActiveAuctionsPath())
	if err != nil {
		return fmt.Errorf("failed to list active auctions: %w", err)
	}

	for roomID := range entries {
		raw, err := t.store.Read(ctx, store.AuctionPath(roomID))
		if errors.Is(err, store.ErrNotFound) {
			t.dropRegistry(ctx, roomID)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read auction record for %s: %w", roomID, err)
		}
		var rec models.AuctionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("skipping unreadable auction record during recovery")
			continue
		}
		if rec.State != models.AuctionActive {
			t.dropRegistry(ctx, roomID)
			continue
		}

		t.track(roomID, rec.AuctionID, rec.EndTime())
		log.Info().
			Str("room_id", roomID).
			Str("auction_id", rec.AuctionID).
			Time("end_at", rec.EndTime()).
			Msg("recovered active auction deadline")
	}
	return nil
}

// Run ticks on a fixed cadence and fires settlement exactly once per expired
// auction; the settling-state guard in the state machine keeps redundant
// ticks harmless. Blocks until ctx is done.
func (t *Timer) Run(ctx context.Context) error {
	if t.settler == nil {
		return fmt.Errorf("timer has no settler bound")
	}

	if err := t.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("timer recovery failed, running auctions may need a manual stop")
	}

	log.Info().
		Dur("tick", t.cfg.TickInterval).
		Dur("overtime_window", t.cfg.OvertimeWindow).
		Msg("auction timer started")

	ticker := t.clock.NewTicker(t.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("auction timer shutting down")
			return nil
		case <-ticker.Chan():
			t.fireDue(ctx)
		}
	}
}

// fireDue settles every tracked room whose deadline has passed. Exported to
// tests via Tick.
func (t *Timer) fireDue(ctx context.Context) {
	now := t.clock.Now()

	type dueEntry struct {
		roomID    string
		auctionID string
	}

	t.mu.Lock()
	var due []dueEntry
	for roomID, cur := range t.endAt {
		if !now.Before(cur.end) {
			due = append(due, dueEntry{roomID: roomID, auctionID: cur.auctionID})
		}
	}
	t.mu.Unlock()

	for _, d := range due {
		log.Info().Str("room_id", d.roomID).Msg("auction deadline reached")
		if err := t.settler.Settle(ctx, d.roomID); err != nil {
			// Keep the room tracked; the next tick retries.
			log.Error().Err(err).Str("room_id", d.roomID).Msg("settlement failed")
			continue
		}
		t.UntrackAuction(ctx, d.roomID, d.auctionID)
	}
}

// Tick runs one scheduler pass at the current clock time. Test hook mirroring
// the loop body of Run.
func (t *Timer) Tick(ctx context.Context) {
	t.fireDue(ctx)
}
