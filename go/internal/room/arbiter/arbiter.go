// Package arbiter resolves concurrent bid submissions into a single
// monotonic price. It is the only component allowed to run the
// read-check-write cycle against the auction record; everything else goes
// through it so the race-prone pattern exists in exactly one place.
package arbiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/store"
)

// Result is the outcome of a raise attempt. Committed=false means the
// proposal was no longer an improvement by the time the store applied it; a
// normal outcome under load, never an error. NewPrice always carries the
// price the auction ended up at.
type Result struct {
	Committed bool
	NewPrice  int64
	AuctionID string
}

// Arbiter owns the atomic conditional update on the auction price.
type Arbiter struct {
	store store.Store
}

// New returns an arbiter backed by the given store.
func New(st store.Store) *Arbiter {
	return &Arbiter{store: st}
}

// TryRaise attempts to raise the room's current price to amount on behalf of
// bidder. The comparison and the write of price+lastBidder happen in one
// atomic step; when a concurrent writer wins, the store replays the
// comparison against the fresh value until one writer succeeds or the
// proposal stops being an improvement.
//
// Invariant: under N concurrent submissions with one true maximum, exactly
// one commit reflects that maximum and no committed price is ever
// overwritten by a smaller amount.
func (a *Arbiter) TryRaise(ctx context.Context, roomID string, amount int64, bidder string) (Result, error) {
	var observed int64
	var observedAuction string

	committed, err := a.store.AtomicUpdate(ctx, store.AuctionPath(roomID), func(current []byte) ([]byte, bool) {
		if current == nil {
			return nil, false // no auction document at all
		}
		var rec models.AuctionRecord
		if err := json.Unmarshal(current, &rec); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("auction record unreadable")
			return nil, false
		}
		observed = rec.CurrentPrice
		observedAuction = rec.AuctionID

		if rec.State != models.AuctionActive || amount <= rec.CurrentPrice {
			return nil, false
		}

		rec.CurrentPrice = amount
		rec.LastBidder = bidder
		next, err := json.Marshal(rec)
		if err != nil {
			return nil, false
		}
		return next, true
	})

	if errors.Is(err, store.ErrAborted) {
		return Result{Committed: false, NewPrice: observed, AuctionID: observedAuction}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to arbitrate bid: %w", err)
	}

	var rec models.AuctionRecord
	if err := json.Unmarshal(committed, &rec); err != nil {
		return Result{}, fmt.Errorf("failed to decode committed auction record: %w", err)
	}
	return Result{Committed: true, NewPrice: rec.CurrentPrice, AuctionID: rec.AuctionID}, nil
}
