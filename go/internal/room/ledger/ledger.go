// Package ledger keeps the append-only per-auction record of accepted bids.
// The ledger is scoped to the current auction and cleared after settlement;
// only the derived settlement summary survives in auction history.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/store"
)

// Ledger appends accepted bids to the store and derives top-bidder
// summaries at settlement time.
type Ledger struct {
	store store.Store
}

// New returns a ledger backed by the given store.
func New(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Append records one accepted bid. Pushes under distinct keys, so concurrent
// appends never clobber each other.
func (l *Ledger) Append(ctx context.Context, roomID string, bid models.Bid) error {
	payload, err := json.Marshal(bid)
	if err != nil {
		return fmt.Errorf("failed to marshal bid: %w", err)
	}
	if _, err := l.store.Push(ctx, store.BidsPath(roomID, bid.AuctionID), payload); err != nil {
		return fmt.Errorf("failed to append bid: %w", err)
	}

	log.Debug().
		Str("room_id", roomID).
		Str("auction_id", bid.AuctionID).
		Str("user_id", bid.UserID).
		Int64("amount", bid.Amount).
		Msg("bid appended to ledger")
	return nil
}

// TopByUser returns the highest single bid per distinct user, descending by
// amount, ties broken by earliest submission then user id so the order is
// deterministic for a given input set. limit <= 0 means no cap.
func (l *Ledger) TopByUser(ctx context.Context, roomID, auctionID string, limit int) ([]models.TopBidder, error) {
	entries, err := l.store.List(ctx, store.BidsPath(roomID, auctionID))
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}

	best := make(map[string]models.Bid)
	for key, raw := range entries {
		var bid models.Bid
		if err := json.Unmarshal(raw, &bid); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed ledger entry")
			continue
		}
		cur, seen := best[bid.UserID]
		if !seen || bid.Amount > cur.Amount ||
			(bid.Amount == cur.Amount && bid.SubmittedAt.Before(cur.SubmittedAt)) {
			best[bid.UserID] = bid
		}
	}

	top := make([]models.Bid, 0, len(best))
	for _, bid := range best {
		top = append(top, bid)
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Amount != top[j].Amount {
			return top[i].Amount > top[j].Amount
		}
		if !top[i].SubmittedAt.Equal(top[j].SubmittedAt) {
			return top[i].SubmittedAt.Before(top[j].SubmittedAt)
		}
		return top[i].UserID < top[j].UserID
	})

	if limit > 0 && len(top) > limit {
		top = top[:limit]
	}

	out := make([]models.TopBidder, len(top))
	for i, bid := range top {
		out[i] = models.TopBidder{UserID: bid.UserID, Amount: bid.Amount}
	}
	return out, nil
}

// Clear drops every ledger entry for the auction. Called once settlement has
// derived its summary.
func (l *Ledger) Clear(ctx context.Context, roomID, auctionID string) error {
	if err := l.store.Delete(ctx, store.BidsPath(roomID, auctionID)); err != nil {
		return fmt.Errorf("failed to clear ledger: %w", err)
	}
	return nil
}
