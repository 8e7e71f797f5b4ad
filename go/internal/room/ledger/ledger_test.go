package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/store"
)

func appendBid(t *testing.T, l *Ledger, roomID, auctionID, userID string, amount int64, at time.Time) {
	t.Helper()
	err := l.Append(context.Background(), roomID, models.Bid{
		ID:          userID + "-bid",
		AuctionID:   auctionID,
		UserID:      userID,
		Amount:      amount,
		SubmittedAt: at,
	})
	require.NoError(t, err)
}

func TestTopByUserPicksBestPerUser(t *testing.T) {
	l := New(store.NewMemStore())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendBid(t, l, "room1", "a1", "A", 50, base)
	appendBid(t, l, "room1", "a1", "A", 80, base.Add(time.Second))
	appendBid(t, l, "room1", "a1", "B", 70, base.Add(2*time.Second))
	appendBid(t, l, "room1", "a1", "B", 60, base.Add(3*time.Second))

	top, err := l.TopByUser(context.Background(), "room1", "a1", 3)
	require.NoError(t, err)
	require.Equal(t, []models.TopBidder{
		{UserID: "A", Amount: 80},
		{UserID: "B", Amount: 70},
	}, top)
}

func TestTopByUserLimitAndTies(t *testing.T) {
	l := New(store.NewMemStore())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendBid(t, l, "room1", "a1", "C", 40, base.Add(time.Second))
	appendBid(t, l, "room1", "a1", "B", 40, base)
	appendBid(t, l, "room1", "a1", "A", 90, base.Add(2*time.Second))
	appendBid(t, l, "room1", "a1", "D", 10, base.Add(3*time.Second))

	top, err := l.TopByUser(context.Background(), "room1", "a1", 3)
	require.NoError(t, err)
	// Equal amounts order by earliest submission.
	require.Equal(t, []models.TopBidder{
		{UserID: "A", Amount: 90},
		{UserID: "B", Amount: 40},
		{UserID: "C", Amount: 40},
	}, top)
}

func TestTopByUserEmptyLedger(t *testing.T) {
	l := New(store.NewMemStore())

	top, err := l.TopByUser(context.Background(), "room1", "a1", 3)
	require.NoError(t, err)
	require.Empty(t, top)
}

func TestConcurrentAppendsAllSurvive(t *testing.T) {
	l := New(store.NewMemStore())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs <- l.Append(context.Background(), "room1", models.Bid{
				ID:          "bid",
				AuctionID:   "a1",
				UserID:      "user",
				Amount:      int64(n + 1),
				SubmittedAt: base.Add(time.Duration(n) * time.Millisecond),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	top, err := l.TopByUser(context.Background(), "room1", "a1", 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	require.Equal(t, int64(20), top[0].Amount)
}

func TestClearScopedToAuction(t *testing.T) {
	l := New(store.NewMemStore())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	appendBid(t, l, "room1", "a1", "A", 50, base)
	appendBid(t, l, "room1", "a2", "A", 60, base)

	require.NoError(t, l.Clear(context.Background(), "room1", "a1"))

	top, err := l.TopByUser(context.Background(), "room1", "a1", 0)
	require.NoError(t, err)
	require.Empty(t, top)

	top, err = l.TopByUser(context.Background(), "room1", "a2", 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
}
