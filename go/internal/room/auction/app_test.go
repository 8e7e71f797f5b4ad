package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/arbiter"
	"github.com/dibslive/dibs/go/internal/room/chat"
	"github.com/dibslive/dibs/go/internal/room/events"
	"github.com/dibslive/dibs/go/internal/room/ledger"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
	"github.com/dibslive/dibs/go/internal/room/timer"
	"github.com/dibslive/dibs/go/internal/store"
)

type recordedEvent struct {
	roomID  string
	typ     events.Type
	payload any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Publish(_ context.Context, roomID string, typ events.Type, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{roomID: roomID, typ: typ, payload: payload})
	return nil
}

func (r *eventRecorder) ofType(typ events.Type) []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recordedEvent
	for _, e := range r.events {
		if e.typ == typ {
			out = append(out, e)
		}
	}
	return out
}

type memHistory struct {
	mu      sync.Mutex
	entries []models.HistoryEntry
	err     error

	// onInsert, when set, runs before the entry is stored. Lets tests
	// interleave work with the settlement window.
	onInsert func()
}

func (h *memHistory) Insert(_ context.Context, entry models.HistoryEntry) error {
	if h.onInsert != nil {
		h.onInsert()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.entries = append(h.entries, entry)
	return nil
}

func (h *memHistory) rows() []models.HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.HistoryEntry(nil), h.entries...)
}

type fixture struct {
	app     *App
	store   *store.MemStore
	clock   *clockwork.FakeClock
	timer   *timer.Timer
	events  *eventRecorder
	history *memHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	clock := clockwork.NewFakeClock()
	sink := &eventRecorder{}
	hist := &memHistory{}

	// MaxBonus of zero makes overtime extensions deterministic.
	tmr := timer.New(st, clock, timer.Config{
		TickInterval:   100 * time.Millisecond,
		OvertimeWindow: 10 * time.Second,
		MaxBonus:       0,
	})

	app := NewApp(
		st,
		arbiter.New(st),
		ledger.New(st),
		tmr,
		hist,
		chat.NewLog(st, sink, clock),
		sink,
		clock,
		Config{Duration: 30 * time.Second, MinIncrement: 10, TopBidders: 3},
	)

	return &fixture{app: app, store: st, clock: clock, timer: tmr, events: sink, history: hist}
}

func (f *fixture) selectLamp(t *testing.T) {
	t.Helper()
	err := f.app.SelectItem(context.Background(), "room1", models.ItemSnapshot{
		ID:         "i1",
		Name:       "Lamp",
		StartPrice: 10,
	})
	require.NoError(t, err)
}

func TestStartWithoutItemIsValidationError(t *testing.T) {
	f := newFixture(t)

	err := f.app.StartAuction(context.Background(), "room1")
	require.True(t, errors.Is(err, roomerr.ErrValidation))

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, models.AuctionIdle, rec.State)
}

func TestSelectItemStagesSnapshotAndPrice(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, models.AuctionIdle, rec.State)
	require.Equal(t, "Lamp", rec.Item.Name)
	require.Equal(t, int64(10), rec.CurrentPrice)

	require.Len(t, f.events.ofType(events.TypeItemSelected), 1)
}

func TestSelectItemDeniedWhileActive(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))

	err := f.app.SelectItem(context.Background(), "room1", models.ItemSnapshot{ID: "i2", Name: "Chair"})
	require.True(t, errors.Is(err, roomerr.ErrValidation))

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, "Lamp", rec.Item.Name)
}

func TestSetStartPriceOnlyWhileIdle(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)

	require.NoError(t, f.app.SetStartPrice(context.Background(), "room1", 25))
	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, int64(25), rec.CurrentPrice)

	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))
	err = f.app.SetStartPrice(context.Background(), "room1", 40)
	require.True(t, errors.Is(err, roomerr.ErrValidation))
}

func TestPlaceBidCommitsAndRecords(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))

	res, err := f.app.PlaceBid(context.Background(), "room1", "alice", 20)
	require.NoError(t, err)
	require.True(t, res.Committed)
	require.Equal(t, int64(20), res.NewPrice)

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, int64(20), rec.CurrentPrice)
	require.Equal(t, "alice", rec.LastBidder)

	require.Len(t, f.events.ofType(events.TypeBidPlaced), 1)
}

func TestPlaceBidBelowPriceLosesWithoutError(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))

	_, err := f.app.PlaceBid(context.Background(), "room1", "alice", 50)
	require.NoError(t, err)

	res, err := f.app.PlaceBid(context.Background(), "room1", "bob", 30)
	require.NoError(t, err)
	require.False(t, res.Committed)
	require.Equal(t, int64(50), res.NewPrice)

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, "alice", rec.LastBidder)
	require.Len(t, f.events.ofType(events.TypeBidPlaced), 1)
}

func TestPlaceBidRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []int64{0, -5} {
		_, err := f.app.PlaceBid(context.Background(), "room1", "alice", amount)
		require.True(t, errors.Is(err, roomerr.ErrValidation))
	}
}

func TestStopSettlesWinnerAndHistory(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))

	_, err := f.app.PlaceBid(context.Background(), "room1", "alice", 50)
	require.NoError(t, err)
	_, err = f.app.PlaceBid(context.Background(), "room1", "bob", 70)
	require.NoError(t, err)
	_, err = f.app.PlaceBid(context.Background(), "room1", "alice", 80)
	require.NoError(t, err)
	// bob's late low bid loses and never reaches the ledger
	_, err = f.app.PlaceBid(context.Background(), "room1", "bob", 60)
	require.NoError(t, err)

	require.NoError(t, f.app.StopAuction(context.Background(), "room1"))

	rows := f.history.rows()
	require.Len(t, rows, 1)
	require.Equal(t, "alice", rows[0].Winner)
	require.Equal(t, int64(80), rows[0].FinalPrice)
	require.Equal(t, "Lamp", rows[0].Item.Name)
	require.Equal(t, []models.TopBidder{
		{UserID: "alice", Amount: 80},
		{UserID: "bob", Amount: 70},
	}, rows[0].TopBidders)

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, models.AuctionIdle, rec.State)
	require.Equal(t, int64(80), rec.CurrentPrice)
	require.Equal(t, "Lamp", rec.Item.Name)
	require.Zero(t, rec.EndAt)

	settled := f.events.ofType(events.TypeAuctionSettled)
	require.Len(t, settled, 1)
}

func TestDoubleStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))
	_, err := f.app.PlaceBid(context.Background(), "room1", "alice", 50)
	require.NoError(t, err)

	require.NoError(t, f.app.StopAuction(context.Background(), "room1"))
	require.NoError(t, f.app.StopAuction(context.Background(), "room1"))

	require.Len(t, f.history.rows(), 1)
	require.Len(t, f.events.ofType(events.TypeAuctionSettled), 1)
}

func TestStartDuringSettlementKeepsNewAuction(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))
	_, err := f.app.PlaceBid(context.Background(), "room1", "alice", 50)
	require.NoError(t, err)

	first, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)

	// The host starts the next auction while settlement is still writing
	// history. The fresh active record must survive the settle finishing.
	var startErr error
	f.history.onInsert = func() {
		startErr = f.app.StartAuction(context.Background(), "room1")
	}

	require.NoError(t, f.app.StopAuction(context.Background(), "room1"))
	require.NoError(t, startErr)

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, models.AuctionActive, rec.State)
	require.NotEqual(t, first.AuctionID, rec.AuctionID)
	require.NotZero(t, rec.EndAt)

	// The first auction still settled and archived exactly once.
	rows := f.history.rows()
	require.Len(t, rows, 1)
	require.Equal(t, "alice", rows[0].Winner)

	// And the second auction still settles on its own deadline.
	f.history.onInsert = nil
	f.clock.Advance(31 * time.Second)
	f.timer.Tick(context.Background())
	require.Len(t, f.history.rows(), 2)

	final, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, models.AuctionIdle, final.State)
}

func TestSettleWithNoBidsNamesNobody(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))

	require.NoError(t, f.app.StopAuction(context.Background(), "room1"))

	rows := f.history.rows()
	require.Len(t, rows, 1)
	require.Equal(t, "Nobody", rows[0].Winner)
	require.Empty(t, rows[0].TopBidders)
}

func TestTimerExpirySettles(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))
	_, err := f.app.PlaceBid(context.Background(), "room1", "alice", 50)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Second)
	f.timer.Tick(context.Background())

	rows := f.history.rows()
	require.Len(t, rows, 1)
	require.Equal(t, "alice", rows[0].Winner)

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, models.AuctionIdle, rec.State)
}

func TestHistoryFailureDoesNotWedgeRoom(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))
	f.history.err = errors.New("db down")

	require.NoError(t, f.app.StopAuction(context.Background(), "room1"))

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, models.AuctionIdle, rec.State)

	// The room can immediately run the next auction.
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))
}

func TestLedgerClearedAfterSettlement(t *testing.T) {
	f := newFixture(t)
	f.selectLamp(t)
	require.NoError(t, f.app.StartAuction(context.Background(), "room1"))

	rec, err := f.app.Record(context.Background(), "room1")
	require.NoError(t, err)
	auctionID := rec.AuctionID

	_, err = f.app.PlaceBid(context.Background(), "room1", "alice", 50)
	require.NoError(t, err)
	require.NoError(t, f.app.StopAuction(context.Background(), "room1"))

	entries, err := f.store.List(context.Background(), store.BidsPath("room1", auctionID))
	require.NoError(t, err)
	require.Empty(t, entries)
}
