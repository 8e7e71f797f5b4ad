package gateway

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
	"github.com/dibslive/dibs/go/internal/room/auction"
	"github.com/dibslive/dibs/go/internal/room/chat"
	"github.com/dibslive/dibs/go/internal/room/events"
	"github.com/dibslive/dibs/go/internal/room/ledger"
	"github.com/dibslive/dibs/go/internal/room/moderation"
	"github.com/dibslive/dibs/go/internal/room/presence"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
	"github.com/dibslive/dibs/go/internal/room/timer"
	"github.com/dibslive/dibs/go/internal/store"
)

type nopSink struct {
	mu sync.Mutex
	n  int
}

func (s *nopSink) Publish(context.Context, string, events.Type, any) error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	return nil
}

type nopHistory struct{}

func (nopHistory) Insert(context.Context, models.HistoryEntry) error { return nil }

type fixture struct {
	service  *Service
	app      *auction.App
	mod      *moderation.Service
	tracker  *presence.Tracker
	store    *store.MemStore
	clock    *clockwork.FakeClock
	sessions map[string]models.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemStore()
	clock := clockwork.NewFakeClock()
	sink := &nopSink{}

	tmr := timer.New(st, clock, timer.Config{
		TickInterval:   100 * time.Millisecond,
		OvertimeWindow: 10 * time.Second,
		MaxBonus:       0,
	})
	chatLog := chat.NewLog(st, sink, clock)
	app := auction.NewApp(st, arbiter.New(st), ledger.New(st), tmr, nopHistory{}, chatLog, sink, clock,
		auction.Config{Duration: 30 * time.Second, MinIncrement: 10, TopBidders: 3})

	mod := moderation.NewService(st, sink)
	tracker := presence.NewTracker(st, sink, clock)
	sessions := NewSessionValidator(st)
	state := NewStateProvider(st, app, tracker, chatLog)
	service := NewService(app, chatLog, mod, state, sessions, clock)

	f := &fixture{
		service:  service,
		app:      app,
		mod:      mod,
		tracker:  tracker,
		store:    st,
		clock:    clock,
		sessions: make(map[string]models.Session),
	}
	f.register(t, "sess-host", "hank", models.RoleHost)
	f.register(t, "sess-alice", "alice", models.RoleAudience)
	return f
}

func (f *fixture) register(t *testing.T, sessionKey, userID string, role models.Role) {
	t.Helper()
	err := f.mod.Register(context.Background(), "room1", sessionKey, models.AudienceEntry{
		UserID: userID,
		Role:   role,
	})
	require.NoError(t, err)
	f.sessions[sessionKey] = models.Session{
		RoomID:     "room1",
		SessionKey: sessionKey,
		UserID:     userID,
		Role:       role,
	}
}

// session re-resolves restrictions the way the websocket handler does before
// each command.
func (f *fixture) session(t *testing.T, key string) models.Session {
	t.Helper()
	s, err := f.service.Sessions().Validate(context.Background(), "room1", key)
	require.NoError(t, err)
	return s
}

func (f *fixture) startLampAuction(t *testing.T) {
	t.Helper()
	host := f.session(t, "sess-host")
	require.NoError(t, f.service.Dispatch(context.Background(), host, Command{
		Type: CmdSelectItem,
		Item: &models.ItemSnapshot{ID: "i1", Name: "Lamp", StartPrice: 10},
	}))
	require.NoError(t, f.service.Dispatch(context.Background(), host, Command{Type: CmdStartAuction}))
}

func TestAudienceCannotStartAuction(t *testing.T) {
	f := newFixture(t)

	err := f.service.Dispatch(context.Background(), f.session(t, "sess-alice"), Command{Type: CmdStartAuction})
	require.True(t, errors.Is(err, roomerr.ErrPermissionDenied))
}

func TestBidBannedPlaceBidDeniedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	f.startLampAuction(t)

	require.NoError(t, f.mod.SetRestriction(context.Background(), "room1", "sess-alice", models.RestrictionBidBan, true))

	err := f.service.Dispatch(context.Background(), f.session(t, "sess-alice"), Command{Type: CmdPlaceBid, Amount: 100})
	require.True(t, errors.Is(err, roomerr.ErrPermissionDenied))

	rec, recErr := f.app.Record(context.Background(), "room1")
	require.NoError(t, recErr)
	require.Equal(t, int64(10), rec.CurrentPrice)
	require.Empty(t, rec.LastBidder)
}

func TestMutedCannotChatButCanBid(t *testing.T) {
	f := newFixture(t)
	f.startLampAuction(t)

	require.NoError(t, f.mod.SetRestriction(context.Background(), "room1", "sess-alice", models.RestrictionMute, true))
	alice := f.session(t, "sess-alice")

	err := f.service.Dispatch(context.Background(), alice, Command{Type: CmdSendChat, Text: "hello"})
	require.True(t, errors.Is(err, roomerr.ErrPermissionDenied))

	require.NoError(t, f.service.Dispatch(context.Background(), alice, Command{Type: CmdPlaceBid, Amount: 25}))

	rec, recErr := f.app.Record(context.Background(), "room1")
	require.NoError(t, recErr)
	require.Equal(t, int64(25), rec.CurrentPrice)
}

func TestKickedSessionFailsValidation(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mod.Kick(context.Background(), "room1", "sess-alice"))

	_, err := f.service.Sessions().Validate(context.Background(), "room1", "sess-alice")
	require.True(t, errors.Is(err, roomerr.ErrPermissionDenied))
}

func TestUnknownSessionKeyFailsValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Sessions().Validate(context.Background(), "room1", "no-such-key")
	require.True(t, errors.Is(err, roomerr.ErrPermissionDenied))

	_, err = f.service.Sessions().Validate(context.Background(), "room1", "")
	require.True(t, errors.Is(err, roomerr.ErrValidation))
}

func TestUnknownCommandIsValidationError(t *testing.T) {
	f := newFixture(t)

	// Malformed input, not a permission problem: even the host gets a
	// validation error for a type outside the command variant.
	err := f.service.Dispatch(context.Background(), f.session(t, "sess-host"), Command{Type: CommandType("DropTables")})
	require.True(t, errors.Is(err, roomerr.ErrValidation))

	err = f.service.Dispatch(context.Background(), f.session(t, "sess-alice"), Command{Type: CommandType("DropTables")})
	require.True(t, errors.Is(err, roomerr.ErrValidation))
}

func TestSendChatAppendsEntry(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Dispatch(context.Background(), f.session(t, "sess-alice"), Command{
		Type: CmdSendChat,
		Text: "first!",
	}))

	state, err := f.service.State().Snapshot(context.Background(), "room1")
	require.NoError(t, err)
	require.Len(t, state.Chat, 1)
	require.Equal(t, "alice", state.Chat[0].User)
	require.Equal(t, models.ChatMsg, state.Chat[0].Type)
	require.False(t, state.Chat[0].IsHost)
}

func TestSetPublishingReflectedInSnapshot(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Dispatch(context.Background(), f.session(t, "sess-host"), Command{
		Type: CmdSetPublishing,
		Live: true,
	}))

	state, err := f.service.State().Snapshot(context.Background(), "room1")
	require.NoError(t, err)
	require.True(t, state.IsLive)
}

func TestSnapshotCarriesFullRoomView(t *testing.T) {
	f := newFixture(t)
	f.startLampAuction(t)

	require.NoError(t, f.tracker.Join(context.Background(), "room1", "alice", "conn-1"))
	require.NoError(t, f.service.Dispatch(context.Background(), f.session(t, "sess-alice"), Command{
		Type: CmdPlaceBid, Amount: 42,
	}))

	state, err := f.service.State().Snapshot(context.Background(), "room1")
	require.NoError(t, err)
	require.Equal(t, "room1", state.RoomID)
	require.Equal(t, models.AuctionActive, state.Auction.State)
	require.Equal(t, int64(42), state.Auction.CurrentPrice)
	require.Equal(t, 1, state.ViewerCount)
	require.NotEmpty(t, state.Chat) // auction start and bid announcements
}

func TestModeratorCanSetRestrictions(t *testing.T) {
	f := newFixture(t)
	f.register(t, "sess-mod", "mia", models.RoleModerator)

	require.NoError(t, f.service.Dispatch(context.Background(), f.session(t, "sess-mod"), Command{
		Type:             CmdSetRestriction,
		TargetSessionKey: "sess-alice",
		Restriction:      models.RestrictionMute,
		Value:            true,
	}))

	s, err := f.service.Sessions().Validate(context.Background(), "room1", "sess-alice")
	require.NoError(t, err)
	require.True(t, s.Restrictions.IsMuted)
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"PlaceBid","amount":50}`))
	require.NoError(t, err)
	require.Equal(t, CmdPlaceBid, cmd.Type)
	require.Equal(t, int64(50), cmd.Amount)

	_, err = ParseCommand([]byte(`{"amount":50}`))
	require.Error(t, err)

	_, err = ParseCommand([]byte(`not json`))
	require.Error(t, err)
}
