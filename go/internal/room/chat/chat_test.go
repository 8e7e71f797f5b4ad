package chat

import (
	"context"
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/events"
	"github.com/dibslive/dibs/go/internal/store"
)

type nopSink struct{ published int }

func (s *nopSink) Publish(context.Context, string, events.Type, any) error {
	s.published++
	return nil
}

func TestAppendAndRecentKeepOrder(t *testing.T) {
	sink := &nopSink{}
	l := NewLog(store.NewMemStore(), sink, clockwork.NewFakeClock())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := l.Append(ctx, "room1", models.ChatEntry{
			User:   "alice",
			Text:   fmt.Sprintf("message %d", i),
			Type:   models.ChatMsg,
			SentAt: int64(i),
		})
		require.NoError(t, err)
	}

	entries, err := l.Recent(ctx, "room1", 50)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	for i, e := range entries {
		require.Equal(t, fmt.Sprintf("message %d", i), e.Text)
	}
	require.Equal(t, 5, sink.published)
}

func TestRecentCapsToNewest(t *testing.T) {
	l := NewLog(store.NewMemStore(), &nopSink{}, clockwork.NewFakeClock())
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		err := l.Append(ctx, "room1", models.ChatEntry{
			Text:   fmt.Sprintf("message %d", i),
			Type:   models.ChatMsg,
			SentAt: int64(i),
		})
		require.NoError(t, err)
	}

	entries, err := l.Recent(ctx, "room1", RecentLimit)
	require.NoError(t, err)
	require.Len(t, entries, RecentLimit)
	require.Equal(t, "message 10", entries[0].Text)
	require.Equal(t, "message 59", entries[len(entries)-1].Text)
}

func TestAnnounceUsesSystemType(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLog(store.NewMemStore(), &nopSink{}, clock)
	ctx := context.Background()

	require.NoError(t, l.Announce(ctx, "room1", "AUCTION STARTED"))

	entries, err := l.Recent(ctx, "room1", 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.ChatSystem, entries[0].Type)
	require.Empty(t, entries[0].User)
	require.Equal(t, clock.Now().UnixMilli(), entries[0].SentAt)
}
