package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/auction"
	"github.com/dibslive/dibs/go/internal/room/chat"
	"github.com/dibslive/dibs/go/internal/room/presence"
	"github.com/dibslive/dibs/go/internal/store"
)

// RoomState is the full snapshot delivered to every subscribed client. Each
// delivery replaces the previous one wholesale; clients never patch.
type RoomState struct {
	RoomID      string               `json:"roomId"`
	Auction     models.AuctionRecord `json:"auction"`
	ViewerCount int                  `json:"viewerCount"`
	IsLive      bool                 `json:"isLive"`
	Chat        []models.ChatEntry   `json:"chat"`
}

// StateProvider rebuilds the current RoomState from the store. Called once
// per fan-out; the snapshot is assembled fresh so late joiners and clients
// that missed intermediate states converge on the same view.
type StateProvider struct {
	store    store.Store
	auction  *auction.App
	presence *presence.Tracker
	chat     *chat.Log
}

// NewStateProvider wires a snapshot builder.
func NewStateProvider(st store.Store, app *auction.App, tracker *presence.Tracker, chatLog *chat.Log) *StateProvider {
	return &StateProvider{store: st, auction: app, presence: tracker, chat: chatLog}
}

// Snapshot assembles the room's current state.
func (p *StateProvider) Snapshot(ctx context.Context, roomID string) (RoomState, error) {
	rec, err := p.auction.Record(ctx, roomID)
	if err != nil {
		return RoomState{}, fmt.Errorf("failed to read auction state: %w", err)
	}

	count, err := p.presence.Count(ctx, roomID)
	if err != nil {
		return RoomState{}, fmt.Errorf("failed to count viewers: %w", err)
	}

	entries, err := p.chat.Recent(ctx, roomID, chat.RecentLimit)
	if err != nil {
		return RoomState{}, fmt.Errorf("failed to read chat: %w", err)
	}

	isLive, err := p.readIsLive(ctx, roomID)
	if err != nil {
		return RoomState{}, err
	}

	return RoomState{
		RoomID:      roomID,
		Auction:     rec,
		ViewerCount: count,
		IsLive:      isLive,
		Chat:        entries,
	}, nil
}

// SetPublishing flips the room's stream flag. Display-only; auction logic
// never consults it.
func (p *StateProvider) SetPublishing(ctx context.Context, roomID string, live bool) error {
	raw, err := json.Marshal(live)
	if err != nil {
		return fmt.Errorf("failed to marshal publishing flag: %w", err)
	}
	if err := p.store.Write(ctx, store.IsLivePath(roomID), raw); err != nil {
		return fmt.Errorf("failed to set publishing flag: %w", err)
	}
	return nil
}

func (p *StateProvider) readIsLive(ctx context.Context, roomID string) (bool, error) {
	raw, err := p.store.Read(ctx, store.IsLivePath(roomID))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read publishing flag: %w", err)
	}
	var live bool
	if err := json.Unmarshal(raw, &live); err != nil {
		return false, nil
	}
	return live, nil
}
