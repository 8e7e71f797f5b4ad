package events

import (
	"encoding/json"
	"time"

	"github.com/dibslive/dibs/go/internal/models"
)

// Type enumerates the room event kinds carried on the bus.
type Type string

const (
	TypeChatMessage     Type = "ChatMessage"
	TypeAuctionStarted  Type = "AuctionStarted"
	TypeBidPlaced       Type = "BidPlaced"
	TypeAuctionSettled  Type = "AuctionSettled"
	TypeItemSelected    Type = "ItemSelected"
	TypePresenceChanged Type = "PresenceChanged"
	TypeRestrictionSet  Type = "RestrictionSet"
)

// Envelope is the wire format for every room event.
type Envelope struct {
	EventID   string          `json:"eventId"`
	RoomID    string          `json:"roomId"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// ChatMessagePayload is emitted for user messages and system announcements.
type ChatMessagePayload struct {
	Entry models.ChatEntry `json:"entry"`
}

// AuctionStartedPayload is emitted when a room's auction goes active.
type AuctionStartedPayload struct {
	AuctionID  string              `json:"auctionId"`
	Item       models.ItemSnapshot `json:"item"`
	StartPrice int64               `json:"startPrice"`
	EndAt      time.Time           `json:"endAt"`
}

// BidPlacedPayload is emitted once per committed bid.
type BidPlacedPayload struct {
	AuctionID string        `json:"auctionId"`
	UserID    string        `json:"userId"`
	Amount    int64         `json:"amount"`
	Extension time.Duration `json:"extension"`
}

// AuctionSettledPayload is emitted once per settlement.
type AuctionSettledPayload struct {
	AuctionID  string              `json:"auctionId"`
	Item       models.ItemSnapshot `json:"item"`
	FinalPrice int64               `json:"finalPrice"`
	Winner     string              `json:"winner"`
	TopBidders []models.TopBidder  `json:"topBidders"`
	SettledAt  time.Time           `json:"settledAt"`
}

// ItemSelectedPayload is emitted when the host stages a new item.
type ItemSelectedPayload struct {
	Item models.ItemSnapshot `json:"item"`
}

// PresenceChangedPayload is emitted on viewer joins, leaves and state flips.
type PresenceChangedPayload struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

// RestrictionSetPayload is emitted when moderation flips a flag.
type RestrictionSetPayload struct {
	TargetUserID string                 `json:"targetUserId"`
	Kind         models.RestrictionKind `json:"kind"`
	Value        bool                   `json:"value"`
}
