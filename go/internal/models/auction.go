package models

import "time"

// AuctionState is the lifecycle state of a room's auction.
type AuctionState string

const (
	AuctionIdle     AuctionState = "idle"
	AuctionActive   AuctionState = "active"
	AuctionSettling AuctionState = "settling"
)

// ItemSnapshot is the item under auction, copied at selection time so later
// catalog edits never alter an in-flight or historical auction.
type ItemSnapshot struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	StartPrice  int64  `json:"startPrice"`
}

// AuctionRecord is the single mutable auction document for a room. Its
// mutable fields are only ever changed through the store's atomic
// conditional update, which gives per-room total order on price changes.
type AuctionRecord struct {
	AuctionID    string        `json:"auctionId"`
	State        AuctionState  `json:"state"`
	Item         *ItemSnapshot `json:"item,omitempty"`
	CurrentPrice int64         `json:"currentPrice"`
	// EndAt is unix milliseconds; authoritative only while State == active.
	EndAt      int64  `json:"endAt"`
	LastBidder string `json:"lastBidder"`
}

// EndTime converts EndAt to a time.Time.
func (a AuctionRecord) EndTime() time.Time {
	return time.UnixMilli(a.EndAt)
}

// Bid is an immutable ledger entry, scoped to a single auction.
type Bid struct {
	ID          string    `json:"id"`
	AuctionID   string    `json:"auctionId"`
	UserID      string    `json:"userId"`
	Amount      int64     `json:"amount"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// TopBidder is one row of a settlement's top-bidder summary: the highest
// single bid for a distinct user.
type TopBidder struct {
	UserID string `json:"user"`
	Amount int64  `json:"amount"`
}

// HistoryEntry is the permanent record written once per settled auction.
type HistoryEntry struct {
	ID         string       `json:"id"`
	RoomID     string       `json:"roomId"`
	Item       ItemSnapshot `json:"item"`
	FinalPrice int64        `json:"finalPrice"`
	Winner     string       `json:"winner"`
	TopBidders []TopBidder  `json:"topBidders"`
	SettledAt  time.Time    `json:"settledAt"`
}
