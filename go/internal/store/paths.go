package store

import "fmt"

// Logical layout of the room state inside the store. Everything is addressed
// by these helpers so no component hand-rolls a path string.

func AuctionPath(roomID string) string {
	return fmt.Sprintf("rooms/%s/auction", roomID)
}

func BidsPath(roomID, auctionID string) string {
	return fmt.Sprintf("rooms/%s/bids/%s", roomID, auctionID)
}

func ChatPath(roomID string) string {
	return fmt.Sprintf("rooms/%s/chat", roomID)
}

func ViewersPath(roomID string) string {
	return fmt.Sprintf("rooms/%s/viewers", roomID)
}

func ViewerPath(roomID, userID string) string {
	return fmt.Sprintf("rooms/%s/viewers/%s", roomID, userID)
}

func IsLivePath(roomID string) string {
	return fmt.Sprintf("rooms/%s/isLive", roomID)
}

func AudiencePath(roomID string) string {
	return fmt.Sprintf("audience_data/%s", roomID)
}

func AudienceEntryPath(roomID, sessionKey string) string {
	return fmt.Sprintf("audience_data/%s/%s", roomID, sessionKey)
}

func EventConfigPath() string {
	return "event_config"
}

func ActiveAuctionsPath() string {
	return "active_auctions"
}

func ActiveAuctionPath(roomID string) string {
	return fmt.Sprintf("active_auctions/%s", roomID)
}
