package models

// PresenceState is a viewer's liveness hint. Both states count as "present";
// idle only tells the moderation UI the tab is backgrounded.
type PresenceState string

const (
	PresenceOnline PresenceState = "online"
	PresenceIdle   PresenceState = "idle"
)

// Viewer is the per-room presence record. It is created on join, updated on
// visibility changes and removed either explicitly on leave or by the
// store's disconnect cleanup when the session drops without notice.
type Viewer struct {
	UserID        string        `json:"userId"`
	State         PresenceState `json:"state"`
	LastChangedAt int64         `json:"lastChangedAt"`
}

// ChatEntryType distinguishes ordinary messages from system announcements.
type ChatEntryType string

const (
	ChatMsg    ChatEntryType = "msg"
	ChatSystem ChatEntryType = "bid"
)

// ChatEntry is one line of the room chat log.
type ChatEntry struct {
	User   string        `json:"user,omitempty"`
	Text   string        `json:"text"`
	IsHost bool          `json:"isHost,omitempty"`
	Type   ChatEntryType `json:"type"`
	SentAt int64         `json:"sentAt"`
}
