package models

// Role is the verified role a session carries into a room.
type Role string

const (
	RoleHost      Role = "host"
	RoleModerator Role = "moderator"
	RoleAudience  Role = "audience"
)

// Restrictions are the per-user, per-room moderation flags. They are read by
// the restriction gate on every chat/bid command and mutated only by
// host/moderator sessions.
type Restrictions struct {
	IsMuted     bool `json:"isMuted"`
	IsBidBanned bool `json:"isBidBanned"`
	IsKicked    bool `json:"isKicked"`
}

// RestrictionKind names a single restriction flag for moderation commands.
type RestrictionKind string

const (
	RestrictionMute   RestrictionKind = "isMuted"
	RestrictionBidBan RestrictionKind = "isBidBanned"
	RestrictionKick   RestrictionKind = "isKicked"
)

// AudienceEntry is the session record stored under audience_data. The db key
// (session key) is handed to the client at login and resolved back to a
// verified identity on every reconnect.
type AudienceEntry struct {
	UserID       string       `json:"userId"`
	Email        string       `json:"email,omitempty"`
	Role         Role         `json:"role"`
	JoinedAt     int64        `json:"joinedAt"`
	Restrictions Restrictions `json:"restrictions"`
}

// Session is a verified (room, user, role) triple plus the restrictions that
// were current at validation time.
type Session struct {
	RoomID       string
	SessionKey   string
	UserID       string
	Role         Role
	Restrictions Restrictions
}
