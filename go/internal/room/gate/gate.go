// Package gate is the restriction gate: a pure mapping from
// (role, restrictions, action) to allow/deny. It has no dependencies and no
// side effects; the gateway runs it before any command touches room state.
package gate

import (
	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
)

// Action is the closed set of gated command classes.
type Action string

const (
	ActionChat         Action = "chat"
	ActionBid          Action = "bid"
	ActionStartAuction Action = "startAuction"
	ActionStopAuction  Action = "stopAuction"
	ActionModerate     Action = "moderate"
)

// Check returns nil when the action is allowed, or a roomerr.ErrPermissionDenied
// carrying the reason. Denial is terminal for the command; the caller
// surfaces the reason to the user instead of retrying.
func Check(role models.Role, restrictions models.Restrictions, action Action) error {
	// A kicked session is denied everything, including actions that would
	// otherwise be role-permitted. Kick is also enforced at session
	// re-validation so a kicked client cannot rejoin.
	if restrictions.IsKicked {
		return roomerr.Deniedf("you have been removed from this room")
	}

	switch action {
	case ActionChat:
		if restrictions.IsMuted {
			return roomerr.Deniedf("you are muted")
		}
		return nil
	case ActionBid:
		if restrictions.IsBidBanned {
			return roomerr.Deniedf("you are banned from bidding")
		}
		return nil
	case ActionStartAuction, ActionStopAuction:
		if role != models.RoleHost {
			return roomerr.Deniedf("only the host can control auctions")
		}
		return nil
	case ActionModerate:
		if role != models.RoleHost && role != models.RoleModerator {
			return roomerr.Deniedf("moderator access required")
		}
		return nil
	default:
		return roomerr.Deniedf("unknown action %q", action)
	}
}
