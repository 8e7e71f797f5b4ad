package gate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name         string
		role         models.Role
		restrictions models.Restrictions
		action       Action
		wantDenied   bool
	}{
		{
			name:   "audience can chat",
			role:   models.RoleAudience,
			action: ActionChat,
		},
		{
			name:         "muted cannot chat",
			role:         models.RoleAudience,
			restrictions: models.Restrictions{IsMuted: true},
			action:       ActionChat,
			wantDenied:   true,
		},
		{
			name:         "muted can still bid",
			role:         models.RoleAudience,
			restrictions: models.Restrictions{IsMuted: true},
			action:       ActionBid,
		},
		{
			name:         "bid banned cannot bid",
			role:         models.RoleAudience,
			restrictions: models.Restrictions{IsBidBanned: true},
			action:       ActionBid,
			wantDenied:   true,
		},
		{
			name:         "bid banned can still chat",
			role:         models.RoleAudience,
			restrictions: models.Restrictions{IsBidBanned: true},
			action:       ActionChat,
		},
		{
			name:         "kicked is denied everything",
			role:         models.RoleHost,
			restrictions: models.Restrictions{IsKicked: true},
			action:       ActionStartAuction,
			wantDenied:   true,
		},
		{
			name:       "audience cannot start auctions",
			role:       models.RoleAudience,
			action:     ActionStartAuction,
			wantDenied: true,
		},
		{
			name:       "moderator cannot stop auctions",
			role:       models.RoleModerator,
			action:     ActionStopAuction,
			wantDenied: true,
		},
		{
			name:   "host starts auctions",
			role:   models.RoleHost,
			action: ActionStartAuction,
		},
		{
			name:   "host moderates",
			role:   models.RoleHost,
			action: ActionModerate,
		},
		{
			name:   "moderator moderates",
			role:   models.RoleModerator,
			action: ActionModerate,
		},
		{
			name:       "audience cannot moderate",
			role:       models.RoleAudience,
			action:     ActionModerate,
			wantDenied: true,
		},
		{
			name:       "unknown action is denied",
			role:       models.RoleHost,
			action:     Action("destroyRoom"),
			wantDenied: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.role, tt.restrictions, tt.action)
			if tt.wantDenied {
				require.Error(t, err)
				require.True(t, errors.Is(err, roomerr.ErrPermissionDenied))
			} else {
				require.NoError(t, err)
			}
		})
	}
}
