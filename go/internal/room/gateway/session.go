package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/roomerr"
	"github.com/dibslive/dibs/go/internal/store"
)

// SessionValidator resolves session keys back to verified identities. The
// key is the only credential a client presents on connect; everything else
// (user id, role, restrictions) comes from the server-side audience entry.
type SessionValidator struct {
	store store.Store
}

// NewSessionValidator returns a validator over the given store.
func NewSessionValidator(st store.Store) *SessionValidator {
	return &SessionValidator{store: st}
}

// Validate resolves sessionKey for roomID. An unknown key or a kicked entry
// fails validation; the client must go back through login.
func (v *SessionValidator) Validate(ctx context.Context, roomID, sessionKey string) (models.Session, error) {
	if sessionKey == "" {
		return models.Session{}, roomerr.Validationf("session key is required")
	}

	raw, err := v.store.Read(ctx, store.AudienceEntryPath(roomID, sessionKey))
	if errors.Is(err, store.ErrNotFound) {
		return models.Session{}, roomerr.Deniedf("session not recognized, please rejoin")
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to read session: %w", err)
	}

	var entry models.AudienceEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.Session{}, roomerr.Invariantf("audience entry unreadable: %v", err)
	}
	if entry.Restrictions.IsKicked {
		return models.Session{}, roomerr.Deniedf("you have been removed from this room")
	}

	return models.Session{
		RoomID:       roomID,
		SessionKey:   sessionKey,
		UserID:       entry.UserID,
		Role:         entry.Role,
		Restrictions: entry.Restrictions,
	}, nil
}
