// Package eventcfg manages the global event configuration: which room is
// currently live, the event time window and the maintenance switch.
package eventcfg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dibslive/dibs/go/internal/store"
)

// Config is the single global configuration document.
type Config struct {
	ActiveRoomID      string `json:"active_room_id"`
	StartTime         int64  `json:"startTime"` // unix millis
	EndTime           int64  `json:"endTime"`   // unix millis
	IsMaintenanceMode bool   `json:"isMaintenanceMode"`
}

// Manager reads and mutates the event configuration.
type Manager struct {
	store store.Store
}

// NewManager returns an event config manager.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// Get returns the current configuration; a missing document reads as the
// zero config (no active room, maintenance off).
func (m *Manager) Get(ctx context.Context) (Config, error) {
	raw, err := m.store.Read(ctx, store.EventConfigPath())
	if errors.Is(err, store.ErrNotFound) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read event config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("event config unreadable: %w", err)
	}
	return cfg, nil
}

// Update applies mutate atomically to the configuration document.
func (m *Manager) Update(ctx context.Context, mutate func(*Config)) (Config, error) {
	var updated Config
	_, err := m.store.AtomicUpdate(ctx, store.EventConfigPath(), func(current []byte) ([]byte, bool) {
		var cfg Config
		if current != nil {
			if err := json.Unmarshal(current, &cfg); err != nil {
				log.Error().Err(err).Msg("event config unreadable, resetting")
				cfg = Config{}
			}
		}
		mutate(&cfg)
		updated = cfg

		next, err := json.Marshal(cfg)
		if err != nil {
			return nil, false
		}
		return next, true
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to update event config: %w", err)
	}
	return updated, nil
}

// SetActiveRoom points the event at a room.
func (m *Manager) SetActiveRoom(ctx context.Context, roomID string) (Config, error) {
	return m.Update(ctx, func(cfg *Config) {
		cfg.ActiveRoomID = roomID
	})
}

// ExtendEndTime pushes the event end out by delta, anchored at now when the
// previous end already passed.
func (m *Manager) ExtendEndTime(ctx context.Context, now time.Time, delta time.Duration) (Config, error) {
	return m.Update(ctx, func(cfg *Config) {
		base := time.UnixMilli(cfg.EndTime)
		if base.Before(now) {
			base = now
		}
		cfg.EndTime = base.Add(delta).UnixMilli()
	})
}

// SetMaintenance flips the maintenance switch.
func (m *Manager) SetMaintenance(ctx context.Context, on bool) (Config, error) {
	return m.Update(ctx, func(cfg *Config) {
		cfg.IsMaintenanceMode = on
	})
}

// Open reports whether the event accepts traffic at now: maintenance off and
// now inside the [start, end) window when one is set.
func (c Config) Open(now time.Time) bool {
	if c.IsMaintenanceMode {
		return false
	}
	nowMs := now.UnixMilli()
	if c.StartTime > 0 && nowMs < c.StartTime {
		return false
	}
	if c.EndTime > 0 && nowMs >= c.EndTime {
		return false
	}
	return true
}
