// Package history archives settled auctions in Postgres. The room store is
// ephemeral working state; this table is the permanent record.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dibslive/dibs/go/internal/models"
)

// Repository persists and queries auction history rows.
type Repository struct {
	db *sql.DB
}

// NewRepository returns a history repository over db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes one settled-auction row. Item and top bidders are stored as
// JSON documents; the queryable columns are the room, winner, price and time.
func (r *Repository) Insert(ctx context.Context, entry models.HistoryEntry) error {
	itemJSON, err := json.Marshal(entry.Item)
	if err != nil {
		return fmt.Errorf("failed to marshal item snapshot: %w", err)
	}
	biddersJSON, err := json.Marshal(entry.TopBidders)
	if err != nil {
		return fmt.Errorf("failed to marshal top bidders: %w", err)
	}

	const q = `
		INSERT INTO auction_history (id, room_id, item, final_price, winner, top_bidders, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, q,
		entry.ID, entry.RoomID, itemJSON, entry.FinalPrice, entry.Winner, biddersJSON, entry.SettledAt,
	); err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// ListByRoom returns the room's settled auctions, newest first.
func (r *Repository) ListByRoom(ctx context.Context, roomID string, limit int) ([]models.HistoryEntry, error) {
	const q = `
		SELECT id, room_id, item, final_price, winner, top_bidders, settled_at
		FROM auction_history
		WHERE room_id = $1
		ORDER BY settled_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, q, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []models.HistoryEntry
	for rows.Next() {
		var (
			entry       models.HistoryEntry
			itemJSON    []byte
			biddersJSON []byte
		)
		if err := rows.Scan(&entry.ID, &entry.RoomID, &itemJSON, &entry.FinalPrice, &entry.Winner, &biddersJSON, &entry.SettledAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if err := json.Unmarshal(itemJSON, &entry.Item); err != nil {
			return nil, fmt.Errorf("failed to decode item snapshot: %w", err)
		}
		if len(biddersJSON) > 0 {
			if err := json.Unmarshal(biddersJSON, &entry.TopBidders); err != nil {
				return nil, fmt.Errorf("failed to decode top bidders: %w", err)
			}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history rows: %w", err)
	}
	return out, nil
}
