package store

import (
	"context"
	"fmt"
	"time"

	"github.com/crewbase/onramp/internal/types"
)

// UpsertStore creates or renames a roster store.
func (s *SQLiteStore) UpsertStore(ctx context.Context, info types.StoreInfo) error {
	createdAt := info.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (id, name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, info.ID, info.Name, createdAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert store: %w", err)
	}
	return nil
}

// UpsertTrainee creates or updates a roster membership record. This is
// the single authoritative membership lookup: storePercent reads the
// active set from here and nowhere else.
func (s *SQLiteStore) UpsertTrainee(ctx context.Context, trainee types.Trainee) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trainees (id, store_id, display_name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			store_id = excluded.store_id,
			display_name = excluded.display_name,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, trainee.ID, trainee.StoreID, trainee.DisplayName, boolInt(trainee.Active), now, now)
	if err != nil {
		return fmt.Errorf("upsert trainee: %w", err)
	}
	return nil
}

// ActiveTrainees returns the IDs of trainees currently active at a store.
func (s *SQLiteStore) ActiveTrainees(ctx context.Context, storeID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM trainees
		WHERE store_id = ? AND active = 1
		ORDER BY id
	`, storeID)
	if err != nil {
		return nil, fmt.Errorf("query active trainees: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return ids, nil
}
