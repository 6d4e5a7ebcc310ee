package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertSectionApproval writes the materialized rollup for one
// (trainee, section). The rollup is derived state; writing it is
// idempotent and safe from any actor.
func (s *SQLiteStore) UpsertSectionApproval(ctx context.Context, traineeID, sectionID string, approved bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO section_approvals (trainee_id, section_id, approved, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(trainee_id, section_id) DO UPDATE SET
			approved = excluded.approved,
			updated_at = excluded.updated_at
	`, traineeID, sectionID, boolInt(approved), at.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert section approval: %w", err)
	}
	return nil
}

// GetSectionApproval returns the cached rollup for one section.
// An absent row reads as not approved.
func (s *SQLiteStore) GetSectionApproval(ctx context.Context, traineeID, sectionID string) (bool, error) {
	var approved int
	err := s.db.QueryRowContext(ctx, `
		SELECT approved FROM section_approvals
		WHERE trainee_id = ? AND section_id = ?
	`, traineeID, sectionID).Scan(&approved)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query section approval: %w", err)
	}
	return approved == 1, nil
}

// GetSectionApprovals returns all cached rollups for a trainee, keyed
// by section ID. Sections with no row are simply absent (not approved).
func (s *SQLiteStore) GetSectionApprovals(ctx context.Context, traineeID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT section_id, approved FROM section_approvals
		WHERE trainee_id = ?
	`, traineeID)
	if err != nil {
		return nil, fmt.Errorf("query section approvals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var sectionID string
		var approved int
		if err := rows.Scan(&sectionID, &approved); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out[sectionID] = approved == 1
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}
