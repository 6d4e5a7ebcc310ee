package store

import (
	"context"
	"fmt"
	"time"

	"github.com/crewbase/onramp/internal/types"
)

// AppendChange appends one entry to the change log and returns its
// assigned sequence number. The log is the at-least-once replay source
// for clients that were offline when the in-process bus delivered.
func (s *SQLiteStore) AppendChange(ctx context.Context, event *types.ChangeEvent) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO change_log (event_id, scope, record_key, operation, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, event.ID, string(event.Scope), event.RecordKey, event.Operation, event.ActorID,
		event.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return result.LastInsertId()
}

// ChangesAfter returns entries with sequence > afterSeq, up to limit,
// in sequence order.
func (s *SQLiteStore) ChangesAfter(ctx context.Context, afterSeq int64, limit int) ([]types.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, event_id, scope, record_key, operation, actor_id, created_at
		FROM change_log
		WHERE sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query change log: %w", err)
	}
	defer rows.Close()

	var events []types.ChangeEvent
	for rows.Next() {
		var ev types.ChangeEvent
		var scope, createdAt string
		if err := rows.Scan(&ev.Sequence, &ev.ID, &scope, &ev.RecordKey, &ev.Operation, &ev.ActorID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		ev.Scope = types.Scope(scope)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			ev.CreatedAt = t
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return events, nil
}

// LatestSequence returns the highest assigned change sequence, or 0
// for an empty log.
func (s *SQLiteStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(sequence), 0) FROM change_log").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query latest sequence: %w", err)
	}
	return seq, nil
}
