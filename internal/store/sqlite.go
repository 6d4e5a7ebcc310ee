package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/crewbase/onramp/internal/types"
)

// SQLiteStore is the SQLite-backed progression database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore instance.
// It initializes the database with WAL mode, applies pragmas, and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// enablePragmas sets SQLite pragmas for optimal performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SetDone toggles the done flag for a record, creating it on first
// write. Only the progress field group is touched: a concurrent
// approval write to the same row cannot be lost. completed_at is set
// on the false->true transition and cleared on true->false; repeated
// writes of the same value keep the original timestamp.
func (s *SQLiteStore) SetDone(ctx context.Context, key types.RecordKey, done bool, at time.Time) error {
	atStr := at.UTC().Format(time.RFC3339)
	doneInt := boolInt(done)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_records (trainee_id, section_id, task_id, done, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, CASE WHEN ? = 1 THEN ? END, ?, ?)
		ON CONFLICT(trainee_id, section_id, task_id) DO UPDATE SET
			done = excluded.done,
			completed_at = CASE
				WHEN excluded.done = 1 AND task_records.done = 0 THEN excluded.updated_at
				WHEN excluded.done = 0 THEN NULL
				ELSE task_records.completed_at
			END,
			updated_at = excluded.updated_at
	`, key.TraineeID, key.SectionID, key.TaskID, doneInt, doneInt, atStr, atStr, atStr)
	if err != nil {
		return fmt.Errorf("set done: %w", err)
	}
	return nil
}

// RecordTimedRun folds one timed run into the stored aggregate. The
// new best/avg/count are computed from the previous stored values
// inside a transaction, never from a full run history, so the write
// stays O(1). A run always marks the task done.
func (s *SQLiteStore) RecordTimedRun(ctx context.Context, key types.RecordKey, durationMs int64, at time.Time) (*types.TimerStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var best sql.NullInt64
	var avg sql.NullFloat64
	var count int
	var done int
	err = tx.QueryRowContext(ctx, `
		SELECT best_duration_ms, avg_duration_ms, run_count, done
		FROM task_records
		WHERE trainee_id = ? AND section_id = ? AND task_id = ?
	`, key.TraineeID, key.SectionID, key.TaskID).Scan(&best, &avg, &count, &done)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("read timer aggregate: %w", err)
	}

	stats := types.TimerStats{
		LastDurationMs: durationMs,
		BestDurationMs: durationMs,
		AvgDurationMs:  float64(durationMs),
		RunCount:       count + 1,
	}
	if count > 0 {
		if best.Valid && best.Int64 < durationMs {
			stats.BestDurationMs = best.Int64
		}
		if avg.Valid {
			stats.AvgDurationMs = (avg.Float64*float64(count) + float64(durationMs)) / float64(count+1)
		}
	}

	atStr := at.UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_records (
			trainee_id, section_id, task_id, done, completed_at,
			last_duration_ms, best_duration_ms, avg_duration_ms, run_count,
			created_at, updated_at
		) VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trainee_id, section_id, task_id) DO UPDATE SET
			done = 1,
			completed_at = CASE
				WHEN task_records.done = 0 THEN excluded.updated_at
				ELSE task_records.completed_at
			END,
			last_duration_ms = excluded.last_duration_ms,
			best_duration_ms = excluded.best_duration_ms,
			avg_duration_ms = excluded.avg_duration_ms,
			run_count = excluded.run_count,
			updated_at = excluded.updated_at
	`, key.TraineeID, key.SectionID, key.TaskID, atStr,
		stats.LastDurationMs, stats.BestDurationMs, stats.AvgDurationMs, stats.RunCount,
		atStr, atStr)
	if err != nil {
		return nil, fmt.Errorf("write timer aggregate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return &stats, nil
}

// SetApproved writes the approval field group. Granting an approval is
// a transactional check-and-set: the record's done flag is read inside
// the same transaction and a not-done task fails with
// ErrPreconditionFailed. Revoking is always allowed.
func (s *SQLiteStore) SetApproved(ctx context.Context, key types.RecordKey, approved bool, approverID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if approved {
		var done int
		err = tx.QueryRowContext(ctx, `
			SELECT done FROM task_records
			WHERE trainee_id = ? AND section_id = ? AND task_id = ?
		`, key.TraineeID, key.SectionID, key.TaskID).Scan(&done)
		if err == sql.ErrNoRows || (err == nil && done == 0) {
			return ErrPreconditionFailed
		}
		if err != nil {
			return fmt.Errorf("read done flag: %w", err)
		}
	}

	atStr := at.UTC().Format(time.RFC3339)
	approvedInt := boolInt(approved)
	var approvedAt, approvedBy any
	if approved {
		approvedAt = atStr
		approvedBy = approverID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_records (trainee_id, section_id, task_id, approved, approved_at, approved_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trainee_id, section_id, task_id) DO UPDATE SET
			approved = excluded.approved,
			approved_at = excluded.approved_at,
			approved_by = excluded.approved_by,
			updated_at = excluded.updated_at
	`, key.TraineeID, key.SectionID, key.TaskID, approvedInt, approvedAt, approvedBy, atStr, atStr)
	if err != nil {
		return fmt.Errorf("set approved: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const recordColumns = `
	trainee_id, section_id, task_id,
	done, completed_at,
	last_duration_ms, best_duration_ms, avg_duration_ms, run_count,
	approved, approved_at, approved_by,
	created_at, updated_at`

// GetRecord retrieves a single record by composite key.
func (s *SQLiteStore) GetRecord(ctx context.Context, key types.RecordKey) (*types.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM task_records
		WHERE trainee_id = ? AND section_id = ? AND task_id = ?
	`, key.TraineeID, key.SectionID, key.TaskID)

	rec, err := scanTaskRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan row: %w", err)
	}
	return rec, nil
}

// ListRecords returns every record for a trainee across all sections.
func (s *SQLiteStore) ListRecords(ctx context.Context, traineeID string) ([]types.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM task_records
		WHERE trainee_id = ?
		ORDER BY section_id, task_id
	`, traineeID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListSectionRecords returns a trainee's records for one section.
func (s *SQLiteStore) ListSectionRecords(ctx context.Context, traineeID, sectionID string) ([]types.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM task_records
		WHERE trainee_id = ? AND section_id = ?
		ORDER BY task_id
	`, traineeID, sectionID)
	if err != nil {
		return nil, fmt.Errorf("query section records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// CountRecords returns the total number of task records.
func (s *SQLiteStore) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_records").Scan(&count)
	return count, err
}

func collectRecords(rows *sql.Rows) ([]types.TaskRecord, error) {
	var records []types.TaskRecord
	for rows.Next() {
		rec, err := scanTaskRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// scanTaskRecord scans a row into a TaskRecord, handling nullable
// timer and approval columns.
func scanTaskRecord(scanner interface{ Scan(...any) error }) (*types.TaskRecord, error) {
	var rec types.TaskRecord
	var done, approved int
	var completedAt, approvedAt, approvedBy sql.NullString
	var lastMs, bestMs sql.NullInt64
	var avgMs sql.NullFloat64
	var createdAt, updatedAt string

	err := scanner.Scan(
		&rec.TraineeID, &rec.SectionID, &rec.TaskID,
		&done, &completedAt,
		&lastMs, &bestMs, &avgMs, &rec.RunCount,
		&approved, &approvedAt, &approvedBy,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Done = done == 1
	rec.Approved = approved == 1
	if completedAt.Valid {
		rec.CompletedAt = parseTimePtr(completedAt.String)
	}
	if approvedAt.Valid {
		rec.ApprovedAt = parseTimePtr(approvedAt.String)
	}
	if approvedBy.Valid {
		rec.ApprovedBy = approvedBy.String
	}
	if lastMs.Valid {
		rec.LastDurationMs = &lastMs.Int64
	}
	if bestMs.Valid {
		rec.BestDurationMs = &bestMs.Int64
	}
	if avgMs.Valid {
		rec.AvgDurationMs = &avgMs.Float64
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}

	return &rec, nil
}

func parseTimePtr(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
