package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SyncRun is one row of the sync log.
type SyncRun struct {
	RunID      string
	StartedAt  string
	FinishedAt string
	Watermark  string
	Fetched    int
	Applied    int
	Error      string
}

// Succeeded reports whether the run finished without error.
func (r SyncRun) Succeeded() bool {
	return r.Error == ""
}

// RecordSyncRun appends a finished sync cycle to the log.
func (db *DB) RecordSyncRun(ctx context.Context, run SyncRun) error {
	var errText sql.NullString
	if run.Error != "" {
		errText = sql.NullString{String: run.Error, Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO sync_log (run_id, started_at, finished_at, watermark, fetched, applied, error)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.StartedAt, run.FinishedAt, run.Watermark, run.Fetched, run.Applied, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record sync run %s: %w", run.RunID, err)
	}
	return nil
}

// LastSyncRun returns the most recently finished sync cycle.
// Returns ErrNotFound if no sync has run yet.
func (db *DB) LastSyncRun(ctx context.Context) (*SyncRun, error) {
	row := db.conn.QueryRowContext(ctx, `
	SELECT run_id, started_at, finished_at, watermark, fetched, applied, error
	FROM sync_log
	ORDER BY finished_at DESC, rowid DESC
	LIMIT 1`)

	var run SyncRun
	var errText sql.NullString
	err := row.Scan(&run.RunID, &run.StartedAt, &run.FinishedAt, &run.Watermark,
		&run.Fetched, &run.Applied, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no sync runs", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last sync run: %w", err)
	}
	run.Error = errText.String
	return &run, nil
}
