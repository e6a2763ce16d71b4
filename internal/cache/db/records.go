package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ncruces/go-sqlite3"

	"github.com/falcon/restaurants/internal/cache/live"
	"github.com/falcon/restaurants/internal/cache/schema"
)

// Op is the write an upsert dispatches to.
type Op int

const (
	// OpInsert adds a record whose id is not stored yet.
	OpInsert Op = iota
	// OpUpdate overwrites the stored record with the same id.
	OpUpdate
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// DecideOp is the upsert merge policy: existence of the id, not a version
// comparison, picks insert or update. A stored record with a newer
// updated_at is still overwritten.
func DecideOp(exists bool) Op {
	if exists {
		return OpUpdate
	}
	return OpInsert
}

// UpsertResult reports what an upsert did.
type UpsertResult struct {
	Op Op
	// RowID is the new rowid for an insert and the number of rows affected
	// for an update.
	RowID int64
}

const recordColumns = `id, parent_id, name, image_url, active, updated_at`

// Insert adds a new record.
//
// Fails with ErrConstraintViolation if the id is already stored; callers
// that do not know should use Upsert.
func (db *DB) Insert(r schema.Record) (int64, error) {
	return db.InsertContext(context.Background(), r)
}

// InsertContext adds a new record with context support.
func (db *DB) InsertContext(ctx context.Context, r schema.Record) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if db.closed {
		return 0, ErrClosed
	}

	rowID, err := db.insertLocked(ctx, r)
	if err != nil {
		return 0, err
	}
	db.notifyLocked(ctx)
	return rowID, nil
}

// Update overwrites every column of the record with the same id.
//
// An unknown id affects zero rows and is not an error.
func (db *DB) Update(r schema.Record) (int64, error) {
	return db.UpdateContext(context.Background(), r)
}

// UpdateContext overwrites a record with context support.
func (db *DB) UpdateContext(ctx context.Context, r schema.Record) (int64, error) {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if db.closed {
		return 0, ErrClosed
	}

	n, err := db.updateLocked(ctx, r)
	if err != nil {
		return 0, err
	}
	db.notifyLocked(ctx)
	return n, nil
}

// Exists reports whether a record with r's id is stored.
func (db *DB) Exists(r schema.Record) (bool, error) {
	return db.ExistsContext(context.Background(), r)
}

// ExistsContext reports whether r's id is stored, with context support.
func (db *DB) ExistsContext(ctx context.Context, r schema.Record) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE id = ?)`, r.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: failed to check record %s: %w", ErrQueryFailure, r.ID, err)
	}
	return exists, nil
}

// Plan returns the operation Upsert would perform for r right now,
// without writing anything.
func (db *DB) Plan(ctx context.Context, r schema.Record) (Op, error) {
	exists, err := db.ExistsContext(ctx, r)
	if err != nil {
		return 0, err
	}
	return DecideOp(exists), nil
}

// Upsert inserts r if its id is new and updates it otherwise.
//
// The existence check and the write happen under the write lock, so two
// concurrent upserts of the same id cannot both insert.
func (db *DB) Upsert(r schema.Record) (UpsertResult, error) {
	return db.UpsertContext(context.Background(), r)
}

// UpsertContext is Upsert with context support.
func (db *DB) UpsertContext(ctx context.Context, r schema.Record) (UpsertResult, error) {
	// Remote rows are stored as delivered; only the key is required.
	if r.ID == "" {
		return UpsertResult{}, fmt.Errorf("invalid record: id is required")
	}

	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if db.closed {
		return UpsertResult{}, ErrClosed
	}

	exists, err := db.ExistsContext(ctx, r)
	if err != nil {
		return UpsertResult{}, err
	}

	result := UpsertResult{Op: DecideOp(exists)}
	switch result.Op {
	case OpUpdate:
		result.RowID, err = db.updateLocked(ctx, r)
	default:
		result.RowID, err = db.insertLocked(ctx, r)
	}
	if err != nil {
		return UpsertResult{}, err
	}

	db.notifyLocked(ctx)
	return result, nil
}

// UpsertAll upserts records one by one in input order.
//
// The batch is not atomic: on error, the records before the failing one
// stay committed and the count of applied records is returned with the
// error. Each record produces its own live snapshot.
func (db *DB) UpsertAll(ctx context.Context, records []schema.Record) (int, error) {
	for i, r := range records {
		if _, err := db.UpsertContext(ctx, r); err != nil {
			return i, fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
		}
	}
	return len(records), nil
}

func (db *DB) insertLocked(ctx context.Context, r schema.Record) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ParentID, r.Name, r.ImageURL, r.Active, r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sqlite3.CONSTRAINT) {
			return 0, fmt.Errorf("%w: record %s already exists: %w", ErrConstraintViolation, r.ID, err)
		}
		return 0, fmt.Errorf("failed to insert record %s: %w", r.ID, err)
	}

	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read rowid for record %s: %w", r.ID, err)
	}
	return rowID, nil
}

func (db *DB) updateLocked(ctx context.Context, r schema.Record) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
	UPDATE records SET
		parent_id = ?,
		name = ?,
		image_url = ?,
		active = ?,
		updated_at = ?
	WHERE id = ?`,
		r.ParentID, r.Name, r.ImageURL, r.Active, r.UpdatedAt, r.ID,
	)
	if err != nil {
		if errors.Is(err, sqlite3.CONSTRAINT) {
			return 0, fmt.Errorf("%w: record %s: %w", ErrConstraintViolation, r.ID, err)
		}
		return 0, fmt.Errorf("failed to update record %s: %w", r.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected for record %s: %w", r.ID, err)
	}
	return n, nil
}

// notifyLocked pushes a fresh snapshot to every live query. The caller holds
// writeMu and has committed its write. Cancellation of the write's context
// must not turn the snapshots into failures, so it is detached here.
func (db *DB) notifyLocked(ctx context.Context) {
	db.live.Notify(context.WithoutCancel(ctx))
}

// GetMaxUpdatedAt returns the largest updated_at stored, or fallback when
// the table is empty. This is the watermark for the next sync.
func (db *DB) GetMaxUpdatedAt(fallback string) (string, error) {
	return db.GetMaxUpdatedAtContext(context.Background(), fallback)
}

// GetMaxUpdatedAtContext returns the watermark with context support.
func (db *DB) GetMaxUpdatedAtContext(ctx context.Context, fallback string) (string, error) {
	var max sql.NullString
	if err := db.conn.QueryRowContext(ctx, `SELECT MAX(updated_at) FROM records`).Scan(&max); err != nil {
		return "", fmt.Errorf("%w: failed to read max updated_at: %w", ErrQueryFailure, err)
	}
	if !max.Valid {
		return fallback, nil
	}
	return max.String, nil
}

// HasChildren reports whether any stored record has parent_id = id.
// A query failure is returned as an error wrapping ErrQueryFailure.
func (db *DB) HasChildren(id string) (bool, error) {
	return db.HasChildrenContext(context.Background(), id)
}

// HasChildrenContext is HasChildren with context support.
func (db *DB) HasChildrenContext(ctx context.Context, id string) (bool, error) {
	var has bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE parent_id = ?)`, id).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("%w: failed to check children of %s: %w", ErrQueryFailure, id, err)
	}
	return has, nil
}

// GetByID retrieves a single record. Returns ErrNotFound for an unknown id.
func (db *DB) GetByID(id string) (*schema.Record, error) {
	return db.GetByIDContext(context.Background(), id)
}

// GetByIDContext retrieves a single record with context support.
func (db *DB) GetByIDContext(ctx context.Context, id string) (*schema.Record, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)

	var r schema.Record
	err := row.Scan(&r.ID, &r.ParentID, &r.Name, &r.ImageURL, &r.Active, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get record %s: %w", ErrQueryFailure, id, err)
	}
	return &r, nil
}

// ListByParentID returns the current children of parentID ordered by
// updated_at ascending, ties in insertion order. This is the one-shot
// evaluation behind the live query.
func (db *DB) ListByParentID(parentID string) ([]schema.Record, error) {
	return db.ListByParentIDContext(context.Background(), parentID)
}

// ListByParentIDContext is ListByParentID with context support.
func (db *DB) ListByParentIDContext(ctx context.Context, parentID string) ([]schema.Record, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT `+recordColumns+`
	FROM records
	WHERE parent_id = ?
	ORDER BY updated_at ASC, rowid ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query records of %s: %w", parentID, err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// GetByParentID starts a live query for the children of parentID.
//
// The subscription delivers the current result first, then one new full
// snapshot after every write to the table (insert or update, direct or
// through Upsert), in write order. Close the subscription or cancel ctx
// when done.
func (db *DB) GetByParentID(ctx context.Context, parentID string) (*live.Subscription, error) {
	// Hold the write lock so no write lands between the initial evaluation
	// and registration.
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if db.closed {
		return nil, ErrClosed
	}
	return db.live.Subscribe(ctx, parentID)
}

// LiveQueries returns the number of active live subscriptions.
func (db *DB) LiveQueries() int {
	return db.live.Active()
}

// Count returns the total number of records.
func (db *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get record count: %w", err)
	}
	return count, nil
}

// CountByParentID returns the number of records directly under parentID.
func (db *DB) CountByParentID(ctx context.Context, parentID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM records WHERE parent_id = ?", parentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count children of %s: %w", parentID, err)
	}
	return count, nil
}

// scanRecords is a helper function to scan multiple records from query results.
func scanRecords(rows *sql.Rows) ([]schema.Record, error) {
	records := []schema.Record{}

	for rows.Next() {
		var r schema.Record
		if err := rows.Scan(&r.ID, &r.ParentID, &r.Name, &r.ImageURL, &r.Active, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}
