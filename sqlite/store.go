// Package sqlite provides a CheckpointStore backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/finflow-ai/payable"
)

// Store is a CheckpointStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type Store struct {
	db *sql.DB
}

// Ensure Store implements CheckpointStore.
var _ payable.CheckpointStore = (*Store)(nil)

// NewStore initializes the required schema in the given database and
// returns a new Store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			invoice_id TEXT NOT NULL,
			state BLOB NOT NULL,
			paused_reason TEXT NOT NULL,
			created_at TEXT NOT NULL,
			status TEXT NOT NULL,
			decision TEXT,
			reviewer_id TEXT,
			notes TEXT,
			decided_at TEXT
		);
		CREATE TABLE IF NOT EXISTS review_queue (
			checkpoint_id TEXT PRIMARY KEY REFERENCES checkpoints(checkpoint_id),
			invoice_id TEXT NOT NULL,
			vendor_name TEXT,
			amount REAL NOT NULL,
			currency TEXT,
			reason_for_hold TEXT NOT NULL,
			review_url TEXT,
			created_at TEXT NOT NULL
		);`,
	)
	return err
}

// Create inserts the checkpoint and its review queue entry in one
// transaction, so a queue entry never exists without its checkpoint.
func (s *Store) Create(ctx context.Context, checkpoint *payable.Checkpoint, entry *payable.ReviewQueueEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM checkpoints WHERE checkpoint_id = ?`, checkpoint.ID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return payable.NewError(payable.ErrorTypeDuplicateCheckpoint, "checkpoint %s already exists", checkpoint.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, workflow_id, invoice_id, state, paused_reason, created_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		checkpoint.ID,
		checkpoint.WorkflowID,
		checkpoint.InvoiceID,
		checkpoint.State,
		checkpoint.PausedReason,
		checkpoint.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(checkpoint.Status),
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO review_queue (checkpoint_id, invoice_id, vendor_name, amount, currency, reason_for_hold, review_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CheckpointID,
		entry.InvoiceID,
		entry.VendorName,
		entry.Amount,
		entry.Currency,
		entry.Reason,
		entry.ReviewURL,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) Get(ctx context.Context, checkpointID string) (*payable.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id, workflow_id, invoice_id, state, paused_reason, created_at, status, decision, reviewer_id, notes, decided_at
		FROM checkpoints
		WHERE checkpoint_id = ?`,
		checkpointID,
	)
	checkpoint, err := scanCheckpoint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, payable.NewError(payable.ErrorTypeCheckpointNotFound, "checkpoint %s not found", checkpointID)
		}
		return nil, err
	}
	return checkpoint, nil
}

// ListPending returns pending review queue entries, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]*payable.ReviewQueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.checkpoint_id, q.invoice_id, q.vendor_name, q.amount, q.currency, q.reason_for_hold, q.review_url, q.created_at
		FROM review_queue q
		JOIN checkpoints c ON c.checkpoint_id = q.checkpoint_id
		WHERE c.status = ?
		ORDER BY q.created_at ASC`,
		string(payable.CheckpointPending),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*payable.ReviewQueueEntry
	for rows.Next() {
		var entry payable.ReviewQueueEntry
		var vendorName, currency, reviewURL sql.NullString
		var createdAt string
		if err := rows.Scan(
			&entry.CheckpointID,
			&entry.InvoiceID,
			&vendorName,
			&entry.Amount,
			&currency,
			&entry.Reason,
			&reviewURL,
			&createdAt,
		); err != nil {
			return nil, err
		}
		entry.VendorName = vendorName.String
		entry.Currency = currency.String
		entry.ReviewURL = reviewURL.String
		entry.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, err
		}
		copied := entry
		entries = append(entries, &copied)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListResolved returns resolved checkpoints, most recently decided first.
func (s *Store) ListResolved(ctx context.Context) ([]*payable.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT checkpoint_id, workflow_id, invoice_id, state, paused_reason, created_at, status, decision, reviewer_id, notes, decided_at
		FROM checkpoints
		WHERE status = ?
		ORDER BY decided_at DESC`,
		string(payable.CheckpointResolved),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var resolved []*payable.Checkpoint
	for rows.Next() {
		checkpoint, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, checkpoint)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return resolved, nil
}

// Resolve records the decision on a pending checkpoint. The update is
// conditional on PENDING status, so a second resolution never overwrites
// the first.
func (s *Store) Resolve(ctx context.Context, checkpointID string, decision payable.Decision, reviewerID, notes string) (*payable.Checkpoint, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE checkpoints
		SET status = ?, decision = ?, reviewer_id = ?, notes = ?, decided_at = ?
		WHERE checkpoint_id = ? AND status = ?`,
		string(payable.CheckpointResolved),
		string(decision),
		reviewerID,
		notes,
		time.Now().UTC().Format(time.RFC3339Nano),
		checkpointID,
		string(payable.CheckpointPending),
	)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Either the checkpoint does not exist or it was already resolved.
		existing, err := s.Get(ctx, checkpointID)
		if err != nil {
			return nil, err
		}
		if existing.Status == payable.CheckpointResolved {
			return nil, payable.NewError(payable.ErrorTypeAlreadyResolved, "checkpoint %s already resolved", checkpointID)
		}
		return nil, payable.NewError(payable.ErrorTypeCheckpointNotFound, "checkpoint %s not found", checkpointID)
	}

	return s.Get(ctx, checkpointID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*payable.Checkpoint, error) {
	var checkpoint payable.Checkpoint
	var statusStr, createdAt string
	var decision, reviewerID, notes, decidedAt sql.NullString

	if err := row.Scan(
		&checkpoint.ID,
		&checkpoint.WorkflowID,
		&checkpoint.InvoiceID,
		&checkpoint.State,
		&checkpoint.PausedReason,
		&createdAt,
		&statusStr,
		&decision,
		&reviewerID,
		&notes,
		&decidedAt,
	); err != nil {
		return nil, err
	}

	checkpoint.Status = payable.CheckpointStatus(statusStr)
	checkpoint.Decision = payable.Decision(decision.String)
	checkpoint.ReviewerID = reviewerID.String
	checkpoint.Notes = notes.String

	var err error
	checkpoint.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid && decidedAt.String != "" {
		checkpoint.DecidedAt, err = time.Parse(time.RFC3339Nano, decidedAt.String)
		if err != nil {
			return nil, err
		}
	}
	return &checkpoint, nil
}
