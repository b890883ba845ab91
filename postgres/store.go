// Package postgres provides a CheckpointStore backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/finflow-ai/payable"
)

// Store is a CheckpointStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// Ensure Store implements CheckpointStore.
var _ payable.CheckpointStore = (*Store)(nil)

// Open connects via lib/pq, initializes the schema and returns a Store.
// The caller owns the returned store's lifecycle; Close releases the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return NewStore(db)
}

// NewStore initializes the required schema in the given database and
// returns a new Store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			invoice_id TEXT NOT NULL,
			state BYTEA NOT NULL,
			paused_reason TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			decision TEXT,
			reviewer_id TEXT,
			notes TEXT,
			decided_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS review_queue (
			checkpoint_id TEXT PRIMARY KEY REFERENCES checkpoints(checkpoint_id),
			invoice_id TEXT NOT NULL,
			vendor_name TEXT,
			amount DOUBLE PRECISION NOT NULL,
			currency TEXT,
			reason_for_hold TEXT NOT NULL,
			review_url TEXT,
			created_at TIMESTAMPTZ NOT NULL
		);
	`)
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

	res, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (checkpoint_id, workflow_id, invoice_id, state, paused_reason, created_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (checkpoint_id) DO NOTHING
	`,
		checkpoint.ID,
		checkpoint.WorkflowID,
		checkpoint.InvoiceID,
		checkpoint.State,
		checkpoint.PausedReason,
		checkpoint.CreatedAt.UTC(),
		string(checkpoint.Status),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return payable.NewError(payable.ErrorTypeDuplicateCheckpoint, "checkpoint %s already exists", checkpoint.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO review_queue (checkpoint_id, invoice_id, vendor_name, amount, currency, reason_for_hold, review_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		entry.CheckpointID,
		entry.InvoiceID,
		entry.VendorName,
		entry.Amount,
		entry.Currency,
		entry.Reason,
		entry.ReviewURL,
		entry.CreatedAt.UTC(),
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
		WHERE checkpoint_id = $1
	`, checkpointID)
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
		WHERE c.status = $1
		ORDER BY q.created_at ASC
	`, string(payable.CheckpointPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*payable.ReviewQueueEntry
	for rows.Next() {
		var entry payable.ReviewQueueEntry
		var vendorName, currency, reviewURL sql.NullString
		if err := rows.Scan(
			&entry.CheckpointID,
			&entry.InvoiceID,
			&vendorName,
			&entry.Amount,
			&currency,
			&entry.Reason,
			&reviewURL,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entry.VendorName = vendorName.String
		entry.Currency = currency.String
		entry.ReviewURL = reviewURL.String
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
		WHERE status = $1
		ORDER BY decided_at DESC
	`, string(payable.CheckpointResolved))
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
		SET status      = $1,
		    decision    = $2,
		    reviewer_id = $3,
		    notes       = $4,
		    decided_at  = $5
		WHERE checkpoint_id = $6 AND status = $7
	`,
		string(payable.CheckpointResolved),
		string(decision),
		reviewerID,
		notes,
		time.Now().UTC(),
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
	var statusStr string
	var decision, reviewerID, notes sql.NullString
	var decidedAt sql.NullTime

	if err := row.Scan(
		&checkpoint.ID,
		&checkpoint.WorkflowID,
		&checkpoint.InvoiceID,
		&checkpoint.State,
		&checkpoint.PausedReason,
		&checkpoint.CreatedAt,
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
	if decidedAt.Valid {
		checkpoint.DecidedAt = decidedAt.Time
	}
	return &checkpoint, nil
}
