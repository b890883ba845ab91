package payable

import (
	"context"
	"sort"
	"sync"
	"time"
)

// CheckpointStatus is the lifecycle state of a checkpoint record.
type CheckpointStatus string

const (
	CheckpointPending  CheckpointStatus = "PENDING"
	CheckpointResolved CheckpointStatus = "RESOLVED"
)

// Checkpoint is the durable snapshot of a paused workflow. It is created
// exactly once when a pause fires, transitions PENDING to RESOLVED exactly
// once when a decision is recorded, and is then immutable: resolution appends
// decision metadata but never deletes the record, which remains the audit
// trail.
type Checkpoint struct {
	ID           string           `json:"checkpoint_id"`
	WorkflowID   string           `json:"workflow_id"`
	InvoiceID    string           `json:"invoice_id"`
	State        []byte           `json:"serialized_state"`
	PausedReason string           `json:"paused_reason"`
	CreatedAt    time.Time        `json:"created_at"`
	Status       CheckpointStatus `json:"status"`

	// Decision metadata, set on resolve.
	Decision   Decision  `json:"decision,omitempty"`
	ReviewerID string    `json:"reviewer_id,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	DecidedAt  time.Time `json:"decided_at,omitzero"`
}

// ReviewQueueEntry is the denormalized projection of a PENDING checkpoint
// used for listing. It is created alongside its checkpoint and marked
// resolved with it.
type ReviewQueueEntry struct {
	CheckpointID string    `json:"checkpoint_id"`
	InvoiceID    string    `json:"invoice_id"`
	VendorName   string    `json:"vendor_name,omitempty"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency,omitempty"`
	Reason       string    `json:"reason_for_hold"`
	ReviewURL    string    `json:"review_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CheckpointStore persists paused workflow executions and the review queue.
//
// Implementations must create the checkpoint and its queue entry as one
// atomic unit, resolve at most once per checkpoint, and make both effects
// durable before returning success. Operations on different checkpoint IDs
// must not block one another; operations on the same ID must be linearizable
// so that two concurrent resolves produce exactly one success.
type CheckpointStore interface {
	// Create persists a PENDING checkpoint and its review-queue entry.
	// Fails with duplicate_checkpoint if the ID already exists.
	Create(ctx context.Context, checkpoint *Checkpoint, entry *ReviewQueueEntry) error

	// Get returns a checkpoint by ID, or checkpoint_not_found.
	Get(ctx context.Context, checkpointID string) (*Checkpoint, error)

	// ListPending returns queue entries for unresolved checkpoints, ordered
	// by creation time.
	ListPending(ctx context.Context) ([]*ReviewQueueEntry, error)

	// ListResolved returns resolved checkpoints with their decision
	// metadata, most recently decided first.
	ListResolved(ctx context.Context) ([]*Checkpoint, error)

	// Resolve marks the checkpoint RESOLVED with the decision metadata and
	// retires its queue entry, atomically. Fails with checkpoint_not_found
	// or already_resolved.
	Resolve(ctx context.Context, checkpointID string, decision Decision, reviewerID, notes string) (*Checkpoint, error)
}

// MemoryStore is an in-memory CheckpointStore for tests and ephemeral use.
// It honors the full store contract except durability across restarts.
type MemoryStore struct {
	mutex       sync.RWMutex
	checkpoints map[string]*Checkpoint
	queue       map[string]*ReviewQueueEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checkpoints: map[string]*Checkpoint{},
		queue:       map[string]*ReviewQueueEntry{},
	}
}

func (s *MemoryStore) Create(ctx context.Context, checkpoint *Checkpoint, entry *ReviewQueueEntry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.checkpoints[checkpoint.ID]; exists {
		return NewError(ErrorTypeDuplicateCheckpoint, "checkpoint %s already exists", checkpoint.ID)
	}
	cp := *checkpoint
	cp.Status = CheckpointPending
	e := *entry
	s.checkpoints[checkpoint.ID] = &cp
	s.queue[checkpoint.ID] = &e
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, NewError(ErrorTypeCheckpointNotFound, "checkpoint %s not found", checkpointID)
	}
	out := *cp
	return &out, nil
}

func (s *MemoryStore) ListPending(ctx context.Context) ([]*ReviewQueueEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entries := make([]*ReviewQueueEntry, 0, len(s.queue))
	for _, entry := range s.queue {
		e := *entry
		entries = append(entries, &e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries, nil
}

func (s *MemoryStore) ListResolved(ctx context.Context) ([]*Checkpoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var resolved []*Checkpoint
	for _, cp := range s.checkpoints {
		if cp.Status != CheckpointResolved {
			continue
		}
		out := *cp
		resolved = append(resolved, &out)
	}
	sort.Slice(resolved, func(i, j int) bool {
		return resolved[i].DecidedAt.After(resolved[j].DecidedAt)
	})
	return resolved, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, checkpointID string, decision Decision, reviewerID, notes string) (*Checkpoint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cp, ok := s.checkpoints[checkpointID]
	if !ok {
		return nil, NewError(ErrorTypeCheckpointNotFound, "checkpoint %s not found", checkpointID)
	}
	if cp.Status == CheckpointResolved {
		return nil, NewError(ErrorTypeAlreadyResolved, "checkpoint %s is already resolved", checkpointID)
	}
	cp.Status = CheckpointResolved
	cp.Decision = decision
	cp.ReviewerID = reviewerID
	cp.Notes = notes
	cp.DecidedAt = time.Now().UTC()
	delete(s.queue, checkpointID)

	out := *cp
	return &out, nil
}
