package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/finflow-ai/payable"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	// SQLite allows one writer at a time; a single pooled connection keeps
	// concurrent statements queued instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func testCheckpoint(id string, createdAt time.Time) (*payable.Checkpoint, *payable.ReviewQueueEntry) {
	checkpoint := &payable.Checkpoint{
		ID:           id,
		WorkflowID:   "wf_" + id,
		InvoiceID:    "INV-" + id,
		State:        []byte(`{"workflow_id":"wf_` + id + `"}`),
		PausedReason: "match score 0.73 below threshold 0.90",
		CreatedAt:    createdAt,
		Status:       payable.CheckpointPending,
	}
	entry := &payable.ReviewQueueEntry{
		CheckpointID: id,
		InvoiceID:    checkpoint.InvoiceID,
		VendorName:   "ACME CORP",
		Amount:       850,
		Currency:     "USD",
		Reason:       checkpoint.PausedReason,
		ReviewURL:    "https://reviews.internal/checkpoints/" + id,
		CreatedAt:    createdAt,
	}
	return checkpoint, entry
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	checkpoint, entry := testCheckpoint("ckpt_1", time.Now().UTC())

	require.NoError(t, store.Create(ctx, checkpoint, entry))

	got, err := store.Get(ctx, "ckpt_1")
	require.NoError(t, err)
	require.Equal(t, checkpoint.WorkflowID, got.WorkflowID)
	require.Equal(t, checkpoint.InvoiceID, got.InvoiceID)
	require.Equal(t, checkpoint.PausedReason, got.PausedReason)
	require.Equal(t, payable.CheckpointPending, got.Status)
	require.Equal(t, checkpoint.State, got.State)
	require.True(t, got.DecidedAt.IsZero())
}

func TestStoreRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	checkpoint, entry := testCheckpoint("ckpt_1", time.Now().UTC())

	require.NoError(t, store.Create(ctx, checkpoint, entry))
	err := store.Create(ctx, checkpoint, entry)
	require.Error(t, err)
	require.True(t, payable.HasErrorType(err, payable.ErrorTypeDuplicateCheckpoint))
}

func TestStoreGetUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "ckpt_missing")
	require.Error(t, err)
	require.True(t, payable.HasErrorType(err, payable.ErrorTypeCheckpointNotFound))
}

func TestStoreListPendingOrdersByCreation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"ckpt_c", 2 * time.Hour},
		{"ckpt_a", 0},
		{"ckpt_b", time.Hour},
	} {
		checkpoint, entry := testCheckpoint(tc.id, base.Add(tc.offset))
		require.NoError(t, store.Create(ctx, checkpoint, entry))
	}

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	require.Equal(t, "ckpt_a", pending[0].CheckpointID)
	require.Equal(t, "ckpt_b", pending[1].CheckpointID)
	require.Equal(t, "ckpt_c", pending[2].CheckpointID)
	require.Equal(t, "ACME CORP", pending[0].VendorName)
	require.Equal(t, 850.0, pending[0].Amount)
}

func TestStoreResolveIsAtMostOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	checkpoint, entry := testCheckpoint("ckpt_1", time.Now().UTC())
	require.NoError(t, store.Create(ctx, checkpoint, entry))

	resolved, err := store.Resolve(ctx, "ckpt_1", payable.DecisionAccept, "alex", "verified with vendor")
	require.NoError(t, err)
	require.Equal(t, payable.CheckpointResolved, resolved.Status)
	require.Equal(t, payable.DecisionAccept, resolved.Decision)
	require.Equal(t, "alex", resolved.ReviewerID)
	require.Equal(t, "verified with vendor", resolved.Notes)
	require.False(t, resolved.DecidedAt.IsZero())

	_, err = store.Resolve(ctx, "ckpt_1", payable.DecisionReject, "sam", "")
	require.Error(t, err)
	require.True(t, payable.HasErrorType(err, payable.ErrorTypeAlreadyResolved))

	// The first decision stands.
	got, err := store.Get(ctx, "ckpt_1")
	require.NoError(t, err)
	require.Equal(t, payable.DecisionAccept, got.Decision)
	require.Equal(t, "alex", got.ReviewerID)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestStoreListResolved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for _, id := range []string{"ckpt_1", "ckpt_2", "ckpt_3"} {
		checkpoint, entry := testCheckpoint(id, base)
		require.NoError(t, store.Create(ctx, checkpoint, entry))
	}
	_, err := store.Resolve(ctx, "ckpt_1", payable.DecisionAccept, "alex", "")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = store.Resolve(ctx, "ckpt_3", payable.DecisionReject, "sam", "no matching PO")
	require.NoError(t, err)

	history, err := store.ListResolved(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "ckpt_3", history[0].ID)
	require.Equal(t, "ckpt_1", history[1].ID)
	require.Equal(t, payable.DecisionReject, history[0].Decision)
	require.Equal(t, "no matching PO", history[0].Notes)
}

func TestStoreConcurrentResolve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	checkpoint, entry := testCheckpoint("ckpt_race", time.Now().UTC())
	require.NoError(t, store.Create(ctx, checkpoint, entry))

	const resolvers = 8
	errs := make([]error, resolvers)
	var wg sync.WaitGroup
	for i := 0; i < resolvers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reviewer := fmt.Sprintf("reviewer_%d", i)
			_, errs[i] = store.Resolve(ctx, "ckpt_race", payable.DecisionAccept, reviewer, "")
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "two resolves succeeded")
			winner = i
			continue
		}
		require.True(t, payable.HasErrorType(err, payable.ErrorTypeAlreadyResolved))
	}
	require.NotEqual(t, -1, winner)

	got, err := store.Get(ctx, "ckpt_race")
	require.NoError(t, err)
	require.Equal(t, payable.CheckpointResolved, got.Status)
	require.Equal(t, fmt.Sprintf("reviewer_%d", winner), got.ReviewerID)
}

func TestStoreResolveUnknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Resolve(context.Background(), "ckpt_missing", payable.DecisionAccept, "alex", "")
	require.Error(t, err)
	require.True(t, payable.HasErrorType(err, payable.ErrorTypeCheckpointNotFound))
}

func TestStoreWorksAsOrchestratorBackend(t *testing.T) {
	store := newTestStore(t)

	orchestrator, err := payable.NewOrchestrator(payable.OrchestratorOptions{
		Store: store,
		ERP: payable.NewStaticERP(map[string][]payable.PurchaseOrder{
			"ACME CORP": {{ID: "PO-1", VendorName: "ACME CORP", Amount: 1000, Currency: "USD"}},
		}),
	})
	require.NoError(t, err)

	paused, err := orchestrator.Submit(context.Background(), payable.InvoicePayload{
		InvoiceID:  "INV-50",
		VendorName: "Acme Corp",
		Amount:     850,
		Currency:   "USD",
	})
	require.NoError(t, err)
	require.Equal(t, payable.StatusPaused, paused.Status)

	resumed, err := orchestrator.SubmitDecision(context.Background(), paused.CheckpointID, payable.DecisionAccept, "alex", "")
	require.NoError(t, err)
	require.Equal(t, payable.StatusCompleted, resumed.Status)
}
