package payable

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCheckpoint(id string, createdAt time.Time) (*Checkpoint, *ReviewQueueEntry) {
	checkpoint := &Checkpoint{
		ID:           id,
		WorkflowID:   "wf_" + id,
		InvoiceID:    "INV-" + id,
		State:        []byte(`{"workflow_id":"wf_` + id + `"}`),
		PausedReason: "match score 0.73 below threshold 0.90",
		CreatedAt:    createdAt,
		Status:       CheckpointPending,
	}
	entry := &ReviewQueueEntry{
		CheckpointID: id,
		InvoiceID:    checkpoint.InvoiceID,
		VendorName:   "ACME CORP",
		Amount:       850,
		Currency:     "USD",
		Reason:       checkpoint.PausedReason,
		CreatedAt:    createdAt,
	}
	return checkpoint, entry
}

// runCheckpointStoreContract exercises the behavior every CheckpointStore
// implementation must honor.
func runCheckpointStoreContract(t *testing.T, store CheckpointStore) {
	ctx := context.Background()
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		checkpoint, entry := testCheckpoint("ckpt_a", base)
		require.NoError(t, store.Create(ctx, checkpoint, entry))

		got, err := store.Get(ctx, "ckpt_a")
		require.NoError(t, err)
		require.Equal(t, "wf_ckpt_a", got.WorkflowID)
		require.Equal(t, CheckpointPending, got.Status)
		require.JSONEq(t, string(checkpoint.State), string(got.State))
	})

	t.Run("duplicate create is rejected", func(t *testing.T) {
		checkpoint, entry := testCheckpoint("ckpt_a", base)
		err := store.Create(ctx, checkpoint, entry)
		require.Error(t, err)
		require.True(t, HasErrorType(err, ErrorTypeDuplicateCheckpoint))
	})

	t.Run("get unknown id", func(t *testing.T) {
		_, err := store.Get(ctx, "ckpt_missing")
		require.Error(t, err)
		require.True(t, HasErrorType(err, ErrorTypeCheckpointNotFound))
	})

	t.Run("pending entries come back oldest first", func(t *testing.T) {
		later, laterEntry := testCheckpoint("ckpt_c", base.Add(2*time.Hour))
		require.NoError(t, store.Create(ctx, later, laterEntry))
		middle, middleEntry := testCheckpoint("ckpt_b", base.Add(time.Hour))
		require.NoError(t, store.Create(ctx, middle, middleEntry))

		pending, err := store.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 3)
		require.Equal(t, "ckpt_a", pending[0].CheckpointID)
		require.Equal(t, "ckpt_b", pending[1].CheckpointID)
		require.Equal(t, "ckpt_c", pending[2].CheckpointID)
	})

	t.Run("resolve records the decision once", func(t *testing.T) {
		resolved, err := store.Resolve(ctx, "ckpt_b", DecisionAccept, "alex", "verified")
		require.NoError(t, err)
		require.Equal(t, CheckpointResolved, resolved.Status)
		require.Equal(t, DecisionAccept, resolved.Decision)
		require.Equal(t, "alex", resolved.ReviewerID)
		require.Equal(t, "verified", resolved.Notes)
		require.False(t, resolved.DecidedAt.IsZero())

		// A second decision never overwrites the first.
		_, err = store.Resolve(ctx, "ckpt_b", DecisionReject, "sam", "")
		require.Error(t, err)
		require.True(t, HasErrorType(err, ErrorTypeAlreadyResolved))

		got, err := store.Get(ctx, "ckpt_b")
		require.NoError(t, err)
		require.Equal(t, DecisionAccept, got.Decision)
		require.Equal(t, "alex", got.ReviewerID)
	})

	t.Run("resolved checkpoints leave the queue", func(t *testing.T) {
		pending, err := store.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		for _, entry := range pending {
			require.NotEqual(t, "ckpt_b", entry.CheckpointID)
		}
	})

	t.Run("decision history holds resolved checkpoints", func(t *testing.T) {
		_, err := store.Resolve(ctx, "ckpt_c", DecisionReject, "sam", "")
		require.NoError(t, err)

		history, err := store.ListResolved(ctx)
		require.NoError(t, err)
		require.Len(t, history, 2)
		// Most recent decision first.
		require.Equal(t, "ckpt_c", history[0].ID)
		require.Equal(t, "ckpt_b", history[1].ID)
		require.Equal(t, DecisionReject, history[0].Decision)
	})

	t.Run("resolve unknown id", func(t *testing.T) {
		_, err := store.Resolve(ctx, "ckpt_missing", DecisionAccept, "alex", "")
		require.Error(t, err)
		require.True(t, HasErrorType(err, ErrorTypeCheckpointNotFound))
	})

	t.Run("concurrent resolves produce exactly one winner", func(t *testing.T) {
		checkpoint, entry := testCheckpoint("ckpt_race", base.Add(3*time.Hour))
		require.NoError(t, store.Create(ctx, checkpoint, entry))

		const resolvers = 8
		errs := make([]error, resolvers)
		var wg sync.WaitGroup
		for i := 0; i < resolvers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				reviewer := fmt.Sprintf("reviewer_%d", i)
				_, errs[i] = store.Resolve(ctx, "ckpt_race", DecisionAccept, reviewer, "")
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
			require.True(t, HasErrorType(err, ErrorTypeAlreadyResolved))
		}
		require.NotEqual(t, -1, winner)

		// The stored decision belongs to the single winner.
		got, err := store.Get(ctx, "ckpt_race")
		require.NoError(t, err)
		require.Equal(t, CheckpointResolved, got.Status)
		require.Equal(t, fmt.Sprintf("reviewer_%d", winner), got.ReviewerID)
	})
}

func TestMemoryStore(t *testing.T) {
	runCheckpointStoreContract(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	runCheckpointStoreContract(t, store)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	checkpoint, entry := testCheckpoint("ckpt_persist", time.Now().UTC())
	require.NoError(t, store.Create(ctx, checkpoint, entry))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	got, err := reopened.Get(ctx, "ckpt_persist")
	require.NoError(t, err)
	require.Equal(t, checkpoint.WorkflowID, got.WorkflowID)

	pending, err := reopened.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = reopened.Resolve(ctx, "ckpt_persist", DecisionReject, "alex", "duplicate invoice")
	require.NoError(t, err)

	// The resolution is durable too.
	third, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err = third.Get(ctx, "ckpt_persist")
	require.NoError(t, err)
	require.Equal(t, CheckpointResolved, got.Status)
	require.Equal(t, DecisionReject, got.Decision)
}

func TestFileStoreRejectsDuplicateAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := NewFileStore(dir)
	require.NoError(t, err)
	second, err := NewFileStore(dir)
	require.NoError(t, err)

	checkpoint, entry := testCheckpoint("ckpt_shared", time.Now().UTC())
	require.NoError(t, first.Create(ctx, checkpoint, entry))

	// The second instance has its own mutex, so only the exclusive publish
	// stands between it and clobbering the first record.
	err = second.Create(ctx, checkpoint, entry)
	require.Error(t, err)
	require.True(t, HasErrorType(err, ErrorTypeDuplicateCheckpoint))

	got, err := first.Get(ctx, "ckpt_shared")
	require.NoError(t, err)
	require.Equal(t, CheckpointPending, got.Status)
}
