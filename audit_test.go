package payable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func auditEvents(n int, base time.Time) []AuditEvent {
	events := make([]AuditEvent, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, AuditEvent{
			Stage:     StageIntake,
			Event:     "invoice_ingested",
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Detail:    map[string]any{"seq": float64(i)},
		})
	}
	return events
}

func TestFileAuditSink(t *testing.T) {
	sink := NewFileAuditSink(t.TempDir())
	ctx := context.Background()
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Append(ctx, "wf_1", auditEvents(2, base)))
	require.NoError(t, sink.Append(ctx, "wf_1", auditEvents(1, base.Add(time.Minute))))
	require.NoError(t, sink.Append(ctx, "wf_2", auditEvents(1, base)))

	trail, err := sink.History(ctx, "wf_1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	require.Equal(t, "invoice_ingested", trail[0].Event)
	require.True(t, trail[0].Timestamp.Equal(base))
	require.Equal(t, float64(0), trail[0].Detail["seq"])

	other, err := sink.History(ctx, "wf_2")
	require.NoError(t, err)
	require.Len(t, other, 1)

	// Unknown workflows have an empty trail, not an error.
	empty, err := sink.History(ctx, "wf_unknown")
	require.NoError(t, err)
	require.Empty(t, empty)

	// Appending nothing is a no-op.
	require.NoError(t, sink.Append(ctx, "wf_3", nil))
	none, err := sink.History(ctx, "wf_3")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestMemoryAuditSink(t *testing.T) {
	sink := NewMemoryAuditSink()
	ctx := context.Background()
	base := time.Now().UTC()

	require.NoError(t, sink.Append(ctx, "wf_1", auditEvents(2, base)))
	require.NoError(t, sink.Append(ctx, "wf_1", auditEvents(1, base)))

	trail, err := sink.History(ctx, "wf_1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
}

func TestNullAuditSink(t *testing.T) {
	sink := NewNullAuditSink()
	ctx := context.Background()

	require.NoError(t, sink.Append(ctx, "wf_1", auditEvents(1, time.Now())))
	trail, err := sink.History(ctx, "wf_1")
	require.NoError(t, err)
	require.Empty(t, trail)
}
