package payable

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Debug("stage skipped")
	logger.Info("invoice received", "invoice_id", "INV-001")

	out := buf.String()
	require.NotContains(t, out, "stage skipped")
	require.Contains(t, out, "invoice received")
	require.Contains(t, out, "INV-001")
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, slog.LevelDebug)

	logger.Debug("checkpoint created", "checkpoint_id", "ckpt_1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "checkpoint created", entry["msg"])
	require.Equal(t, "ckpt_1", entry["checkpoint_id"])
}
