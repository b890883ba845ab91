package payable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 0.90, cfg.MatchThreshold)
	require.Equal(t, 5.0, cfg.TwoWayTolerancePct)
	require.Equal(t, 10000.0, cfg.AutoApproveLimit)
	require.NotEmpty(t, cfg.NotifyParties)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
match_threshold: 0.85
auto_approve_limit: 25000
notify_parties:
  - vendor
  - treasury
`), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	require.Equal(t, 0.85, cfg.MatchThreshold)
	require.Equal(t, 25000.0, cfg.AutoApproveLimit)
	require.Equal(t, []string{"vendor", "treasury"}, cfg.NotifyParties)

	// Fields absent from the file keep their defaults.
	require.Equal(t, 5.0, cfg.TwoWayTolerancePct)
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte(": not yaml"), 0644))
		_, err := LoadConfigFile(path)
		require.Error(t, err)
	})

	t.Run("out of range threshold", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("match_threshold: 2.5"), 0644))
		_, err := LoadConfigFile(path)
		require.Error(t, err)
		require.Contains(t, err.Error(), "match_threshold")
	})
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()

	cfg.MatchThreshold = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.TwoWayTolerancePct = -1
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AutoApproveLimit = -100
	require.Error(t, cfg.Validate())
}
