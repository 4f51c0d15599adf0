package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  users:
    alice: wonderland
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7337", c.Server.Listen)
	require.Equal(t, 64, c.Server.TXQueueDepth)
	require.Equal(t, "info", c.Logging.Level)
	require.Equal(t, "wonderland", c.Auth.Users["alice"])
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: "127.0.0.1:9999"
  tx_queue_depth: 128
multicast:
  enabled: true
  group: "239.1.2.3:5004"
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", c.Server.Listen)
	require.Equal(t, 128, c.Server.TXQueueDepth)
	require.True(t, c.Multicast.Enabled)
	require.Equal(t, "239.1.2.3:5004", c.Multicast.Group)
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/path.yaml")
	require.Error(t, err)
}
