package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8318, cfg.Server.Port)
	assert.Equal(t, DefaultUpstream, cfg.Server.Upstream)
	assert.Equal(t, DefaultMaxRetries, cfg.Escalation.MaxRetries)
	assert.True(t, cfg.Budget.Enabled)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultContinuityCapacity, cfg.Signature.Capacity)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
signature:
  ttl_days: 14
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 14, cfg.Signature.TTLDays)
	// Untouched fields keep defaults.
	assert.Equal(t, DefaultContinuityCapacity, cfg.Signature.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestNormalizeRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
escalation:
  max_retries: -1
  truncation_threshold: 2.0
signature:
  capacity: 0
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxRetries, cfg.Escalation.MaxRetries)
	assert.Equal(t, TruncationThreshold, cfg.Escalation.TruncationThreshold)
	assert.Equal(t, DefaultContinuityCapacity, cfg.Signature.Capacity)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`{not yaml`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
