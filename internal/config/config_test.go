package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Create a temporary YAML config file with known values.
	// t.TempDir() gives us a directory that's auto-deleted after the test.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 9090
  max_request_size: 2048
  shutdown_grace_period: 5s

auth:
  require_auth: true
  master_key: ${TEST_MASTER_KEY}

vertex:
  project_id: my-project
  region: us-central1
  api_key: ${TEST_API_KEY}

rate_limit:
  capacity: 10
  refill_per_second: 2
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err) // require stops the test immediately if this fails

	// t.Setenv auto-restores the original value when the test finishes.
	t.Setenv("TEST_API_KEY", "my-secret-key")
	t.Setenv("TEST_MASTER_KEY", "super-secret")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(2048), cfg.Server.MaxRequestSize)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownGracePeriod)

	assert.True(t, cfg.Auth.RequireAuth)
	assert.Equal(t, "super-secret", cfg.Auth.MasterKey)

	assert.Equal(t, "my-secret-key", cfg.Vertex.APIKey)
	assert.Equal(t, "my-project", cfg.Vertex.ProjectID)

	// Values not present in the file fall back to defaultConfig().
	assert.Equal(t, "http://localhost:4001", cfg.Anthropic.BridgeURL)
	assert.Equal(t, 60, cfg.CircuitBreaker.TimeoutSecs)
	assert.Equal(t, 60*time.Second, cfg.CircuitBreaker.Timeout)
}

func TestLoadEnvOverride(t *testing.T) {
	// Verify that LLMGATEWAY_ env vars override YAML values.
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  port: 8080
vertex:
  api_key: dummy-key
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// This should override server.port from 8080 to 3000.
	t.Setenv("LLMGATEWAY_SERVER_PORT", "3000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestValidateRejectsMissingMasterKey(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
auth:
  require_auth: true
vertex:
  api_key: dummy-key
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	_, err := Load(configPath)
	assert.ErrorContains(t, err, "master_key")
}

func TestValidateRejectsMissingGoogleCredentials(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644))

	_, err := Load(configPath)
	assert.ErrorContains(t, err, "vertex.api_key")
}
