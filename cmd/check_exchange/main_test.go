package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnv_MissingDotEnvIsIgnored(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GRID_API_KEY", "env-key")
	t.Setenv("GRID_API_SECRET", "")

	cfg := &Config{}
	cfg.Exchange.APISecret = "file-secret"
	require.NoError(t, applyEnv(cfg))
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "file-secret", cfg.Exchange.APISecret)
}

func TestApplyEnv_UnreadableDotEnvFails(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	// a directory named .env cannot be read as a file
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".env"), 0o700))

	err := applyEnv(&Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load .env")
}
