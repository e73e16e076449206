package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"TRYON_PORT", "TRYON_SETTLE_MS", "TRYON_MAX_RETRIES", "TRYON_CAMERA_BACKEND"} {
		t.Setenv(k, "")
	}

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultSettle, cfg.Settle)
	assert.Equal(t, DefaultReadyTimeout, cfg.ReadyTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, "mock", cfg.CameraBackend)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TRYON_PORT", "9999")
	t.Setenv("TRYON_SETTLE_MS", "20")
	t.Setenv("TRYON_MAX_RETRIES", "5")
	t.Setenv("TRYON_CAMERA_BACKEND", "opencv")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 20*time.Millisecond, cfg.Settle)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, "opencv", cfg.CameraBackend)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("TRYON_MAX_RETRIES", "lots")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("TRYON_MAX_RETRIES", "")
	t.Setenv("TRYON_CAMERA_BACKEND", "v4l2")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestLoadEnvFileKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TRYON_CHAT_MODEL=from-file\nTRYON_PORT=7000\n"), 0o600))

	t.Setenv("TRYON_PORT", "8123")
	os.Unsetenv("TRYON_CHAT_MODEL")
	t.Cleanup(func() { os.Unsetenv("TRYON_CHAT_MODEL") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("TRYON_CHAT_MODEL"))
	assert.Equal(t, "8123", os.Getenv("TRYON_PORT"))
}

func TestLoadEnvFileMissingIsIgnored(t *testing.T) {
	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")))
}
