package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wvw-insights/cbtup/internal/tokens"
)

func TestLoadSettingsDefaultsWhenMissing(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv(EnvAPIEndpoint, "")
	t.Setenv(EnvLogDir, "")
	t.Setenv(EnvToken, "")

	s, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://parser.rethl.net/api.php", s.APIEndpoint)
	assert.True(t, s.ShowFormattedTimestamps)
	assert.Equal(t, 4, s.Upload.Concurrency)
	assert.Equal(t, 3, s.Upload.MaxAttempts)
	assert.Equal(t, time.Second, s.Upload.InitialBackoff)
	assert.Equal(t, 30, s.Cleanup.Days)
	assert.False(t, s.Cleanup.AutoEnabled)
	assert.Equal(t, []string{".zevtc", ".evtc"}, s.Scan.Extensions)
	assert.Contains(t, s.LogDirectory, "arcdps.cbtlogs")
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv(EnvAPIEndpoint, "")
	t.Setenv(EnvLogDir, "")

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  concurrency: 8\n  max_backoff: 30s\ncleanup:\n  auto_enabled: true\n"), 0o600))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 8, s.Upload.Concurrency)
	assert.Equal(t, 30*time.Second, s.Upload.MaxBackoff)
	assert.Equal(t, 3, s.Upload.MaxAttempts)
	assert.Equal(t, 2*time.Second, s.Process.PollInterval)
	assert.Equal(t, 30*time.Minute, s.Process.Timeout)
	assert.True(t, s.Cleanup.AutoEnabled)
	assert.Equal(t, 30, s.Cleanup.Days)
	assert.True(t, s.ShowFormattedTimestamps)
}

func TestSaveAndReload(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv(EnvToken, "")

	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	s := NewSettings()
	s.Tokens = []tokens.Token{{Name: "main", Secret: "abcd1234efgh5678"}}
	s.ActiveToken = "main"
	require.NoError(t, SaveSettings(path, s))

	loaded, err := LoadSettings(path)
	require.NoError(t, err)
	require.Len(t, loaded.Tokens, 1)
	assert.Equal(t, "abcd1234efgh5678", loaded.Tokens[0].Secret)
	assert.Equal(t, "main", loaded.ActiveToken)
	assert.NoFileExists(t, path+".tmp")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv(EnvAPIEndpoint, "http://localhost:8080/api.php")
	t.Setenv(EnvLogDir, "/tmp/logs")
	t.Setenv(EnvToken, "env-token-123456")

	s, err := LoadSettings(filepath.Join(t.TempDir(), "settings.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api.php", s.APIEndpoint)
	assert.Equal(t, "/tmp/logs", s.LogDirectory)
	assert.Equal(t, "env-token-123456", s.EnvToken)
}

func TestInvalidFileIsRejected(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	t.Setenv(EnvAPIEndpoint, "")

	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("upload:\n  concurrency: 0\n"), 0o600))
	_, err := LoadSettings(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("upload: [broken"), 0o600))
	_, err = LoadSettings(path)
	assert.Error(t, err)
}

func TestSetAndGet(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	s := NewSettings()

	tests := []struct {
		key, value, want string
	}{
		{"upload.concurrency", "6", "6"},
		{"upload.initial_backoff", "2s", "2s"},
		{"cleanup.days", "45", "45"},
		{"show_formatted_timestamps", "false", "false"},
		{"scan.extensions", ".zevtc, .evtc.zip", ".zevtc,.evtc.zip"},
		{"log_directory", "/data/logs", "/data/logs"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			require.NoError(t, s.Set(tt.key, tt.value))
			got, err := s.Get(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, 6, s.Upload.Concurrency)
	assert.Equal(t, 2*time.Second, s.Upload.InitialBackoff)
	assert.False(t, s.ShowFormattedTimestamps)

	assert.Error(t, s.Set("upload.concurrency", "many"))
	assert.Error(t, s.Set("upload.concurrency", "0"))
	assert.Error(t, s.Set("nope", "1"))
	assert.Error(t, s.Set("upload", "1"))
	assert.Equal(t, 6, s.Upload.Concurrency)

	assert.Contains(t, s.Keys(), "cleanup.trash_dir")
	assert.NotContains(t, s.Keys(), "upload")
}

func TestValidateProcessSettings(t *testing.T) {
	s := NewSettings()
	require.NoError(t, s.Validate())

	s.Process.MaxPollInterval = time.Second
	assert.Error(t, s.Validate())

	s = NewSettings()
	s.Process.Timeout = 0
	assert.Error(t, s.Validate())
}
