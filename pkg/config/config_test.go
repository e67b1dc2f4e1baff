package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	v, err := NewViper("")
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)

	require.Equal(t, "chat", s.InputType)
	require.Equal(t, "chat", s.OutputType)
	require.Equal(t, 24.0, s.TTLHours)
	require.Equal(t, 0.5, s.IdleHours)
	require.Equal(t, "punku-chat-widget", s.WidgetID)
	require.Equal(t, StorageSQLite, s.Storage.Driver)
	require.Equal(t, time.Minute, s.Bridge.CleanupInterval)
	require.Equal(t, 10*time.Second, s.Bridge.WriteTimeout)
	require.False(t, s.Events.RedisEnabled)
	require.Equal(t, "en", s.Language())

	require.Error(t, s.Validate())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
host_url: https://flows.example.com/
flow_id: flow-1
theme: swarovski
ttl_hours: 2
tweaks:
  ChatInput-1:
    temperature: 0.2
additional_headers:
  X-Tenant: acme
storage:
  driver: memory
bridge:
  cleanup_interval: 30s
`), 0o644))

	t.Setenv("PUNKU_CHAT_FLOW_ID", "flow-from-env")
	t.Setenv("PUNKU_CHAT_ENABLE_STREAMING", "true")

	v, err := NewViper(path)
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	require.Equal(t, "https://flows.example.com", s.HostURL)
	require.Equal(t, "flow-from-env", s.FlowID)
	require.True(t, s.EnableStreaming)
	require.Equal(t, StorageMemory, s.Storage.Driver)
	require.Equal(t, 30*time.Second, s.Bridge.CleanupInterval)
	require.Equal(t, "acme", s.AdditionalHeaders["X-Tenant"])
	require.Contains(t, s.Tweaks, "ChatInput-1")
	require.Equal(t, "de", s.Language())

	cfg := s.SessionConfig()
	require.Equal(t, 2.0, cfg.ExpiryHours)
	require.Equal(t, 0.5, cfg.IdleExpiryHours)
}

func TestLoad_TweaksJSON(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PUNKU_CHAT_TWEAKS_JSON", `{"OpenAIModel-x":{"model_name":"gpt-4o"}}`)
	v, err := NewViper("")
	require.NoError(t, err)
	s, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"model_name": "gpt-4o"}, s.Tweaks["OpenAIModel-x"])

	t.Setenv("PUNKU_CHAT_TWEAKS_JSON", `{`)
	v, err = NewViper("")
	require.NoError(t, err)
	_, err = Load(v)
	require.Error(t, err)
}

func TestNewViper_MissingExplicitFile(t *testing.T) {
	_, err := NewViper(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	s := &Settings{HostURL: "flows.example.com", FlowID: "f", Storage: StorageSettings{Driver: StorageSQLite}}
	require.Error(t, s.Validate())

	s.HostURL = "http://localhost:7860"
	require.NoError(t, s.Validate())

	s.Storage.Driver = "postgres"
	require.Error(t, s.Validate())

	var nilSettings *Settings
	require.Error(t, nilSettings.Validate())
}
