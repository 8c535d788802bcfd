package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("ARK_MODEL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "chat.db", cfg.Storage.Path)
	assert.Equal(t, "static", cfg.Storage.StaticDir)
	assert.Equal(t, 1024, cfg.AI.ReasoningBudget)
	assert.Equal(t, 10, cfg.AI.HistoryLimit)
	assert.Equal(t, "/static/default_avatar.png", cfg.AI.DefaultAvatar)
	assert.Equal(t, 60*time.Second, cfg.AI.Timeout)
	assert.False(t, cfg.AI.Enabled())
}

func TestLoadServerAddrForms(t *testing.T) {
	cases := map[string]string{
		"9000":           ":9000",
		":9001":          ":9001",
		"127.0.0.1:9002": "127.0.0.1:9002",
	}
	for port, want := range cases {
		t.Setenv("PORT", port)
		cfg, err := loadServerConfig()
		require.NoError(t, err)
		assert.Equal(t, want, cfg.Addr)
	}
}

func TestLoadServerRejectsSpaces(t *testing.T) {
	t.Setenv("PORT", "80 80")
	_, err := loadServerConfig()
	require.Error(t, err)
}

func TestAllowedOriginsTrimmed(t *testing.T) {
	t.Setenv("WS_ALLOWED_ORIGINS", "http://a.lan, ,http://b.lan ")
	cfg, err := loadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a.lan", "http://b.lan"}, cfg.AllowedOrigins)
}

func TestAIConfigOverrides(t *testing.T) {
	t.Setenv("ARK_API_KEY", " key ")
	t.Setenv("ARK_MODEL", "doubao-seed")
	t.Setenv("EMOTION_REASONING_BUDGET", "256")
	t.Setenv("EMOTION_HISTORY_LIMIT", "0")

	cfg, err := loadAIConfig()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled())
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, 256, cfg.ReasoningBudget)
	assert.Equal(t, 1, cfg.HistoryLimit)
}

func TestAIConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("EMOTION_REASONING_BUDGET", "lots")
	_, err := loadAIConfig()
	require.Error(t, err)
}

func TestNewChatModelRequiresCredentials(t *testing.T) {
	_, err := AIConfig{}.NewChatModel(t.Context())
	require.Error(t, err)
}
