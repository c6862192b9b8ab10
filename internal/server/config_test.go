package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	require.Equal(t, ":8080", cfg.Port)
	require.Equal(t, "geral", cfg.DefaultRoom)
	require.Equal(t, DefaultTypingTimeout, cfg.TypingTimeout)
	require.Equal(t, chat.DefaultMaxImageBytes, cfg.MaxImageBytes)
	require.Equal(t, store.DriverBadger, cfg.Storage.Driver)
	require.Zero(t, cfg.HistoryLimit, "history is unlimited unless capped")
	require.Contains(t, cfg.AllowedOrigins, "http://localhost:8080")
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
}

func TestConfigFromEnvSet(t *testing.T) {
	cfg, err := configFromEnvSet(env.EnvSet{
		"SERVER_PORT":      "9000",
		"ALLOWED_ORIGINS":  "http://a.example, https://b.example",
		"TYPING_TIMEOUT":   "5s",
		"HISTORY_LIMIT":    "50",
		"DEFAULT_ROOM":     " Lobby ",
		"STORAGE_DRIVER":   "SQLite",
		"SQLITE_PATH":      "/tmp/chat.db",
		"REDIS_ADDR":       "localhost:6379",
		"RATE_LIMIT_BURST": "10",
		"LOG_FORMAT":       "json",
	})
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Port)
	require.Equal(t, OriginList{"http://a.example", "https://b.example"}, cfg.AllowedOrigins)
	require.Equal(t, 5*time.Second, cfg.TypingTimeout)
	require.Equal(t, 50, cfg.HistoryLimit)
	require.Equal(t, "lobby", cfg.DefaultRoom)
	require.Equal(t, store.DriverSQLite, cfg.Storage.Driver)
	require.Equal(t, 10, cfg.RateLimit.Burst)
	require.Equal(t, "json", cfg.Log.Format)

	opts := cfg.StoreOptions()
	require.Equal(t, "/tmp/chat.db", opts.SQLitePath)
	require.Equal(t, "localhost:6379", opts.RedisAddr)
}

func TestConfigFromEnvSetRejectsBadValues(t *testing.T) {
	_, err := configFromEnvSet(env.EnvSet{"TYPING_TIMEOUT": "soon"})
	require.Error(t, err)
}

func TestSanitizeConfigRepairsInvalidValues(t *testing.T) {
	cfg := sanitizeConfig(Config{
		Port:          "7000",
		SendBuffer:    -1,
		HistoryLimit:  -5,
		DefaultRoom:   "bad/name",
		TypingTimeout: -time.Second,
	})

	require.Equal(t, ":7000", cfg.Port)
	require.Equal(t, defaultSendBuffer, cfg.SendBuffer)
	require.Equal(t, defaultHistoryLimit, cfg.HistoryLimit)
	require.Equal(t, defaultRoomName, cfg.DefaultRoom)
	require.Equal(t, DefaultTypingTimeout, cfg.TypingTimeout)
	require.Equal(t, chat.Limits{MaxTextLength: defaultMaxTextLength, MaxImageBytes: chat.DefaultMaxImageBytes}, cfg.Limits())
}

func TestNewConfigFromEnvLoadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DEFAULT_ROOM=general\nSEND_BUFFER=16\n"), 0o600))
	t.Setenv("SEND_BUFFER", "32")
	t.Cleanup(func() { _ = os.Unsetenv("DEFAULT_ROOM") })

	cfg, err := NewConfigFromEnv(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "general", cfg.DefaultRoom)
	require.Equal(t, 32, cfg.SendBuffer, "process environment wins over the file")
}
