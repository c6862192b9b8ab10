// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/store"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver     string `env:"STORAGE_DRIVER"`
	BadgerPath string `env:"BADGER_PATH"`
	SQLitePath string `env:"SQLITE_PATH"`
	RedisAddr  string `env:"REDIS_ADDR"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"`
	Format string `env:"LOG_FORMAT"`
}

// OriginList is a comma separated list of allowed origins. "*" allows any.
type OriginList []string

// UnmarshalEnvironmentValue implements env.Unmarshaler.
func (o *OriginList) UnmarshalEnvironmentValue(data string) error {
	*o = parseOrigins(data)
	return nil
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string        `env:"PORT,SERVER_PORT"`
	AllowedOrigins  OriginList    `env:"ALLOWED_ORIGINS"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE"`
	MaxTextLength   int           `env:"MAX_TEXT_LENGTH"`
	MaxImageBytes   int           `env:"MAX_IMAGE_BYTES"`
	SendBuffer      int           `env:"SEND_BUFFER"`
	TypingTimeout   time.Duration `env:"TYPING_TIMEOUT"`
	HistoryLimit    int           `env:"HISTORY_LIMIT"`
	DefaultRoom     string        `env:"DEFAULT_ROOM"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimitConfig
	Storage         StorageConfig
	Log             LogConfig
}

const (
	defaultPort            = ":8080"
	defaultMaxMessageSize  = 5 << 20
	defaultMaxTextLength   = 4000
	defaultSendBuffer      = 256
	defaultHistoryLimit    = 0
	defaultRoomName        = "geral"
	defaultShutdownTimeout = 10 * time.Second
	defaultBurst           = 5
	defaultRefillInterval  = time.Second
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: OriginList{
			"http://localhost:8080",
			"http://localhost:5173",
		},
		MaxMessageSize:  defaultMaxMessageSize,
		MaxTextLength:   defaultMaxTextLength,
		MaxImageBytes:   chat.DefaultMaxImageBytes,
		SendBuffer:      defaultSendBuffer,
		TypingTimeout:   DefaultTypingTimeout,
		HistoryLimit:    defaultHistoryLimit,
		DefaultRoom:     defaultRoomName,
		ShutdownTimeout: defaultShutdownTimeout,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		Storage: StorageConfig{
			Driver:     store.DriverBadger,
			BadgerPath: "data/badger",
			SQLitePath: "data/roomchat.db",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = defaultMaxTextLength
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = chat.DefaultMaxImageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.HistoryLimit < 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}

	if name, err := chat.NormalizeRoomName(cfg.DefaultRoom); err == nil {
		cfg.DefaultRoom = name
	} else {
		cfg.DefaultRoom = defaultRoomName
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = store.DriverBadger
	}

	cfg.AllowedOrigins = append(OriginList(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := sanitizeConfig(defaultConfig())
	return &cfg
}

// NewConfigFromEnv creates a Config from the environment. Variables found in
// envFiles are loaded first without overriding the process environment;
// missing files are skipped. Unset variables keep their defaults.
func NewConfigFromEnv(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return configFromEnvSet(es)
}

func configFromEnvSet(es env.EnvSet) (*Config, error) {
	cfg := defaultConfig()
	if err := env.Unmarshal(es, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

// Limits returns the inbound payload bounds derived from the configuration.
func (c Config) Limits() chat.Limits {
	return chat.Limits{MaxTextLength: c.MaxTextLength, MaxImageBytes: c.MaxImageBytes}
}

// StoreOptions maps the storage settings onto store.Options.
func (c Config) StoreOptions() store.Options {
	return store.Options{
		Driver:     c.Storage.Driver,
		BadgerPath: c.Storage.BadgerPath,
		SQLitePath: c.Storage.SQLitePath,
		RedisAddr:  c.Storage.RedisAddr,
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
