package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is prepended to every variable name, e.g. BACKGROUNDER_LISTEN_ADDR.
const envPrefix = "BACKGROUNDER"

// Event listener networks.
const (
	NetworkUnix  = "unix"
	NetworkVsock = "vsock"
	NetworkNone  = "none"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	DBPath     string `envconfig:"DB_PATH" default:"backgrounder.db"`
	PrefsPath  string `envconfig:"PREFS_PATH" default:"backgrounder.toml"`

	EventNetwork string `envconfig:"EVENT_NETWORK" default:"unix"`
	SocketPath   string `envconfig:"SOCKET_PATH" default:"backgrounder.sock"`
	VsockPort    uint32 `envconfig:"VSOCK_PORT" default:"1025"`

	LogLevelName     string        `envconfig:"LOG_LEVEL" default:"info"`
	DisableSimulated bool          `envconfig:"DISABLE_SIMULATED" default:"false"`
	WatchDebounce    time.Duration `envconfig:"WATCH_DEBOUNCE" default:"100ms"`
	JournalBuffer    int           `envconfig:"JOURNAL_BUFFER" default:"256"`
	Version          string        `envconfig:"VERSION" default:"1.0.0"`

	LogLevel slog.Level `ignored:"true"`
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	switch cfg.EventNetwork {
	case NetworkUnix, NetworkVsock, NetworkNone:
	default:
		return Config{}, fmt.Errorf("load config: unknown event network %q", cfg.EventNetwork)
	}
	if cfg.JournalBuffer <= 0 {
		return Config{}, fmt.Errorf("load config: journal buffer must be positive, got %d", cfg.JournalBuffer)
	}
	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
