package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds runtime settings read from the environment.
type Settings struct {
	DatabaseURL      string
	ListenAddr       string
	StorePath        string
	LogLevel         string
	Parallelism      int
	StatementTimeout time.Duration
	ConfigPath       string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string
}

// Load reads runtime settings from environment variables with sensible defaults.
// Callers typically run godotenv.Load() first so a local .env file is honored.
func Load() (Settings, error) {
	s := Settings{
		DatabaseURL:      envStr("DATABASE_URL", ""),
		ListenAddr:       envStr("PGDIAG_LISTEN_ADDR", ":8080"),
		StorePath:        envStr("PGDIAG_STORE_PATH", ""),
		LogLevel:         envStr("PGDIAG_LOG_LEVEL", "info"),
		Parallelism:      envInt("PGDIAG_PARALLELISM", 0),
		StatementTimeout: envDuration("PGDIAG_STATEMENT_TIMEOUT", 30*time.Second),
		ConfigPath:       envStr("PGDIAG_CONFIG", ""),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "pgdiag"),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks that settings are usable.
func (s Settings) Validate() error {
	if s.Parallelism < 0 {
		return fmt.Errorf("config: PGDIAG_PARALLELISM must not be negative")
	}
	if s.StatementTimeout < 0 {
		return fmt.Errorf("config: PGDIAG_STATEMENT_TIMEOUT must not be negative")
	}
	if _, err := ParseLogLevel(s.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("config: unknown log level %q", level)
	}
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
