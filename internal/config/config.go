package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	"genflow/internal/model"
)

// Run modes.
const (
	ModeHTTP = "http"
	ModeMCP  = "mcp"
	ModeBoth = "both"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig
}

// PollerConfig holds the intervals of the background loops.
type PollerConfig struct {
	CompletionInterval time.Duration
	StatusInterval     time.Duration
	SideEffectTypes    []model.TaskType
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Notification NotificationConfig
	Poller       PollerConfig

	Mode          string
	Store         string
	StateDir      string
	ShutdownGrace time.Duration
}

const (
	defaultAddr               = "0.0.0.0:7070"
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultShutdownGrace      = 5 * time.Second
	defaultCompletionInterval = 10 * time.Second
	defaultStatusInterval     = 5 * time.Second
	defaultSideEffectTypes    = "stitch,travel_stitch,single_image"
)

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse(args []string) (*Config, error) {
	// .env files are optional and never override the real environment.
	envFiles := []string{}
	for _, f := range candidateEnvFiles() {
		if _, err := os.Stat(f); err == nil {
			envFiles = append(envFiles, f)
		}
	}
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	}

	cfg := &Config{}
	var sideEffectTypes string

	app := kingpin.New("genflowd", "Task graph execution and notification engine.")
	app.Flag("addr", "HTTP listen address.").Envar("GENFLOW_ADDR").Default(defaultAddr).StringVar(&cfg.Server.Addr)
	app.Flag("auth-token", "Bearer token required by the HTTP API.").Envar("GENFLOW_AUTH_TOKEN").StringVar(&cfg.Server.AuthToken)
	app.Flag("mode", "Which surfaces to serve.").Envar("GENFLOW_MODE").Default(ModeHTTP).EnumVar(&cfg.Mode, ModeHTTP, ModeMCP, ModeBoth)
	app.Flag("store", "Persistence backend.").Envar("GENFLOW_STORE").Default(StoreSQLite).EnumVar(&cfg.Store, StoreSQLite, StoreMemory)
	app.Flag("state-dir", "Directory holding the database.").Envar("GENFLOW_STATE_DIR").StringVar(&cfg.StateDir)
	app.Flag("log-level", "Log level (debug, info, warn, error).").Envar("GENFLOW_LOG_LEVEL").Default(defaultLogLevel).StringVar(&cfg.Log.Level)
	app.Flag("log-format", "Log format.").Envar("GENFLOW_LOG_FORMAT").Default(defaultLogFormat).EnumVar(&cfg.Log.Format, "text", "json")
	app.Flag("completion-poll-interval", "Interval of the completion poller.").Envar("GENFLOW_COMPLETION_POLL_INTERVAL").Default(defaultCompletionInterval.String()).DurationVar(&cfg.Poller.CompletionInterval)
	app.Flag("status-poll-interval", "Interval of the status broadcast poller.").Envar("GENFLOW_STATUS_POLL_INTERVAL").Default(defaultStatusInterval.String()).DurationVar(&cfg.Poller.StatusInterval)
	app.Flag("side-effect-types", "Comma separated task types whose completion produces a generation.").Envar("GENFLOW_SIDE_EFFECT_TYPES").Default(defaultSideEffectTypes).StringVar(&sideEffectTypes)
	app.Flag("shutdown-grace", "Grace period when shutting down.").Envar("GENFLOW_SHUTDOWN_GRACE").Default(defaultShutdownGrace.String()).DurationVar(&cfg.ShutdownGrace)
	app.Flag("bark-url", "Bark push endpoint.").Envar("GENFLOW_BARK_URL").StringVar(&cfg.Notification.Bark.URL)
	app.Flag("bark-enabled", "Push a Bark notification when a generation is ready.").Envar("GENFLOW_BARK_ENABLED").BoolVar(&cfg.Notification.Bark.Enabled)

	if _, err := app.Parse(args); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Poller.SideEffectTypes = parseTaskTypes(sideEffectTypes)
	if len(cfg.Poller.SideEffectTypes) == 0 {
		return nil, fmt.Errorf("at least one side effect task type is required")
	}
	if cfg.Poller.CompletionInterval <= 0 || cfg.Poller.StatusInterval <= 0 {
		return nil, fmt.Errorf("poll intervals must be positive")
	}
	if cfg.Notification.Bark.Enabled && cfg.Notification.Bark.URL == "" {
		return nil, fmt.Errorf("bark is enabled but no bark url is set")
	}

	if cfg.StateDir == "" && cfg.Store == StoreSQLite {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	return cfg, nil
}

func parseTaskTypes(value string) []model.TaskType {
	var out []model.TaskType
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, model.TaskType(part))
		}
	}
	return out
}

func candidateEnvFiles() []string {
	files := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(configDir, "genflow", ".env"))
	}
	return files
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "genflow"), nil
}
