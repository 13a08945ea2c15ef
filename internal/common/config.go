// -----------------------------------------------------------------------
// Application configuration with TOML file support
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	Environment string           `toml:"environment"` // development, production
	Server      ServerConfig     `toml:"server"`
	Backend     BackendConfig    `toml:"backend"`
	Execution   ExecutionConfig  `toml:"execution"`
	Storage     StorageConfig    `toml:"storage"`
	Logging     LogConfig        `toml:"logging"`
	WebSocket   WebSocketConfig  `toml:"websocket"`
	Markets     MarketsConfig    `toml:"markets"`
	Schedules   []ScheduleConfig `toml:"schedules"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port int    `toml:"port"` // HTTP server port
	Host string `toml:"host"` // Bind address
}

// BackendConfig holds connection settings for the strategy execution backend
type BackendConfig struct {
	BaseURL   string `toml:"base_url"`   // Backend base URL
	Timeout   string `toml:"timeout"`    // Per-request timeout (duration string)
	RateLimit string `toml:"rate_limit"` // Minimum interval between requests
}

// ExecutionConfig tunes run tracking behavior
type ExecutionConfig struct {
	PollInterval    string `toml:"poll_interval"`     // Status poll cadence while a run is live
	MaxPollFailures int    `toml:"max_poll_failures"` // Consecutive poll failures before the run is marked errored
	StreamEnabled   bool   `toml:"stream_enabled"`    // Consume the backend progress stream alongside polling
	QueueRefresh    string `toml:"queue_refresh"`     // Queue view refresh cadence
}

// StorageConfig holds persistence settings
type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig holds BadgerDB settings
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory
	ResetOnStartup bool   `toml:"reset_on_startup"` // Wipe the database on startup (development only)
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string   `toml:"level"`       // debug, info, warn, error
	Format     string   `toml:"format"`      // text, json
	Output     []string `toml:"output"`      // stdout, file
	TimeFormat string   `toml:"time_format"` // Timestamp format
}

// WebSocketConfig holds WebSocket broadcast settings
type WebSocketConfig struct {
	AllowedEvents     []string          `toml:"allowed_events"`     // Event types forwarded to clients (empty = all)
	ThrottleIntervals map[string]string `toml:"throttle_intervals"` // Per-event minimum broadcast interval
}

// MarketsConfig holds market-related defaults
type MarketsConfig struct {
	DefaultExchange string `toml:"default_exchange"` // Exchange assumed for bare ticker codes
}

// ScheduleConfig describes one recurring strategy execution
type ScheduleConfig struct {
	Name       string                 `toml:"name"`       // Unique schedule name
	Cron       string                 `toml:"cron"`       // Cron expression
	Strategy   string                 `toml:"strategy"`   // Strategy code to execute
	Parameters map[string]interface{} `toml:"parameters"` // Strategy parameters
	Enabled    bool                   `toml:"enabled"`    // Disabled schedules are skipped at startup
}

// NewDefaultConfig returns a config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Backend: BackendConfig{
			BaseURL:   "http://localhost:8000",
			Timeout:   "30s",
			RateLimit: "100ms",
		},
		Execution: ExecutionConfig{
			PollInterval:    "2s",
			MaxPollFailures: 5,
			StreamEnabled:   true,
			QueueRefresh:    "5s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/curro.db",
				ResetOnStartup: false,
			},
		},
		Logging: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"run_updated": "250ms",
			},
		},
		Markets: MarketsConfig{
			DefaultExchange: "ASX",
		},
	}
}

// LoadFromFile loads configuration from a single TOML file
func LoadFromFile(path string) (*Config, error) {
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple TOML files.
// Files are applied in order, so later files override earlier ones.
// Environment variables override all file-based configuration.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment
	if env := os.Getenv("CURRO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CURRO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CURRO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Backend configuration
	if baseURL := os.Getenv("CURRO_BACKEND_BASE_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if timeout := os.Getenv("CURRO_BACKEND_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Backend.Timeout = timeout
		}
	}
	if rateLimit := os.Getenv("CURRO_BACKEND_RATE_LIMIT"); rateLimit != "" {
		if _, err := time.ParseDuration(rateLimit); err == nil {
			config.Backend.RateLimit = rateLimit
		}
	}

	// Execution configuration
	if interval := os.Getenv("CURRO_POLL_INTERVAL"); interval != "" {
		if _, err := time.ParseDuration(interval); err == nil {
			config.Execution.PollInterval = interval
		}
	}
	if failures := os.Getenv("CURRO_MAX_POLL_FAILURES"); failures != "" {
		if f, err := strconv.Atoi(failures); err == nil {
			config.Execution.MaxPollFailures = f
		}
	}
	if enabled := os.Getenv("CURRO_STREAM_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Execution.StreamEnabled = b
		}
	}
	if refresh := os.Getenv("CURRO_QUEUE_REFRESH"); refresh != "" {
		if _, err := time.ParseDuration(refresh); err == nil {
			config.Execution.QueueRefresh = refresh
		}
	}

	// Storage configuration
	if path := os.Getenv("CURRO_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Logging configuration
	if level := os.Getenv("CURRO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CURRO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("CURRO_LOG_OUTPUT"); output != "" {
		parts := strings.Split(output, ",")
		outputs := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Markets configuration
	if exchange := os.Getenv("CURRO_DEFAULT_EXCHANGE"); exchange != "" {
		config.Markets.DefaultExchange = exchange
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// Flags take precedence over both config files and environment variables.
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// PollIntervalDuration returns the parsed poll interval, falling back to the default
func (c *ExecutionConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, 2*time.Second)
}

// QueueRefreshDuration returns the parsed queue refresh cadence
func (c *ExecutionConfig) QueueRefreshDuration() time.Duration {
	return parseDurationOr(c.QueueRefresh, 5*time.Second)
}

// TimeoutDuration returns the parsed request timeout
func (c *BackendConfig) TimeoutDuration() time.Duration {
	return parseDurationOr(c.Timeout, 30*time.Second)
}

// RateLimitDuration returns the parsed request rate limit interval
func (c *BackendConfig) RateLimitDuration() time.Duration {
	return parseDurationOr(c.RateLimit, 100*time.Millisecond)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "production" || env == "prod"
}
