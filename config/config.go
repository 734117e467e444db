// Package config loads the agent configuration.
//
// Priority: defaults -> YAML file -> environment variables.
//
//	cfg, err := config.NewLoader().WithConfigPath("agent.yaml").Load()
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingAddress is returned by Validate when no backend is configured.
var ErrMissingAddress = errors.New("backend address is required (set BACKEND_ADDRESS)")

// Config is the complete agent configuration.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Streaming  StreamingConfig  `yaml:"streaming"`
	Capture    CaptureConfig    `yaml:"capture"`
	Browser    BrowserConfig    `yaml:"browser"`
	RunContext RunContextConfig `yaml:"run_context"`
	Presence   PresenceConfig   `yaml:"presence"`
	Replay     ReplayConfig     `yaml:"replay"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// BackendConfig is the control plane connection.
type BackendConfig struct {
	// Comma separated agent ids or ws(s) URLs
	Address           string        `yaml:"address" env:"BACKEND_ADDRESS,BACKEND_WS_URI"`
	DefaultBase       string        `yaml:"default_base" env:"DEFAULT_WS_BASE"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" env:"RECONNECT_DELAY"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval" env:"KEEPALIVE_INTERVAL"`
	ReadLimit         int64         `yaml:"read_limit" env:"READ_LIMIT"`
}

// Endpoints splits Address into its entries.
func (b BackendConfig) Endpoints() []string {
	var out []string
	for _, part := range strings.Split(b.Address, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type DispatchConfig struct {
	ConcurrencyLimit int           `yaml:"concurrency_limit" env:"CONCURRENCY_LIMIT"`
	CallTimeout      time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"` // 0 disables
	RateLimit        float64       `yaml:"rate_limit" env:"RATE_LIMIT"`     // Calls per second, 0 disables
	RateBurst        int           `yaml:"rate_burst" env:"RATE_BURST"`
}

type StreamingConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLE_STREAMING"`
	Interval    float64       `yaml:"interval" env:"STREAMING_INTERVAL"` // Seconds
	RunIDs      []string      `yaml:"run_ids" env:"STREAMING_RUN_ID"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"STREAMING_IDLE_TIMEOUT"`
}

// IntervalDuration converts Interval to a duration.
func (s StreamingConfig) IntervalDuration() time.Duration {
	return time.Duration(s.Interval * float64(time.Second))
}

type CaptureConfig struct {
	FPS         float64 `yaml:"fps" env:"CAPTURE_FPS"`
	JPEGQuality int     `yaml:"jpeg_quality" env:"CAPTURE_JPEG_QUALITY"`
}

type BrowserConfig struct {
	Headless bool   `yaml:"headless" env:"BROWSER_HEADLESS"`
	StartURL string `yaml:"start_url" env:"BROWSER_START_URL"`
}

// RunContextConfig selects where run variables live. Empty Addr keeps
// them in memory.
type RunContextConfig struct {
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
}

// PresenceConfig announces the agent in etcd. Empty Endpoints disables it.
type PresenceConfig struct {
	Endpoints []string `yaml:"endpoints" env:"ETCD_ENDPOINTS"`
	AgentID   string   `yaml:"agent_id" env:"AGENT_ID"`
	TTL       int64    `yaml:"ttl" env:"PRESENCE_TTL"` // Seconds
}

type ReplayConfig struct {
	Dir string `yaml:"dir" env:"REPLAY_DIR"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"LOG_FORMAT"` // json, console
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			DefaultBase:       "wss://beta.barkoagent.com/ws/",
			ReconnectDelay:    10 * time.Second,
			WriteTimeout:      10 * time.Second,
			KeepAliveInterval: 30 * time.Second,
			ReadLimit:         1 << 20,
		},
		Dispatch: DispatchConfig{
			ConcurrencyLimit: 4,
		},
		Streaming: StreamingConfig{
			Enabled:  true,
			Interval: 1.0,
			RunIDs:   []string{"1"},
		},
		Capture: CaptureConfig{
			FPS:         1.0,
			JPEGQuality: 70,
		},
		Browser: BrowserConfig{
			Headless: true,
			StartURL: "about:blank",
		},
		Presence: PresenceConfig{
			TTL: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if len(c.Backend.Endpoints()) == 0 {
		return ErrMissingAddress
	}

	var errs []error
	if c.Backend.ReconnectDelay < 0 {
		errs = append(errs, errors.New("reconnect_delay must not be negative"))
	}
	if c.Backend.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.Dispatch.ConcurrencyLimit <= 0 {
		errs = append(errs, errors.New("concurrency_limit must be positive"))
	}
	if c.Dispatch.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}
	if c.Streaming.Enabled {
		if c.Streaming.Interval <= 0 {
			errs = append(errs, errors.New("streaming interval must be positive"))
		}
		if len(c.Streaming.RunIDs) == 0 {
			errs = append(errs, errors.New("streaming needs at least one run id"))
		}
	}
	if c.Capture.JPEGQuality < 1 || c.Capture.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("jpeg_quality %d out of range 1-100", c.Capture.JPEGQuality))
	}
	if len(c.Presence.Endpoints) > 0 && c.Presence.TTL <= 0 {
		errs = append(errs, errors.New("presence ttl must be positive"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
