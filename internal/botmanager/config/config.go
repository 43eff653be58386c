// Package config holds the bot manager's configuration. A TOML file
// provides the base values and every recognized option can be overridden
// from the environment, which is how containerized deployments configure
// the service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ReaperConfig holds the staleness thresholds that drive stuck meetings to
// a terminal failed state. Values are duration strings ("60s", "5m").
type ReaperConfig struct {
	Tick           string `toml:"tick"`
	ReserveStale   string `toml:"reserve_stale"`
	StartingStale  string `toml:"starting_stale"`
	HeartbeatStale string `toml:"heartbeat_stale"`
	StoppingStale  string `toml:"stopping_stale"`
}

// StoreConfig holds the state store connection settings.
type StoreConfig struct {
	URL string `toml:"url"` // postgres DSN
}

// BusConfig holds the command bus connection settings.
type BusConfig struct {
	URL string `toml:"url"` // amqp URL; "mem://" selects the in-process bus
}

// ConfigParam holds all configuration parameters for the bot manager.
type ConfigParam struct {
	ServerPort         string `toml:"server_port"`
	HandleCORS         bool   `toml:"handle_cors"`
	MaxRequestBodySize int64  `toml:"max_request_body_size"`

	// CallbackBaseURL is the URL workers use to reach the callback
	// surface; it is injected into every container.
	CallbackBaseURL string `toml:"callback_base_url"`

	BotImage      string `toml:"bot_image"`
	DockerNetwork string `toml:"docker_network"`
	OrchKind      string `toml:"orch_kind"` // local | cluster

	// Fallbacks applied at admission when a request leaves them unset.
	// DefaultLanguage empty means auto-detect.
	DefaultLanguage string `toml:"default_language"`
	DefaultTask     string `toml:"default_task"`

	// StartRPCTimeout bounds the whole start_bot call including the
	// orchestrator round trips.
	StartRPCTimeout string `toml:"start_rpc_timeout"`

	Store  StoreConfig  `toml:"store"`
	Bus    BusConfig    `toml:"bus"`
	Reaper ReaperConfig `toml:"reaper"`
}

var cfg *ConfigParam

// Config returns the current configuration.
func Config() *ConfigParam {
	return cfg
}

// defaults returns a ConfigParam populated with the documented defaults.
func defaults() *ConfigParam {
	return &ConfigParam{
		ServerPort:         "8080",
		MaxRequestBodySize: 1 << 20,
		OrchKind:           "local",
		DefaultTask:        "transcribe",
		StartRPCTimeout:    "30s",
		Reaper: ReaperConfig{
			Tick:           "60s",
			ReserveStale:   "5m",
			StartingStale:  "10m",
			HeartbeatStale: "2m",
			StoppingStale:  "5m",
		},
	}
}

// LoadConfig loads configuration from an optional TOML file, applies
// environment overrides, and validates the result. A missing path loads
// defaults plus environment only. A .env file in the working directory is
// honored if present.
func LoadConfig(path string) error {
	_ = godotenv.Load()

	c := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(c)

	if err := ValidateConfig(c); err != nil {
		return err
	}
	cfg = c
	return nil
}

// envOverride assigns the environment value to dst when the variable is set.
func envOverride(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func applyEnvOverrides(c *ConfigParam) {
	envOverride(&c.Store.URL, "STORE_URL")
	envOverride(&c.Bus.URL, "BUS_URL")
	envOverride(&c.OrchKind, "ORCH_KIND")
	envOverride(&c.BotImage, "BOT_IMAGE")
	envOverride(&c.CallbackBaseURL, "CALLBACK_BASE_URL")
	envOverride(&c.Reaper.Tick, "T_REAP")
	envOverride(&c.Reaper.ReserveStale, "T_RESERVE_STALE")
	envOverride(&c.Reaper.StartingStale, "T_STARTING_STALE")
	envOverride(&c.Reaper.HeartbeatStale, "T_HEARTBEAT_STALE")
	envOverride(&c.Reaper.StoppingStale, "T_STOPPING_STALE")
	envOverride(&c.ServerPort, "SERVER_PORT")
	envOverride(&c.DefaultLanguage, "DEFAULT_LANGUAGE")
	envOverride(&c.DefaultTask, "DEFAULT_TASK")
	envOverride(&c.DockerNetwork, "DOCKER_NETWORK")
}

// ValidateConfig checks that required values are present and parseable.
func ValidateConfig(c *ConfigParam) error {
	if c.ServerPort == "" {
		return fmt.Errorf("server_port is required")
	}
	if c.OrchKind != "local" && c.OrchKind != "cluster" {
		return fmt.Errorf("orch_kind must be \"local\" or \"cluster\", got %q", c.OrchKind)
	}
	for name, value := range map[string]string{
		"start_rpc_timeout":      c.StartRPCTimeout,
		"reaper.tick":            c.Reaper.Tick,
		"reaper.reserve_stale":   c.Reaper.ReserveStale,
		"reaper.starting_stale":  c.Reaper.StartingStale,
		"reaper.heartbeat_stale": c.Reaper.HeartbeatStale,
		"reaper.stopping_stale":  c.Reaper.StoppingStale,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
	}
	return nil
}

// mustDuration parses a previously validated duration string.
func mustDuration(name, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("invalid %s: %v", name, err))
	}
	return d
}

// GetStartRPCTimeoutOrDefault returns the start_bot deadline.
func (c *ConfigParam) GetStartRPCTimeoutOrDefault() time.Duration {
	return mustDuration("start_rpc_timeout", c.StartRPCTimeout)
}

// GetTickOrDefault returns the reaper tick period.
func (r *ReaperConfig) GetTickOrDefault() time.Duration {
	return mustDuration("reaper.tick", r.Tick)
}

// GetReserveStaleOrDefault returns the reserved-state staleness threshold.
func (r *ReaperConfig) GetReserveStaleOrDefault() time.Duration {
	return mustDuration("reaper.reserve_stale", r.ReserveStale)
}

// GetStartingStaleOrDefault returns the starting-state staleness threshold.
func (r *ReaperConfig) GetStartingStaleOrDefault() time.Duration {
	return mustDuration("reaper.starting_stale", r.StartingStale)
}

// GetHeartbeatStaleOrDefault returns the active-state heartbeat threshold.
func (r *ReaperConfig) GetHeartbeatStaleOrDefault() time.Duration {
	return mustDuration("reaper.heartbeat_stale", r.HeartbeatStale)
}

// GetStoppingStaleOrDefault returns the stopping-state staleness threshold.
func (r *ReaperConfig) GetStoppingStaleOrDefault() time.Duration {
	return mustDuration("reaper.stopping_stale", r.StoppingStale)
}

// TestInit installs a default configuration for tests.
func TestInit() {
	c := defaults()
	c.BotImage = "vexa-bot:test"
	c.CallbackBaseURL = "http://bot-manager.test:8080"
	cfg = c
}
