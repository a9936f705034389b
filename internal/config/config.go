// Package config loads and resolves the engine's runtime configuration
// (§6.7): a YAML file with environment-variable overrides for the secrets
// and selectors that shouldn't live in a checked-in file, XDG default path
// resolution, and a Diff helper for safe hot-reload of non-server-level
// fields — directly modeled on the teacher's Config/Diff pattern.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/screenverify/engine/internal/challenge"
	"github.com/screenverify/engine/internal/consensus"
	"github.com/screenverify/engine/internal/pipeline"
	"github.com/screenverify/engine/internal/session"
	"github.com/screenverify/engine/internal/ttsgate"
	"github.com/screenverify/engine/internal/ws"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Vision    ProviderConfig  `yaml:"vision"`
	TTS       ProviderConfig  `yaml:"tts"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	LogLevel  string          `yaml:"log_level"`
	Engine    EngineConfig    `yaml:"engine"`
}

// ServerConfig is the listener and transport-route configuration.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	Prefix         string   `yaml:"prefix"`
	Production     bool     `yaml:"production"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig selects the session store (§6.4). An empty URL means the
// in-memory store; a non-empty one is a Redis connection string.
type StoreConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig is the Postgres DSN for the durable session/template
// repositories (§6.5). An empty DSN means the in-memory fakes, for local
// development without a database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// WebhookConfig is the completion-notification endpoint (§6.6). An empty
// URL disables the webhook entirely.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// ProviderConfig names a vision or TTS provider and holds its credentials
// (§6.2, §6.3). Provider is loaded but not read by cmd/server, which always
// builds the Anthropic vision provider and the HTTP TTS provider.
type ProviderConfig struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint,omitempty"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model,omitempty"`
}

// TelemetryConfig is an optional observability sink connection string.
type TelemetryConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// EngineConfig mirrors the engine's named constants (§3, §5), defaulting
// each field from the owning package's constant. The values are loaded and
// compared by Diff, but nothing passes them to the engine: the packages use
// their own constants, so setting these fields does not change behaviour.
type EngineConfig struct {
	Debounce             time.Duration `yaml:"debounce"`
	ConsensusThreshold   int           `yaml:"consensus_threshold"`
	SuccessThreshold     int           `yaml:"success_threshold"`
	RateLimitPerWindow   int           `yaml:"rate_limit_per_window"`
	RateLimitWindow      time.Duration `yaml:"rate_limit_window"`
	QuietPeriod          time.Duration `yaml:"quiet_period"`
	StuckTimeout         time.Duration `yaml:"stuck_timeout"`
	ChallengeProbability float64       `yaml:"challenge_probability"`
	ChallengeTimeout     time.Duration `yaml:"challenge_timeout"`
}

func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default config (with
// environment overrides applied) if path doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:   8080,
			Host:   "0.0.0.0",
			Prefix: "/session",
		},
		Engine: EngineConfig{
			Debounce:             pipeline.DebounceWindow,
			ConsensusThreshold:   consensus.Threshold,
			SuccessThreshold:     pipeline.SuccessThreshold,
			RateLimitPerWindow:   ws.RateLimitMax,
			RateLimitWindow:      ws.RateLimitWindow,
			QuietPeriod:          ttsgate.QuietPeriod,
			StuckTimeout:         ttsgate.StuckTimeout,
			ChallengeProbability: challenge.Probability,
			ChallengeTimeout:     session.DefaultChallengeTimeout,
		},
	}
}

// applyEnvOverrides layers environment variables over a loaded config, per
// §6.7's recognized options: origin allow-list, database connection
// string, session-store URL, webhook URL and secret, vision/TTS provider
// selectors and credentials, telemetry connection string, log level.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCREENVERIFY_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("SCREENVERIFY_PRODUCTION"); v != "" {
		cfg.Server.Production = v == "1" || v == "true"
	}
	if v := os.Getenv("SCREENVERIFY_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SCREENVERIFY_STORE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("SCREENVERIFY_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("SCREENVERIFY_WEBHOOK_SECRET"); v != "" {
		cfg.Webhook.Secret = v
	}
	if v := os.Getenv("SCREENVERIFY_VISION_PROVIDER"); v != "" {
		cfg.Vision.Provider = v
	}
	if v := os.Getenv("SCREENVERIFY_VISION_API_KEY"); v != "" {
		cfg.Vision.APIKey = v
	}
	if v := os.Getenv("SCREENVERIFY_TTS_PROVIDER"); v != "" {
		cfg.TTS.Provider = v
	}
	if v := os.Getenv("SCREENVERIFY_TTS_API_KEY"); v != "" {
		cfg.TTS.APIKey = v
	}
	if v := os.Getenv("SCREENVERIFY_TTS_ENDPOINT"); v != "" {
		cfg.TTS.Endpoint = v
	}
	if v := os.Getenv("SCREENVERIFY_TELEMETRY_DSN"); v != "" {
		cfg.Telemetry.ConnectionString = v
	}
	if v := os.Getenv("SCREENVERIFY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func splitAndTrim(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Diff compares two configs and returns human-readable descriptions of
// what changed. Only sections safe to reload at runtime are compared
// (origins, webhook, provider selectors, telemetry, log level, engine
// tunables) — Server.Port/Host/Prefix require a process restart.
func Diff(old, new *Config) []string {
	var changes []string

	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		changes = append(changes, fmt.Sprintf("server.allowed_origins: %v → %v", old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	}
	if old.Webhook != new.Webhook {
		changes = append(changes, "webhook: configuration changed")
	}
	if old.Vision != new.Vision {
		changes = append(changes, "vision: configuration changed")
	}
	if old.TTS != new.TTS {
		changes = append(changes, "tts: configuration changed")
	}
	if old.Telemetry != new.Telemetry {
		changes = append(changes, fmt.Sprintf("telemetry.connection_string: %q → %q", old.Telemetry.ConnectionString, new.Telemetry.ConnectionString))
	}
	if old.LogLevel != new.LogLevel {
		changes = append(changes, fmt.Sprintf("log_level: %q → %q", old.LogLevel, new.LogLevel))
	}
	if old.Engine != new.Engine {
		changes = append(changes, "engine: tunables changed")
	}

	return changes
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "screenverify", "config.yaml")
}
