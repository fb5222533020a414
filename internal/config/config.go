// Package config loads trustplane configuration. Precedence, highest
// first: environment variables (TRUSTPLANE_*), an optional YAML file
// named by TRUSTPLANE_CONFIG, compiled-in defaults. A config file that
// is named but unreadable or malformed is an error, not a silent
// fallback.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the trustplane server and CLI.
type Config struct {
	Port       int    `yaml:"port"`
	Version    string `yaml:"version"`
	PolicyFile string `yaml:"policy_file"`

	Store     StoreConfig     `yaml:"store"`
	Collector CollectorConfig `yaml:"collector"`
	Gating    GatingConfig    `yaml:"gating"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// DataDir is where the memory backend writes its JSON snapshot.
	// Empty means ephemeral.
	DataDir string `yaml:"data_dir"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

type CollectorConfig struct {
	EventLogCap     int      `yaml:"event_log_cap"`
	HistoryCap      int      `yaml:"history_cap"`
	HistoryInterval Duration `yaml:"history_interval"`
	FlushInterval   Duration `yaml:"flush_interval"`
}

type GatingConfig struct {
	DemotionFraction float64 `yaml:"demotion_fraction"`
	AutoPromote      bool    `yaml:"auto_promote"`
	AuditRetention   int     `yaml:"audit_retention"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Duration decodes YAML strings like "30s" or "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func defaults() *Config {
	return &Config{
		Port:    8080,
		Version: "0.1.0",
		Store: StoreConfig{
			Backend:    "memory",
			SQLitePath: "trustplane.db",
		},
		Collector: CollectorConfig{
			EventLogCap:     50,
			HistoryCap:      90,
			HistoryInterval: Duration(24 * time.Hour),
			FlushInterval:   Duration(30 * time.Second),
		},
		Gating: GatingConfig{
			DemotionFraction: 0.8,
			AutoPromote:      true,
			AuditRetention:   0,
		},
		Telemetry: TelemetryConfig{
			Enabled:      true,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "trustplane",
		},
	}
}

// Load reads configuration with the standard precedence. The YAML
// file, if any, comes from TRUSTPLANE_CONFIG.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("TRUSTPLANE_CONFIG"))
}

// LoadFrom reads configuration, overlaying the YAML file at path (when
// non-empty) over the defaults and the environment over both.
func LoadFrom(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// Unmarshal over the defaults: absent fields keep their value.
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("TRUSTPLANE_PORT", cfg.Port)
	cfg.Version = envStr("TRUSTPLANE_VERSION", cfg.Version)
	cfg.PolicyFile = envStr("TRUSTPLANE_POLICY_FILE", cfg.PolicyFile)

	cfg.Store.Backend = envStr("TRUSTPLANE_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.DataDir = envStr("TRUSTPLANE_DATA_DIR", cfg.Store.DataDir)
	cfg.Store.SQLitePath = envStr("TRUSTPLANE_SQLITE_PATH", cfg.Store.SQLitePath)

	cfg.Collector.EventLogCap = envInt("TRUSTPLANE_EVENT_LOG_CAP", cfg.Collector.EventLogCap)
	cfg.Collector.HistoryCap = envInt("TRUSTPLANE_HISTORY_CAP", cfg.Collector.HistoryCap)
	cfg.Collector.HistoryInterval = Duration(envDur("TRUSTPLANE_HISTORY_INTERVAL", cfg.Collector.HistoryInterval.Std()))
	cfg.Collector.FlushInterval = Duration(envDur("TRUSTPLANE_FLUSH_INTERVAL", cfg.Collector.FlushInterval.Std()))

	cfg.Gating.DemotionFraction = envFloat("TRUSTPLANE_DEMOTION_FRACTION", cfg.Gating.DemotionFraction)
	cfg.Gating.AutoPromote = envBool("TRUSTPLANE_AUTO_PROMOTE", cfg.Gating.AutoPromote)
	cfg.Gating.AuditRetention = envInt("TRUSTPLANE_AUDIT_RETENTION", cfg.Gating.AuditRetention)

	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
