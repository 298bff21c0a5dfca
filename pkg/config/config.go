// Package config loads and validates the cnamed configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"cnamed/pkg/rewrite"
)

// Config holds the application configuration. bind_address and replacements
// are the contract consumed by the rewrite engine; the remaining sections
// configure the ambient stack and all have working defaults.
type Config struct {
	// Address the DNS server binds to, ip:port
	BindAddress string `json:"bind_address"`

	// Ordered rewrite rules; order defines match priority
	Replacements []rewrite.Replacement `json:"replacements"`

	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Storage   StorageConfig   `json:"storage"`
}

// ServerConfig holds DNS transport settings.
type ServerConfig struct {
	UDPEnabled bool `json:"udp_enabled"`
	TCPEnabled bool `json:"tcp_enabled"`

	// TTL on synthesized CNAME answers, seconds
	RewriteTTL uint32 `json:"rewrite_ttl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `json:"level"`      // debug, info, warn, error
	Format    string `json:"format"`     // json, text
	Output    string `json:"output"`     // stdout, stderr, file
	FilePath  string `json:"file_path"`  // if output=file
	AddSource bool   `json:"add_source"` // include source file/line
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled           bool   `json:"enabled"`
	ServiceName       string `json:"service_name"`
	ServiceVersion    string `json:"service_version"`
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    int    `json:"prometheus_port"`
	ProcessMetrics    bool   `json:"process_metrics"`
}

// StorageConfig holds query-log persistence settings.
type StorageConfig struct {
	Enabled       bool   `json:"enabled"`
	DatabasePath  string `json:"database_path"`
	BufferSize    int    `json:"buffer_size"`
	BatchSize     int    `json:"batch_size"`
	FlushSeconds  int    `json:"flush_seconds"`
	RetentionDays int    `json:"retention_days"`
	BusyTimeoutMs int    `json:"busy_timeout_ms"`
	WALMode       bool   `json:"wal_mode"`
	Workers       int    `json:"workers"`
}

// Load reads and parses the configuration file, applies defaults and
// validates the result. Any failure here is fatal to startup; no socket
// binds on a broken configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults creates a configuration with defaults only.
func LoadWithDefaults() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BindAddress == "" {
		c.BindAddress = "127.0.0.1:5353"
	}
	if !c.Server.UDPEnabled && !c.Server.TCPEnabled {
		c.Server.UDPEnabled = true
		c.Server.TCPEnabled = true
	}
	if c.Server.RewriteTTL == 0 {
		c.Server.RewriteTTL = 300
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "cnamed"
	}
	if c.Telemetry.ServiceVersion == "" {
		c.Telemetry.ServiceVersion = "dev"
	}
	if c.Telemetry.PrometheusPort == 0 {
		c.Telemetry.PrometheusPort = 9090
	}

	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./cnamed.db"
	}
	if c.Storage.BufferSize == 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.BatchSize == 0 {
		c.Storage.BatchSize = 100
	}
	if c.Storage.FlushSeconds == 0 {
		c.Storage.FlushSeconds = 5
	}
	if c.Storage.RetentionDays == 0 {
		c.Storage.RetentionDays = 7
	}
	if c.Storage.BusyTimeoutMs == 0 {
		c.Storage.BusyTimeoutMs = 5000
	}
	if c.Storage.Workers == 0 {
		c.Storage.Workers = 2
	}
}

// Validate checks if the configuration is valid. Replacement patterns are
// not compiled here; rewrite.CompileRules owns that and is equally fatal at
// startup.
func (c *Config) Validate() error {
	if c.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if !c.Server.UDPEnabled && !c.Server.TCPEnabled {
		return fmt.Errorf("at least one of UDP or TCP must be enabled")
	}

	for i, r := range c.Replacements {
		if r.From == "" {
			return fmt.Errorf("replacement %d: from cannot be empty", i+1)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging format: %s (must be json or text)", c.Logging.Format)
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid logging output: %s (must be stdout, stderr, or file)", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path must be set when output is 'file'")
	}

	return nil
}
