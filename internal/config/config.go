// Package config loads the service configuration from YAML with
// environment overrides, and watches the file for live changes.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/schedule-task-mcp/internal/timeutil"
)

// DefaultSamplingTimeoutMS bounds a sampling round trip unless overridden.
const DefaultSamplingTimeoutMS = 180000

const (
	defaultLogLevel    = "info"
	defaultServiceName = "schedule-task-mcp"
)

// Telemetry configures the optional OTLP trace exporter.
type Telemetry struct {
	Enabled     bool              `yaml:"enabled" json:"enabled"`
	Endpoint    string            `yaml:"endpoint" json:"endpoint"`
	Protocol    string            `yaml:"protocol" json:"protocol"`
	Insecure    bool              `yaml:"insecure" json:"insecure"`
	ServiceName string            `yaml:"service_name" json:"service_name"`
	Headers     map[string]string `yaml:"headers" json:"headers,omitempty"`
}

// Config is the full service configuration.
type Config struct {
	DBPath             string    `yaml:"db_path" json:"db_path"`
	Timezone           string    `yaml:"timezone" json:"timezone"`
	SamplingTimeoutMS  int       `yaml:"sampling_timeout_ms" json:"sampling_timeout_ms"`
	SamplingRatePerMin int       `yaml:"sampling_rate_per_min" json:"sampling_rate_per_min"`
	LegacyImportPath   string    `yaml:"legacy_import_path" json:"legacy_import_path,omitempty"`
	LogLevel           string    `yaml:"log_level" json:"log_level"`
	Telemetry          Telemetry `yaml:"telemetry" json:"telemetry"`
}

// DefaultDir is where the service keeps its files unless told otherwise.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".schedule-task-mcp"
	}
	return filepath.Join(home, ".schedule-task-mcp")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads the config file at path, layering defaults, file values and
// environment overrides in that order. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{
		DBPath:            filepath.Join(DefaultDir(), "tasks.db"),
		SamplingTimeoutMS: DefaultSamplingTimeoutMS,
		LogLevel:          defaultLogLevel,
		Telemetry: Telemetry{
			Protocol:    "grpc",
			ServiceName: defaultServiceName,
		},
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SCHEDULE_TASK_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("SCHEDULE_TASK_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("SCHEDULE_TASK_SAMPLING_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.SamplingTimeoutMS = ms
		}
	}
	if v := os.Getenv("SCHEDULE_TASK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) normalize() {
	c.DBPath = NormalizeDBPath(ExpandHome(c.DBPath))
	if c.LegacyImportPath != "" {
		c.LegacyImportPath = ExpandHome(c.LegacyImportPath)
	}
	if c.SamplingTimeoutMS <= 0 {
		c.SamplingTimeoutMS = DefaultSamplingTimeoutMS
	}
	if c.Telemetry.Protocol == "" {
		c.Telemetry.Protocol = "grpc"
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = defaultServiceName
	}
}

// SamplingTimeout returns the configured timeout as a duration.
func (c *Config) SamplingTimeout() time.Duration {
	return time.Duration(c.SamplingTimeoutMS) * time.Millisecond
}

// Zone resolves the configured timezone. An empty name means the host
// zone; an unresolvable name falls back to UTC with the error returned
// for logging.
func (c *Config) Zone() (*time.Location, error) {
	return timeutil.Resolve(c.Timezone)
}

// LegacyPath returns where to look for a pre-database task file.
func (c *Config) LegacyPath() string {
	if c.LegacyImportPath != "" {
		return c.LegacyImportPath
	}
	return filepath.Join(filepath.Dir(c.DBPath), "tasks.json")
}
