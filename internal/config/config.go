// Package config loads the service configuration from a YAML file, with
// secrets and addresses overridable from the environment or a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/bulk-translator/internal/controller"
)

// Environment variables that override the file.
const (
	EnvAPIToken = "TRANSLATION_API_TOKEN"
	EnvBaseURL  = "TRANSLATION_BASE_URL"
	EnvNATSURL  = "NATS_URL"
	EnvLogLevel = "LOG_LEVEL"
)

// Config maps configs/default.yaml.
type Config struct {
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
		GRPCAddr string `yaml:"grpc_addr"`
	} `yaml:"server"`

	Orchestrator struct {
		PollInterval      time.Duration `yaml:"poll_interval"`
		MaxPollIterations int           `yaml:"max_poll_iterations"`
		ItemConcurrency   int           `yaml:"item_concurrency"`
		RemoteCallTimeout time.Duration `yaml:"remote_call_timeout"`
		StringsPerFile    int           `yaml:"strings_per_file"`
		SecondsPerUnit    int           `yaml:"seconds_per_unit"`
		CostPerString     float64       `yaml:"cost_per_string"`
	} `yaml:"orchestrator"`

	Translation struct {
		BaseURL  string        `yaml:"base_url"`
		APIToken string        `yaml:"api_token"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"translation"`

	Events struct {
		NATSURL       string `yaml:"nats_url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"events"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.HTTPAddr = ":8080"
	cfg.Server.GRPCAddr = ":50051"

	ctrl := controller.DefaultConfig()
	cfg.Orchestrator.PollInterval = ctrl.PollInterval
	cfg.Orchestrator.MaxPollIterations = ctrl.MaxPollIterations
	cfg.Orchestrator.ItemConcurrency = ctrl.ItemConcurrency
	cfg.Orchestrator.RemoteCallTimeout = ctrl.RemoteCallTimeout
	cfg.Orchestrator.StringsPerFile = ctrl.StringsPerFile
	cfg.Orchestrator.SecondsPerUnit = int(ctrl.UnitDuration / time.Second)
	cfg.Orchestrator.CostPerString = ctrl.CostPerString

	cfg.Translation.BaseURL = "http://localhost:8090"
	cfg.Translation.Timeout = 20 * time.Second

	cfg.Events.SubjectPrefix = "bulk.jobs"

	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// Load reads path over the defaults, then applies .env files and
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		slog.Default().Debug("config file not found, using defaults", "path", path)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	loadEnvFile()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFile loads .env.local then .env. Variables already set win.
func loadEnvFile() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Translation.APIToken = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Translation.BaseURL = v
	}
	if v := os.Getenv(EnvNATSURL); v != "" {
		c.Events.NATSURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the values the orchestrator cannot run without.
func (c *Config) Validate() error {
	if c.Translation.BaseURL == "" {
		return fmt.Errorf("translation.base_url is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if err := c.Controller().Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	return nil
}

// Controller maps the orchestrator section to controller.Config.
func (c *Config) Controller() controller.Config {
	o := c.Orchestrator
	return controller.Config{
		PollInterval:      o.PollInterval,
		MaxPollIterations: o.MaxPollIterations,
		ItemConcurrency:   o.ItemConcurrency,
		RemoteCallTimeout: o.RemoteCallTimeout,
		StringsPerFile:    o.StringsPerFile,
		UnitDuration:      time.Duration(o.SecondsPerUnit) * time.Second,
		CostPerString:     o.CostPerString,
	}
}

// SlogLevel parses log.level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
}
