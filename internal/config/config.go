package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the HexStrike engine configuration
type Config struct {
	Hexstrike struct {
		Daemon   DaemonConfig          `yaml:"daemon"`
		Engine   EngineConfig          `yaml:"engine"`
		Cache    CacheConfig           `yaml:"cache"`
		Registry RegistryConfig        `yaml:"registry"`
		Tools    map[string]ToolConfig `yaml:"tools"`
		API      APIConfig             `yaml:"api"`
		Security SecurityConfig        `yaml:"security"`
		History  HistoryConfig         `yaml:"history"`
		Metrics  MetricsConfig         `yaml:"metrics"`
		Sweeper  SweeperConfig         `yaml:"sweeper"`
	} `yaml:"hexstrike"`
}

type DaemonConfig struct {
	PIDFile          string `yaml:"pid_file"`
	LogLevel         string `yaml:"log_level"`
	LogCaptureDir    string `yaml:"log_capture_dir"`
	MaxLogFileSizeMB int    `yaml:"max_log_file_size_mb"`
	MaxLogFiles      int    `yaml:"max_log_files"`
}

type EngineConfig struct {
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	MaxOutputBytes  int64         `yaml:"max_output_bytes"`
	TermGracePeriod time.Duration `yaml:"term_grace_period"`
}

// CacheConfig bounds the result cache. TTL is a policy choice and is
// deliberately configuration, not a constant: scan results go stale as
// the target changes underneath them.
type CacheConfig struct {
	MaxBytes int64         `yaml:"max_bytes"`
	TTL      time.Duration `yaml:"ttl"`
}

type RegistryConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxQueued     int           `yaml:"max_queued"` // per tool category
	Retention     time.Duration `yaml:"retention"`  // terminal record retention
}

// ToolConfig declares a wrapped tool beyond the built-in catalog,
// or overrides a built-in entry by name.
type ToolConfig struct {
	Command         string        `yaml:"command"`
	Args            []string      `yaml:"args"`
	Category        string        `yaml:"category"`
	Timeout         time.Duration `yaml:"timeout"`
	ProgressPattern string        `yaml:"progress_pattern"`
	SetParams       []string      `yaml:"set_params"`
	VolatileParams  []string      `yaml:"volatile_params"`
}

type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type SecurityConfig struct {
	APIKey          string        `yaml:"api_key"`
	JWTSecret       string        `yaml:"jwt_secret"`
	TokenDuration   time.Duration `yaml:"token_duration"`
	BootstrapAPIKey string        `yaml:"bootstrap_api_key"` // JWT token generation auth
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	MaxRuns int    `yaml:"max_runs"` // rows kept per tool before pruning
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SweeperConfig struct {
	CacheSweep    string `yaml:"cache_sweep"`    // cron expression
	RegistrySweep string `yaml:"registry_sweep"` // cron expression
	HistoryFlush  string `yaml:"history_flush"`  // cron expression
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// Default returns a configuration with all defaults applied and no file read.
func Default() *Config {
	var config Config
	config.applyDefaults()
	return &config
}

func (c *Config) applyDefaults() {
	hx := &c.Hexstrike

	if hx.Engine.DefaultTimeout == 0 {
		hx.Engine.DefaultTimeout = 5 * time.Minute
	}
	if hx.Engine.MaxOutputBytes == 0 {
		hx.Engine.MaxOutputBytes = 1 << 20 // 1 MiB per invocation
	}
	if hx.Engine.TermGracePeriod == 0 {
		hx.Engine.TermGracePeriod = 5 * time.Second
	}

	if hx.Cache.MaxBytes == 0 {
		hx.Cache.MaxBytes = 64 << 20
	}
	if hx.Cache.TTL == 0 {
		hx.Cache.TTL = 30 * time.Minute
	}

	if hx.Registry.MaxConcurrent == 0 {
		hx.Registry.MaxConcurrent = 8
	}
	if hx.Registry.MaxQueued == 0 {
		hx.Registry.MaxQueued = 32
	}
	if hx.Registry.Retention == 0 {
		hx.Registry.Retention = 15 * time.Minute
	}

	if hx.API.Host == "" {
		hx.API.Host = "127.0.0.1"
	}
	if hx.API.Port == 0 {
		hx.API.Port = 8888
	}

	if hx.Security.TokenDuration == 0 {
		hx.Security.TokenDuration = 24 * time.Hour
	}

	if hx.History.Path == "" {
		hx.History.Path = "./hexstrike_history.db"
	}
	if hx.History.MaxRuns == 0 {
		hx.History.MaxRuns = 500
	}

	if hx.Sweeper.CacheSweep == "" {
		hx.Sweeper.CacheSweep = "*/30 * * * * *"
	}
	if hx.Sweeper.RegistrySweep == "" {
		hx.Sweeper.RegistrySweep = "0 * * * * *"
	}
	if hx.Sweeper.HistoryFlush == "" {
		hx.Sweeper.HistoryFlush = "0 */5 * * * *"
	}
}
