package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/HenryHeth/mission-control-sub000/internal/billing"
	"github.com/HenryHeth/mission-control-sub000/internal/historic"
	"github.com/HenryHeth/mission-control-sub000/internal/presence"
	"github.com/HenryHeth/mission-control-sub000/internal/taskapi"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig    `toml:"server"`
	TaskAPI  taskapi.Config  `toml:"taskapi"`
	Historic historic.Config `toml:"historic"`
	Cache    CacheConfig     `toml:"cache"`
	Snapshot SnapshotConfig  `toml:"snapshot"`
	Presence PresenceConfig  `toml:"presence"`
	Billing  BillingConfig   `toml:"billing"`
	Memory   MemoryConfig    `toml:"memory"`
	Logging  LoggingConfig   `toml:"logging"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`

	// AllowedEmails, when non-empty, restricts /api routes to requests
	// carrying one of these values in the X-Dashboard-Email header.
	AllowedEmails []string `toml:"allowed_emails"`
}

// CacheConfig selects the aggregate cache backend
type CacheConfig struct {
	Backend string      `toml:"backend"`
	Redis   RedisConfig `toml:"redis"`
}

// RedisConfig holds shared-cache connection settings
type RedisConfig struct {
	Address  string `toml:"address"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// SnapshotConfig holds last-known-good store settings
type SnapshotConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// PresenceConfig names the heartbeat artifacts written by the agent
type PresenceConfig struct {
	LastRunFile     string `toml:"last_run_file"`
	HistoryFile     string `toml:"history_file"`
	LogFile         string `toml:"log_file"`
	LegacyStateFile string `toml:"legacy_state_file"`
	AgentConfigFile string `toml:"agent_config_file"`
}

// FileSet converts the configured paths to the presence loader's input.
func (p PresenceConfig) FileSet() presence.FileSet {
	return presence.FileSet{
		LastRunPath:     p.LastRunFile,
		HistoryPath:     p.HistoryFile,
		LogPath:         p.LogFile,
		LegacyStatePath: p.LegacyStateFile,
		AgentConfigPath: p.AgentConfigFile,
	}
}

// BillingConfig lists the provider billing APIs to aggregate
type BillingConfig struct {
	Providers []billing.ProviderConfig `toml:"providers"`
}

// MemoryConfig points at the agent's memory-file directory
type MemoryConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    8080,
		},
		TaskAPI: taskapi.Config{
			BaseURL:  "https://api.toodledo.com/3",
			PageSize: taskapi.DefaultPageSize,
			Timeout:  taskapi.DefaultTimeout,
		},
		Historic: historic.Config{
			TTL:       historic.DefaultTTL,
			StartYear: historic.DefaultStartYear,
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		Snapshot: SnapshotConfig{
			Enabled: true,
			Path:    "missionctl.db",
		},
		Presence: PresenceConfig{
			LastRunFile:     "heartbeat/last-run.json",
			HistoryFile:     "heartbeat/history.json",
			LogFile:         "heartbeat/agent.log",
			LegacyStateFile: "heartbeat/state.json",
			AgentConfigFile: "heartbeat/config.json",
		},
		Memory: MemoryConfig{
			Dir: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// Parse TOML file
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// If no config file specified, return defaults
	if configPath == "" {
		return config, nil
	}

	fileConfig, err := LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}

	return fileConfig, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	// Task API validation
	if c.TaskAPI.BaseURL == "" {
		return fmt.Errorf("taskapi base_url must be specified")
	}
	if c.TaskAPI.PageSize <= 0 {
		return fmt.Errorf("taskapi page_size must be positive")
	}
	if c.TaskAPI.Timeout <= 0 {
		return fmt.Errorf("taskapi timeout must be positive")
	}

	// Historic validation
	if c.Historic.TTL <= 0 {
		return fmt.Errorf("historic ttl must be positive")
	}
	if c.Historic.StartYear < 1970 {
		return fmt.Errorf("historic start_year must be 1970 or later")
	}
	if c.Historic.StartYear > time.Now().Year() {
		return fmt.Errorf("historic start_year must not be in the future")
	}

	// Cache validation
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("unsupported cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Address == "" {
		return fmt.Errorf("cache redis address must be specified when backend is redis")
	}

	// Snapshot validation
	if c.Snapshot.Enabled && c.Snapshot.Path == "" {
		return fmt.Errorf("snapshot path must be specified when snapshot is enabled")
	}

	// Billing validation
	for i, p := range c.Billing.Providers {
		if p.Name == "" {
			return fmt.Errorf("billing provider %d: name must be specified", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("billing provider %q: base_url must be specified", p.Name)
		}
		switch p.Kind {
		case "anthropic", "openai", "openrouter":
		default:
			return fmt.Errorf("billing provider %q: unsupported kind: %s", p.Name, p.Kind)
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}
