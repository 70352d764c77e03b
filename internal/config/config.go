// Package config loads lanchat settings from an optional YAML file and
// LANCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lanchat/internal/discovery"
)

// Config is the root application configuration.
type Config struct {
	Host      HostConfig      `mapstructure:"host"`
	Client    ClientConfig    `mapstructure:"client"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Log       LogConfig       `mapstructure:"log"`
}

// HostConfig controls the listening side.
type HostConfig struct {
	// Address to bind; empty means all interfaces.
	Address string `mapstructure:"address"`
	// Port to bind; 0 picks a free port.
	Port int `mapstructure:"port"`
	// IdleTimeout disconnects silent peers. 0 disables it.
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	OutboxSize   int           `mapstructure:"outbox_size"`
}

// ClientConfig controls the joining side.
type ClientConfig struct {
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DiscoveryConfig selects and tunes the DNS-SD backend.
type DiscoveryConfig struct {
	// Backend: zeroconf, hashicorp or memory
	Backend        string        `mapstructure:"backend"`
	ServiceType    string        `mapstructure:"service_type"`
	Domain         string        `mapstructure:"domain"`
	NamePrefix     string        `mapstructure:"name_prefix"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

const (
	BackendZeroconf  = "zeroconf"
	BackendHashicorp = "hashicorp"
	BackendMemory    = "memory"
)

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Host: HostConfig{
			OutboxSize: 32,
		},
		Client: ClientConfig{
			DialTimeout: 10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Backend:        BackendZeroconf,
			ServiceType:    discovery.DefaultServiceType,
			Domain:         discovery.DefaultDomain,
			NamePrefix:     "ChatApp",
			ResolveTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/lanchat.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise from
// LANCHAT_CONFIG or a lanchat.yaml in the usual places. Environment variables
// override the file: LANCHAT_HOST_PORT=9000, LANCHAT_LOG_LEVEL=debug.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LANCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// env-only configs need every key known to viper
	v.SetDefault("host.address", cfg.Host.Address)
	v.SetDefault("host.port", cfg.Host.Port)
	v.SetDefault("host.idle_timeout", cfg.Host.IdleTimeout)
	v.SetDefault("host.write_timeout", cfg.Host.WriteTimeout)
	v.SetDefault("host.outbox_size", cfg.Host.OutboxSize)
	v.SetDefault("client.dial_timeout", cfg.Client.DialTimeout)
	v.SetDefault("discovery.backend", cfg.Discovery.Backend)
	v.SetDefault("discovery.service_type", cfg.Discovery.ServiceType)
	v.SetDefault("discovery.domain", cfg.Discovery.Domain)
	v.SetDefault("discovery.name_prefix", cfg.Discovery.NamePrefix)
	v.SetDefault("discovery.resolve_timeout", cfg.Discovery.ResolveTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		path = os.Getenv("LANCHAT_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lanchat")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".lanchat"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values and fills in blanks.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if c.Host.Port < 0 || c.Host.Port > 65535 {
		return fmt.Errorf("invalid host.port: %d", c.Host.Port)
	}
	if c.Host.IdleTimeout < 0 {
		return fmt.Errorf("invalid host.idle_timeout: %v", c.Host.IdleTimeout)
	}
	if c.Host.WriteTimeout < 0 {
		return fmt.Errorf("invalid host.write_timeout: %v", c.Host.WriteTimeout)
	}
	if c.Host.OutboxSize <= 0 {
		return fmt.Errorf("invalid host.outbox_size: %d", c.Host.OutboxSize)
	}
	if c.Client.DialTimeout < 0 {
		return fmt.Errorf("invalid client.dial_timeout: %v", c.Client.DialTimeout)
	}

	c.Discovery.Backend = strings.ToLower(strings.TrimSpace(c.Discovery.Backend))
	switch c.Discovery.Backend {
	case BackendZeroconf, BackendHashicorp, BackendMemory:
	default:
		return fmt.Errorf("invalid discovery.backend: %q", c.Discovery.Backend)
	}
	if err := discovery.ValidateServiceType(c.Discovery.ServiceType); err != nil {
		return fmt.Errorf("invalid discovery.service_type: %w", err)
	}
	if strings.TrimSpace(c.Discovery.Domain) == "" {
		c.Discovery.Domain = discovery.DefaultDomain
	}
	if c.Discovery.NamePrefix == "" {
		c.Discovery.NamePrefix = "ChatApp"
	}
	if c.Discovery.ResolveTimeout <= 0 {
		return fmt.Errorf("invalid discovery.resolve_timeout: %v", c.Discovery.ResolveTimeout)
	}
	return nil
}
