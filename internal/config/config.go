// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// defaultDataDir returns the default directory for bridge credentials and
// the audit database. Uses ~/.whatsapp-mcp/ so data is in a fixed location
// regardless of CWD.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./store"
	}
	return filepath.Join(home, ".whatsapp-mcp")
}

// Config holds all configuration for the session manager.
type Config struct {
	// Bridge
	BridgeCommand string `mapstructure:"bridge_command"`
	CacheDir      string `mapstructure:"cache_dir"`
	HistoryPath   string `mapstructure:"history_path"`

	// Timeouts
	AuthCheckTimeout    time.Duration `mapstructure:"auth_check_timeout"`
	CommandTimeout      time.Duration `mapstructure:"command_timeout"`
	PairingTimeout      time.Duration `mapstructure:"pairing_timeout"`
	PairingPollInterval time.Duration `mapstructure:"pairing_poll_interval"`
	SyncSettleDelay     time.Duration `mapstructure:"sync_settle_delay"`
	LoginSessionTimeout time.Duration `mapstructure:"login_session_timeout"`
	ExitGracePeriod     time.Duration `mapstructure:"exit_grace_period"`

	// Queue
	QueuePause     time.Duration `mapstructure:"queue_pause"`
	AuthRetryDelay time.Duration `mapstructure:"auth_retry_delay"`

	// Caches
	AuthCacheTTL time.Duration `mapstructure:"auth_cache_ttl"`
	QRCacheTTL   time.Duration `mapstructure:"qr_cache_ttl"`
	ChatCacheTTL time.Duration `mapstructure:"chat_cache_ttl"`

	// Health. A zero probe interval disables the background probe.
	AuthProbeInterval time.Duration `mapstructure:"auth_probe_interval"`
	AuthProbeMaxDelay time.Duration `mapstructure:"auth_probe_max_delay"`

	// Logging
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		BridgeCommand:       "whatsapp-cli",
		CacheDir:            filepath.Join(dataDir, "bridge-cache"),
		HistoryPath:         filepath.Join(dataDir, "session.db"),
		AuthCheckTimeout:    10 * time.Second,
		CommandTimeout:      30 * time.Second,
		PairingTimeout:      120 * time.Second,
		PairingPollInterval: 500 * time.Millisecond,
		SyncSettleDelay:     20 * time.Second,
		LoginSessionTimeout: 5 * time.Minute,
		ExitGracePeriod:     30 * time.Second,
		QueuePause:          100 * time.Millisecond,
		AuthRetryDelay:      time.Second,
		AuthCacheTTL:        5 * time.Second,
		QRCacheTTL:          60 * time.Second,
		ChatCacheTTL:        180 * time.Second,
		AuthProbeInterval:   0,
		AuthProbeMaxDelay:   5 * time.Minute,
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"bridge-command": "bridge_command",
	"cache-dir":      "cache_dir",
	"history-path":   "history_path",
	"log-level":      "log_level",
	"log-format":     "log_format",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("bridge-command", d.BridgeCommand, "bridge CLI command line")
	fs.String("cache-dir", d.CacheDir, "bridge credential directory")
	fs.String("history-path", d.HistoryPath, "sqlite audit database path")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", d.LogFormat, "log format (json, text)")
}

// LoadConfig loads configuration from file, environment, and defaults.
// Priority: CLI flags > Environment > Config file > Defaults. flags may be
// nil; only flags the user actually set override other sources.
func LoadConfig(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("bridge_command", defaults.BridgeCommand)
	v.SetDefault("cache_dir", defaults.CacheDir)
	v.SetDefault("history_path", defaults.HistoryPath)
	v.SetDefault("auth_check_timeout", defaults.AuthCheckTimeout)
	v.SetDefault("command_timeout", defaults.CommandTimeout)
	v.SetDefault("pairing_timeout", defaults.PairingTimeout)
	v.SetDefault("pairing_poll_interval", defaults.PairingPollInterval)
	v.SetDefault("sync_settle_delay", defaults.SyncSettleDelay)
	v.SetDefault("login_session_timeout", defaults.LoginSessionTimeout)
	v.SetDefault("exit_grace_period", defaults.ExitGracePeriod)
	v.SetDefault("queue_pause", defaults.QueuePause)
	v.SetDefault("auth_retry_delay", defaults.AuthRetryDelay)
	v.SetDefault("auth_cache_ttl", defaults.AuthCacheTTL)
	v.SetDefault("qr_cache_ttl", defaults.QRCacheTTL)
	v.SetDefault("chat_cache_ttl", defaults.ChatCacheTTL)
	v.SetDefault("auth_probe_interval", defaults.AuthProbeInterval)
	v.SetDefault("auth_probe_max_delay", defaults.AuthProbeMaxDelay)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)

	// Environment variables with WABRIDGE_ prefix
	v.SetEnvPrefix("WABRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			isNotFound := errors.Is(err, os.ErrNotExist)
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotFound {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil || !f.Changed {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.CacheDir = expandHome(cfg.CacheDir)
	cfg.HistoryPath = expandHome(cfg.HistoryPath)

	return cfg, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.LogFormat)
	}

	if strings.TrimSpace(c.BridgeCommand) == "" {
		return fmt.Errorf("bridge command must be set")
	}
	if c.CacheDir == "" {
		return fmt.Errorf("cache dir must be set")
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"auth check timeout", c.AuthCheckTimeout},
		{"command timeout", c.CommandTimeout},
		{"pairing timeout", c.PairingTimeout},
		{"pairing poll interval", c.PairingPollInterval},
		{"login session timeout", c.LoginSessionTimeout},
		{"exit grace period", c.ExitGracePeriod},
		{"auth cache ttl", c.AuthCacheTTL},
		{"qr cache ttl", c.QRCacheTTL},
		{"chat cache ttl", c.ChatCacheTTL},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if c.SyncSettleDelay < 0 || c.QueuePause < 0 || c.AuthRetryDelay < 0 || c.AuthProbeInterval < 0 {
		return fmt.Errorf("delays must be non-negative")
	}

	if c.PairingPollInterval > c.PairingTimeout {
		return fmt.Errorf("pairing poll interval must be less than or equal to pairing timeout")
	}
	if c.PairingTimeout > c.LoginSessionTimeout {
		return fmt.Errorf("pairing timeout must be less than or equal to login session timeout")
	}
	if c.AuthProbeInterval > 0 && c.AuthProbeInterval > c.AuthProbeMaxDelay {
		return fmt.Errorf("auth probe interval must be less than or equal to max delay")
	}

	return nil
}
