package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	home, _ := os.UserHomeDir()
	assert.Equal(t, "whatsapp-cli", cfg.BridgeCommand)
	assert.Equal(t, filepath.Join(home, ".whatsapp-mcp", "bridge-cache"), cfg.CacheDir)
	assert.Equal(t, filepath.Join(home, ".whatsapp-mcp", "session.db"), cfg.HistoryPath)
	assert.Equal(t, 10*time.Second, cfg.AuthCheckTimeout)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 120*time.Second, cfg.PairingTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.PairingPollInterval)
	assert.Equal(t, 20*time.Second, cfg.SyncSettleDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.QueuePause)
	assert.Equal(t, 5*time.Second, cfg.AuthCacheTTL)
	assert.Equal(t, 60*time.Second, cfg.QRCacheTTL)
	assert.Equal(t, 180*time.Second, cfg.ChatCacheTTL)
	assert.Zero(t, cfg.AuthProbeInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadConfig_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
bridge_command: npx whatsapp-cli
cache_dir: /custom/cache
history_path: /custom/session.db
auth_check_timeout: 15s
command_timeout: 45s
pairing_timeout: 90s
sync_settle_delay: 10s
queue_pause: 250ms
qr_cache_ttl: 30s
log_level: debug
log_format: text
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(configPath, nil)
	require.NoError(t, err)

	assert.Equal(t, "npx whatsapp-cli", cfg.BridgeCommand)
	assert.Equal(t, "/custom/cache", cfg.CacheDir)
	assert.Equal(t, "/custom/session.db", cfg.HistoryPath)
	assert.Equal(t, 15*time.Second, cfg.AuthCheckTimeout)
	assert.Equal(t, 45*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 90*time.Second, cfg.PairingTimeout)
	assert.Equal(t, 10*time.Second, cfg.SyncSettleDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.QueuePause)
	assert.Equal(t, 30*time.Second, cfg.QRCacheTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.AuthCacheTTL)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
log_level: info
command_timeout: 30s
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	t.Setenv("WABRIDGE_LOG_LEVEL", "debug")
	t.Setenv("WABRIDGE_COMMAND_TIMEOUT", "1m")

	cfg, err := LoadConfig(configPath, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.CommandTimeout)
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	t.Setenv("WABRIDGE_CACHE_DIR", "/from/env")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--cache-dir", "/from/flag"}))

	cfg, err := LoadConfig("", fs)
	require.NoError(t, err)

	assert.Equal(t, "/from/flag", cfg.CacheDir)
	// Unset flags must not shadow defaults.
	assert.Equal(t, "whatsapp-cli", cfg.BridgeCommand)
}

func TestLoadConfig_ExpandsHome(t *testing.T) {
	t.Setenv("WABRIDGE_CACHE_DIR", "~/wa-cache")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "wa-cache"), cfg.CacheDir)
}

func TestLoadConfig_NoFile(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, ".whatsapp-mcp", "bridge-cache"), cfg.CacheDir)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.LogLevel = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid log format",
			modify: func(c *Config) {
				c.LogFormat = "xml"
			},
			wantErr: true,
		},
		{
			name: "empty bridge command",
			modify: func(c *Config) {
				c.BridgeCommand = "  "
			},
			wantErr: true,
		},
		{
			name: "zero command timeout",
			modify: func(c *Config) {
				c.CommandTimeout = 0
			},
			wantErr: true,
		},
		{
			name: "zero auth cache ttl",
			modify: func(c *Config) {
				c.AuthCacheTTL = 0
			},
			wantErr: true,
		},
		{
			name: "negative queue pause",
			modify: func(c *Config) {
				c.QueuePause = -time.Millisecond
			},
			wantErr: true,
		},
		{
			name: "pairing timeout beyond login session",
			modify: func(c *Config) {
				c.PairingTimeout = 10 * time.Minute
			},
			wantErr: true,
		},
		{
			name: "probe enabled within max delay",
			modify: func(c *Config) {
				c.AuthProbeInterval = time.Minute
			},
			wantErr: false,
		},
		{
			name: "probe interval beyond max delay",
			modify: func(c *Config) {
				c.AuthProbeInterval = time.Hour
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
