package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Engine        EngineConfig        `toml:"engine"`
	Watchdog      WatchdogConfig      `toml:"watchdog"`
	Sender        SenderConfig        `toml:"sender"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Pool          PoolConfig          `toml:"pool"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	CampaignsDir string `toml:"campaigns_dir"`
	DefaultMode  string `toml:"default_mode"`
}

// EngineConfig holds submission execution settings
type EngineConfig struct {
	MaxAttempts       int `toml:"max_attempts"`
	RetryDelaySeconds int `toml:"retry_delay_seconds"`
}

// WatchdogConfig holds stale-execution recovery settings
type WatchdogConfig struct {
	SweepIntervalSeconds int `toml:"sweep_interval_seconds"`
	StaleAfterSeconds    int `toml:"stale_after_seconds"`
	RetryBatchSize       int `toml:"retry_batch_size"`
}

// SenderConfig identifies the founder and raise outreach is sent on
// behalf of
type SenderConfig struct {
	Name         string `toml:"name"`
	Email        string `toml:"email"`
	Company      string `toml:"company"`
	Website      string `toml:"website"`
	RaiseAmount  string `toml:"raise_amount"`
	PitchSummary string `toml:"pitch_summary"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// PoolConfig holds submission worker pool settings
type PoolConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
	AuthToken  string `toml:"auth_token"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".outreach-orchestrator", "outreach.db"),
			CampaignsDir: filepath.Join(home, ".outreach-orchestrator", "campaigns"),
			DefaultMode:  "simulation",
		},
		Engine: EngineConfig{
			MaxAttempts:       3,
			RetryDelaySeconds: 300,
		},
		Watchdog: WatchdogConfig{
			SweepIntervalSeconds: 60,
			StaleAfterSeconds:    900,
			RetryBatchSize:       10,
		},
		Sender: SenderConfig{
			Name: "Founder",
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Pool: PoolConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// Environment variables override file values where set.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			cfg.applyFloors()
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.CampaignsDir = ExpandPath(cfg.General.CampaignsDir)

	cfg.applyEnv()
	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OUTREACH_DATABASE_PATH"); v != "" {
		c.General.DatabasePath = ExpandPath(v)
	}
	if v := os.Getenv("OUTREACH_SLACK_WEBHOOK"); v != "" {
		c.Notifications.SlackWebhook = v
	}
	if v := os.Getenv("OUTREACH_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Web.Port = port
		}
	}
	if v := os.Getenv("OUTREACH_POOL_TOKEN"); v != "" {
		c.Pool.AuthToken = v
	}
}

func (c *Config) applyFloors() {
	if c.Engine.MaxAttempts < 1 {
		c.Engine.MaxAttempts = 1
	}
	if c.Engine.RetryDelaySeconds < 1 {
		c.Engine.RetryDelaySeconds = 1
	}
	if c.Watchdog.SweepIntervalSeconds < 1 {
		c.Watchdog.SweepIntervalSeconds = 1
	}
	if c.Watchdog.StaleAfterSeconds < 10 {
		c.Watchdog.StaleAfterSeconds = 10
	}
	if c.Watchdog.RetryBatchSize < 1 {
		c.Watchdog.RetryBatchSize = 1
	}
}

// RetryDelay returns the engine retry delay as a duration
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Engine.RetryDelaySeconds) * time.Second
}

// SweepInterval returns the watchdog sweep interval as a duration
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Watchdog.SweepIntervalSeconds) * time.Second
}

// StaleAfter returns the watchdog staleness threshold as a duration
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Watchdog.StaleAfterSeconds) * time.Second
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "outreach-orchestrator", "config.toml")
}
