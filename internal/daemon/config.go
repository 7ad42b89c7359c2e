// Package daemon holds the service configuration: TOML on disk at
// ~/.grove/config.toml with environment variable overrides for the handful
// of settings deployments change per host.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/grovekit/grove/internal/domain"
)

// Config is the full daemon configuration.
type Config struct {
	API      APIConfig      `toml:"api"`
	Storage  StorageConfig  `toml:"storage"`
	Harvest  HarvestConfig  `toml:"harvest"`
	Tree     TreeConfig     `toml:"tree"`
	Quiz     QuizConfig     `toml:"quiz"`
	Billing  BillingConfig  `toml:"billing"`
	Capacity CapacityConfig `toml:"capacity"`
	Redis    RedisConfig    `toml:"redis"`
}

// APIConfig configures the HTTP listener.
type APIConfig struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	Metrics bool   `toml:"metrics"`
}

// StorageConfig configures the data directory.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// HarvestConfig configures the lemon economy.
type HarvestConfig struct {
	BaseAmount      int64  `toml:"base_amount"`
	WelcomeBonus    int64  `toml:"welcome_bonus"`
	Cooldown        string `toml:"cooldown"`
	MaxStoredLemons int64  `toml:"max_stored_lemons"`
	ClickWindow     string `toml:"click_window"`
}

// TreeConfig configures the shared tree.
type TreeConfig struct {
	Positions      int    `toml:"positions"`
	RegrowDuration string `toml:"regrow_duration"`
	SweepInterval  string `toml:"sweep_interval"`
}

// QuizConfig configures the quiz gate.
type QuizConfig struct {
	SweepInterval   string `toml:"sweep_interval"`
	MaxAnswerWindow string `toml:"max_answer_window"`
}

// BillingConfig configures the hourly billing sweep.
type BillingConfig struct {
	Interval  string `toml:"interval"`
	SkipUnder string `toml:"skip_under"`
}

// CapacityConfig configures the cluster admission budget.
type CapacityConfig struct {
	TotalCPU         float64 `toml:"total_cpu"`
	TotalMemoryMB    int     `toml:"total_memory_mb"`
	ReservedCPU      float64 `toml:"reserved_cpu"`
	ReservedMemoryMB int     `toml:"reserved_memory_mb"`
}

// RedisConfig configures the optional shared attempt cache.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		API: APIConfig{
			Host:    "127.0.0.1",
			Port:    8080,
			Metrics: true,
		},
		Storage: StorageConfig{
			DataDir: "~/.grove",
		},
		Harvest: HarvestConfig{
			BaseAmount:      5,
			WelcomeBonus:    30,
			Cooldown:        "6h",
			MaxStoredLemons: 500,
			ClickWindow:     "5s",
		},
		Tree: TreeConfig{
			Positions:      10,
			RegrowDuration: "6h",
			SweepInterval:  "1m",
		},
		Quiz: QuizConfig{
			SweepInterval:   "30s",
			MaxAnswerWindow: "15s",
		},
		Billing: BillingConfig{
			Interval:  "1h",
			SkipUnder: "50m",
		},
		Capacity: CapacityConfig{
			TotalCPU:         2.0,
			TotalMemoryMB:    8192,
			ReservedCPU:      0.5,
			ReservedMemoryMB: 1536,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "127.0.0.1:6379",
		},
	}
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".grove", "config.toml")
}

// Load reads the config file if it exists and applies environment overrides.
// A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overrides the per-host settings from the environment.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GROVE_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GROVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("GROVE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("GROVE_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("GROVE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// ExpandedDataDir resolves ~ in the data directory.
func (c Config) ExpandedDataDir() string {
	dir := c.Storage.DataDir
	if len(dir) >= 2 && dir[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[2:])
		}
	}
	return dir
}

// parseDuration parses a config duration, falling back when empty or invalid.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Rules converts the harvest section into the domain policy.
func (c HarvestConfig) Rules() domain.HarvestRules {
	return domain.HarvestRules{
		BaseAmount:      c.BaseAmount,
		WelcomeBonus:    c.WelcomeBonus,
		CooldownPeriod:  c.CooldownDuration(),
		MaxStoredLemons: c.MaxStoredLemons,
		WindowDuration:  c.WindowDuration(),
	}
}

// CooldownDuration returns the harvest cooldown.
func (c HarvestConfig) CooldownDuration() time.Duration {
	return parseDuration(c.Cooldown, 6*time.Hour)
}

// WindowDuration returns the harvest click window.
func (c HarvestConfig) WindowDuration() time.Duration {
	return parseDuration(c.ClickWindow, 5*time.Second)
}

// Rules converts the tree section into the domain policy.
func (c TreeConfig) Rules() domain.RegrowthRules {
	return domain.RegrowthRules{
		MaxPositions:   c.Positions,
		RegrowDuration: c.RegrowthDuration(),
	}
}

// RegrowthDuration returns the regrow delay after a harvest.
func (c TreeConfig) RegrowthDuration() time.Duration {
	return parseDuration(c.RegrowDuration, 6*time.Hour)
}

// SweepDuration returns the tree sweep cadence.
func (c TreeConfig) SweepDuration() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

// SweepDuration returns the quiz sweep cadence.
func (c QuizConfig) SweepDuration() time.Duration {
	return parseDuration(c.SweepInterval, 30*time.Second)
}

// AnswerWindow returns the stale-attempt ceiling.
func (c QuizConfig) AnswerWindow() time.Duration {
	return parseDuration(c.MaxAnswerWindow, 15*time.Second)
}

// IntervalDuration returns the billing cadence.
func (c BillingConfig) IntervalDuration() time.Duration {
	return parseDuration(c.Interval, time.Hour)
}

// SkipUnderDuration returns the recent-charge skip window.
func (c BillingConfig) SkipUnderDuration() time.Duration {
	return parseDuration(c.SkipUnder, 50*time.Minute)
}

// Limits converts the capacity section into domain limits.
func (c CapacityConfig) Limits() domain.CapacityLimits {
	return domain.CapacityLimits{
		TotalCPU:         c.TotalCPU,
		TotalMemoryMB:    c.TotalMemoryMB,
		ReservedCPU:      c.ReservedCPU,
		ReservedMemoryMB: c.ReservedMemoryMB,
	}
}
