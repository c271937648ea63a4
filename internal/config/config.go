// Package config loads appgate settings from defaults, an optional TOML
// file and APP_GATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode is the execution mode, derived from the effective uid.
type Mode string

const (
	// ModeUser keeps data under the invoking user's home.
	ModeUser Mode = "user"
	// ModeSystem keeps data under /var/lib when running as root.
	ModeSystem Mode = "system"
)

const envPrefix = "APP_GATE"

// Config holds application configuration.
type Config struct {
	UserID              string        `mapstructure:"user_id"`
	DataDir             string        `mapstructure:"data_dir"`
	PlanFile            string        `mapstructure:"plan_file"`
	Timezone            string        `mapstructure:"timezone"`
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	ScanInterval        time.Duration `mapstructure:"scan_interval"`
	PlanRefreshInterval time.Duration `mapstructure:"plan_refresh_interval"`
	EventLogCapacity    int           `mapstructure:"event_log_capacity"`
	LogFile             string        `mapstructure:"log_file"`

	// Mode is detected, not read from the file.
	Mode Mode `mapstructure:"-"`
}

// DetectMode reports ModeSystem when running as root.
func DetectMode() Mode {
	if os.Geteuid() == 0 {
		return ModeSystem
	}
	return ModeUser
}

// DefaultDataDir returns where the store and key live for a mode.
func DefaultDataDir(mode Mode) string {
	if mode == ModeSystem {
		return "/var/lib/app_gate"
	}
	return filepath.Join(RealUserHome(), ".app_gate")
}

// RealUserHome returns the invoking user's home directory, even under sudo.
func RealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// FilePath returns the config file location: $APP_GATE_CONFIG or
// ~/.config/app_gate/config.toml.
func FilePath() string {
	if p := os.Getenv(envPrefix + "_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(RealUserHome(), ".config", "app_gate", "config.toml")
}

func defaultUserID() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		return sudoUser
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "default"
}

func newViper(mode Mode) *viper.Viper {
	v := viper.New()

	dataDir := DefaultDataDir(mode)
	v.SetDefault("user_id", defaultUserID())
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("plan_file", "")
	v.SetDefault("timezone", "Local")
	v.SetDefault("tick_interval", time.Second)
	v.SetDefault("scan_interval", 5*time.Second)
	v.SetDefault("plan_refresh_interval", time.Minute)
	v.SetDefault("event_log_capacity", 200)
	v.SetDefault("log_file", "")

	v.SetConfigType("toml")
	v.SetConfigFile(FilePath())

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

// Load reads configuration. A missing config file is not an error.
func Load() (Config, error) {
	mode := DetectMode()
	v := newViper(mode)

	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c.Mode = mode
	if c.PlanFile == "" {
		c.PlanFile = filepath.Join(c.DataDir, "plans.yaml")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "appgate.log")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Validate rejects settings the daemon cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.UserID == "" {
		problems = append(problems, "user_id is required")
	}
	if c.DataDir == "" {
		problems = append(problems, "data_dir is required")
	}
	if c.TickInterval <= 0 {
		problems = append(problems, "tick_interval must be positive")
	}
	if c.ScanInterval <= 0 {
		problems = append(problems, "scan_interval must be positive")
	}
	if c.PlanRefreshInterval <= 0 {
		problems = append(problems, "plan_refresh_interval must be positive")
	}
	if c.EventLogCapacity <= 0 {
		problems = append(problems, "event_log_capacity must be positive")
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location resolves the configured timezone. "Local" and "" mean the
// system zone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Save writes the config file, creating its directory if needed.
// Used by `appgate init`.
func Save(cfg Config) error {
	path := FilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("user_id", cfg.UserID)
	v.Set("data_dir", cfg.DataDir)
	v.Set("plan_file", cfg.PlanFile)
	v.Set("timezone", cfg.Timezone)
	v.Set("tick_interval", cfg.TickInterval.String())
	v.Set("scan_interval", cfg.ScanInterval.String())
	v.Set("plan_refresh_interval", cfg.PlanRefreshInterval.String())
	v.Set("event_log_capacity", cfg.EventLogCapacity)
	v.Set("log_file", cfg.LogFile)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
