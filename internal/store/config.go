package store

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"minder-cli/internal/statusutil"
)

const configFileName = "config.toml"

// Config is the merged user configuration. Zero values mean "not set".
type Config struct {
	Store  StoreConfig  `toml:"store"`
	View   ViewConfig   `toml:"view"`
	Snooze SnoozeConfig `toml:"snooze"`
	Log    LogConfig    `toml:"log"`
}

type StoreConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `toml:"driver,omitempty"`
	DSN    string `toml:"dsn,omitempty"`
}

type ViewConfig struct {
	Filter string `toml:"filter,omitempty"`
}

type SnoozeConfig struct {
	// Default is a Go duration used by `items snooze` when none is given.
	Default string `toml:"default,omitempty"`
}

type LogConfig struct {
	Level string `toml:"level,omitempty"`
}

// ConfigPath is the config file inside dir.
func ConfigPath(dir string) string { return filepath.Join(dir, configFileName) }

func DefaultConfig() Config {
	return Config{
		Store:  StoreConfig{Driver: "sqlite"},
		View:   ViewConfig{Filter: "all"},
		Snooze: SnoozeConfig{Default: "24h"},
		Log:    LogConfig{Level: "warn"},
	}
}

// GlobalConfigDir returns $XDG_CONFIG_HOME/minder (or ~/.config/minder).
func GlobalConfigDir() string {
	if v := strings.TrimSpace(os.Getenv("MINDER_CONFIG_DIR")); v != "" {
		return v
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "minder")
}

// LoadConfig merges defaults <- global <- workspace; later sources win per key.
// Missing files are skipped.
func LoadConfig(globalDir, workspaceDir string) (Config, error) {
	cfg := DefaultConfig()
	for _, dir := range []string{globalDir, workspaceDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		over, err := loadConfigFile(ConfigPath(dir))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, err
		}
		cfg = mergeConfig(cfg, over)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ReadConfigDir returns only the settings stored in dir, without defaults.
// A missing file yields the zero Config.
func ReadConfigDir(dir string) (Config, error) {
	cfg, err := loadConfigFile(ConfigPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, nil
	}
	return cfg, err
}

func loadConfigFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func mergeConfig(base, over Config) Config {
	pick := func(a, b string) string {
		if strings.TrimSpace(b) != "" {
			return strings.TrimSpace(b)
		}
		return a
	}
	base.Store.Driver = pick(base.Store.Driver, over.Store.Driver)
	base.Store.DSN = pick(base.Store.DSN, over.Store.DSN)
	base.View.Filter = pick(base.View.Filter, over.View.Filter)
	base.Snooze.Default = pick(base.Snooze.Default, over.Snooze.Default)
	base.Log.Level = pick(base.Log.Level, over.Log.Level)
	return base
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: store.driver %q (expected sqlite|postgres)", c.Store.Driver)
	}
	if _, err := statusutil.NormalizeFilter(c.View.Filter); err != nil {
		return fmt.Errorf("config: view.filter: %w", err)
	}
	if _, err := c.SnoozeDefault(); err != nil {
		return err
	}
	return nil
}

func (c Config) SnoozeDefault() (time.Duration, error) {
	if strings.TrimSpace(c.Snooze.Default) == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.Snooze.Default)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: snooze.default %q is not a positive duration", c.Snooze.Default)
	}
	return d, nil
}

// SaveConfig writes cfg to dir/config.toml atomically.
func SaveConfig(dir string, cfg Config) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicWriteFile(dir, "config.toml.*.tmp", ConfigPath(dir), b, 0o644)
}

func atomicWriteFile(dir, tmpPattern, path string, b []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() { _ = os.Remove(tmp) }()
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	_ = os.Chmod(tmp, perm)
	return os.Rename(tmp, path)
}
