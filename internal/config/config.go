// Package config loads mindlog settings from a config file, MINDLOG_*
// environment variables and built-in defaults, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mindlog/mindlog/internal/logstore/legacy"
	"github.com/mindlog/mindlog/internal/remote"
)

// EnvPrefix is the prefix of environment overrides: sync.interval is read
// from MINDLOG_SYNC_INTERVAL.
const EnvPrefix = "MINDLOG"

// Storage engines.
const (
	EngineSQLite = "sqlite"
	EngineNone   = "none"
)

// Remote kinds.
const (
	RemoteNone   = "none"
	RemoteHTTP   = "http"
	RemoteMongo  = "mongo"
	RemoteMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Legacy    LegacyConfig    `mapstructure:"legacy"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`

	// Source is the config file that was read, empty when none was found.
	Source string `mapstructure:"-"`
}

type LegacyConfig struct {
	Prefix string `mapstructure:"prefix"`
}

type StorageConfig struct {
	Engine string `mapstructure:"engine"` // sqlite, none
}

type RemoteConfig struct {
	Kind          string        `mapstructure:"kind"` // none, http, mongo, memory
	URL           string        `mapstructure:"url"`
	MongoURI      string        `mapstructure:"mongo_uri"`
	MongoDatabase string        `mapstructure:"mongo_database"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Debounce time.Duration `mapstructure:"debounce"`
}

type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig configures the optional rotating log file. Console output on
// stderr is always on.
type LogConfig struct {
	File       string `mapstructure:"file"`        // empty disables the file
	MaxSizeMB  int    `mapstructure:"max_size_mb"` // MB
	MaxBackups int    `mapstructure:"max_backups"` // number of files
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"` // gzip old files
}

// DefaultDataDir returns $XDG_DATA_HOME/mindlog, falling back to
// ~/.local/share/mindlog.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "mindlog")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mindlog"
	}
	return filepath.Join(home, ".local", "share", "mindlog")
}

// SetDefaults registers the default of every key on v. Keys without a
// default are invisible to environment overrides, so every key has one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("legacy.prefix", legacy.DefaultPrefix)
	v.SetDefault("storage.engine", EngineSQLite)
	v.SetDefault("remote.kind", RemoteNone)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.mongo_uri", "")
	v.SetDefault("remote.mongo_database", "mindlog")
	v.SetDefault("remote.timeout", remote.DefaultTimeout.String())
	v.SetDefault("sync.interval", "5m")
	v.SetDefault("sync.debounce", "500ms")
	v.SetDefault("dashboard.host", "localhost")
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)
}

// SearchPaths returns the directories searched for mindlog.{yaml,toml,json}.
func SearchPaths() []string {
	var paths []string
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		paths = append(paths, filepath.Join(dir, "mindlog"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mindlog"))
	}
	return append(paths, ".")
}

// newViper returns a viper instance with defaults and environment binding.
func newViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. With an explicit path that file must exist;
// otherwise the search paths are tried and a missing file is not an error.
// Order: defaults -> config file -> environment -> ResolvePaths -> Validate.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mindlog")
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Source = v.ConfigFileUsed()

	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteDefault writes a config file holding every default to path. The
// format follows the extension. An existing file is never overwritten.
func WriteDefault(path string) error {
	v := viper.New()
	SetDefaults(v)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ResolvePaths expands a leading ~ in data_dir and makes a relative log
// file path relative to data_dir.
func (c *Config) ResolvePaths() error {
	dir, err := expandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir

	if c.Log.File != "" {
		file, err := expandHome(c.Log.File)
		if err != nil {
			return err
		}
		if !filepath.IsAbs(file) {
			file = filepath.Join(c.DataDir, file)
		}
		c.Log.File = file
	}
	return nil
}

// Validate checks enumerated values and the settings each remote kind needs.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir cannot be empty")
	}
	if c.Legacy.Prefix == "" {
		return errors.New("legacy.prefix cannot be empty")
	}

	switch c.Storage.Engine {
	case EngineSQLite, EngineNone:
	default:
		return fmt.Errorf("storage.engine: unknown engine %q (want sqlite or none)", c.Storage.Engine)
	}

	switch c.Remote.Kind {
	case RemoteNone, RemoteMemory:
	case RemoteHTTP:
		if c.Remote.URL == "" {
			return errors.New("remote.url is required for the http remote")
		}
	case RemoteMongo:
		if c.Remote.MongoURI == "" {
			return errors.New("remote.mongo_uri is required for the mongo remote")
		}
		if c.Remote.MongoDatabase == "" {
			return errors.New("remote.mongo_database cannot be empty")
		}
	default:
		return fmt.Errorf("remote.kind: unknown kind %q (want none, http, mongo or memory)", c.Remote.Kind)
	}

	if c.Remote.Timeout <= 0 {
		return errors.New("remote.timeout must be positive")
	}
	if c.Sync.Interval <= 0 {
		return errors.New("sync.interval must be positive")
	}
	if c.Sync.Debounce <= 0 {
		return errors.New("sync.debounce must be positive")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port: %d out of range", c.Dashboard.Port)
	}
	return nil
}

// DBPath is the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "mindlog.db")
}

// LegacyDir is the directory of the flat key/value store.
func (c *Config) LegacyDir() string {
	return filepath.Join(c.DataDir, "legacy")
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
