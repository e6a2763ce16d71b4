// Package config loads rs settings from a TOML file, the environment and
// built-in defaults.
//
// Lookup order, later wins: DefaultConfig, the config file (--config, or
// rs.toml in the working directory, or $HOME/.config/rs/rs.toml), then RS_*
// environment variables such as RS_SOURCE_KIND or RS_DAEMON_INTERVAL.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/falcon/restaurants/internal/cache/schema"
	"github.com/falcon/restaurants/internal/remote"
)

// FileName is the config file looked up when no path is given.
const FileName = "rs.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RS"

// Config is the full rs configuration.
type Config struct {
	DBPath    string          `mapstructure:"db_path"`
	Epoch     string          `mapstructure:"epoch"`
	Source    SourceConfig    `mapstructure:"source"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

// SourceConfig selects and configures the remote delta source.
type SourceConfig struct {
	Kind           string        `mapstructure:"kind"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Dir            string        `mapstructure:"dir"`
	DynamoTable    string        `mapstructure:"dynamo_table"`
	DynamoRegion   string        `mapstructure:"dynamo_region"`
	DynamoEndpoint string        `mapstructure:"dynamo_endpoint"`
}

// DaemonConfig controls the background sync loop.
type DaemonConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// DashboardConfig controls the WebSocket dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig controls where component loggers write. An empty File means
// stderr; otherwise the file is rotated by size.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DBPath: "restaurants.db",
		Epoch:  schema.Epoch,
		Source: SourceConfig{
			Kind:    remote.KindFile,
			BaseURL: "http://localhost:8000",
			Timeout: remote.DefaultTimeout,
			Dir:     "fixtures",
		},
		Daemon: DaemonConfig{
			Interval: 30 * time.Second,
			Debounce: 200 * time.Millisecond,
		},
		Dashboard: DashboardConfig{
			Port: 8080,
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// Load reads the configuration. An empty path searches the default
// locations and falls back to defaults when no file exists; an explicit
// path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "rs"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("epoch", d.Epoch)

	v.SetDefault("source.kind", d.Source.Kind)
	v.SetDefault("source.base_url", d.Source.BaseURL)
	v.SetDefault("source.timeout", d.Source.Timeout)
	v.SetDefault("source.dir", d.Source.Dir)
	v.SetDefault("source.dynamo_table", d.Source.DynamoTable)
	v.SetDefault("source.dynamo_region", d.Source.DynamoRegion)
	v.SetDefault("source.dynamo_endpoint", d.Source.DynamoEndpoint)

	v.SetDefault("daemon.interval", d.Daemon.Interval)
	v.SetDefault("daemon.debounce", d.Daemon.Debounce)

	v.SetDefault("dashboard.port", d.Dashboard.Port)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}

// Validate checks the configuration for values no component can run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}
	if _, err := time.Parse(schema.TimestampLayout, c.Epoch); err != nil {
		return fmt.Errorf("epoch %q is not in %q form: %w", c.Epoch, schema.TimestampLayout, err)
	}

	switch c.Source.Kind {
	case remote.KindHTTP:
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.base_url is required for the %s source", remote.KindHTTP)
		}
	case remote.KindFile:
		if c.Source.Dir == "" {
			return fmt.Errorf("source.dir is required for the %s source", remote.KindFile)
		}
	case remote.KindDynamo:
		if c.Source.DynamoTable == "" {
			return fmt.Errorf("source.dynamo_table is required for the %s source", remote.KindDynamo)
		}
	default:
		return fmt.Errorf("unknown source.kind %q (want %s, %s or %s)",
			c.Source.Kind, remote.KindHTTP, remote.KindFile, remote.KindDynamo)
	}
	if c.Source.Timeout < 0 {
		return fmt.Errorf("source.timeout cannot be negative")
	}

	if c.Daemon.Interval < 0 {
		return fmt.Errorf("daemon.interval cannot be negative")
	}
	if c.Daemon.Debounce <= 0 {
		return fmt.Errorf("daemon.debounce must be positive")
	}

	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port)
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits cannot be negative")
	}
	return nil
}

// RemoteOptions converts the source settings for remote.NewSource.
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		Kind:           c.Source.Kind,
		BaseURL:        c.Source.BaseURL,
		Timeout:        c.Source.Timeout,
		Dir:            c.Source.Dir,
		DynamoTable:    c.Source.DynamoTable,
		DynamoRegion:   c.Source.DynamoRegion,
		DynamoEndpoint: c.Source.DynamoEndpoint,
	}
}

// fileConfig is the on-disk TOML layout. Durations are written as strings
// such as "30s" so the file round-trips through Load.
type fileConfig struct {
	DBPath    string `toml:"db_path"`
	Epoch     string `toml:"epoch"`
	Source    struct {
		Kind           string `toml:"kind"`
		BaseURL        string `toml:"base_url"`
		Timeout        string `toml:"timeout"`
		Dir            string `toml:"dir"`
		DynamoTable    string `toml:"dynamo_table"`
		DynamoRegion   string `toml:"dynamo_region"`
		DynamoEndpoint string `toml:"dynamo_endpoint"`
	} `toml:"source"`
	Daemon struct {
		Interval string `toml:"interval"`
		Debounce string `toml:"debounce"`
	} `toml:"daemon"`
	Dashboard struct {
		Port int `toml:"port"`
	} `toml:"dashboard"`
	Log struct {
		File       string `toml:"file"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`
}

func toFile(c *Config) fileConfig {
	var f fileConfig
	f.DBPath = c.DBPath
	f.Epoch = c.Epoch

	f.Source.Kind = c.Source.Kind
	f.Source.BaseURL = c.Source.BaseURL
	f.Source.Timeout = c.Source.Timeout.String()
	f.Source.Dir = c.Source.Dir
	f.Source.DynamoTable = c.Source.DynamoTable
	f.Source.DynamoRegion = c.Source.DynamoRegion
	f.Source.DynamoEndpoint = c.Source.DynamoEndpoint

	f.Daemon.Interval = c.Daemon.Interval.String()
	f.Daemon.Debounce = c.Daemon.Debounce.String()

	f.Dashboard.Port = c.Dashboard.Port

	f.Log.File = c.Log.File
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Log.MaxAgeDays = c.Log.MaxAgeDays
	f.Log.Compress = c.Log.Compress
	return f
}

// Write stores c as TOML at path. It refuses to overwrite an existing file.
func (c *Config) Write(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	if err := toml.NewEncoder(f).Encode(toFile(c)); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return f.Close()
}

// WriteDefault writes DefaultConfig to path.
func WriteDefault(path string) error {
	return DefaultConfig().Write(path)
}
