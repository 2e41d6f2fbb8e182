// Package config loads boxanizer settings. Sources are applied in order, each
// overriding the previous one: built-in defaults, an optional YAML file,
// BOXANIZER_* environment variables, command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/erazemk/boxanizer/internal/blob"
	"github.com/erazemk/boxanizer/internal/db"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "BOXANIZER_"

// Config is the full runtime configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Listen   string         `yaml:"listen"`
	Log      LogConfig      `yaml:"log"`
	// Owner is the username created on first run.
	Owner    string         `yaml:"owner"`
	TokenTTL time.Duration  `yaml:"token_ttl"`
	Redis    RedisConfig    `yaml:"redis"`
	Blob     blob.Config    `yaml:"blob"`
	Backup   BackupConfig   `yaml:"backup"`
	Sessions SessionsConfig `yaml:"sessions"`
}

// DatabaseConfig selects the store. DSN is a file path for sqlite and a
// connection string for postgres.
type DatabaseConfig struct {
	Driver db.Dialect `yaml:"driver"`
	DSN    string     `yaml:"dsn"`
}

// LogConfig selects where and how records are written. Level is one of
// debug, info, warn or error; Format is text or json.
type LogConfig struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RedisConfig enables the box code cache when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type BackupConfig struct {
	Compression string `yaml:"compression"`
	Passphrase  string `yaml:"passphrase"`
}

type SessionsConfig struct {
	// IdleTimeout discards edit sessions nobody touched for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: db.DialectSQLite, DSN: "boxanizer.sqlite3"},
		Listen:   ":8080",
		Log:      LogConfig{Level: "info", Format: "text"},
		Owner:    "owner",
		TokenTTL: 30 * 24 * time.Hour,
		Blob:     blob.Config{Driver: blob.DriverFilesystem, FSRoot: "boxanizer-blobs"},
		Backup:   BackupConfig{Compression: "zstd"},
		Sessions: SessionsConfig{IdleTimeout: 30 * time.Minute},
	}
}

// Load builds a Config from args and the environment. lookupEnv is usually
// os.LookupEnv. The returned flag set holds the positional arguments. When
// args ask for help, the error is pflag.ErrHelp.
func Load(name string, args []string, lookupEnv func(string) (string, bool)) (*Config, *pflag.FlagSet, error) {
	// Flags are parsed twice: first only to find the config file, then again
	// on top of file and environment values so they take precedence.
	var path string
	probe := NewFlagSet(name, Default(), &path)
	probe.Usage = func() {}
	if err := probe.Parse(args); err != nil {
		return nil, probe, err
	}
	if help, _ := probe.GetBool("help"); help {
		return nil, probe, pflag.ErrHelp
	}
	if path == "" {
		path, _ = lookupEnv(EnvPrefix + "CONFIG")
	}

	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, probe, err
		}
	}

	fs := NewFlagSet(name, cfg, &path)
	if err := applyEnv(fs, lookupEnv); err != nil {
		return nil, fs, err
	}
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fs, err
	}
	return cfg, fs, nil
}

// LoadFile merges a YAML file into c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

// NewFlagSet binds every setting to a flag writing into cfg. configPath
// receives --config.
func NewFlagSet(name string, cfg *Config, configPath *string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVarP(configPath, "config", "c", *configPath, "YAML config file")
	fs.StringVar((*string)(&cfg.Database.Driver), "db-driver", string(cfg.Database.Driver), "database driver: sqlite or postgres")
	fs.StringVarP(&cfg.Database.DSN, "db", "d", cfg.Database.DSN, "SQLite path or Postgres connection string")
	fs.StringVarP(&cfg.Listen, "addr", "a", cfg.Listen, "listen address")
	fs.StringVarP(&cfg.Owner, "user", "u", cfg.Owner, "owner username on first run")
	fs.StringVarP(&cfg.Log.File, "log", "l", cfg.Log.File, "log file path (default: stdout/stderr only)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "minimum log level: debug, info, warn or error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "log format: text or json")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "login token lifetime")
	fs.DurationVar(&cfg.Sessions.IdleTimeout, "session-idle", cfg.Sessions.IdleTimeout, "discard edit sessions idle for this long")

	fs.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "Redis address for the box code cache (default: no cache)")
	fs.StringVar(&cfg.Redis.User, "redis-user", cfg.Redis.User, "Redis username")
	fs.StringVar(&cfg.Redis.Password, "redis-password", cfg.Redis.Password, "Redis password")

	fs.StringVar((*string)(&cfg.Blob.Driver), "blob-driver", string(cfg.Blob.Driver), "backup storage: fs, s3 or memory")
	fs.StringVar(&cfg.Blob.FSRoot, "blob-root", cfg.Blob.FSRoot, "backup directory for the fs driver")
	fs.StringVar(&cfg.Blob.S3Bucket, "s3-bucket", cfg.Blob.S3Bucket, "S3 bucket")
	fs.StringVar(&cfg.Blob.S3Region, "s3-region", cfg.Blob.S3Region, "S3 region")
	fs.StringVar(&cfg.Blob.S3Endpoint, "s3-endpoint", cfg.Blob.S3Endpoint, "S3-compatible endpoint URL")
	fs.BoolVar(&cfg.Blob.S3PathStyle, "s3-path-style", cfg.Blob.S3PathStyle, "use path-style S3 addressing")

	fs.StringVar(&cfg.Backup.Compression, "backup-compression", cfg.Backup.Compression, "backup compression: zstd, lz4 or none")
	fs.StringVar(&cfg.Backup.Passphrase, "backup-passphrase", cfg.Backup.Passphrase, "encrypt backups with this passphrase")

	fs.BoolP("help", "h", false, "show this help and exit")
	return fs
}

// EnvName returns the environment variable that overrides a flag.
func EnvName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func applyEnv(fs *pflag.FlagSet, lookupEnv func(string) (string, bool)) error {
	var errs []error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		value, ok := lookupEnv(EnvName(f.Name))
		if !ok {
			return
		}
		if err := f.Value.Set(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvName(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case db.DialectSQLite, db.DialectPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database DSN is empty"))
	}

	switch c.Blob.Driver {
	case blob.DriverFilesystem:
		if c.Blob.FSRoot == "" {
			errs = append(errs, errors.New("blob fs root is empty"))
		}
	case blob.DriverS3:
		if c.Blob.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is empty"))
		}
	case blob.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	switch c.Backup.Compression {
	case "zstd", "lz4", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown backup compression %q", c.Backup.Compression))
	}

	if c.Sessions.IdleTimeout <= 0 {
		errs = append(errs, errors.New("session idle timeout must be positive"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	return errors.Join(errs...)
}
