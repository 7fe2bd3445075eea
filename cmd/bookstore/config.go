package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the bookstore.yaml layout
type Config struct {
	Database string       `yaml:"database"`
	Store    StoreConfig  `yaml:"store"`
	Log      LogConfig    `yaml:"log"`
	Server   ServerConfig `yaml:"server"`
	Cache    CacheConfig  `yaml:"query_cache"`
}

// StoreConfig selects where snapshots are kept. An empty kind keeps
// everything in memory for the lifetime of the command.
type StoreConfig struct {
	Kind string `yaml:"kind"` // "", "file", "bolt", "badger" or "memory"
	Path string `yaml:"path"`
	// Passphrase encrypts file snapshots. PassphraseEnv overrides it.
	Passphrase string `yaml:"passphrase"`
}

// PassphraseEnv names the environment variable that supplies the snapshot
// passphrase, so it can stay out of the config file
const PassphraseEnv = "BOOKSTORE_PASSPHRASE"

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type ServerConfig struct {
	Addr               string        `yaml:"addr"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// CacheConfig sizes the per-collection find result cache; size 0 turns it off
type CacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() Config {
	return Config{
		Database: "bookstore",
		Log:      LogConfig{Level: "warn", Format: "text"},
		Server:   ServerConfig{Addr: "localhost:8080", SlowQueryThreshold: 100 * time.Millisecond},
		Cache:    CacheConfig{Size: 64, TTL: time.Minute},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error
// unless required is set.
func loadConfig(path string, required bool) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Database == "" {
		cfg.Database = "bookstore"
	}
	return cfg, nil
}

// applyEnv overlays settings taken from the environment
func applyEnv(cfg Config) Config {
	if p := os.Getenv(PassphraseEnv); p != "" {
		cfg.Store.Passphrase = p
	}
	return cfg
}

// newLogger builds the structured logger described by cfg
func newLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
