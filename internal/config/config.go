// Package config reads runtime configuration from the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. LANPOS_DB.
const Prefix = "LANPOS"

// Config holds runtime configuration. Command-line flags override it.
type Config struct {
	DB         string `envconfig:"DB" default:"lanpos.db"`
	PeerID     string `envconfig:"PEER_ID"`
	TaxRateBPS int64  `envconfig:"TAX_RATE_BPS" default:"800"`
	LogFormat  string `envconfig:"LOG_FORMAT" default:"text"`

	ListenAddr   string        `envconfig:"LISTEN_ADDR" default:":7420"`
	Peers        []string      `envconfig:"PEERS"`
	RelayAddr    string        `envconfig:"RELAY_ADDR"`
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"5s"`
}

// Load reads configuration from LANPOS_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	if c.TaxRateBPS < 0 || c.TaxRateBPS > 10000 {
		return fmt.Errorf("config: tax rate %d bps out of range 0..10000", c.TaxRateBPS)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: log format %q must be text or json", c.LogFormat)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("config: sync interval must be positive")
	}
	return nil
}

// NewLogger returns a text or JSON slog logger writing to w. Verbose enables
// debug level.
func NewLogger(format string, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
