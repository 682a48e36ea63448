// Package config loads fold's TOML configuration.
//
// Defaults follow the XDG base directory spec: the config file lives at
// $XDG_CONFIG_HOME/fold/fold.toml, the database at
// $XDG_DATA_HOME/fold/fold.db and schemas under $XDG_CONFIG_HOME/fold/schemas.
// FOLD_HOME overrides all three with a single directory.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"github.com/roach88/fold/internal/chain"
	"github.com/roach88/fold/internal/payment"
)

// HomeEnv overrides every default location when set.
const HomeEnv = "FOLD_HOME"

const (
	appName    = "fold"
	configFile = "fold.toml"
	dbFile     = "fold.db"
	schemasDir = "schemas"
)

// Config is the effective configuration.
type Config struct {
	// Database is the SQLite database path.
	Database string `toml:"database"`

	// SchemasDir holds the CUE schema sources.
	SchemasDir string `toml:"schemas_dir"`

	// MaxWriteAttempts bounds the compare-and-swap retry loop.
	MaxWriteAttempts int `toml:"max_write_attempts"`

	// PaymentWait is how long an operation waits for its invoice to be
	// paid. Zero rejects immediately with the invoice.
	PaymentWait Duration `toml:"payment_wait"`

	// InvoiceTTL is how long an invoice stays payable.
	InvoiceTTL Duration `toml:"invoice_ttl"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file sets a value.
func Default() Config {
	return Config{
		Database:         filepath.Join(DataDir(), dbFile),
		SchemasDir:       filepath.Join(ConfigDir(), schemasDir),
		MaxWriteAttempts: chain.DefaultMaxAttempts,
		PaymentWait:      Duration{0},
		InvoiceTTL:       Duration{payment.DefaultInvoiceTTL},
		LogLevel:         "info",
	}
}

// ConfigDir returns the directory holding fold.toml.
func ConfigDir() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	xdg.Reload()
	return filepath.Join(xdg.ConfigHome, appName)
}

// DataDir returns the directory holding the database.
func DataDir() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	xdg.Reload()
	return filepath.Join(xdg.DataHome, appName)
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), configFile)
}

// Load reads the config file at path over the defaults. An empty path
// means DefaultPath, which may be absent; an explicit path must exist.
// Relative paths in the file are resolved against its directory.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("load config: %w", err)
	}

	var file Config
	if err := toml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}

	// Merge explicitly set values. Unmarshal into a zero struct leaves
	// unset keys zero, so re-decode into the defaults for the rest.
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if file.Database != "" {
		cfg.Database = resolve(dir, file.Database)
	}
	if file.SchemasDir != "" {
		cfg.SchemasDir = resolve(dir, file.SchemasDir)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as TOML, creating the parent directory.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var problems []string
	if c.MaxWriteAttempts < 1 {
		problems = append(problems, fmt.Sprintf("max_write_attempts must be >= 1, got %d", c.MaxWriteAttempts))
	}
	if c.PaymentWait.Duration < 0 {
		problems = append(problems, "payment_wait must not be negative")
	}
	if c.InvoiceTTL.Duration <= 0 {
		problems = append(problems, "invoice_ttl must be positive")
	}
	if _, err := c.Level(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q: must be debug, info, warn or error", c.LogLevel)
	}
	return level, nil
}

func resolve(dir, p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}
