package cli

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fold/internal/chain"
	"github.com/roach88/fold/internal/config"
	"github.com/roach88/fold/internal/payment"
	"github.com/roach88/fold/internal/pipeline"
	"github.com/roach88/fold/internal/schema"
	"github.com/roach88/fold/internal/store"
)

// autoPayWait bounds the wait for an auto-settled invoice when the config
// does not set payment_wait.
const autoPayWait = time.Second

// runtime is everything an operation command needs, built from config
// and flags. Close releases the database.
type runtime struct {
	cfg       config.Config
	logger    *slog.Logger
	db        *store.DB
	registry  *schema.Registry
	chain     *chain.Chain
	ledger    *payment.Ledger
	pipeline  *pipeline.Pipeline
	formatter *OutputFormatter
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// resolveConfig loads the config file and applies flag overrides.
func resolveConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return cfg, err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.SchemasDir != "" {
		cfg.SchemasDir = opts.SchemasDir
	}
	return cfg, nil
}

func newLogger(w io.Writer, cfg config.Config, verbose bool) *slog.Logger {
	level, err := cfg.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openRuntime loads schemas, opens the database and wires the pipeline.
// With autoPay the in-process ledger settles every invoice it issues.
func openRuntime(opts *RootOptions, cmd *cobra.Command, autoPay bool) (*runtime, error) {
	formatter := newFormatter(opts, cmd)

	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)

	logger.Debug("loading schemas", "dir", cfg.SchemasDir)
	loaded, errs := LoadSchemas(cfg.SchemasDir, LoadModeFailFast)
	if len(errs) > 0 {
		return nil, WrapExitError(ExitCommandError, "failed to load schemas", errors.Join(errs...))
	}
	logger.Debug("schemas loaded", "count", len(loaded.Schemas))

	logger.Debug("opening database", "path", cfg.Database)
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o700); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
	}
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	ch := chain.New(db,
		chain.WithMaxAttempts(cfg.MaxWriteAttempts),
		chain.WithLogger(logger))

	ledger := payment.NewLedger(
		payment.WithTTL(cfg.InvoiceTTL.Duration),
		payment.WithAutoSettle(autoPay),
		payment.WithLogger(logger))

	wait := cfg.PaymentWait.Duration
	if autoPay && wait == 0 {
		wait = autoPayWait
	}

	p := pipeline.New(loaded.Registry, ch,
		pipeline.WithGateway(ledger),
		pipeline.WithPaymentWait(wait),
		pipeline.WithLogger(logger),
		pipeline.WithObserver(func(t pipeline.Transition) {
			formatter.VerboseLog("%s", t)
		}))

	return &runtime{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		registry:  loaded.Registry,
		chain:     ch,
		ledger:    ledger,
		pipeline:  p,
		formatter: formatter,
	}, nil
}

func (r *runtime) Close() {
	if err := r.db.Close(); err != nil {
		r.logger.Error("error closing database", "error", err)
	}
}
