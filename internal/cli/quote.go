package cli

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/fold/internal/pipeline"
)

// NewQuoteCommand creates the quote command.
func NewQuoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "quote <read|create|update|delete> <Schema.field>",
		Short: "Price an operation without running it",
		Long: `Compute the fee an operation would cost the caller. Permission is not
checked and nothing is written; the database is not opened.

Example:
  fold quote update Profile.email --distance 3`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuote(opts, cmd, pipeline.OpKind(args[0]), args[1])
		},
	}

	addCallerFlags(cmd, opts)

	return cmd
}

func runQuote(opts *OpOptions, cmd *cobra.Command, kind pipeline.OpKind, address string) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	schemaName, field, entity, err := parseAddress(address, false)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid address", err)
	}
	caller, err := opts.caller()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid caller", err)
	}

	cfg, err := resolveConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	loaded, errs := LoadSchemas(cfg.SchemasDir, LoadModeFailFast)
	if len(errs) > 0 {
		return WrapExitError(ExitCommandError, "failed to load schemas", errs[0])
	}

	p := pipeline.New(loaded.Registry, nil, pipeline.WithLogger(newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)))
	q, err := p.Quote(pipeline.Request{
		Kind:   kind,
		Schema: schemaName,
		Field:  field,
		Entity: entity,
		Caller: caller,
	})
	if err != nil {
		return outputRejection(formatter, err)
	}

	distance := "unknown"
	if q.Distance != nil {
		distance = strconv.FormatUint(uint64(*q.Distance), 10)
	}
	threshold := "none"
	if q.Threshold != nil {
		threshold = strconv.FormatUint(*q.Threshold, 10)
	}

	rows := []table.Row{
		{"field", q.Schema + "." + q.Field},
		{"kind", q.Kind},
		{"distance", distance},
		{"scaling", fmt.Sprintf("%s at %d", q.Scaling, q.Evaluated)},
		{"factor", q.Factor},
		{"multipliers", fmt.Sprintf("%g x %g", q.SchemaMultiplier, q.BaseMultiplier)},
		{"amount", fmt.Sprintf("%d sat", q.Amount)},
		{"threshold", threshold},
		{"required", q.Required},
		{"digest", q.Digest},
	}
	return formatter.Table(table.Row{"Quote", ""}, rows, q)
}
