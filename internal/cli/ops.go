package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/fold/internal/chain"
	"github.com/roach88/fold/internal/pipeline"
	"github.com/roach88/fold/internal/store"
	"github.com/roach88/fold/internal/value"
)

// OpOptions holds the caller flags shared by operation commands.
type OpOptions struct {
	*RootOptions
	CallerKey string
	Distance  int64 // negative means unknown
	AutoPay   bool
}

func addCallerFlags(cmd *cobra.Command, opts *OpOptions) {
	cmd.Flags().StringVar(&opts.CallerKey, "caller-key", "", "authenticated caller public key")
	cmd.Flags().Int64Var(&opts.Distance, "distance", -1, "caller trust distance (negative = unknown)")
}

func addPaymentFlags(cmd *cobra.Command, opts *OpOptions) {
	cmd.Flags().BoolVar(&opts.AutoPay, "auto-pay", false, "settle any invoice immediately")
}

func (o *OpOptions) caller() (pipeline.Caller, error) {
	c := pipeline.Caller{Key: o.CallerKey}
	if o.Distance < 0 {
		return c, nil
	}
	if o.Distance > math.MaxUint32 {
		return c, fmt.Errorf("distance %d out of range", o.Distance)
	}
	d := uint32(o.Distance)
	c.Distance = &d
	return c, nil
}

// parseAddress splits "Schema.field/entity". The entity is optional unless
// requireEntity is set.
func parseAddress(s string, requireEntity bool) (schemaName, field, entity string, err error) {
	schemaName, field, entity, err = pipeline.ParseAddress(s)
	if err != nil {
		return "", "", "", err
	}
	if requireEntity && entity == "" {
		return "", "", "", fmt.Errorf("invalid address %q: entity is required", s)
	}
	return schemaName, field, entity, nil
}

// OpOutput is the JSON shape of a completed operation.
type OpOutput struct {
	Address string        `json:"address"`
	Record  *store.Record `json:"record,omitempty"`
	Content value.Value   `json:"content,omitempty"`
	Fee     uint64        `json:"fee"`
	Paid    string        `json:"paid,omitempty"`
}

// executeOp runs req through a freshly opened runtime and reports the
// outcome.
func executeOp(opts *OpOptions, cmd *cobra.Command, req pipeline.Request) error {
	rt, err := openRuntime(opts.RootOptions, cmd, opts.AutoPay)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.pipeline.Execute(commandContext(cmd), req)
	if err != nil {
		return outputRejection(rt.formatter, err)
	}
	return outputResult(rt.formatter, req, res)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func outputResult(f *OutputFormatter, req pipeline.Request, res *pipeline.Result) error {
	out := OpOutput{
		Address: req.Address(),
		Record:  &res.Record,
		Content: res.Content,
		Fee:     res.Quote.Due(),
		Paid:    res.Paid,
	}
	if f.Format == "json" {
		return f.Success(out)
	}

	if req.Kind == pipeline.OpRead {
		data, err := value.Canonical(res.Content)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to encode content", err)
		}
		fmt.Fprintln(f.Writer, string(data))
		f.VerboseLog("record %s created %s", res.Record.ID, res.Record.CreatedAt.Format(time.RFC3339))
		return nil
	}

	line := fmt.Sprintf("%s: record %s", out.Address, res.Record.ID)
	if res.Record.PrevID != "" {
		line += fmt.Sprintf(" (prev %s)", res.Record.PrevID)
	}
	if res.Record.Deleted {
		line += " deleted"
	}
	if res.Paid != "" {
		line += fmt.Sprintf(", paid %d sat", out.Fee)
	}
	fmt.Fprintln(f.Writer, line)
	return nil
}

func outputRejection(f *OutputFormatter, err error) error {
	var rej *pipeline.Rejection
	if !errors.As(err, &rej) {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "operation failed", err)
	}

	details := rej.Details()
	if rej.Invoice != nil {
		details["invoice_amount"] = fmt.Sprintf("%d", rej.Invoice.Amount)
		details["invoice_expires"] = rej.Invoice.ExpiresAt.Format(time.RFC3339)
	}
	_ = f.Error(string(rej.Code), rej.Message, details)
	return NewExitError(ExitFailure, rej.Error())
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpOptions{RootOptions: rootOpts}
	filter := &pipeline.Filter{}

	cmd := &cobra.Command{
		Use:   "get <Schema.field/entity>",
		Short: "Read the current content of a field",
		Long: `Read the head of a field's version chain.

Range fields accept a filter; every criterion given must match:
  fold get Profile.links/alice --prefix git
  fold get Profile.links/alice --start a --end m`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opRequest(opts, pipeline.OpRead, args[0])
			if err != nil {
				return err
			}
			if !filter.IsZero() {
				req.Filter = filter
			}
			return executeOp(opts, cmd, req)
		},
	}

	addCallerFlags(cmd, opts)
	addPaymentFlags(cmd, opts)
	cmd.Flags().StringVar(&filter.Key, "key", "", "range filter: exact key")
	cmd.Flags().StringVar(&filter.Prefix, "prefix", "", "range filter: key prefix")
	cmd.Flags().StringVar(&filter.Start, "start", "", "range filter: inclusive lower bound")
	cmd.Flags().StringVar(&filter.End, "end", "", "range filter: exclusive upper bound")
	cmd.Flags().StringVar(&filter.Pattern, "pattern", "", "range filter: glob pattern")

	return cmd
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpOptions{RootOptions: rootOpts}
	var create bool

	cmd := &cobra.Command{
		Use:   "put <Schema.field/entity> <json|->",
		Short: "Write new content to a field",
		Long: `Append a new version to a field's chain. Content is JSON, or "-" to read
it from stdin.

Example:
  fold put Profile.bio/alice '"hello"' --caller-key pk-alice --distance 0`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := pipeline.OpUpdate
			if create {
				kind = pipeline.OpCreate
			}
			req, err := opRequest(opts, kind, args[0])
			if err != nil {
				return err
			}
			content, err := readContent(cmd.InOrStdin(), args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid content", err)
			}
			req.Content = content
			return executeOp(opts, cmd, req)
		},
	}

	addCallerFlags(cmd, opts)
	addPaymentFlags(cmd, opts)
	cmd.Flags().BoolVar(&create, "create", false, "record the write as a create")

	return cmd
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "delete <Schema.field/entity>",
		Short:         "Tombstone a field",
		Long:          `Append a tombstone to a field's chain. History is kept.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opRequest(opts, pipeline.OpDelete, args[0])
			if err != nil {
				return err
			}
			return executeOp(opts, cmd, req)
		},
	}

	addCallerFlags(cmd, opts)
	addPaymentFlags(cmd, opts)

	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history <Schema.field/entity>",
		Short: "List every version of a field, newest first",
		Long: `List a field's version chain from the head back to the first version.
The caller needs read access and pays the read fee once. The field must
currently hold content; a tombstoned chain reports NOT_FOUND.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opRequest(opts, pipeline.OpRead, args[0])
			if err != nil {
				return err
			}
			return runHistory(opts, cmd, req)
		},
	}

	addCallerFlags(cmd, opts)
	addPaymentFlags(cmd, opts)

	return cmd
}

func runHistory(opts *OpOptions, cmd *cobra.Command, req pipeline.Request) error {
	rt, err := openRuntime(opts.RootOptions, cmd, opts.AutoPay)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := commandContext(cmd)
	res, err := rt.pipeline.Execute(ctx, req)
	if err != nil {
		return outputRejection(rt.formatter, err)
	}

	records, err := chain.Collect(rt.chain.History(ctx, res.Record.Key()))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history", err)
	}

	rows := make([]table.Row, len(records))
	for i, rec := range records {
		content := "-"
		if !rec.Deleted {
			data, err := value.Canonical(rec.Content)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to encode content", err)
			}
			content = string(data)
		}
		rows[i] = table.Row{rec.ID, rec.CreatedAt.Format(time.RFC3339), rec.SourceKey, content}
	}
	return rt.formatter.Table(table.Row{"Record", "Created", "Source", "Content"}, rows, records)
}

func opRequest(opts *OpOptions, kind pipeline.OpKind, address string) (pipeline.Request, error) {
	schemaName, field, entity, err := parseAddress(address, true)
	if err != nil {
		return pipeline.Request{}, WrapExitError(ExitCommandError, "invalid address", err)
	}
	caller, err := opts.caller()
	if err != nil {
		return pipeline.Request{}, WrapExitError(ExitCommandError, "invalid caller", err)
	}
	return pipeline.Request{
		Kind:   kind,
		Schema: schemaName,
		Field:  field,
		Entity: entity,
		Caller: caller,
	}, nil
}

func readContent(stdin io.Reader, arg string) (value.Value, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
	}
	return value.Parse(data)
}
