package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/fold/internal/schema"
)

// NewSchemasCommand creates the schemas command.
func NewSchemasCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List loaded schemas and their field policies",
		Args:  cobra.NoArgs,
		// Errors are reported through the formatter.
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemas(rootOpts, cmd)
		},
	}

	return cmd
}

func runSchemas(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, err := resolveConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	loaded, errs := LoadSchemas(cfg.SchemasDir, LoadModeFailFast)
	if len(errs) > 0 {
		return WrapExitError(ExitCommandError, "failed to load schemas", errs[0])
	}

	var rows []table.Row
	var out []*schema.Schema
	for _, name := range loaded.Registry.Names() {
		s, err := loaded.Registry.Schema(name)
		if err != nil {
			return WrapExitError(ExitFailure, "schema vanished", err)
		}
		out = append(out, s)

		fields := make([]string, 0, len(s.Fields))
		for f := range s.Fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			def := s.Fields[f]
			mapsTo := ""
			if def.MapsTo != nil {
				mapsTo = def.MapsTo.String()
			}
			rows = append(rows, table.Row{
				s.Name + "." + f,
				def.Type,
				formatRule(def.Access.Read),
				formatRule(def.Access.Write),
				formatFee(s, def.Fee),
				mapsTo,
			})
		}
	}

	return formatter.Table(table.Row{"Field", "Type", "Read", "Write", "Fee", "Maps To"}, rows, out)
}

func formatRule(r schema.AccessRule) string {
	var parts []string
	if r.MaxDistance != nil {
		parts = append(parts, fmt.Sprintf("<=%d", *r.MaxDistance))
	}
	if len(r.Allow) > 0 {
		parts = append(parts, "allow "+strings.Join(r.Allow, ","))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func formatFee(s *schema.Schema, f schema.FeePolicy) string {
	base := strconv.FormatFloat(s.Multiplier()*f.BaseMultiplier, 'g', -1, 64)
	out := base + " x " + string(f.TrustScaling.Kind)
	if f.TrustScaling.Kind == "" || f.TrustScaling.Kind == schema.ScalingNone {
		out = base
	}
	if f.MinPaymentThreshold == nil {
		return out + ", free"
	}
	return fmt.Sprintf("%s, pay at >=%d", out, *f.MinPaymentThreshold)
}
