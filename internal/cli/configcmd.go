package cli

import (
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/roach88/fold/internal/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	var write string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file and flags are
applied. With --write the result is saved as a TOML config file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)

			cfg, err := resolveConfig(rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}

			if write != "" {
				if err := config.Save(write, cfg); err != nil {
					return WrapExitError(ExitCommandError, "failed to write config", err)
				}
				formatter.VerboseLog("wrote %s", write)
			}

			if formatter.Format == "json" {
				return formatter.Success(cfg)
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to encode config", err)
			}
			_, err = formatter.Writer.Write(data)
			return err
		},
	}

	cmd.Flags().StringVar(&write, "write", "", "save the effective configuration to this path")

	return cmd
}
