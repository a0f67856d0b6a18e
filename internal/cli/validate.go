package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/edge-events/internal/config"
)

// NewValidateCmd creates the validate command.
func NewValidateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.cfgFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid:\n")
			fmt.Fprintf(out, "  Backend:       %s\n", cfg.Backend)
			fmt.Fprintf(out, "  Object source: %s\n", cfg.ObjectSource)
			fmt.Fprintf(out, "  Batch size:    %d\n", cfg.Pipeline.BatchSize)
			fmt.Fprintf(out, "  Ledger:        %s\n", cfg.Ledger.Type)
			return nil
		},
	}
}
