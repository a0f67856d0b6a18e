package cli

import (
	"github.com/spf13/cobra"
)

// rootFlags are shared by every command.
type rootFlags struct {
	cfgFile  string
	logLevel string
}

// Execute builds and runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "edge-events",
		Short: "Turns CDN access logs into queryable events",
		Long: `edge-events ingests gzip-compressed CDN access logs, extracts the event
payload embedded in each request's query string and stores one event per
request in Elasticsearch or DynamoDB.

Stored events are queried with a base64-encoded JSON filter, either from
the command line or through the HTTP API started by "serve".

Long running commands reload the log level when the config file changes.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.cfgFile, "config", "c", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	rootCmd.AddCommand(
		NewIngestCmd(flags),
		NewWatchCmd(flags),
		NewServeCmd(flags),
		NewQueryCmd(flags),
		NewValidateCmd(flags),
		NewVersionCmd(),
	)

	return rootCmd
}
