package cli

import (
	"github.com/spf13/cobra"
)

// DefaultConfigPath is where the config file lives unless --config says
// otherwise.
const DefaultConfigPath = "/etc/calmirror/config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the calmirror CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "calmirror",
		Short: "calmirror - a local mirror of a remote calendar",
		Long: `calmirror keeps a persisted, eventually consistent mirror of a remote
calendar (Google Calendar or an ICS feed), reconciles full and delta
responses, and serves filtered and day-bucketed views over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main logs the error
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", DefaultConfigPath, "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewClearCommand(opts))

	return cmd
}
