package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	Full bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the remote calendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := OpenApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.Engine.SyncEvents(cmd.Context(), opts.Full)
			if err != nil {
				return err
			}

			state := "unchanged"
			if res.Changed {
				state = "changed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d events (%s)\n", len(res.Events), state)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "ignore the stored sync token and replace the cache")

	return cmd
}
