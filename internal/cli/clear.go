package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	Recommendations bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop the local event cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := OpenApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			if err := app.Engine.ClearEventCache(cmd.Context()); err != nil {
				return fmt.Errorf("clearing event cache: %w", err)
			}
			fmt.Fprintln(out, "event cache cleared")

			if opts.Recommendations {
				n, err := app.Engine.ClearAllRecommendations(cmd.Context())
				if err != nil {
					return fmt.Errorf("clearing recommendations: %w", err)
				}
				fmt.Fprintf(out, "removed %d recommendation records\n", n)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Recommendations, "recommendations", false, "also drop cached recommendations")

	return cmd
}
