package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"calmirror/internal/cache"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the local event cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := OpenApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			d := app.Engine.Diagnostics(cmd.Context())
			active := 0
			if d.Valid {
				if events, ok := app.Engine.GetCachedEvents(cmd.Context()); ok {
					active = len(app.Filter.Active(events, time.Now()))
				}
			}
			printStatus(cmd.OutOrStdout(), d, active, app.Config.Cache.EventTTL)
			return nil
		},
	}
	return cmd
}

func printStatus(w io.Writer, d cache.Diagnostics, active int, ttl time.Duration) {
	label := color.New(color.Bold).SprintFunc()
	good := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()

	if !d.Present {
		fmt.Fprintf(w, "%s %s\n", label("cache:"), bad("empty"))
		return
	}

	state := good("valid")
	if !d.Valid {
		state = warn("expired")
	}
	age := time.Duration(d.AgeSeconds * float64(time.Second)).Round(time.Second)

	fmt.Fprintf(w, "%s %s\n", label("cache:"), state)
	fmt.Fprintf(w, "%s %d\n", label("events:"), d.Count)
	if d.Valid {
		fmt.Fprintf(w, "%s %d\n", label("active:"), active)
	}
	fmt.Fprintf(w, "%s %s (ttl %s)\n", label("age:"), age, ttl)
}
