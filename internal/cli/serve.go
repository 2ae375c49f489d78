package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "calmirror/internal/log"
	"calmirror/internal/source"
	"calmirror/internal/web"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and refresh on a schedule",
		Long: `Serve the JSON API and run background syncs on the configured cron
schedule. A first sync starts right away. SIGINT or SIGTERM shut the
server down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (overrides config if set)")

	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *ServeOptions) error {
	app, err := OpenApp(ctx, rootOpts)
	if err != nil {
		return err
	}
	defer app.Close()

	if opts.Listen != "" {
		app.Config.Listen = opts.Listen
	}

	appLog.Info("effective config",
		"listen", app.Config.Listen,
		"timezone", app.Config.Timezone,
		"week_start", app.Config.WeekStart,
		"refresh", app.Config.RefreshCron,
		"backend", app.Config.Cache.Backend,
		"source", app.Config.Source.Kind,
	)

	refresher, err := newRefresher(ctx, app)
	if err != nil {
		return err
	}
	refresher.Start()

	// Deferred after app.Close, so it runs first: the store stays open
	// until every sync has returned.
	var initial sync.WaitGroup
	defer waitForSyncs(refresher, &initial)

	initial.Add(1)
	go func() {
		defer initial.Done()
		refresh(ctx, app)
	}()

	if err := web.NewServer(app.Config, app.Engine).Run(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	appLog.Info("calmirror exiting")
	return nil
}

// waitForSyncs stops the schedule and blocks until the running scheduled
// and initial syncs are done.
func waitForSyncs(refresher *cron.Cron, initial *sync.WaitGroup) {
	<-refresher.Stop().Done()
	initial.Wait()
}

// newRefresher schedules background syncs in the configured timezone.
func newRefresher(ctx context.Context, app *App) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(app.Config.Location()))
	if _, err := c.AddFunc(app.Config.RefreshCron, func() { refresh(ctx, app) }); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", app.Config.RefreshCron, err)
	}
	return c, nil
}

func refresh(ctx context.Context, app *App) {
	if ctx.Err() != nil {
		return
	}
	res, err := app.Engine.SyncEvents(ctx, false)
	switch {
	case errors.Is(err, source.ErrNoSource):
		appLog.Debug("refresh skipped, no source configured")
	case err != nil:
		appLog.Error("scheduled refresh failed", err)
	default:
		appLog.Debug("scheduled refresh done", "changed", res.Changed, "count", len(res.Events))
	}
}
