package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"calmirror/internal/activity"
	"calmirror/internal/cache"
	"calmirror/internal/config"
	appLog "calmirror/internal/log"
	"calmirror/internal/source"
	"calmirror/internal/source/gcal"
	"calmirror/internal/source/ics"
	"calmirror/internal/store"
	"calmirror/internal/syncer"
)

// App is the wired application every command runs against.
type App struct {
	Config *config.Config
	Store  store.Store
	Engine *syncer.Engine
	Filter activity.Filter
}

// OpenApp loads the config and builds store, caches, fetcher and engine
// from it. Callers must Close the App.
func OpenApp(ctx context.Context, opts *RootOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", opts.ConfigPath, err)
	}

	level := appLog.ParseLevel(cfg.LogLevel)
	if opts.Verbose {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	st, err := openStore(cfg.Cache)
	if err != nil {
		return nil, err
	}

	fetcher, err := newFetcher(ctx, cfg.Source)
	if err != nil {
		st.Close()
		return nil, err
	}

	classifierName := cfg.Sync.Classifier
	if classifierName == "" {
		classifierName = defaultClassifier(cfg.Source.Kind)
	}
	classifier, err := syncer.NewClassifier(classifierName, cfg.Sync.FullThreshold)
	if err != nil {
		st.Close()
		return nil, err
	}

	loc := cfg.Location()
	engine := syncer.NewEngine(syncer.Config{
		Events: cache.NewEventCache(st, cfg.Cache.EventTTL),
		Recommendations: cache.NewRecommendationCache(st, cache.RecommendationConfig{
			TTLs: map[cache.Kind]time.Duration{
				cache.KindWeek:     cfg.Recommendations.WeekTTL,
				cache.KindTomorrow: cfg.Recommendations.TomorrowTTL,
				cache.KindGeneral:  cfg.Recommendations.GeneralTTL,
			},
			Location:  loc,
			WeekStart: cfg.WeekStartDay(),
		}),
		Fetcher:    fetcher,
		Classifier: classifier,
	})

	appLog.Debug("app ready",
		"config_path", opts.ConfigPath,
		"backend", cfg.Cache.Backend,
		"source", cfg.Source.Kind,
		"classifier", classifierName,
		"timezone", loc.String(),
	)

	return &App{
		Config: cfg,
		Store:  st,
		Engine: engine,
		Filter: activity.Filter{Location: loc, WeekStart: cfg.WeekStartDay()},
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

func openStore(cfg config.CacheConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendFile:
		return store.NewFileStore(cfg.Path)
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, err
		}
		return store.OpenSQLite(cfg.Path)
	}
}

// newFetcher returns nil when no source is configured; syncs then fail with
// source.ErrNoSource while cached data stays readable.
func newFetcher(ctx context.Context, cfg config.SourceConfig) (source.Fetcher, error) {
	switch cfg.Kind {
	case config.SourceGoogle:
		opts, err := gcal.ClientOptions(ctx, cfg.CredentialsFile, cfg.TokenFile)
		if err != nil {
			return nil, err
		}
		return gcal.NewFetcher(ctx, cfg.CalendarID, opts...)
	case config.SourceICS:
		return ics.NewFetcher(cfg.URL, nil), nil
	default:
		return nil, nil
	}
}

// defaultClassifier picks the classifier whose assumptions hold for the
// source: Google speaks sync tokens, ICS always sends full snapshots.
func defaultClassifier(kind string) string {
	switch kind {
	case config.SourceGoogle:
		return "token"
	case config.SourceICS:
		return "full"
	default:
		return "heuristic"
	}
}
