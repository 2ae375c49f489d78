package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"calmirror/internal/cache"
	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/source"
)

// syncKey is the one slot every sync cycle shares.
const syncKey = "events"

// Config wires an Engine.
type Config struct {
	Events          *cache.EventCache
	Recommendations *cache.RecommendationCache
	Fetcher         source.Fetcher

	// Classifier defaults to HeuristicClassifier with the default threshold.
	Classifier Classifier
}

// Result is what SyncEvents hands back to callers.
type Result struct {
	Events  []model.Event `json:"events"`
	Changed bool          `json:"changed"`
}

// Engine runs fetch → classify → merge → persist cycles and exposes the
// cache operations the UI layer needs.
type Engine struct {
	events     *cache.EventCache
	recs       *cache.RecommendationCache
	fetcher    source.Fetcher
	classifier Classifier

	// group coalesces concurrent SyncEvents calls into one cycle.
	group singleflight.Group
}

func NewEngine(cfg Config) *Engine {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = HeuristicClassifier{Threshold: DefaultFullThreshold}
	}
	return &Engine{
		events:     cfg.Events,
		recs:       cfg.Recommendations,
		fetcher:    cfg.Fetcher,
		classifier: classifier,
	}
}

// GetCachedEvents returns the cached events while the cache is valid. It
// never touches the network.
func (e *Engine) GetCachedEvents(ctx context.Context) ([]model.Event, bool) {
	if !e.events.HasValid(ctx) {
		return nil, false
	}
	set, ok := e.events.Read(ctx)
	if !ok {
		return nil, false
	}
	return set.Events, true
}

// Events serves the cached set while it is valid and runs a sync cycle
// otherwise.
func (e *Engine) Events(ctx context.Context) (Result, error) {
	if events, ok := e.GetCachedEvents(ctx); ok {
		return Result{Events: events}, nil
	}
	return e.SyncEvents(ctx, false)
}

// SyncEvents fetches from the remote and reconciles the response with the
// cache. The stored etag and sync token are sent along unless forceFull is
// set, in which case the response replaces the cached set.
//
// Concurrent callers share one in-flight cycle and get its result. The
// cycle is detached from the caller's cancellation: once started it runs
// to completion. Between cycles the response that lands last wins.
func (e *Engine) SyncEvents(ctx context.Context, forceFull bool) (Result, error) {
	v, err, shared := e.group.Do(syncKey, func() (any, error) {
		return e.sync(context.WithoutCancel(ctx), forceFull)
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	if shared {
		events := make([]model.Event, len(res.Events))
		copy(events, res.Events)
		res.Events = events
	}
	return res, nil
}

func (e *Engine) sync(ctx context.Context, forceFull bool) (Result, error) {
	runID := uuid.NewString()

	if e.fetcher == nil {
		return Result{}, source.ErrNoSource
	}

	req := source.Request{Full: forceFull}
	if cur, ok := e.events.Read(ctx); ok && !forceFull {
		req.ETag = cur.ETag
		req.SyncToken = cur.SyncToken
	}

	appLog.Info("sync start", "run_id", runID, "force_full", forceFull, "has_token", req.SyncToken != "")

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		appLog.Error("sync fetch failed", err, "run_id", runID)
		return Result{}, fmt.Errorf("fetch events: %w", err)
	}
	if resp == nil {
		resp = &model.Response{}
	}

	var res Result
	var mode Mode
	stored, err := e.events.Update(ctx, func(latest *model.CachedEventSet) (*model.CachedEventSet, error) {
		var cached []model.Event
		if latest != nil {
			cached = latest.Events
		}

		switch {
		case resp.NotModified:
			mode = Incremental
		case forceFull:
			mode = Full
		default:
			mode = e.classifier.Classify(resp, len(cached) == 0)
		}

		// An empty delta confirms the cached set. Extend it instead of
		// writing an empty one.
		if mode == Incremental && len(resp.Items) == 0 {
			res = Result{Events: cached, Changed: false}
			return touched(latest, resp), nil
		}

		merged := Merge(cached, resp.Items, mode)
		res = Result{Events: merged.Events, Changed: merged.Changed}

		next := &model.CachedEventSet{
			Events:    merged.Events,
			ETag:      resp.ETag,
			SyncToken: resp.NextSyncToken,
		}
		if mode == Incremental && latest != nil {
			if next.ETag == "" {
				next.ETag = latest.ETag
			}
			if next.SyncToken == "" {
				next.SyncToken = latest.SyncToken
			}
		}
		return next, nil
	})
	if err != nil {
		appLog.Error("sync persist failed", err, "run_id", runID)
		return Result{}, fmt.Errorf("persist events: %w", err)
	}
	if stored != nil {
		res.Events = stored.Events
	}
	if res.Events == nil {
		res.Events = []model.Event{}
	}

	appLog.Info("sync complete",
		"run_id", runID,
		"mode", mode.String(),
		"not_modified", resp.NotModified,
		"items", len(resp.Items),
		"changed", res.Changed,
		"count", len(res.Events),
	)
	return res, nil
}

// touched copies latest with the response's cursor state applied, keeping
// events as they are.
func touched(latest *model.CachedEventSet, resp *model.Response) *model.CachedEventSet {
	next := &model.CachedEventSet{Events: []model.Event{}}
	if latest != nil {
		copied := *latest
		next = &copied
	}
	if resp.ETag != "" {
		next.ETag = resp.ETag
	}
	if resp.NextSyncToken != "" {
		next.SyncToken = resp.NextSyncToken
	}
	return next
}

// ClearEventCache drops the event cache record.
func (e *Engine) ClearEventCache(ctx context.Context) error {
	appLog.Info("event cache cleared")
	return e.events.Clear(ctx)
}

// Diagnostics reports on the event cache without side effects.
func (e *Engine) Diagnostics(ctx context.Context) cache.Diagnostics {
	return e.events.Diagnostics(ctx)
}

func (e *Engine) GetRecommendations(ctx context.Context, kind cache.Kind, fingerprint any) (json.RawMessage, bool, error) {
	if e.recs == nil {
		return nil, false, nil
	}
	return e.recs.Get(ctx, kind, fingerprint)
}

func (e *Engine) SetRecommendations(ctx context.Context, kind cache.Kind, fingerprint any, result any) error {
	if e.recs == nil {
		return nil
	}
	return e.recs.Set(ctx, kind, fingerprint, result)
}

func (e *Engine) ClearAllRecommendations(ctx context.Context) (int, error) {
	if e.recs == nil {
		return 0, nil
	}
	n, err := e.recs.ClearAll(ctx)
	if err == nil {
		appLog.Info("recommendation cache cleared", "removed", n)
	}
	return n, err
}
