package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/store"
)

// Kind is the analysis kind a recommendation was produced for.
type Kind string

const (
	KindWeek     Kind = "week"
	KindTomorrow Kind = "tomorrow"
	KindGeneral  Kind = "general"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindWeek, KindTomorrow, KindGeneral:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// DefaultRecommendationTTLs returns 7 days for week analyses and 24 hours
// for the others.
func DefaultRecommendationTTLs() map[Kind]time.Duration {
	return map[Kind]time.Duration{
		KindWeek:     7 * 24 * time.Hour,
		KindTomorrow: 24 * time.Hour,
		KindGeneral:  24 * time.Hour,
	}
}

// RecommendationConfig configures a RecommendationCache.
type RecommendationConfig struct {
	// TTLs per kind. Missing kinds use DefaultRecommendationTTLs.
	TTLs map[Kind]time.Duration

	// Location and WeekStart decide the date bucket baked into keys.
	Location  *time.Location
	WeekStart time.Weekday
}

type recommendationRecord struct {
	Data         json.RawMessage `json:"data"`
	TimestampMs  int64           `json:"timestampMs"`
	ExpiresAtMs  int64           `json:"expiresAtMs"`
	AnalysisKind Kind            `json:"analysisKind"`
}

// RecommendationCache stores opaque analysis results per (kind,
// fingerprint). Keys include the current day (or week start for week
// analyses), so entries roll over at period boundaries on their own.
type RecommendationCache struct {
	store store.Store
	keyer Keyer
	ttls  map[Kind]time.Duration
	loc   *time.Location
	week  time.Weekday
	now   func() time.Time
}

func NewRecommendationCache(s store.Store, cfg RecommendationConfig, opts ...Option) *RecommendationCache {
	ttls := DefaultRecommendationTTLs()
	for k, v := range cfg.TTLs {
		if v > 0 {
			ttls[k] = v
		}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	o := buildOptions(opts)
	return &RecommendationCache{
		store: s,
		ttls:  ttls,
		loc:   loc,
		week:  cfg.WeekStart,
		now:   o.now,
	}
}

// Key returns the record key for kind and fingerprint at the current time.
func (c *RecommendationCache) Key(kind Kind, fingerprint any) (string, error) {
	if _, err := ParseKind(string(kind)); err != nil {
		return "", err
	}
	return c.keyer.Key(kind, c.bucket(kind), fingerprint)
}

// Get returns the cached result. Expired and corrupt records are deleted
// and reported as a miss. Errors are returned only for an unknown kind or
// an unencodable fingerprint.
func (c *RecommendationCache) Get(ctx context.Context, kind Kind, fingerprint any) (json.RawMessage, bool, error) {
	key, err := c.Key(kind, fingerprint)
	if err != nil {
		return nil, false, err
	}

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		appLog.Error("recommendation cache: read failed", err, "key", key)
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}

	var rec recommendationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		appLog.Error("recommendation cache: corrupt record, deleting", err, "key", key)
		c.drop(ctx, key)
		return nil, false, nil
	}
	if c.now().UnixMilli() >= rec.ExpiresAtMs {
		appLog.Debug("recommendation cache expired", "key", key, "kind", string(rec.AnalysisKind))
		c.drop(ctx, key)
		return nil, false, nil
	}
	return rec.Data, true, nil
}

// Set stores result under kind and fingerprint.
func (c *RecommendationCache) Set(ctx context.Context, kind Kind, fingerprint any, result any) error {
	key, err := c.Key(kind, fingerprint)
	if err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache: encode recommendation: %w", err)
	}

	now := c.now()
	rec := recommendationRecord{
		Data:         data,
		TimestampMs:  now.UnixMilli(),
		ExpiresAtMs:  now.Add(c.ttls[kind]).UnixMilli(),
		AnalysisKind: kind,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, key, raw)
}

// ClearAll deletes every recommendation record and reports how many were
// removed.
func (c *RecommendationCache) ClearAll(ctx context.Context) (int, error) {
	keys, err := c.store.Keys(ctx, RecommendationPrefix)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := c.store.Delete(ctx, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (c *RecommendationCache) bucket(kind Kind) string {
	now := c.now().In(c.loc)
	if kind == KindWeek {
		return model.StartOfWeek(now, c.week).Format(model.DateLayout)
	}
	return now.Format(model.DateLayout)
}

func (c *RecommendationCache) drop(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		appLog.Error("recommendation cache: delete failed", err, "key", key)
	}
}
