package cache

import (
	"context"
	"encoding/json"
	"time"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/store"
)

const (
	// EventKey is the fixed key of the event cache record.
	EventKey = "events:cache"

	// DefaultEventTTL is how long a synced event set is trusted.
	DefaultEventTTL = 5 * time.Minute
)

// Diagnostics summarises the event cache record.
type Diagnostics struct {
	Present    bool    `json:"present"`
	Valid      bool    `json:"valid"`
	Count      int     `json:"count"`
	AgeSeconds float64 `json:"ageSeconds"`
}

// EventCache owns the persisted CachedEventSet and its validity by age.
//
// Every write goes through the store's Update section and normalises the
// set: cancelled events are dropped, ids are unique, and the timestamp
// never moves backwards.
type EventCache struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewEventCache creates an event cache over s. A non-positive ttl selects
// DefaultEventTTL.
func NewEventCache(s store.Store, ttl time.Duration, opts ...Option) *EventCache {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	o := buildOptions(opts)
	return &EventCache{store: s, ttl: ttl, now: o.now}
}

// TTL returns the configured validity window.
func (c *EventCache) TTL() time.Duration {
	return c.ttl
}

// HasValid reports whether a record exists and is younger than the TTL.
// An expired or corrupt record is deleted. The delete re-checks the record
// inside the store's single-writer section, so a record a concurrent sync
// has just written survives and counts as valid.
func (c *EventCache) HasValid(ctx context.Context) bool {
	set, ok := c.Read(ctx)
	if !ok {
		return false
	}
	if c.fresh(set) {
		return true
	}
	appLog.Debug("event cache expired", "age", set.Age(c.now()).String(), "ttl", c.ttl.String())

	valid := false
	err := c.dropIf(ctx, func(cur *model.CachedEventSet) bool {
		valid = cur != nil && c.fresh(cur)
		return !valid
	})
	if err != nil {
		appLog.Error("event cache: delete expired record failed", err)
		return false
	}
	return valid
}

// dropIf deletes the record when drop reports true for its current value.
// drop runs in the single-writer section and receives nil for a corrupt
// record. Absent records are left alone.
func (c *EventCache) dropIf(ctx context.Context, drop func(cur *model.CachedEventSet) bool) error {
	return c.store.Update(ctx, EventKey, func(raw []byte, ok bool) ([]byte, bool, error) {
		if !ok {
			return nil, true, nil
		}
		cur, err := decodeEventSet(raw)
		if err != nil {
			cur = nil
		}
		if drop(cur) {
			return nil, true, nil
		}
		return raw, false, nil
	})
}

// Read returns the record regardless of age. A corrupt record is deleted
// and reported as a miss.
func (c *EventCache) Read(ctx context.Context) (*model.CachedEventSet, bool) {
	raw, ok, err := c.store.Get(ctx, EventKey)
	if err != nil {
		appLog.Error("event cache: read failed", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	set, err := decodeEventSet(raw)
	if err != nil {
		appLog.Error("event cache: corrupt record, deleting", err)
		derr := c.dropIf(ctx, func(cur *model.CachedEventSet) bool { return cur == nil })
		if derr != nil {
			appLog.Error("event cache: delete corrupt record failed", derr)
		}
		return nil, false
	}
	return set, true
}

// Write replaces the record and stamps the current time.
func (c *EventCache) Write(ctx context.Context, events []model.Event, etag, syncToken string) error {
	_, err := c.Update(ctx, func(*model.CachedEventSet) (*model.CachedEventSet, error) {
		return &model.CachedEventSet{Events: events, ETag: etag, SyncToken: syncToken}, nil
	})
	return err
}

// Touch extends validity without replacing events. A non-empty etag
// replaces the stored one. With no record present an empty one is created,
// since the server confirmed there is nothing to hold.
func (c *EventCache) Touch(ctx context.Context, etag string) error {
	_, err := c.Update(ctx, func(cur *model.CachedEventSet) (*model.CachedEventSet, error) {
		next := &model.CachedEventSet{Events: []model.Event{}}
		if cur != nil {
			copied := *cur
			next = &copied
		}
		if etag != "" {
			next.ETag = etag
		}
		return next, nil
	})
	return err
}

// Clear deletes the record.
func (c *EventCache) Clear(ctx context.Context) error {
	return c.store.Delete(ctx, EventKey)
}

// Update runs fn inside the store's single-writer section. fn receives the
// current record (nil when absent or corrupt) and returns the next one, or
// nil to leave the record alone. The returned set is what is now stored.
func (c *EventCache) Update(ctx context.Context, fn func(cur *model.CachedEventSet) (*model.CachedEventSet, error)) (*model.CachedEventSet, error) {
	var stored *model.CachedEventSet
	err := c.store.Update(ctx, EventKey, func(raw []byte, ok bool) ([]byte, bool, error) {
		var cur *model.CachedEventSet
		corrupt := false
		if ok {
			set, err := decodeEventSet(raw)
			if err != nil {
				appLog.Error("event cache: corrupt record ignored during update", err)
				corrupt = true
			} else {
				cur = set
			}
		}

		next, err := fn(cur)
		if err != nil {
			return nil, false, err
		}
		if next == nil {
			stored = cur
			if corrupt {
				return nil, true, nil
			}
			return raw, !ok, nil
		}

		next.Events = normalize(next.Events)
		next.TimestampMs = c.now().UnixMilli()
		if cur != nil && cur.TimestampMs > next.TimestampMs {
			next.TimestampMs = cur.TimestampMs
		}

		data, err := json.Marshal(next)
		if err != nil {
			return nil, false, err
		}
		stored = next
		return data, false, nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Diagnostics reports on the record without side effects.
func (c *EventCache) Diagnostics(ctx context.Context) Diagnostics {
	raw, ok, err := c.store.Get(ctx, EventKey)
	if err != nil || !ok {
		return Diagnostics{}
	}
	set, err := decodeEventSet(raw)
	if err != nil {
		return Diagnostics{}
	}
	return Diagnostics{
		Present:    true,
		Valid:      c.fresh(set),
		Count:      len(set.Events),
		AgeSeconds: set.Age(c.now()).Seconds(),
	}
}

func (c *EventCache) fresh(set *model.CachedEventSet) bool {
	return c.now().UnixMilli()-set.TimestampMs < c.ttl.Milliseconds()
}

func decodeEventSet(raw []byte) (*model.CachedEventSet, error) {
	var set model.CachedEventSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, err
	}
	if set.Events == nil {
		set.Events = []model.Event{}
	}
	return &set, nil
}

// normalize drops cancelled events and keeps one entry per id. A repeated
// id keeps its first position and takes the last value.
func normalize(events []model.Event) []model.Event {
	out := make([]model.Event, 0, len(events))
	index := make(map[string]int, len(events))
	for _, ev := range events {
		if ev.IsCancelled() {
			continue
		}
		if i, ok := index[ev.ID]; ok {
			out[i] = ev
			continue
		}
		index[ev.ID] = len(out)
		out = append(out, ev)
	}
	return out
}
