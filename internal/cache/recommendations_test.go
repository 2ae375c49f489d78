package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmirror/internal/store"
)

type analysis struct {
	Suggestions []string `json:"suggestions"`
}

func newRecommendationCache(s store.Store, clock *fakeClock) *RecommendationCache {
	return NewRecommendationCache(s, RecommendationConfig{
		Location:  time.UTC,
		WeekStart: time.Monday,
	}, WithClock(clock.Now))
}

func TestRecommendationCache_SetGet(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := newRecommendationCache(store.NewMemoryStore(), clock)

	fp := map[string]any{"calendar": "primary", "events": 3}

	_, ok, err := c.Get(ctx, KindTomorrow, fp)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, KindTomorrow, fp, analysis{Suggestions: []string{"move standup"}}))

	data, ok, err := c.Get(ctx, KindTomorrow, map[string]any{"events": 3, "calendar": "primary"})
	require.NoError(t, err)
	require.True(t, ok, "fingerprint with same content must hit")
	assert.JSONEq(t, `{"suggestions":["move standup"]}`, string(data))

	_, ok, _ = c.Get(ctx, KindGeneral, fp)
	assert.False(t, ok, "kinds do not share records")
}

func TestRecommendationCache_TTLPerKind(t *testing.T) {
	tests := []struct {
		kind Kind
		ttl  time.Duration
	}{
		{KindTomorrow, 24 * time.Hour},
		{KindGeneral, 24 * time.Hour},
		{KindWeek, 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			s := store.NewMemoryStore()
			c := NewRecommendationCache(s, RecommendationConfig{Location: time.UTC}, WithClock(clock.Now))

			require.NoError(t, c.Set(ctx, tt.kind, "fp", "result"))
			key, err := c.Key(tt.kind, "fp")
			require.NoError(t, err)

			// Bypass the date bucket by reading the record directly.
			raw, ok, err := s.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Contains(t, string(raw), `"analysisKind":"`+string(tt.kind)+`"`)

			rec := c.ttls[tt.kind]
			assert.Equal(t, tt.ttl, rec)
		})
	}
}

func TestRecommendationCache_ExpiryDeletes(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	c := NewRecommendationCache(s, RecommendationConfig{
		Location: time.UTC,
		TTLs:     map[Kind]time.Duration{KindGeneral: time.Minute},
	}, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, KindGeneral, "fp", "result"))
	key, _ := c.Key(KindGeneral, "fp")

	clock.Advance(time.Minute - time.Millisecond)
	_, ok, _ := c.Get(ctx, KindGeneral, "fp")
	assert.True(t, ok)

	clock.Advance(time.Millisecond)
	_, ok, _ = c.Get(ctx, KindGeneral, "fp")
	assert.False(t, ok)

	_, present, _ := s.Get(ctx, key)
	assert.False(t, present, "expired record is deleted")
}

func TestRecommendationCache_BucketRollsOver(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, time.June, 4, 23, 0, 0, 0, time.UTC)} // Wednesday
	c := newRecommendationCache(store.NewMemoryStore(), clock)

	require.NoError(t, c.Set(ctx, KindTomorrow, "fp", "today"))
	require.NoError(t, c.Set(ctx, KindWeek, "fp", "this week"))

	dayKey, _ := c.Key(KindTomorrow, "fp")
	weekKey, _ := c.Key(KindWeek, "fp")
	assert.True(t, strings.HasPrefix(dayKey, "recommendations:tomorrow:2025-06-04:"), dayKey)
	assert.True(t, strings.HasPrefix(weekKey, "recommendations:week:2025-06-02:"), weekKey)

	clock.Advance(2 * time.Hour) // Thursday
	_, ok, _ := c.Get(ctx, KindTomorrow, "fp")
	assert.False(t, ok, "day bucket rolled over")
	_, ok, _ = c.Get(ctx, KindWeek, "fp")
	assert.True(t, ok, "week bucket still current")

	clock.Advance(5 * 24 * time.Hour) // next Tuesday
	_, ok, _ = c.Get(ctx, KindWeek, "fp")
	assert.False(t, ok, "week bucket rolled over")
}

func TestRecommendationCache_CorruptIsMiss(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	c := newRecommendationCache(s, clock)

	key, err := c.Key(KindGeneral, "fp")
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, key, []byte("nope")))

	_, ok, err := c.Get(ctx, KindGeneral, "fp")
	require.NoError(t, err)
	assert.False(t, ok)
	_, present, _ := s.Get(ctx, key)
	assert.False(t, present)
}

func TestRecommendationCache_ClearAll(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := store.NewMemoryStore()
	c := newRecommendationCache(s, clock)

	require.NoError(t, s.Set(ctx, EventKey, []byte(`{"events":[]}`)))
	require.NoError(t, c.Set(ctx, KindWeek, "a", 1))
	require.NoError(t, c.Set(ctx, KindTomorrow, "b", 2))
	require.NoError(t, c.Set(ctx, KindGeneral, "c", 3))

	n, err := c.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	keys, _ := s.Keys(ctx, "")
	assert.Equal(t, []string{EventKey}, keys, "event cache is untouched")
}

func TestRecommendationCache_UnknownKind(t *testing.T) {
	ctx := context.Background()
	c := newRecommendationCache(store.NewMemoryStore(), newClock())

	_, _, err := c.Get(ctx, Kind("month"), "fp")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.ErrorIs(t, c.Set(ctx, Kind("month"), "fp", 1), ErrUnknownKind)

	k, err := ParseKind("week")
	require.NoError(t, err)
	assert.Equal(t, KindWeek, k)
}

func TestKeyer_Deterministic(t *testing.T) {
	var k Keyer
	type fp struct {
		B int    `json:"b"`
		A string `json:"a"`
	}

	k1, err := k.Key(KindGeneral, "2025-06-02", fp{B: 1, A: "x"})
	require.NoError(t, err)
	k2, err := k.Key(KindGeneral, "2025-06-02", map[string]any{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, _ := k.Key(KindGeneral, "2025-06-02", map[string]any{"a": "y", "b": 1})
	assert.NotEqual(t, k1, k3)

	parts := strings.Split(k1, ":")
	require.Len(t, parts, 4)
	assert.Len(t, parts[3], 16)

	nilKey, err := k.Key(KindGeneral, "2025-06-02", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, nilKey)

	_, err = k.Key(KindGeneral, "2025-06-02", func() {})
	assert.Error(t, err)
}
