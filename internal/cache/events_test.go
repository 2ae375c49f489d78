package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmirror/internal/model"
	"calmirror/internal/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC)}
}

func ev(id, summary string) model.Event {
	return model.Event{
		ID:      id,
		Summary: summary,
		Status:  model.StatusConfirmed,
		Start:   model.EventTime{DateTime: "2025-06-02T10:00:00Z"},
		End:     model.EventTime{DateTime: "2025-06-02T11:00:00Z"},
		Updated: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEventCache_TTLBoundary(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := NewEventCache(store.NewMemoryStore(), DefaultEventTTL, WithClock(clock.Now))

	assert.False(t, c.HasValid(ctx), "empty cache is never valid")

	require.NoError(t, c.Write(ctx, []model.Event{ev("a", "A")}, "", ""))

	clock.Advance(DefaultEventTTL - time.Millisecond)
	assert.True(t, c.HasValid(ctx), "valid at TTL-1ms")

	clock.Advance(2 * time.Millisecond)
	assert.False(t, c.HasValid(ctx), "invalid at TTL+1ms")

	_, ok := c.Read(ctx)
	assert.False(t, ok, "expired record is deleted by the validity check")
}

// interleavedStore runs afterGet once, right after the first Get returns,
// so a second writer lands between a read and the write that follows it.
type interleavedStore struct {
	store.Store
	afterGet func()
}

func (s *interleavedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := s.Store.Get(ctx, key)
	if hook := s.afterGet; hook != nil {
		s.afterGet = nil
		hook()
	}
	return raw, ok, err
}

func TestEventCache_ExpiryKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	s := &interleavedStore{Store: store.NewMemoryStore()}
	c := NewEventCache(s, DefaultEventTTL, WithClock(clock.Now))

	require.NoError(t, c.Write(ctx, []model.Event{ev("old", "Old")}, "etag-1", "token-1"))
	clock.Advance(DefaultEventTTL + time.Second)

	s.afterGet = func() {
		require.NoError(t, c.Write(ctx, []model.Event{ev("new", "New")}, "etag-2", "token-2"))
	}

	assert.True(t, c.HasValid(ctx), "the record written during the check is fresh")

	set, ok := c.Read(ctx)
	require.True(t, ok, "fresh record survives the expiry check")
	assert.Equal(t, "token-2", set.SyncToken)
	require.Len(t, set.Events, 1)
	assert.Equal(t, "new", set.Events[0].ID)
}

func TestEventCache_CorruptDeleteKeepsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	s := &interleavedStore{Store: store.NewMemoryStore()}
	c := NewEventCache(s, 0)
	require.NoError(t, s.Set(ctx, EventKey, []byte("{not json")))

	s.afterGet = func() {
		require.NoError(t, c.Write(ctx, []model.Event{ev("a", "A")}, "", "token"))
	}

	_, ok := c.Read(ctx)
	assert.False(t, ok)

	set, ok := c.Read(ctx)
	require.True(t, ok, "valid record written over the corrupt one is kept")
	assert.Equal(t, "token", set.SyncToken)
}

func TestEventCache_ReadWrite(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := NewEventCache(store.NewMemoryStore(), 0, WithClock(clock.Now))
	assert.Equal(t, DefaultEventTTL, c.TTL())

	_, ok := c.Read(ctx)
	assert.False(t, ok)

	require.NoError(t, c.Write(ctx, []model.Event{ev("a", "A"), ev("b", "B")}, `"etag-1"`, "tok-1"))

	set, ok := c.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, []model.Event{ev("a", "A"), ev("b", "B")}, set.Events)
	assert.Equal(t, `"etag-1"`, set.ETag)
	assert.Equal(t, "tok-1", set.SyncToken)
	assert.Equal(t, clock.Now().UnixMilli(), set.TimestampMs)

	require.NoError(t, c.Clear(ctx))
	_, ok = c.Read(ctx)
	assert.False(t, ok)
}

func TestEventCache_WriteNormalizes(t *testing.T) {
	ctx := context.Background()
	c := NewEventCache(store.NewMemoryStore(), 0)

	cancelled := ev("c", "C")
	cancelled.Status = model.StatusCancelled

	require.NoError(t, c.Write(ctx, []model.Event{ev("a", "A"), cancelled, ev("b", "B"), ev("a", "A2")}, "", ""))

	set, ok := c.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, []model.Event{ev("a", "A2"), ev("b", "B")}, set.Events)
}

func TestEventCache_TimestampNeverDecreases(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := NewEventCache(store.NewMemoryStore(), 0, WithClock(clock.Now))

	require.NoError(t, c.Write(ctx, []model.Event{ev("a", "A")}, "", ""))
	first, _ := c.Read(ctx)

	clock.Advance(-time.Hour)
	require.NoError(t, c.Write(ctx, []model.Event{ev("b", "B")}, "", ""))
	second, _ := c.Read(ctx)

	assert.Equal(t, first.TimestampMs, second.TimestampMs)
	assert.Equal(t, []model.Event{ev("b", "B")}, second.Events)
}

func TestEventCache_TouchKeepsEvents(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := NewEventCache(store.NewMemoryStore(), DefaultEventTTL, WithClock(clock.Now))

	require.NoError(t, c.Write(ctx, []model.Event{ev("a", "A")}, "etag-1", "tok"))
	clock.Advance(DefaultEventTTL - time.Second)

	require.NoError(t, c.Touch(ctx, ""))
	clock.Advance(DefaultEventTTL - time.Second)
	assert.True(t, c.HasValid(ctx), "touch extended validity")

	set, ok := c.Read(ctx)
	require.True(t, ok)
	assert.Equal(t, []model.Event{ev("a", "A")}, set.Events)
	assert.Equal(t, "etag-1", set.ETag)
	assert.Equal(t, "tok", set.SyncToken)

	require.NoError(t, c.Touch(ctx, "etag-2"))
	set, _ = c.Read(ctx)
	assert.Equal(t, "etag-2", set.ETag)
}

func TestEventCache_TouchWithoutRecord(t *testing.T) {
	ctx := context.Background()
	c := NewEventCache(store.NewMemoryStore(), 0)

	require.NoError(t, c.Touch(ctx, ""))
	set, ok := c.Read(ctx)
	require.True(t, ok)
	assert.Empty(t, set.Events)
	assert.True(t, c.HasValid(ctx))
}

func TestEventCache_CorruptRecordIsMiss(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewEventCache(s, 0)

	require.NoError(t, s.Set(ctx, EventKey, []byte("{not json")))

	assert.False(t, c.HasValid(ctx))
	_, present, err := s.Get(ctx, EventKey)
	require.NoError(t, err)
	assert.False(t, present, "corrupt record is deleted")

	require.NoError(t, s.Set(ctx, EventKey, []byte("[1,2,3]")))
	_, ok := c.Read(ctx)
	assert.False(t, ok)
	assert.Equal(t, Diagnostics{}, c.Diagnostics(ctx))
}

func TestEventCache_UpdateOverCorruptRecord(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewEventCache(s, 0)
	require.NoError(t, s.Set(ctx, EventKey, []byte("garbage")))

	stored, err := c.Update(ctx, func(cur *model.CachedEventSet) (*model.CachedEventSet, error) {
		assert.Nil(t, cur)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, stored)
	_, present, _ := s.Get(ctx, EventKey)
	assert.False(t, present)
}

func TestEventCache_Diagnostics(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c := NewEventCache(store.NewMemoryStore(), DefaultEventTTL, WithClock(clock.Now))

	assert.Equal(t, Diagnostics{}, c.Diagnostics(ctx))

	require.NoError(t, c.Write(ctx, []model.Event{ev("a", "A"), ev("b", "B")}, "", ""))
	clock.Advance(90 * time.Second)

	d := c.Diagnostics(ctx)
	assert.True(t, d.Present)
	assert.True(t, d.Valid)
	assert.Equal(t, 2, d.Count)
	assert.InDelta(t, 90, d.AgeSeconds, 0.001)

	clock.Advance(time.Hour)
	d = c.Diagnostics(ctx)
	assert.True(t, d.Present, "diagnostics do not delete expired records")
	assert.False(t, d.Valid)
}
