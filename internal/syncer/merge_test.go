package syncer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmirror/internal/model"
)

func event(id, summary string) model.Event {
	return model.Event{
		ID:      id,
		Summary: summary,
		Status:  model.StatusConfirmed,
		Start:   model.EventTime{DateTime: "2025-06-02T10:00:00Z"},
		End:     model.EventTime{DateTime: "2025-06-02T11:00:00Z"},
		Updated: time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}

func tombstone(id string) model.Event {
	return model.Event{ID: id, Status: model.StatusCancelled}
}

func TestMerge_FullReplaces(t *testing.T) {
	a, b, c := event("a", "A"), event("b", "B"), event("c", "C")
	a2 := event("a", "A renamed")

	res := Merge([]model.Event{a, b}, []model.Event{a2, c}, Full)

	assert.Equal(t, []model.Event{a2, c}, res.Events)
	assert.True(t, res.Changed)
}

func TestMerge_FullUnchanged(t *testing.T) {
	a, b := event("a", "A"), event("b", "B")

	res := Merge([]model.Event{a, b}, []model.Event{b, a}, Full)

	assert.Equal(t, []model.Event{b, a}, res.Events)
	assert.False(t, res.Changed, "same ids and content in another order")
}

func TestMerge_FullDetectsFieldChanges(t *testing.T) {
	base := event("a", "A")
	tests := []struct {
		name   string
		mutate func(*model.Event)
	}{
		{"updated", func(e *model.Event) { e.Updated = e.Updated.Add(time.Second) }},
		{"summary", func(e *model.Event) { e.Summary = "other" }},
		{"start", func(e *model.Event) { e.Start = model.EventTime{Date: "2025-06-02"} }},
		{"end", func(e *model.Event) { e.End = model.EventTime{DateTime: "2025-06-02T12:00:00Z"} }},
		{"status", func(e *model.Event) { e.Status = model.StatusTentative }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changed := base
			tt.mutate(&changed)
			res := Merge([]model.Event{base}, []model.Event{changed}, Full)
			assert.True(t, res.Changed)
		})
	}

	t.Run("id set", func(t *testing.T) {
		res := Merge([]model.Event{base}, []model.Event{event("z", "A")}, Full)
		assert.True(t, res.Changed)
	})
}

func TestMerge_FullDropsCancelled(t *testing.T) {
	a := event("a", "A")
	res := Merge(nil, []model.Event{a, tombstone("b")}, Full)
	assert.Equal(t, []model.Event{a}, res.Events)
}

func TestMerge_Tombstone(t *testing.T) {
	a, b := event("a", "A"), event("b", "B")

	res := Merge([]model.Event{a, b}, []model.Event{tombstone("b")}, Incremental)

	assert.Equal(t, []model.Event{a}, res.Events)
	assert.True(t, res.Changed)
}

func TestMerge_TombstoneForUnknownID(t *testing.T) {
	a := event("a", "A")
	res := Merge([]model.Event{a}, []model.Event{tombstone("zzz")}, Incremental)
	assert.Equal(t, []model.Event{a}, res.Events)
}

func TestMerge_UpsertReplacesWholesale(t *testing.T) {
	a := event("a", "A")
	a.Recurrence = []string{"RRULE:FREQ=DAILY"}
	a.RecurringEventID = "parent"

	a2 := model.Event{ID: "a", Summary: "A2", Status: model.StatusTentative}

	res := Merge([]model.Event{a}, []model.Event{a2}, Incremental)

	require.Len(t, res.Events, 1)
	assert.Equal(t, a2, res.Events[0], "no field of the old value survives")
}

func TestMerge_ArrivalOrderWins(t *testing.T) {
	newer := event("a", "newer")
	newer.Updated = newer.Updated.Add(time.Hour)
	older := event("a", "older")

	res := Merge([]model.Event{newer}, []model.Event{older}, Incremental)
	assert.Equal(t, []model.Event{older}, res.Events)

	res = Merge(nil, []model.Event{event("a", "first"), tombstone("a"), event("a", "again")}, Incremental)
	assert.Equal(t, []model.Event{event("a", "again")}, res.Events)
}

func TestMerge_IncrementalOrder(t *testing.T) {
	a, b, c, d := event("a", "A"), event("b", "B"), event("c", "C"), event("d", "D")
	b2 := event("b", "B2")

	res := Merge([]model.Event{a, b, c}, []model.Event{d, b2}, Incremental)

	assert.Equal(t, []model.Event{a, b2, c, d}, res.Events)
}

func TestMerge_EmptyIncrementalIsIdempotent(t *testing.T) {
	cached := []model.Event{event("a", "A"), event("b", "B")}

	first := Merge(cached, nil, Incremental)
	second := Merge(first.Events, []model.Event{}, Incremental)

	assert.False(t, first.Changed)
	assert.False(t, second.Changed)

	want, err := json.Marshal(cached)
	require.NoError(t, err)
	got1, _ := json.Marshal(first.Events)
	got2, _ := json.Marshal(second.Events)
	assert.Equal(t, string(want), string(got1))
	assert.Equal(t, string(want), string(got2))

	first.Events[0].Summary = "mutated"
	assert.Equal(t, "A", cached[0].Summary, "result does not alias the input")
}

func TestClassifier_Heuristic(t *testing.T) {
	items := func(n int) []model.Event {
		out := make([]model.Event, n)
		for i := range out {
			out[i] = event(string(rune('a'+i%26))+string(rune('0'+i/26)), "x")
		}
		return out
	}

	tests := []struct {
		name       string
		resp       model.Response
		cacheEmpty bool
		want       Mode
	}{
		{"sync token", model.Response{NextSyncToken: "t"}, false, Full},
		{"sync token empty items", model.Response{NextSyncToken: "t"}, true, Full},
		{"empty cache non-empty response", model.Response{Items: items(1)}, true, Full},
		{"empty cache empty response", model.Response{}, true, Incremental},
		{"over threshold", model.Response{Items: items(21)}, false, Full},
		{"at threshold", model.Response{Items: items(20)}, false, Incremental},
		{"small delta", model.Response{Items: items(2)}, false, Incremental},
	}
	c := HeuristicClassifier{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.resp
			assert.Equal(t, tt.want, c.Classify(&resp, tt.cacheEmpty))
		})
	}

	custom := HeuristicClassifier{Threshold: 2}
	assert.Equal(t, Full, custom.Classify(&model.Response{Items: items(3)}, false))
}

func TestClassifier_Alternatives(t *testing.T) {
	assert.Equal(t, Incremental, TokenClassifier{}.Classify(&model.Response{Delta: true, NextSyncToken: "t"}, false))
	assert.Equal(t, Full, TokenClassifier{}.Classify(&model.Response{NextSyncToken: "t"}, false))
	assert.Equal(t, Full, FullClassifier{}.Classify(&model.Response{}, false))

	for name, want := range map[string]Classifier{
		"":          HeuristicClassifier{Threshold: 5},
		"heuristic": HeuristicClassifier{Threshold: 5},
		"token":     TokenClassifier{},
		"full":      FullClassifier{},
	} {
		got, err := NewClassifier(name, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := NewClassifier("magic", 0)
	assert.Error(t, err)

	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "incremental", Incremental.String())
}
