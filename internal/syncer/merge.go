package syncer

import "calmirror/internal/model"

// MergeResult is the reconciled set and whether it differs from the input.
type MergeResult struct {
	Events  []model.Event
	Changed bool
}

// Merge combines the cached set with a classified response.
//
// Full: the result is incoming, minus cancelled entries and duplicate ids.
// Changed is set when the id set or any compared field differs.
//
// Incremental: cancelled incoming events delete their id, others replace
// the cached value whole, in arrival order and regardless of Updated.
// Cached events keep their order and new ids are appended. Changed is set
// whenever incoming is non-empty. An empty incremental response returns a
// copy of cached with Changed=false; it means "no changes", never "delete
// everything".
func Merge(cached, incoming []model.Event, mode Mode) MergeResult {
	if mode == Full {
		merged := dedupe(incoming)
		return MergeResult{Events: merged, Changed: !sameSet(cached, merged)}
	}

	if len(incoming) == 0 {
		out := make([]model.Event, len(cached))
		copy(out, cached)
		return MergeResult{Events: out, Changed: false}
	}

	order := make([]string, 0, len(cached)+len(incoming))
	byID := make(map[string]model.Event, len(cached)+len(incoming))
	for _, ev := range cached {
		if _, seen := byID[ev.ID]; !seen {
			order = append(order, ev.ID)
		}
		byID[ev.ID] = ev
	}
	for _, ev := range incoming {
		if ev.IsCancelled() {
			delete(byID, ev.ID)
			continue
		}
		if _, seen := byID[ev.ID]; !seen {
			order = append(order, ev.ID)
		}
		byID[ev.ID] = ev
	}

	out := make([]model.Event, 0, len(byID))
	emitted := make(map[string]bool, len(byID))
	for _, id := range order {
		ev, ok := byID[id]
		if !ok || emitted[id] {
			continue
		}
		emitted[id] = true
		out = append(out, ev)
	}
	return MergeResult{Events: out, Changed: true}
}

// dedupe drops cancelled events and repeated ids (last value wins, first
// position kept).
func dedupe(events []model.Event) []model.Event {
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

// sameSet compares by id set and, per id, the content fields.
func sameSet(a, b []model.Event) bool {
	if len(a) != len(b) {
		return false
	}
	byID := make(map[string]model.Event, len(a))
	for _, ev := range a {
		byID[ev.ID] = ev
	}
	if len(byID) != len(b) {
		return false
	}
	for _, ev := range b {
		old, ok := byID[ev.ID]
		if !ok || !old.SameContent(ev) {
			return false
		}
	}
	return true
}
