package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calmirror/internal/model"
	"calmirror/internal/source"
)

const feed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//calmirror//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"LAST-MODIFIED:20250510T120000Z\r\n" +
	"DTSTART:20250106T090000Z\r\n" +
	"DTEND:20250106T091500Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR\r\n" +
	"EXDATE:20250108T090000Z\r\n" +
	"EXDATE;TZID=Europe/Berlin:20250113T100000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"RECURRENCE-ID:20250110T090000Z\r\n" +
	"DTSTART:20250110T100000Z\r\n" +
	"DTEND:20250110T101500Z\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20250602\r\n" +
	"DTEND;VALUE=DATE:20250604\r\n" +
	"SUMMARY:Holiday\r\n" +
	"STATUS:TENTATIVE\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:dropped\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20250605\r\n" +
	"SUMMARY:Dropped\r\n" +
	"STATUS:CANCELLED\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No uid\r\n" +
	"DTSTART:20250106T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func byID(events []model.Event) map[string]model.Event {
	out := make(map[string]model.Event, len(events))
	for _, ev := range events {
		out[ev.ID] = ev
	}
	return out
}

func TestParse(t *testing.T) {
	events, err := Parse([]byte(feed))
	require.NoError(t, err)
	require.Len(t, events, 4, "the VEVENT without UID is skipped")

	got := byID(events)

	master := got["standup"]
	assert.Equal(t, "Standup", master.Summary)
	assert.Equal(t, model.StatusConfirmed, master.Status)
	assert.Equal(t, "2025-01-06T09:00:00Z", master.Start.DateTime)
	assert.Equal(t, "2025-01-06T09:15:00Z", master.End.DateTime)
	assert.Equal(t, []string{
		"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR",
		"EXDATE:20250108T090000Z",
		"EXDATE;TZID=Europe/Berlin:20250113T100000",
	}, master.Recurrence)
	assert.True(t, master.IsMaster())
	assert.Equal(t, time.Date(2025, time.May, 10, 12, 0, 0, 0, time.UTC), master.Updated)

	moved, ok := got["standup_20250110T090000Z"]
	require.True(t, ok)
	assert.Equal(t, "standup", moved.RecurringEventID)
	assert.True(t, moved.IsInstance())
	assert.Empty(t, moved.Recurrence)
	assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), moved.Updated, "falls back to DTSTAMP")

	holiday := got["holiday"]
	assert.Equal(t, model.EventTime{Date: "2025-06-02"}, holiday.Start)
	assert.Equal(t, model.EventTime{Date: "2025-06-04"}, holiday.End)
	assert.Equal(t, model.StatusTentative, holiday.Status)

	dropped := got["dropped"]
	assert.True(t, dropped.IsCancelled())
	assert.Equal(t, model.EventTime{Date: "2025-06-06"}, dropped.End, "missing DTEND covers one day")
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(nil)
	assert.Error(t, err)
}

func TestFetcher_ETagRoundTrip(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL+"/private.ics?token=secret", srv.Client())
	ctx := context.Background()

	resp, err := f.Fetch(ctx, source.Request{})
	require.NoError(t, err)
	assert.Len(t, resp.Items, 4)
	assert.Equal(t, `"v1"`, resp.ETag)
	assert.False(t, resp.Delta)
	assert.Empty(t, resp.NextSyncToken)

	resp, err = f.Fetch(ctx, source.Request{ETag: `"v1"`, SyncToken: "ignored"})
	require.NoError(t, err)
	assert.True(t, resp.NotModified)
	assert.Empty(t, resp.Items)
	assert.Equal(t, `"v1"`, resp.ETag)

	resp, err = f.Fetch(ctx, source.Request{ETag: `"v1"`, Full: true})
	require.NoError(t, err)
	assert.False(t, resp.NotModified, "a full request is never conditional")
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcher_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewFetcher(srv.URL+"/forbidden.ics", nil).Fetch(context.Background(), source.Request{})
	assert.ErrorContains(t, err, "403")

	_, err = NewFetcher("", nil).Fetch(context.Background(), source.Request{})
	assert.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/path/to/private.ics?token=abcd"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
}
