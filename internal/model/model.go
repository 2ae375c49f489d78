package model

import (
	"errors"
	"time"
)

// Status is the remote lifecycle state of an event.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// DateLayout is the wire layout of date-only (all-day) values.
const DateLayout = "2006-01-02"

var ErrNoTime = errors.New("model: event time has neither dateTime nor date")

// EventTime is either an absolute instant (DateTime, RFC3339) or a
// date-only value (Date, YYYY-MM-DD). Exactly one of them is set.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// At returns an EventTime carrying an absolute instant.
func At(t time.Time) EventTime {
	return EventTime{DateTime: t.Format(time.RFC3339)}
}

// OnDate returns a date-only EventTime for t's calendar date.
func OnDate(t time.Time) EventTime {
	return EventTime{Date: t.Format(DateLayout)}
}

// IsDateOnly reports whether t is an all-day value.
func (t EventTime) IsDateOnly() bool {
	return t.DateTime == "" && t.Date != ""
}

// IsZero reports whether neither form is set.
func (t EventTime) IsZero() bool {
	return t.DateTime == "" && t.Date == ""
}

// Time resolves t to an instant. Date-only values resolve to midnight of
// that date in loc (time.Local if nil).
func (t EventTime) Time(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	switch {
	case t.DateTime != "":
		return time.Parse(time.RFC3339, t.DateTime)
	case t.Date != "":
		return time.ParseInLocation(DateLayout, t.Date, loc)
	default:
		return time.Time{}, ErrNoTime
	}
}

// Event is a single remote calendar record: a plain event, a recurring
// master (Recurrence set) or an instance (RecurringEventID set).
type Event struct {
	ID      string    `json:"id"`
	Summary string    `json:"summary,omitempty"`
	Status  Status    `json:"status,omitempty"`
	Start   EventTime `json:"start"`
	End     EventTime `json:"end"`

	// Recurrence holds RRULE lines; only the first one is interpreted.
	Recurrence []string `json:"recurrence,omitempty"`

	// RecurringEventID points at the master's ID. It is a lookup
	// relation only.
	RecurringEventID string `json:"recurringEventId,omitempty"`

	Updated time.Time `json:"updated"`
}

func (e Event) IsCancelled() bool {
	return e.Status == StatusCancelled
}

// IsMaster reports whether e carries its own recurrence rule.
func (e Event) IsMaster() bool {
	return len(e.Recurrence) > 0
}

// IsInstance reports whether e is an occurrence of some master.
func (e Event) IsInstance() bool {
	return e.RecurringEventID != "" && !e.IsMaster()
}

// SameContent compares the fields that decide whether a full sync changed
// anything: updated, summary, start, end and status.
func (e Event) SameContent(o Event) bool {
	return e.ID == o.ID &&
		e.Updated.Equal(o.Updated) &&
		e.Summary == o.Summary &&
		e.Start == o.Start &&
		e.End == o.End &&
		e.Status == o.Status
}

// CachedEventSet is the persisted mirror of the remote collection.
type CachedEventSet struct {
	Events      []Event `json:"events"`
	TimestampMs int64   `json:"timestampMs"`
	ETag        string  `json:"etag,omitempty"`
	SyncToken   string  `json:"syncToken,omitempty"`
}

// Age returns how old the record is relative to now.
func (s *CachedEventSet) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.TimestampMs))
}

// Response is what a remote fetch produced.
type Response struct {
	Items []Event

	// NextSyncToken is set when the server handed out a cursor for
	// later delta requests.
	NextSyncToken string
	ETag          string

	// Delta is set by sources that speak a real sync-token protocol when
	// the response only holds changes since the supplied token.
	Delta bool

	// NotModified means the server confirmed the caller's etag; Items is
	// empty.
	NotModified bool
}
