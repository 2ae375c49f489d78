// Package ics adapts an ICS (iCalendar) subscription into a source.Fetcher.
package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/recurrence"
)

const (
	icsDate     = "20060102"
	icsDateTime = "20060102T150405Z"
)

// Parse turns an ICS payload into events.
//
//   - UID becomes the event id. A VEVENT carrying RECURRENCE-ID is an
//     override: its id is UID_<recurrence-id> and it points at the master
//     through RecurringEventID.
//   - DTSTART in date form (VALUE=DATE or no 'T') yields a date-only time.
//   - RRULE is kept as the first recurrence line, EXDATE lines follow with
//     their TZID and VALUE parameters.
//   - STATUS maps onto the event status, CONFIRMED when absent.
//
// VEVENTs that cannot be read are logged and skipped.
func Parse(body []byte) ([]model.Event, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0)
	for _, comp := range cal.Events() {
		ev, err := parseVEvent(comp)
		if err != nil {
			appLog.Warn("ics vevent skipped", "err", err.Error())
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (model.Event, error) {
	var out model.Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.ID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	out.Status = model.StatusConfirmed
	if p := ve.GetProperty("STATUS"); p != nil {
		switch strings.ToUpper(strings.TrimSpace(p.Value)) {
		case "TENTATIVE":
			out.Status = model.StatusTentative
		case "CANCELLED":
			out.Status = model.StatusCancelled
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}

	if isDateValue(dtStart) {
		start, err := time.Parse(icsDate, dtStart.Value[:min(len(dtStart.Value), len(icsDate))])
		if err != nil {
			return out, err
		}
		out.Start = model.OnDate(start)
		end := start.AddDate(0, 0, 1)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil && len(p.Value) >= len(icsDate) {
			if t, err := time.Parse(icsDate, p.Value[:len(icsDate)]); err == nil {
				end = t
			}
		}
		out.End = model.OnDate(end)
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, err
		}
		out.Start = model.At(start)
		out.Start.TimeZone = tzid(dtStart)

		end, err := ve.GetEndAt()
		if err != nil || end.Before(start) {
			end = start
		}
		out.End = model.At(end)
		out.End.TimeZone = tzid(ve.GetProperty(ical.ComponentPropertyDtEnd))
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		out.Recurrence = append(out.Recurrence, recurrence.Prefix+p.Value)
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		if p.Value != "" {
			out.Recurrence = append(out.Recurrence, exDateLine(p))
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil && p.Value != "" {
		out.RecurringEventID = out.ID
		out.ID = out.ID + "_" + p.Value
		// Overrides describe one occurrence and never re-state the rule.
		out.Recurrence = nil
	}

	for _, name := range []ical.ComponentProperty{"LAST-MODIFIED", "DTSTAMP"} {
		if p := ve.GetProperty(name); p != nil {
			if t, err := time.Parse(icsDateTime, strings.TrimSpace(p.Value)); err == nil {
				out.Updated = t
				break
			}
		}
	}

	return out, nil
}

// isDateValue reports VALUE=DATE or a value without a time part.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// exDateLine renders an EXDATE property in the recurrence line form,
// keeping the parameters that decide how its values are read.
func exDateLine(p *ical.IANAProperty) string {
	var b strings.Builder
	b.WriteString(recurrence.ExDatePrefix)
	if tz := tzid(p); tz != "" {
		b.WriteString(";TZID=" + tz)
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 {
		b.WriteString(";VALUE=" + strings.ToUpper(vs[0]))
	}
	b.WriteString(":" + p.Value)
	return b.String()
}

func tzid(p *ical.IANAProperty) string {
	if p == nil {
		return ""
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}
