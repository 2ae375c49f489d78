// Package activity decides which cached events are still relevant and
// buckets them into calendar days.
package activity

import (
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calmirror/internal/log"
	"calmirror/internal/model"
	"calmirror/internal/recurrence"
)

// Filter evaluates events against wall-clock time. Date-only values and day
// boundaries are interpreted in Location.
type Filter struct {
	Location  *time.Location
	WeekStart time.Weekday
}

func (f Filter) loc() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

// IsActive reports whether ev is still relevant at now.
//
// Recurring masters are active until their UNTIL passes; a date-only UNTIL
// runs through the end of that date in the filter location. A COUNT-bounded
// series is always active since no occurrences are materialized here.
// Instances are always active. Plain events are active while their
// effective end is not before now.
func (f Filter) IsActive(ev model.Event, now time.Time) bool {
	if ev.IsCancelled() {
		return false
	}
	if ev.IsMaster() {
		return !recurrence.ForEvent(ev).EndedBefore(now.In(f.loc()))
	}
	if ev.IsInstance() {
		return true
	}
	_, end, err := f.span(ev)
	if err != nil {
		appLog.Debug("activity: unreadable event time", "id", ev.ID, "err", err.Error())
		return false
	}
	return !end.Before(now)
}

// Active returns the events of events that are active at now, in order.
func (f Filter) Active(events []model.Event, now time.Time) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if f.IsActive(ev, now) {
			out = append(out, ev)
		}
	}
	return out
}

// DayWindow returns [start, end) of the day containing t.
func (f Filter) DayWindow(t time.Time) (time.Time, time.Time) {
	start := model.StartOfDay(t.In(f.loc()))
	return start, start.AddDate(0, 0, 1)
}

// WeekWindow returns [start, end) of the week containing t.
func (f Filter) WeekWindow(t time.Time) (time.Time, time.Time) {
	start := model.StartOfWeek(t.In(f.loc()), f.WeekStart)
	return start, start.AddDate(0, 0, 7)
}

// GroupByPeriod places events on each calendar day of [windowStart,
// windowEnd) they touch, keyed YYYY-MM-DD. Every day of the window gets a
// key, empty or not. Recurring series are evaluated against the window
// only and never enumerated from their first occurrence onwards, except
// where COUNT bounds them.
func (f Filter) GroupByPeriod(events []model.Event, windowStart, windowEnd time.Time) map[string][]model.Event {
	days := f.days(windowStart, windowEnd)
	out := make(map[string][]model.Event, len(days))
	for _, day := range days {
		out[day.Format(model.DateLayout)] = []model.Event{}
	}
	if len(days) == 0 {
		return out
	}

	for _, ev := range events {
		if ev.IsCancelled() {
			continue
		}
		for _, key := range f.memberDays(ev, days) {
			out[key] = append(out[key], ev)
		}
	}
	return out
}

// days lists the midnights of every calendar day overlapping the window.
func (f Filter) days(windowStart, windowEnd time.Time) []time.Time {
	if !windowEnd.After(windowStart) {
		return nil
	}
	loc := f.loc()
	var out []time.Time
	for day := model.StartOfDay(windowStart.In(loc)); day.Before(windowEnd); day = day.AddDate(0, 0, 1) {
		out = append(out, day)
	}
	return out
}

func (f Filter) memberDays(ev model.Event, days []time.Time) []string {
	start, end, err := f.span(ev)
	if err != nil {
		appLog.Debug("activity: unreadable event time", "id", ev.ID, "err", err.Error())
		return nil
	}
	if !ev.IsMaster() {
		return overlapDays(start, end, days)
	}

	s := series{
		rule:    recurrence.ForEvent(ev),
		start:   start,
		exDates: recurrence.ExDates(ev.Recurrence[1:], f.loc()),
		loc:     f.loc(),
	}
	switch freq := s.rule.Freq.(type) {
	case recurrence.Daily:
		if s.rule.Count > 0 {
			return f.ruleDays(ev, s, days)
		}
		return f.dailyDays(s, days)
	case recurrence.Weekly:
		if s.rule.Count > 0 {
			return f.ruleDays(ev, s, days)
		}
		return f.weeklyDays(s, freq, days)
	case recurrence.Monthly, recurrence.Yearly:
		return f.ruleDays(ev, s, days)
	default:
		return overlapDays(start, end, days)
	}
}

// series is a recurring master prepared for evaluation in one location.
type series struct {
	rule    recurrence.Rule
	start   time.Time
	exDates []recurrence.ExDate
	loc     *time.Location
}

// occurrenceOn returns the instant the series would start on day, keeping
// the wall-clock time of the first occurrence.
func (s series) occurrenceOn(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, s.start.Hour(), s.start.Minute(), s.start.Second(), s.start.Nanosecond(), s.loc)
}

// keeps reports whether an occurrence starting at occ survives UNTIL and
// EXDATE.
func (s series) keeps(occ time.Time) bool {
	if s.rule.HasUntil() && occ.After(s.rule.UntilIn(s.loc)) {
		return false
	}
	for _, x := range s.exDates {
		if x.Excludes(occ) {
			return false
		}
	}
	return true
}

func (f Filter) dailyDays(s series, days []time.Time) []string {
	first := model.StartOfDay(s.start)
	var out []string
	for _, day := range days {
		if day.Before(first) || !s.keeps(s.occurrenceOn(day)) {
			continue
		}
		if daysBetween(first, day)%s.rule.Interval == 0 {
			out = append(out, day.Format(model.DateLayout))
		}
	}
	return out
}

func (f Filter) weeklyDays(s series, freq recurrence.Weekly, days []time.Time) []string {
	rule := s.rule
	first := model.StartOfDay(s.start)
	set := freq.Days
	if set.Empty() {
		set = recurrence.NewDaySet(first.Weekday())
	}
	wkst := rule.WeekStartOr(f.WeekStart)
	firstWeek := model.StartOfWeek(first, wkst)

	var out []string
	for _, day := range days {
		if day.Before(first) || !set.Has(day.Weekday()) || !s.keeps(s.occurrenceOn(day)) {
			continue
		}
		weeks := daysBetween(firstWeek, model.StartOfWeek(day, wkst)) / 7
		if weeks%rule.Interval == 0 {
			out = append(out, day.Format(model.DateLayout))
		}
	}
	return out
}

// ruleDays asks rrule-go for the occurrences inside the window. Between
// stops at the window end, so an unbounded rule costs at most its
// occurrences up to there.
func (f Filter) ruleDays(ev model.Event, s series, days []time.Time) []string {
	rule := s.rule
	raw := rule.Raw[len(recurrence.Prefix):]
	if rule.UntilDateOnly {
		// Until is set below, resolved in the filter location.
		raw = withoutParam(raw, "UNTIL")
	}
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		appLog.Debug("activity: rrule-go rejected rule", "id", ev.ID, "rrule", rule.Raw, "err", err.Error())
		return nil
	}
	opt.Dtstart = s.start
	if rule.UntilDateOnly {
		opt.Until = rule.UntilIn(s.loc)
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Debug("activity: rrule-go rejected rule", "id", ev.ID, "rrule", rule.Raw, "err", err.Error())
		return nil
	}

	var set rrule.Set
	set.RRule(r)
	for _, x := range s.exDates {
		if !x.DateOnly {
			set.ExDate(x.Time)
		}
	}

	windowStart := days[0]
	windowEnd := days[len(days)-1].AddDate(0, 0, 1).Add(-time.Nanosecond)
	var out []string
	seen := make(map[string]bool)
	for _, occ := range set.Between(windowStart, windowEnd, true) {
		occ = occ.In(s.loc)
		if !s.keeps(occ) {
			continue
		}
		key := occ.Format(model.DateLayout)
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	return out
}

// span resolves ev to its start and effective end in the filter location.
// A date-only end is exclusive when it lies after the start date, and the
// effective end is the last covered date at 23:59:59.999.
func (f Filter) span(ev model.Event) (time.Time, time.Time, error) {
	loc := f.loc()
	start, err := ev.Start.Time(loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start = start.In(loc)

	if ev.Start.IsDateOnly() {
		last := start
		if ev.End.IsDateOnly() {
			if endDate, err := ev.End.Time(loc); err == nil && endDate.After(start) {
				last = endDate.AddDate(0, 0, -1)
			}
		}
		return start, model.EndOfDate(last), nil
	}

	end := start
	if !ev.End.IsZero() {
		if t, err := ev.End.Time(loc); err == nil && !t.Before(start) {
			end = t.In(loc)
		}
	}
	return start, end, nil
}

// overlapDays returns the days [start, end] touches. A timed event that
// ends exactly at midnight does not spill onto the next day.
func overlapDays(start, end time.Time, days []time.Time) []string {
	var out []string
	for _, day := range days {
		next := day.AddDate(0, 0, 1)
		var hit bool
		if end.After(start) {
			hit = start.Before(next) && end.After(day)
		} else {
			hit = !start.Before(day) && start.Before(next)
		}
		if hit {
			out = append(out, day.Format(model.DateLayout))
		}
	}
	return out
}

// withoutParam drops key=... from a ;-separated rule body.
func withoutParam(body, key string) string {
	parts := strings.Split(body, ";")
	kept := parts[:0]
	for _, part := range parts {
		if k, _, _ := strings.Cut(part, "="); strings.EqualFold(k, key) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, ";")
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
