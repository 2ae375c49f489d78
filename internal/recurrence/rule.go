package recurrence

import (
	"strings"
	"time"

	"calmirror/internal/model"
)

// Kind names a recurrence frequency.
type Kind int

const (
	KindNone Kind = iota
	KindDaily
	KindWeekly
	KindMonthly
	KindYearly
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "DAILY"
	case KindWeekly:
		return "WEEKLY"
	case KindMonthly:
		return "MONTHLY"
	case KindYearly:
		return "YEARLY"
	case KindCustom:
		return "CUSTOM"
	default:
		return "NONE"
	}
}

// Frequency is a closed set of variants, one per FREQ value. Each variant
// holds only the fields that mean something for it. Switch on the concrete
// type to handle each case.
type Frequency interface {
	Kind() Kind
	isFrequency()
}

type Daily struct{}

type Weekly struct {
	Days DaySet
}

type Monthly struct {
	Days      DaySet
	ByDay     []ByDay
	MonthDays []int
	SetPos    []int
}

type Yearly struct {
	Months    []time.Month
	Days      DaySet
	ByDay     []ByDay
	MonthDays []int
}

// Custom is any FREQ this package does not model (or a rule without FREQ).
type Custom struct {
	Value string
}

func (Daily) Kind() Kind   { return KindDaily }
func (Weekly) Kind() Kind  { return KindWeekly }
func (Monthly) Kind() Kind { return KindMonthly }
func (Yearly) Kind() Kind  { return KindYearly }
func (Custom) Kind() Kind  { return KindCustom }

func (Daily) isFrequency()   {}
func (Weekly) isFrequency()  {}
func (Monthly) isFrequency() {}
func (Yearly) isFrequency()  {}
func (Custom) isFrequency()  {}

// ByDay is one BYDAY entry. N is the signed ordinal ("-1FR" is N=-1,
// Friday); zero means every such weekday.
type ByDay struct {
	N   int
	Day time.Weekday
}

// DaySet is a set of weekdays.
type DaySet uint8

// NewDaySet builds a set from weekdays.
func NewDaySet(days ...time.Weekday) DaySet {
	var s DaySet
	for _, d := range days {
		s = s.Add(d)
	}
	return s
}

func (s DaySet) Add(d time.Weekday) DaySet { return s | 1<<uint(d) }

func (s DaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s DaySet) Empty() bool { return s == 0 }

func (s DaySet) Len() int {
	n := 0
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			n++
		}
	}
	return n
}

// Days lists the members, Monday first.
func (s DaySet) Days() []time.Weekday {
	out := make([]time.Weekday, 0, 7)
	for i := 0; i < 7; i++ {
		d := time.Weekday((int(time.Monday) + i) % 7)
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// String renders the set as comma separated codes, e.g. "MO,WE,FR".
func (s DaySet) String() string {
	days := s.Days()
	codes := make([]string, len(days))
	for i, d := range days {
		codes[i] = dayCodes[d]
	}
	return strings.Join(codes, ",")
}

// Rule is the structured form of one RRULE line. It is always derived from
// the raw string and never stored.
type Rule struct {
	Recurring bool
	Freq      Frequency
	Interval  int

	// Until is the inclusive end of the series; zero means unbounded.
	Until time.Time
	// UntilDateOnly marks a bare-date UNTIL. Until then holds that date at
	// midnight UTC, and the series runs through the whole date wherever it
	// is evaluated.
	UntilDateOnly bool
	// Count is the total number of occurrences; zero means unbounded.
	Count int

	WeekStart    time.Weekday
	HasWeekStart bool

	Raw string
}

// Kind returns the frequency kind, KindNone for non-recurring rules.
func (r Rule) Kind() Kind {
	if r.Freq == nil {
		return KindNone
	}
	return r.Freq.Kind()
}

// Days returns the weekday set carried by the frequency variant, if any.
func (r Rule) Days() DaySet {
	switch f := r.Freq.(type) {
	case Weekly:
		return f.Days
	case Monthly:
		return f.Days
	case Yearly:
		return f.Days
	default:
		return 0
	}
}

// HasUntil reports whether the series has an explicit end instant.
func (r Rule) HasUntil() bool {
	return !r.Until.IsZero()
}

// EndedBefore reports whether the series is known to have ended before t.
// A date-only UNTIL is resolved in t's location. Count-bounded series are
// never reported as ended.
func (r Rule) EndedBefore(t time.Time) bool {
	return r.HasUntil() && r.UntilIn(t.Location()).Before(t)
}

// UntilIn returns the last instant an occurrence may start at when the
// series is evaluated in loc. Only meaningful when HasUntil is true.
func (r Rule) UntilIn(loc *time.Location) time.Time {
	if !r.UntilDateOnly {
		return r.Until
	}
	y, m, d := r.Until.Date()
	return model.EndOfDate(time.Date(y, m, d, 0, 0, 0, 0, loc))
}

// WeekStartOr returns WKST if present, def otherwise.
func (r Rule) WeekStartOr(def time.Weekday) time.Weekday {
	if r.HasWeekStart {
		return r.WeekStart
	}
	return def
}
