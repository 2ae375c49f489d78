package recurrence

import (
	"strconv"
	"strings"
	"time"

	"calmirror/internal/model"
)

// Prefix starts every recurrence rule line.
const Prefix = "RRULE:"

const (
	untilDateLayout     = "20060102"
	untilDateTimeLayout = "20060102T150405Z"
)

var dayCodes = map[time.Weekday]string{
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
	time.Sunday:    "SU",
}

var codeDays = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// ParseWeekday maps a two-letter code (MO..SU) to a weekday.
func ParseWeekday(code string) (time.Weekday, bool) {
	d, ok := codeDays[strings.ToUpper(strings.TrimSpace(code))]
	return d, ok
}

// ForEvent parses the first recurrence line of ev.
func ForEvent(ev model.Event) Rule {
	if len(ev.Recurrence) == 0 {
		return Rule{}
	}
	return Parse(ev.Recurrence[0])
}

// Parse interprets one RRULE line. It never fails: strings without the
// RRULE: prefix are non-recurring, and rules whose FREQ is missing or
// unknown come back as Custom. Malformed INTERVAL falls back to 1;
// malformed COUNT and UNTIL are left unset. When both UNTIL and COUNT are
// present UNTIL is kept and COUNT dropped.
//
// Parse is pure; callers iterating many events should keep the result.
func Parse(s string) Rule {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(strings.ToUpper(s), Prefix) {
		return Rule{}
	}

	params := make(map[string]string)
	for _, part := range strings.Split(s[len(Prefix):], ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		params[key] = strings.TrimSpace(value)
	}

	rule := Rule{Recurring: true, Interval: 1, Raw: s}

	freq := strings.ToUpper(params["FREQ"])
	switch freq {
	case "DAILY", "WEEKLY", "MONTHLY", "YEARLY":
	default:
		rule.Freq = Custom{Value: freq}
		return rule
	}

	if v, ok := params["INTERVAL"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			rule.Interval = n
		}
	}
	if v, ok := params["COUNT"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rule.Count = n
		}
	}
	if v, ok := params["UNTIL"]; ok {
		if t, ok := parseUntil(v); ok {
			rule.Until = t
			rule.UntilDateOnly = len(v) == len(untilDateLayout)
			rule.Count = 0
		}
	}
	if v, ok := params["WKST"]; ok {
		if d, ok := ParseWeekday(v); ok {
			rule.WeekStart = d
			rule.HasWeekStart = true
		}
	}

	byDay := parseByDay(params["BYDAY"])
	var days DaySet
	for _, bd := range byDay {
		days = days.Add(bd.Day)
	}

	switch freq {
	case "DAILY":
		rule.Freq = Daily{}
	case "WEEKLY":
		rule.Freq = Weekly{Days: days}
	case "MONTHLY":
		rule.Freq = Monthly{
			Days:      days,
			ByDay:     byDay,
			MonthDays: parseInts(params["BYMONTHDAY"], -31, 31),
			SetPos:    parseInts(params["BYSETPOS"], -366, 366),
		}
	case "YEARLY":
		months := make([]time.Month, 0)
		for _, m := range parseInts(params["BYMONTH"], 1, 12) {
			months = append(months, time.Month(m))
		}
		rule.Freq = Yearly{
			Months:    months,
			Days:      days,
			ByDay:     byDay,
			MonthDays: parseInts(params["BYMONTHDAY"], -31, 31),
		}
	}

	return rule
}

// parseUntil accepts YYYYMMDD (midnight UTC) and YYYYMMDDTHHMMSSZ.
func parseUntil(v string) (time.Time, bool) {
	v = strings.ToUpper(v)
	var layout string
	switch {
	case len(v) == len(untilDateLayout):
		layout = untilDateLayout
	case len(v) == len(untilDateTimeLayout) && strings.HasSuffix(v, "Z"):
		layout = untilDateTimeLayout
	default:
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(layout, v, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseByDay reads entries like "MO", "1MO" or "-1FR". Unknown codes are
// skipped.
func parseByDay(v string) []ByDay {
	if v == "" {
		return nil
	}
	out := make([]ByDay, 0)
	for _, item := range strings.Split(v, ",") {
		item = strings.ToUpper(strings.TrimSpace(item))
		if len(item) < 2 {
			continue
		}
		code := item[len(item)-2:]
		day, ok := codeDays[code]
		if !ok {
			continue
		}
		n := 0
		if prefix := item[:len(item)-2]; prefix != "" {
			parsed, err := strconv.Atoi(prefix)
			if err != nil {
				continue
			}
			n = parsed
		}
		out = append(out, ByDay{N: n, Day: day})
	}
	return out
}

func parseInts(v string, lo, hi int) []int {
	if v == "" {
		return nil
	}
	out := make([]int, 0)
	for _, item := range strings.Split(v, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || n == 0 || n < lo || n > hi {
			continue
		}
		out = append(out, n)
	}
	return out
}
