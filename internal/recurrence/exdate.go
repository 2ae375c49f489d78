package recurrence

import (
	"strings"
	"time"
)

// ExDatePrefix starts every exception date line.
const ExDatePrefix = "EXDATE"

const (
	exDateLayout      = "20060102"
	exLocalTimeLayout = "20060102T150405"
)

// ExDate is one excluded occurrence. A date-only exclusion removes the
// occurrence on that calendar date whatever its time of day.
type ExDate struct {
	Time     time.Time
	DateOnly bool
}

// Excludes reports whether x removes the occurrence starting at occ.
// Dates are compared in occ's location.
func (x ExDate) Excludes(occ time.Time) bool {
	if !x.DateOnly {
		return x.Time.Equal(occ)
	}
	y, m, d := occ.Date()
	xy, xm, xd := x.Time.Date()
	return y == xy && m == xm && d == xd
}

// ExDates reads the EXDATE lines of a recurrence block, in either
// "EXDATE:v1,v2" or "EXDATE;TZID=Zone:v1" form. Floating times and dates are
// placed in loc, and a TZID that cannot be loaded falls back to loc.
// Unreadable values are skipped.
func ExDates(lines []string, loc *time.Location) []ExDate {
	var out []ExDate
	for _, line := range lines {
		if len(line) < len(ExDatePrefix) || !strings.EqualFold(line[:len(ExDatePrefix)], ExDatePrefix) {
			continue
		}
		head, values, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		zone := loc
		dateOnly := false
		for _, param := range strings.Split(head, ";")[1:] {
			key, val, _ := strings.Cut(param, "=")
			switch strings.ToUpper(key) {
			case "TZID":
				if l, err := time.LoadLocation(val); err == nil {
					zone = l
				}
			case "VALUE":
				dateOnly = strings.EqualFold(val, "DATE")
			}
		}

		for _, v := range strings.Split(values, ",") {
			if x, ok := parseExDate(strings.TrimSpace(v), zone, dateOnly); ok {
				out = append(out, x)
			}
		}
	}
	return out
}

func parseExDate(v string, zone *time.Location, dateOnly bool) (ExDate, bool) {
	switch {
	case dateOnly || len(v) == len(exDateLayout):
		t, err := time.ParseInLocation(exDateLayout, v[:min(len(v), len(exDateLayout))], zone)
		return ExDate{Time: t, DateOnly: true}, err == nil
	case strings.HasSuffix(strings.ToUpper(v), "Z"):
		t, err := time.Parse(untilDateTimeLayout, strings.ToUpper(v))
		return ExDate{Time: t}, err == nil
	default:
		t, err := time.ParseInLocation(exLocalTimeLayout, v, zone)
		return ExDate{Time: t}, err == nil
	}
}
