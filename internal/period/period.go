// Package period turns a reporting selector into a half-open date range.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"semaphore/badging/internal/apperr"
)

type Kind string

const (
	Day   Kind = "day"
	Week  Kind = "week"
	Month Kind = "month"
	Year  Kind = "year"
	// Custom labels an explicit range; Resolve never produces it.
	Custom Kind = "custom"
)

// Selector picks a period. Zero Week or Month means the current one; zero
// Year means the current year.
type Selector struct {
	Kind  Kind `json:"kind"`
	Week  int  `json:"week,omitempty"`
	Month int  `json:"month,omitempty"`
	Year  int  `json:"year,omitempty"`
}

// Range is [Start, End).
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r Range) Days() int {
	days := 0
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

// Resolve computes the range of sel relative to now, in now's location.
func Resolve(sel Selector, now time.Time) (Range, error) {
	loc := now.Location()
	today := midnight(now)

	switch sel.Kind {
	case Day, "":
		return Range{Start: today, End: today.AddDate(0, 0, 1)}, nil
	case Week:
		if sel.Week < 0 || sel.Week > 53 {
			return Range{}, apperr.Invalid("invalid_week")
		}
		var start time.Time
		if sel.Week == 0 {
			start = StartOfWeek(today)
		} else {
			year := sel.Year
			if year == 0 {
				year, _ = now.ISOWeek()
			}
			start = ISOWeekStart(year, sel.Week, loc)
			// Week 53 only exists in long ISO years.
			if y, w := start.ISOWeek(); y != year || w != sel.Week {
				return Range{}, apperr.Invalid("invalid_week")
			}
		}
		return Range{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case Month:
		if sel.Month < 0 || sel.Month > 12 {
			return Range{}, apperr.Invalid("invalid_month")
		}
		year, month := now.Year(), now.Month()
		if sel.Year != 0 {
			year = sel.Year
		}
		if sel.Month != 0 {
			month = time.Month(sel.Month)
		}
		start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: start.AddDate(0, 1, 0)}, nil
	case Year:
		year := sel.Year
		if year == 0 {
			year = now.Year()
		}
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
		return Range{Start: start, End: start.AddDate(1, 0, 0)}, nil
	default:
		return Range{}, apperr.Invalid("invalid_period")
	}
}

// StartOfWeek is the Monday of t's ISO week, at midnight.
func StartOfWeek(t time.Time) time.Time {
	day := midnight(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// ISOWeekStart is the Monday of ISO week n of year. Week 1 is the week that
// holds January 4th, so it may start in the previous December.
func ISOWeekStart(year, week int, loc *time.Location) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	return StartOfWeek(jan4).AddDate(0, 0, (week-1)*7)
}

// ISOWeek returns the ISO-8601 year and week number of t.
func ISOWeek(t time.Time) (year, week int) {
	return t.ISOWeek()
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Parse reads a selector from query-style values: period=day|week|month|year
// plus optional week, month and year numbers.
func Parse(kind, week, month, year string) (Selector, error) {
	sel := Selector{Kind: Kind(strings.ToLower(strings.TrimSpace(kind)))}
	var err error
	if sel.Week, err = atoi(week); err != nil {
		return Selector{}, apperr.Invalid("invalid_week")
	}
	if sel.Month, err = atoi(month); err != nil {
		return Selector{}, apperr.Invalid("invalid_month")
	}
	if sel.Year, err = atoi(year); err != nil {
		return Selector{}, apperr.Invalid("invalid_year")
	}
	switch sel.Kind {
	case "", Day, Week, Month, Year:
		if sel.Kind == "" {
			sel.Kind = Day
		}
		return sel, nil
	default:
		return Selector{}, apperr.Invalid("invalid_period")
	}
}

func atoi(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("period: parse %q: %w", value, err)
	}
	return n, nil
}
