package kpi

import (
	"math"
	"time"

	"github.com/rickar/cal/v2"
	"github.com/rickar/cal/v2/fr"

	"semaphore/badging/internal/period"
)

// Calendar counts working days, skipping weekends and French public holidays.
type Calendar struct {
	business *cal.BusinessCalendar
}

func NewCalendar() *Calendar {
	business := cal.NewBusinessCalendar()
	business.AddHoliday(fr.Holidays...)
	return &Calendar{business: business}
}

func (c *Calendar) Workdays(r period.Range) int {
	days := 0
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		if c.isWorkday(d) {
			days++
		}
	}
	return days
}

func (c *Calendar) isWorkday(d time.Time) bool {
	if c == nil || c.business == nil {
		return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
	}
	return c.business.IsWorkday(d)
}

// ExpectedMinutes prorates contracted weekly hours over the working days of
// r, assuming a five-day week.
func (c *Calendar) ExpectedMinutes(weeklyHours float64, r period.Range) int {
	if weeklyHours <= 0 {
		return 0
	}
	perDay := weeklyHours * 60 / 5
	return int(math.Round(perDay * float64(c.Workdays(r))))
}
