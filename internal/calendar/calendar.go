// Package calendar maps calendar dates onto the fiscal week/year numbering
// used by the store network, and gives each site a day index that keeps
// counting across fiscal year boundaries.
package calendar

import (
	"fmt"
	"time"

	"github.com/chediazfadel/salescast/internal/models"
)

// DefaultWeekStart is the weekday fiscal weeks begin on in the source data.
const DefaultWeekStart = time.Friday

// fiscalYearDays is the length of a 52-week fiscal year.
const fiscalYearDays = 364

// DefaultReferenceDate anchors synthetic Date2 values.
var DefaultReferenceDate = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(Day(to).Sub(Day(from)).Hours() / 24)
}

// weekStartOf returns the first day of the fiscal week containing d.
func weekStartOf(d time.Time, weekStart time.Weekday) time.Time {
	back := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return Day(d).AddDate(0, 0, -back)
}

// WeekOf returns the fiscal year and week number of d. A week belongs to the
// year of its fourth day, so week 1 is always the week holding January 4th.
func WeekOf(d time.Time, weekStart time.Weekday) (year, week int) {
	anchor := weekStartOf(d, weekStart).AddDate(0, 0, 3)
	return anchor.Year(), (anchor.YearDay()-1)/7 + 1
}

// YearStart returns the first day of fiscal year y.
func YearStart(y int, weekStart time.Weekday) time.Time {
	return weekStartOf(time.Date(y, time.January, 4, 0, 0, 0, 0, time.UTC), weekStart)
}

// Build returns one CalendarDay per date in [start, end].
func Build(start, end time.Time, weekStart time.Weekday) ([]models.CalendarDay, error) {
	start, end = Day(start), Day(end)
	if end.Before(start) {
		return nil, fmt.Errorf("calendar: end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if weekStart < time.Sunday || weekStart > time.Saturday {
		return nil, fmt.Errorf("calendar: invalid week start %d", weekStart)
	}

	year, _ := WeekOf(start, weekStart)
	dayID := daysBetween(YearStart(year, weekStart), start) + 1

	days := make([]models.CalendarDay, 0, daysBetween(start, end)+1)
	prevWeek := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		_, week := WeekOf(d, weekStart)
		if week == 1 && prevWeek > 1 {
			year++
			dayID = 1
		}
		days = append(days, models.CalendarDay{Date: d, WeekID: week, Year: year, DayID: dayID})
		dayID++
		prevWeek = week
	}
	return days, nil
}

// Span returns the earliest and latest dates across obs.
func Span(obs []models.Observation) (first, last time.Time, ok bool) {
	for i, o := range obs {
		d := Day(o.Date)
		if i == 0 || d.Before(first) {
			first = d
		}
		if i == 0 || d.After(last) {
			last = d
		}
	}
	return first, last, len(obs) > 0
}
