package calendar

import (
	"fmt"
	"time"

	"github.com/chediazfadel/salescast/internal/models"
)

type dateKey struct {
	year  int
	month time.Month
	day   int
}

func keyOf(t time.Time) dateKey {
	y, m, d := t.Date()
	return dateKey{y, m, d}
}

// Join attaches DayID and WeekID from the calendar to every observation. The
// computed WeekID replaces whatever the source row carried; Validate reports
// any disagreement beforehand.
func Join(days []models.CalendarDay, obs []models.Observation) ([]models.Observation, error) {
	byDate := make(map[dateKey]models.CalendarDay, len(days))
	for _, d := range days {
		byDate[keyOf(d.Date)] = d
	}

	out := make([]models.Observation, len(obs))
	for i, o := range obs {
		d, ok := byDate[keyOf(o.Date)]
		if !ok {
			return nil, fmt.Errorf("calendar: no calendar day for %s (site %s)", o.Date.Format(time.DateOnly), o.SiteID)
		}
		o.Date = Day(o.Date)
		o.DayID = d.DayID
		o.WeekID = d.WeekID
		out[i] = o
	}
	return out, nil
}

// IndexState carries the running values of the continuous index for one site.
type IndexState struct {
	started bool
	prev    int // last accepted DayID2
	offset  int // days added to the raw DayID
}

// Indexer assigns DayID2 and Date2.
type Indexer struct {
	Reference time.Time
}

// Next folds one record into the running state. Whenever the shifted DayID
// fails to advance the index, a fiscal year is added to the offset, plus a
// week at a time for 53-week years.
func (ix Indexer) Next(st IndexState, rec models.Observation) (IndexState, models.Observation) {
	candidate := rec.DayID + st.offset
	if st.started && candidate <= st.prev {
		st.offset += fiscalYearDays
		candidate = rec.DayID + st.offset
		for candidate <= st.prev {
			st.offset += 7
			candidate += 7
		}
	}

	rec.DayID2 = candidate
	rec.Date2 = Day(ix.Reference).AddDate(0, 0, candidate-1)
	st.started = true
	st.prev = candidate
	return st, rec
}

// AssignContinuousIndex returns obs with DayID2 and Date2 set. Records must
// already be ordered by (SiteID, Date); the running state restarts whenever
// SiteID changes.
func AssignContinuousIndex(obs []models.Observation, reference time.Time) []models.Observation {
	ix := Indexer{Reference: reference}
	out := make([]models.Observation, len(obs))

	var st IndexState
	for i, o := range obs {
		if i == 0 || o.SiteID != obs[i-1].SiteID {
			st = IndexState{}
		}
		st, out[i] = ix.Next(st, o)
	}
	return out
}
