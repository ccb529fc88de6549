package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/chediazfadel/salescast/internal/models"
)

// ErrInconsistent is matched by every *InconsistencyError.
var ErrInconsistent = errors.New("calendar inconsistency")

// ErrNoCompleteWeeks is returned when no full 7-day week can be found.
var ErrNoCompleteWeeks = errors.New("calendar: no complete fiscal week in reference data")

const (
	KindWeekStart = "week_start"
	KindWeekID    = "week_id"
)

// WeekRow is a date with an independently supplied fiscal week number.
type WeekRow struct {
	Date   time.Time
	WeekID int
}

type Mismatch struct {
	Date     time.Time
	Want     int
	Computed int
}

// InconsistencyError is a data-quality warning: the computed calendar may
// still be used, but its day ids are less trustworthy.
type InconsistencyError struct {
	Kind       string
	Weekdays   map[time.Weekday]int // week starts seen, for KindWeekStart
	Mismatches []Mismatch           // for KindWeekID
}

func (e *InconsistencyError) Error() string {
	switch e.Kind {
	case KindWeekStart:
		days := make([]string, 0, len(e.Weekdays))
		for wd, n := range e.Weekdays {
			days = append(days, fmt.Sprintf("%s=%d", wd, n))
		}
		sort.Strings(days)
		return fmt.Sprintf("calendar: fiscal weeks start on %d weekdays (%s)", len(e.Weekdays), strings.Join(days, ", "))
	case KindWeekID:
		first := e.Mismatches[0]
		return fmt.Sprintf("calendar: %d week_id mismatches, first on %s (reference %d, computed %d)",
			len(e.Mismatches), first.Date.Format(time.DateOnly), first.Want, first.Computed)
	}
	return "calendar: inconsistency"
}

func (e *InconsistencyError) Unwrap() error { return ErrInconsistent }

func sortedUniqueDates(rows []WeekRow) []WeekRow {
	sorted := make([]WeekRow, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	out := sorted[:0]
	for _, r := range sorted {
		r.Date = Day(r.Date)
		if len(out) > 0 && out[len(out)-1].Date.Equal(r.Date) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// DetectWeekStart finds the weekday fiscal weeks begin on by taking the first
// date of every complete 7-day run of a single week_id. When more than one
// weekday shows up, the most frequent one is returned along with an
// *InconsistencyError.
func DetectWeekStart(rows []WeekRow) (time.Weekday, error) {
	days := sortedUniqueDates(rows)

	counts := make(map[time.Weekday]int)
	for i := 0; i < len(days); {
		j := i + 1
		for j < len(days) && days[j].WeekID == days[i].WeekID && daysBetween(days[j-1].Date, days[j].Date) == 1 {
			j++
		}
		if j-i == 7 {
			counts[days[i].Date.Weekday()]++
		}
		i = j
	}

	if len(counts) == 0 {
		return DefaultWeekStart, ErrNoCompleteWeeks
	}

	best, bestN := time.Sunday, -1
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if counts[wd] > bestN {
			best, bestN = wd, counts[wd]
		}
	}
	if len(counts) > 1 {
		return best, &InconsistencyError{Kind: KindWeekStart, Weekdays: counts}
	}
	return best, nil
}

// Validate checks computed week ids against a reference for every date both
// cover.
func Validate(days []models.CalendarDay, ref []WeekRow) error {
	byDate := make(map[dateKey]models.CalendarDay, len(days))
	for _, d := range days {
		byDate[keyOf(d.Date)] = d
	}

	var mismatches []Mismatch
	overlap := 0
	for _, r := range sortedUniqueDates(ref) {
		d, ok := byDate[keyOf(r.Date)]
		if !ok {
			continue
		}
		overlap++
		if d.WeekID != r.WeekID {
			mismatches = append(mismatches, Mismatch{Date: r.Date, Want: r.WeekID, Computed: d.WeekID})
		}
	}

	if overlap == 0 {
		return errors.New("calendar: reference does not overlap calendar")
	}
	if len(mismatches) > 0 {
		return &InconsistencyError{Kind: KindWeekID, Mismatches: mismatches}
	}
	return nil
}

// WeekRows extracts the source table's own week ids for validation.
func WeekRows(obs []models.Observation) []WeekRow {
	rows := make([]WeekRow, 0, len(obs))
	for _, o := range obs {
		if o.WeekID > 0 {
			rows = append(rows, WeekRow{Date: o.Date, WeekID: o.WeekID})
		}
	}
	return rows
}
