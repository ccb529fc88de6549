package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"time"

	"github.com/chediazfadel/salescast/internal/calendar"
	"github.com/chediazfadel/salescast/internal/metrics"
	"github.com/chediazfadel/salescast/internal/models"
)

// Sink persists what the loader produces. *store.Store satisfies it.
type Sink interface {
	UpsertSite(site models.Site) error
	ReplaceCalendar(days []models.CalendarDay) error
	InsertObservations(obs []models.Observation) (int, error)
	StoreSourceFile(kind, location string, payload []byte) (int64, error)
}

type Options struct {
	WeekStart time.Weekday
	// DetectWeekStart replaces WeekStart with the weekday found in the
	// table's own week ids, when one can be found.
	DetectWeekStart bool
	Reference       time.Time
}

type Summary struct {
	Sites        int
	CalendarDays int
	Observations int
	Stored       int
	Flagged      int
	Dropped      int
	WeekStart    time.Weekday
	// Warnings holds calendar inconsistencies. They do not stop the load.
	Warnings []error
}

type Loader struct {
	sink Sink
	opts Options
}

func NewLoader(sink Sink, opts Options) *Loader {
	if opts.Reference.IsZero() {
		opts.Reference = calendar.DefaultReferenceDate
	}
	return &Loader{sink: sink, opts: opts}
}

// Load reads the site and time-series tables, builds the fiscal calendar
// over the full date range, indexes every site's history and persists the
// result. sitesLoc may be empty, in which case sites are created from the
// time series with no attributes.
func (l *Loader) Load(ctx context.Context, sitesLoc, seriesLoc string) (*Summary, error) {
	var sites []models.Site
	if sitesLoc != "" {
		var err error
		sites, err = readFrom(ctx, l.sink, "sites", sitesLoc, ReadSites)
		if err != nil {
			return nil, err
		}
	}
	obs, err := readFrom(ctx, l.sink, "time_series", seriesLoc, ReadTimeSeries)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, errors.New("ingest: time series has no rows")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := &Summary{WeekStart: l.opts.WeekStart}
	obs, sum.Dropped, sum.Flagged = cleanObservations(obs)
	if len(obs) == 0 {
		return nil, errors.New("ingest: no usable rows in time series")
	}

	weekRows := calendar.WeekRows(obs)
	if l.opts.DetectWeekStart && len(weekRows) > 0 {
		wd, err := calendar.DetectWeekStart(weekRows)
		switch {
		case errors.Is(err, calendar.ErrNoCompleteWeeks):
			log.Printf("ingest: cannot detect week start, using %s", l.opts.WeekStart)
		default:
			sum.warn(err)
			if wd != l.opts.WeekStart {
				log.Printf("ingest: detected week start %s (configured %s)", wd, l.opts.WeekStart)
			}
			sum.WeekStart = wd
		}
	}

	first, last, _ := calendar.Span(obs)
	days, err := calendar.Build(first, last, sum.WeekStart)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	sum.CalendarDays = len(days)
	if len(weekRows) > 0 {
		sum.warn(calendar.Validate(days, weekRows))
	}

	joined, err := calendar.Join(days, obs)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	indexed := calendar.AssignContinuousIndex(joined, l.opts.Reference)
	sum.Observations = len(indexed)

	sites = withSeriesSites(sites, indexed)
	sum.Sites = len(sites)
	for _, s := range sites {
		if err := l.sink.UpsertSite(s); err != nil {
			return nil, fmt.Errorf("ingest: upsert site %s: %w", s.SiteID, err)
		}
	}
	if err := l.sink.ReplaceCalendar(days); err != nil {
		return nil, fmt.Errorf("ingest: store calendar: %w", err)
	}
	stored, err := l.sink.InsertObservations(indexed)
	if err != nil {
		return nil, fmt.Errorf("ingest: store observations: %w", err)
	}
	sum.Stored = stored

	perSite := make(map[string]int)
	for _, o := range indexed {
		perSite[o.SiteID]++
	}
	for site, n := range perSite {
		metrics.ObservationsIngested.WithLabelValues(site).Add(float64(n))
	}

	log.Printf("ingest: %d sites, %d calendar days, %d observations (%d stored, %d flagged, %d dropped), week start %s",
		sum.Sites, sum.CalendarDays, sum.Observations, sum.Stored, sum.Flagged, sum.Dropped, sum.WeekStart)
	return sum, nil
}

func (s *Summary) warn(err error) {
	if err == nil {
		return
	}
	var inc *calendar.InconsistencyError
	if errors.As(err, &inc) {
		metrics.CalendarInconsistencies.WithLabelValues(inc.Kind).Inc()
	}
	log.Printf("ingest: warning: %v", err)
	s.Warnings = append(s.Warnings, err)
}

// readFrom fetches a source table, archives its bytes and decodes it.
func readFrom[T any](ctx context.Context, sink Sink, kind, location string, decode func(io.Reader) ([]T, error)) ([]T, error) {
	rc, err := Open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	payload, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("ingest: read %s: %w", location, err)
	}

	if id, err := sink.StoreSourceFile(kind, location, payload); err != nil {
		log.Printf("ingest: archive %s: %v", location, err)
	} else if id == 0 {
		log.Printf("ingest: %s unchanged since last archive", location)
	} else {
		log.Printf("ingest: archived %s as source file %d", location, id)
	}

	rows, err := decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", location, err)
	}
	return rows, nil
}

// cleanObservations flags every row, drops rows that cannot be keyed, and
// returns the rest ordered by (SiteID, Date) with one row per key.
func cleanObservations(obs []models.Observation) (out []models.Observation, dropped, flagged int) {
	out = make([]models.Observation, 0, len(obs))
	for _, o := range obs {
		flags := ValidateObservation(&o)
		if len(flags) > 0 {
			flagged++
			o.QualityFlags.String = QualityFlagsToJSON(flags)
			o.QualityFlags.Valid = true
		}
		if o.SiteID == "" {
			dropped++
			continue
		}
		out = append(out, o)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		return out[i].Date.Before(out[j].Date)
	})

	uniq := out[:0]
	for _, o := range out {
		if n := len(uniq); n > 0 && o.SiteID == uniq[n-1].SiteID && o.Date.Equal(uniq[n-1].Date) {
			dropped++
			continue
		}
		uniq = append(uniq, o)
	}
	if dropped > 0 {
		log.Printf("ingest: dropped %d rows without a site id or duplicating a (site, date)", dropped)
	}
	return uniq, dropped, flagged
}

// withSeriesSites adds an attribute-less site for every site id that only
// appears in the time series.
func withSeriesSites(sites []models.Site, obs []models.Observation) []models.Site {
	known := make(map[string]bool, len(sites))
	for _, s := range sites {
		known[s.SiteID] = true
	}
	for _, o := range obs {
		if !known[o.SiteID] {
			known[o.SiteID] = true
			log.Printf("ingest: site %s has no attributes row", o.SiteID)
			sites = append(sites, models.Site{SiteID: o.SiteID, Attributes: "{}"})
		}
	}
	return sites
}
