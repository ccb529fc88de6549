package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/chediazfadel/salescast/internal/models"
)

const dateLayout = "2006-01-02"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func formatDate(t time.Time) string { return t.Format(dateLayout) }

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func (s *Store) UpsertSite(site models.Site) error {
	attrs := site.Attributes
	if attrs == "" {
		attrs = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO sites (site_id, attributes)
		VALUES (?, ?)
		ON CONFLICT(site_id) DO UPDATE SET
			attributes = CASE WHEN excluded.attributes = '{}' THEN sites.attributes ELSE excluded.attributes END
	`, site.SiteID, attrs)
	return err
}

func (s *Store) GetSites() ([]models.Site, error) {
	rows, err := s.db.Query(`SELECT site_id, attributes, created_at FROM sites ORDER BY site_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		var site models.Site
		if err := rows.Scan(&site.SiteID, &site.Attributes, &site.CreatedAt); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// ReplaceCalendar writes days, overwriting any stored entry for the same date.
func (s *Store) ReplaceCalendar(days []models.CalendarDay) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO calendar_days (date, week_id, year, day_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			week_id = excluded.week_id,
			year = excluded.year,
			day_id = excluded.day_id
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range days {
		if _, err := stmt.Exec(formatDate(d.Date), d.WeekID, d.Year, d.DayID); err != nil {
			return fmt.Errorf("calendar %s: %w", formatDate(d.Date), err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetCalendar() ([]models.CalendarDay, error) {
	rows, err := s.db.Query(`SELECT date, week_id, year, day_id FROM calendar_days ORDER BY date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []models.CalendarDay
	for rows.Next() {
		var d models.CalendarDay
		var date string
		if err := rows.Scan(&date, &d.WeekID, &d.Year, &d.DayID); err != nil {
			return nil, err
		}
		if d.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// InsertObservations stores obs in one transaction and returns how many rows
// were inserted or changed. A row already stored for the same (site, date) is
// overwritten, so a re-ingest under a different calendar re-indexes it.
func (s *Store) InsertObservations(obs []models.Observation) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO observations (site_id, date, week_id, day_name, holiday, day_type, inside_sales, food_service, diesel, unleaded, day_id, day_id2, date2, quality_flags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(site_id, date) DO UPDATE SET
			week_id = excluded.week_id,
			day_name = excluded.day_name,
			holiday = excluded.holiday,
			day_type = excluded.day_type,
			inside_sales = excluded.inside_sales,
			food_service = excluded.food_service,
			diesel = excluded.diesel,
			unleaded = excluded.unleaded,
			day_id = excluded.day_id,
			day_id2 = excluded.day_id2,
			date2 = excluded.date2,
			quality_flags = excluded.quality_flags
		WHERE observations.week_id IS NOT excluded.week_id
			OR observations.day_name IS NOT excluded.day_name
			OR observations.holiday IS NOT excluded.holiday
			OR observations.day_type IS NOT excluded.day_type
			OR observations.inside_sales IS NOT excluded.inside_sales
			OR observations.food_service IS NOT excluded.food_service
			OR observations.diesel IS NOT excluded.diesel
			OR observations.unleaded IS NOT excluded.unleaded
			OR observations.day_id IS NOT excluded.day_id
			OR observations.day_id2 IS NOT excluded.day_id2
			OR observations.date2 IS NOT excluded.date2
			OR observations.quality_flags IS NOT excluded.quality_flags
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	stored := 0
	for _, o := range obs {
		res, err := stmt.Exec(o.SiteID, formatDate(o.Date), o.WeekID, o.DayName, o.Holiday, o.DayType,
			o.InsideSales, o.FoodService, o.Diesel, o.Unleaded, o.DayID, o.DayID2, formatDate(o.Date2), o.QualityFlags)
		if err != nil {
			return 0, fmt.Errorf("observation %s %s: %w", o.SiteID, formatDate(o.Date), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		stored += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return stored, nil
}

const observationColumns = `id, site_id, date, week_id, day_name, holiday, day_type, inside_sales, food_service, diesel, unleaded, day_id, day_id2, date2, quality_flags`

func scanObservations(rows *sql.Rows) ([]models.Observation, error) {
	var out []models.Observation
	for rows.Next() {
		var o models.Observation
		var date, date2 string
		var weekID sql.NullInt64
		var dayName, holiday, dayType sql.NullString
		if err := rows.Scan(&o.ID, &o.SiteID, &date, &weekID, &dayName, &holiday, &dayType,
			&o.InsideSales, &o.FoodService, &o.Diesel, &o.Unleaded, &o.DayID, &o.DayID2, &date2, &o.QualityFlags); err != nil {
			return nil, err
		}
		var err error
		if o.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		if o.Date2, err = parseDate(date2); err != nil {
			return nil, err
		}
		o.WeekID = int(weekID.Int64)
		o.DayName, o.Holiday, o.DayType = dayName.String, holiday.String, dayType.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetObservations returns one site's history in continuous-index order.
func (s *Store) GetObservations(siteID string) ([]models.Observation, error) {
	rows, err := s.db.Query(`SELECT `+observationColumns+` FROM observations WHERE site_id = ? ORDER BY day_id2, date`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}

// GetPanel returns every site's history, ordered by site then DayID2.
func (s *Store) GetPanel() ([]models.Observation, error) {
	rows, err := s.db.Query(`SELECT ` + observationColumns + ` FROM observations ORDER BY site_id, day_id2, date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanObservations(rows)
}
