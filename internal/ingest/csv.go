package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/chediazfadel/salescast/internal/models"
)

const dateLayout = "2006-01-02"

type seriesRow struct {
	SiteID      string  `csv:"site_id"`
	Date        string  `csv:"date"`
	WeekID      *int    `csv:"week_id"`
	DayName     string  `csv:"day_name"`
	Holiday     string  `csv:"holiday"`
	DayType     string  `csv:"day_type"`
	InsideSales float64 `csv:"inside_sales"`
	FoodService float64 `csv:"food_service"`
	Diesel      float64 `csv:"diesel"`
	Unleaded    float64 `csv:"unleaded"`
}

// ReadTimeSeries decodes the daily site time-series table.
func ReadTimeSeries(r io.Reader) ([]models.Observation, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("time series: empty file")
		}
		return nil, fmt.Errorf("time series header: %w", err)
	}

	var out []models.Observation
	for line := 2; ; line++ {
		var row seriesRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("time series line %d: %w", line, err)
		}

		date, err := time.Parse(dateLayout, strings.TrimSpace(row.Date))
		if err != nil {
			return nil, fmt.Errorf("time series line %d: date %q: %w", line, row.Date, err)
		}
		obs := models.Observation{
			SiteID:      strings.TrimSpace(row.SiteID),
			Date:        date,
			DayName:     row.DayName,
			Holiday:     row.Holiday,
			DayType:     row.DayType,
			InsideSales: row.InsideSales,
			FoodService: row.FoodService,
			Diesel:      row.Diesel,
			Unleaded:    row.Unleaded,
		}
		if row.WeekID != nil {
			obs.WeekID = *row.WeekID
		}
		out = append(out, obs)
	}
	return out, nil
}

type siteRow struct {
	SiteID string `csv:"site_id"`
}

// ReadSites decodes the site attributes table. Only site_id is typed; every
// other column is kept verbatim in the site's Attributes JSON.
func ReadSites(r io.Reader) ([]models.Site, error) {
	dec, err := csvutil.NewDecoder(csv.NewReader(r))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("sites: empty file")
		}
		return nil, fmt.Errorf("sites header: %w", err)
	}
	header := dec.Header()

	var out []models.Site
	seen := make(map[string]bool)
	for line := 2; ; line++ {
		var row siteRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("sites line %d: %w", line, err)
		}

		id := strings.TrimSpace(row.SiteID)
		if id == "" {
			return nil, fmt.Errorf("sites line %d: missing site_id", line)
		}
		if seen[id] {
			return nil, fmt.Errorf("sites line %d: duplicate site_id %s", line, id)
		}
		seen[id] = true

		record := dec.Record()
		attrs := make(map[string]string)
		for _, i := range dec.Unused() {
			attrs[header[i]] = record[i]
		}
		b, err := json.Marshal(attrs)
		if err != nil {
			return nil, fmt.Errorf("sites line %d: attributes: %w", line, err)
		}
		out = append(out, models.Site{SiteID: id, Attributes: string(b)})
	}
	return out, nil
}
