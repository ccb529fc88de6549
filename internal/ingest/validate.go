package ingest

import (
	"encoding/json"

	"github.com/chediazfadel/salescast/internal/models"
)

const (
	FlagNegativeSales    = "negative_sales"
	FlagWeekIDOutOfRange = "week_id_out_of_range"
	FlagNoSalesDay       = "no_sales_day"
	FlagMissingSiteID    = "missing_site_id"
)

// ValidateObservation returns data-quality flags for a row. A flagged row is
// still stored; zero sales are valid but rare enough to mark.
func ValidateObservation(obs *models.Observation) []string {
	var flags []string

	if obs.SiteID == "" {
		flags = append(flags, FlagMissingSiteID)
	}

	if obs.WeekID != 0 && (obs.WeekID < 1 || obs.WeekID > 53) {
		flags = append(flags, FlagWeekIDOutOfRange)
	}

	negative, zero := false, 0
	for _, target := range models.Targets {
		v, _ := obs.Value(target)
		if v < 0 {
			negative = true
		}
		if v == 0 {
			zero++
		}
	}
	if negative {
		flags = append(flags, FlagNegativeSales)
	}
	if zero == len(models.Targets) {
		flags = append(flags, FlagNoSalesDay)
	}

	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
