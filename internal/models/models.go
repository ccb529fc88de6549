package models

import (
	"database/sql"
	"time"
)

// Target metric names, as they appear in the daily time-series table.
const (
	TargetInsideSales = "inside_sales"
	TargetFoodService = "food_service"
	TargetDiesel      = "diesel"
	TargetUnleaded    = "unleaded"
)

// Targets lists every forecastable metric in column order.
var Targets = []string{TargetInsideSales, TargetFoodService, TargetDiesel, TargetUnleaded}

type Site struct {
	SiteID     string
	Attributes string // JSON object of the qualitative columns
	CreatedAt  time.Time
}

type CalendarDay struct {
	Date   time.Time
	WeekID int
	Year   int // fiscal year, not the calendar year of Date
	DayID  int // 1-based position within Year
}

type Observation struct {
	ID           int64
	SiteID       string
	Date         time.Time
	WeekID       int
	DayName      string
	Holiday      string
	DayType      string // "WEEKDAY" or "WEEKEND"
	InsideSales  float64
	FoodService  float64
	Diesel       float64
	Unleaded     float64
	DayID        int
	DayID2       int
	Date2        time.Time
	QualityFlags sql.NullString
}

// Value returns the named target metric, and false for an unknown name.
func (o Observation) Value(target string) (float64, bool) {
	switch target {
	case TargetInsideSales:
		return o.InsideSales, true
	case TargetFoodService:
		return o.FoodService, true
	case TargetDiesel:
		return o.Diesel, true
	case TargetUnleaded:
		return o.Unleaded, true
	}
	return 0, false
}

// ValidTarget reports whether name is one of Targets.
func ValidTarget(name string) bool {
	_, ok := Observation{}.Value(name)
	return ok
}

type BacktestRun struct {
	ID             int64
	StartedAt      time.Time
	FinishedAt     sql.NullTime
	Models         string // comma separated
	Targets        string // comma separated
	Cutoffs        string // comma separated, or "1..N"
	UnitsScheduled sql.NullInt64
	UnitsSucceeded sql.NullInt64
	UnitsFailed    sql.NullInt64
	Success        bool
	ErrorMessage   sql.NullString
}

// BacktestResult is one scored forecast: a model fitted on the first StartInit
// days of a site's history and evaluated against the rest of it.
type BacktestResult struct {
	RunID     int64
	SiteID    string
	Target    string
	Model     string
	StartInit int
	Horizon   int
	FC        float64 // sum of point forecasts over the horizon
	Pre       float64 // realized sales in the training prefix
	Post      float64 // realized sales over the horizon
	Sales     float64 // Pre + Post
	TPred     float64 // FC + Pre
	Er        float64 // TPred - Sales
	RMSE      float64
	MAE       float64
	MAPE      sql.NullFloat64
	StepRMSE  float64
	StepMAE   float64
	StepMAPE  sql.NullFloat64
	RMSERoll  float64
	MAERoll   float64
	MAPERoll  sql.NullFloat64
}

type Benchmark struct {
	RunID         int64
	Target        string
	Cutoff        int
	BestRMSEModel string
	BestRMSE      float64
	BestMAPEModel sql.NullString
	BestMAPE      sql.NullFloat64
}
