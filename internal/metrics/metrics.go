package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelFitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salescast_model_fits_total",
			Help: "Total model fits attempted by the backtester",
		},
		[]string{"model", "status"},
	)

	ModelFitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "salescast_model_fit_seconds",
			Help:    "Model fit latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	FitRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salescast_fit_retries_total",
			Help: "Total transient fit failures that were retried",
		},
		[]string{"model"},
	)

	BacktestUnitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salescast_backtest_units_total",
			Help: "Total (cutoff, site, target) backtest units processed",
		},
		[]string{"status"},
	)

	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salescast_observations_ingested_total",
			Help: "Total daily site observations successfully ingested",
		},
		[]string{"site"},
	)

	CalendarInconsistencies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "salescast_calendar_inconsistencies_total",
			Help: "Fiscal calendar data-quality warnings",
		},
		[]string{"kind"},
	)
)
