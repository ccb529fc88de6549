// Package backtest runs walk-forward evaluation of forecasting models over a
// panel of sites. For every cutoff day i, each model is fitted on the first i
// days of a site's history and scored on everything after.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/chediazfadel/salescast/internal/forecast"
	"github.com/chediazfadel/salescast/internal/metrics"
	"github.com/chediazfadel/salescast/internal/models"
)

// DefaultBenchmarkCutoffs are two weeks, three weeks and six months.
var DefaultBenchmarkCutoffs = []int{14, 21, 183}

type Config struct {
	// Cutoffs lists the training-prefix lengths to evaluate. When empty,
	// every day from 1 to MaxCutoff is used.
	Cutoffs          []int
	MaxCutoff        int
	Workers          int
	MaxRetries       uint64
	RetryInitial     time.Duration
	BenchmarkCutoffs []int
}

func DefaultConfig() Config {
	return Config{
		MaxCutoff:        365,
		Workers:          4,
		MaxRetries:       5,
		RetryInitial:     100 * time.Millisecond,
		BenchmarkCutoffs: DefaultBenchmarkCutoffs,
	}
}

func (c Config) cutoffs() ([]int, error) {
	if len(c.Cutoffs) == 0 {
		if c.MaxCutoff < 1 {
			return nil, fmt.Errorf("backtest: max cutoff must be positive, got %d", c.MaxCutoff)
		}
		out := make([]int, c.MaxCutoff)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}

	out := make([]int, 0, len(c.Cutoffs))
	seen := make(map[int]bool)
	for _, i := range c.Cutoffs {
		if i < 1 {
			return nil, fmt.Errorf("backtest: cutoff must be positive, got %d", i)
		}
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out, nil
}

// UnitError records a model that could not be scored for one unit. The
// unit's other models, and every other unit, are unaffected.
type UnitError struct {
	SiteID string
	Target string
	Model  string
	Cutoff int
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("site %s %s cutoff %d model %s: %v", e.SiteID, e.Target, e.Cutoff, e.Model, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

type Report struct {
	Results    []models.BacktestResult
	Benchmarks []models.Benchmark
	Failures   []UnitError
	Units      int // (cutoff, site, target) triples scheduled
	Skipped    int // model fits skipped for insufficient data

	// Per-unit outcomes. A unit is in at most one of these.
	FailedUnits     int // at least one model failed
	SkippedUnits    int // every model lacked data
	OutOfRangeUnits int // cutoff at or past the end of the history
}

// SucceededUnits counts units that produced at least one result and had no
// model failure.
func (r *Report) SucceededUnits() int {
	return r.Units - r.FailedUnits - r.SkippedUnits - r.OutOfRangeUnits
}

type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 100 * time.Millisecond
	}
	if cfg.BenchmarkCutoffs == nil {
		cfg.BenchmarkCutoffs = DefaultBenchmarkCutoffs
	}
	return &Runner{cfg: cfg}
}

type unit struct {
	cutoff int
	site   string
	target string
	values []float64
}

type unitOutcome struct {
	results    []models.BacktestResult
	failures   []UnitError
	skipped    int
	outOfRange bool
}

func (o unitOutcome) status() string {
	switch {
	case o.outOfRange:
		return "out_of_range"
	case len(o.failures) > 0 && len(o.results) == 0:
		return "failed"
	case len(o.failures) > 0:
		return "partial"
	case len(o.results) == 0:
		return "skipped"
	}
	return "ok"
}

// Run scores every model on every (cutoff, site, target) unit. Units run
// concurrently on a bounded worker pool; each writes only its own outcome
// slot, and outcomes are merged once all units finish.
func (r *Runner) Run(ctx context.Context, panel Panel, targets []string, ms []forecast.Model) (*Report, error) {
	sites := panel.Sites()
	if len(sites) == 0 {
		return nil, errors.New("backtest: no sites")
	}
	if len(targets) == 0 {
		return nil, errors.New("backtest: no targets")
	}
	for _, t := range targets {
		if !models.ValidTarget(t) {
			return nil, fmt.Errorf("backtest: unknown target %q", t)
		}
	}
	if len(ms) == 0 {
		return nil, errors.New("backtest: no models")
	}
	cutoffs, err := r.cfg.cutoffs()
	if err != nil {
		return nil, err
	}

	series := make(map[[2]string][]float64, len(sites)*len(targets))
	for _, site := range sites {
		for _, target := range targets {
			series[[2]string{site, target}] = panel.Values(site, target)
		}
	}

	var units []unit
	for _, cutoff := range cutoffs {
		for _, site := range sites {
			for _, target := range targets {
				units = append(units, unit{cutoff: cutoff, site: site, target: target, values: series[[2]string{site, target}]})
			}
		}
	}

	log.Printf("backtest: %d units (%d cutoffs x %d sites x %d targets), %d models, %d workers",
		len(units), len(cutoffs), len(sites), len(targets), len(ms), r.cfg.Workers)

	outcomes := make([]unitOutcome, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = r.runUnit(gctx, units[i], ms)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{Units: len(units)}
	for _, o := range outcomes {
		report.Results = append(report.Results, o.results...)
		report.Failures = append(report.Failures, o.failures...)
		report.Skipped += o.skipped
		switch o.status() {
		case "failed", "partial":
			report.FailedUnits++
		case "skipped":
			report.SkippedUnits++
		case "out_of_range":
			report.OutOfRangeUnits++
		}
	}

	Rolling(report.Results)
	report.Benchmarks = Benchmark(report.Results, r.cfg.BenchmarkCutoffs)

	log.Printf("backtest: %d results, %d failures, %d skipped", len(report.Results), len(report.Failures), report.Skipped)
	return report, nil
}

func (r *Runner) runUnit(ctx context.Context, u unit, ms []forecast.Model) unitOutcome {
	var out unitOutcome
	if u.cutoff >= len(u.values) {
		out.outOfRange = true
		metrics.BacktestUnitsTotal.WithLabelValues(out.status()).Inc()
		return out
	}

	prefix, post := u.values[:u.cutoff], u.values[u.cutoff:]
	for _, m := range ms {
		if ctx.Err() != nil {
			return out
		}

		res, err := r.score(ctx, m, prefix, post)
		switch {
		case err == nil:
			res.SiteID, res.Target, res.StartInit = u.site, u.target, u.cutoff
			out.results = append(out.results, res)
		case ctx.Err() != nil:
			return out
		case errors.Is(err, forecast.ErrInsufficientData):
			out.skipped++
		default:
			ue := UnitError{SiteID: u.site, Target: u.target, Model: m.Name(), Cutoff: u.cutoff, Err: err}
			log.Printf("backtest: %v", &ue)
			out.failures = append(out.failures, ue)
		}
	}

	metrics.BacktestUnitsTotal.WithLabelValues(out.status()).Inc()
	return out
}

func (r *Runner) score(ctx context.Context, m forecast.Model, prefix, post []float64) (models.BacktestResult, error) {
	fitted, err := r.fitWithRetry(ctx, m, prefix)
	if err != nil {
		return models.BacktestResult{}, err
	}

	fc, err := fitted.Forecast(len(post))
	if err != nil {
		return models.BacktestResult{}, &forecast.FitError{Model: m.Name(), Err: fmt.Errorf("forecast: %w", err)}
	}
	if len(fc.Point) != len(post) {
		return models.BacktestResult{}, &forecast.FitError{Model: m.Name(), Err: fmt.Errorf("forecast returned %d of %d days", len(fc.Point), len(post))}
	}

	res := models.BacktestResult{
		Model:   m.Name(),
		Horizon: len(post),
		FC:      fc.Sum(),
		Pre:     sum(prefix),
		Post:    sum(post),
	}
	res.Sales = res.Pre + res.Post
	res.TPred = res.FC + res.Pre
	res.Er = res.TPred - res.Sales
	if math.IsNaN(res.Er) || math.IsInf(res.Er, 0) {
		return models.BacktestResult{}, &forecast.FitError{Model: m.Name(), Err: errors.New("non-finite forecast")}
	}

	total, truth := []float64{res.TPred}, []float64{res.Sales}
	res.RMSE = RMSE(total, truth)
	res.MAE = MAE(total, truth)
	res.MAPE = nullMAPE(total, truth)
	res.StepRMSE = RMSE(fc.Point, post)
	res.StepMAE = MAE(fc.Point, post)
	res.StepMAPE = nullMAPE(fc.Point, post)
	return res, nil
}

// fitWithRetry retries transient failures with exponential backoff, giving
// up after MaxRetries retries.
func (r *Runner) fitWithRetry(ctx context.Context, m forecast.Model, prefix []float64) (forecast.Fitted, error) {
	var fitted forecast.Fitted
	attempts := 0
	operation := func() error {
		attempts++
		start := time.Now()
		f, err := forecast.Fit(ctx, m, prefix)
		metrics.ModelFitLatency.WithLabelValues(m.Name()).Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			metrics.ModelFitsTotal.WithLabelValues(m.Name(), "ok").Inc()
			fitted = f
			return nil
		case errors.Is(err, forecast.ErrTransient):
			metrics.ModelFitsTotal.WithLabelValues(m.Name(), "transient").Inc()
			metrics.FitRetriesTotal.WithLabelValues(m.Name()).Inc()
			return err
		case errors.Is(err, forecast.ErrInsufficientData):
			metrics.ModelFitsTotal.WithLabelValues(m.Name(), "insufficient").Inc()
		default:
			metrics.ModelFitsTotal.WithLabelValues(m.Name(), "error").Inc()
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.RetryInitial
	bo.MaxElapsedTime = 0
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, r.cfg.MaxRetries), ctx))
	if err == nil {
		return fitted, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, forecast.ErrTransient) {
		return nil, &forecast.FitError{Model: m.Name(), Err: fmt.Errorf("gave up after %d attempts: %w", attempts, err)}
	}
	return nil, err
}
