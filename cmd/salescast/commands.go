package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chediazfadel/salescast/internal/api"
	"github.com/chediazfadel/salescast/internal/backtest"
	"github.com/chediazfadel/salescast/internal/calendar"
	"github.com/chediazfadel/salescast/internal/forecast"
	"github.com/chediazfadel/salescast/internal/ingest"
	"github.com/chediazfadel/salescast/internal/models"
)

type IngestCmd struct {
	CalendarFlags

	Sites           string `help:"Site attributes table: a local path, ftp:// or http(s):// URL." env:"SALESCAST_SITES"`
	Series          string `help:"Daily time-series table: a local path, ftp:// or http(s):// URL." required:"" env:"SALESCAST_SERIES"`
	DetectWeekStart bool   `help:"Use the week start found in the table's own week ids." default:"true" negatable:"" env:"SALESCAST_DETECT_WEEK_START"`
	ArchiveDays     int    `help:"Delete archived source files older than this many days (0 keeps all)." default:"0" env:"SALESCAST_ARCHIVE_DAYS"`
}

func (c *IngestCmd) Run(app *appContext) error {
	ref, err := c.reference()
	if err != nil {
		return err
	}

	loader := ingest.NewLoader(app.store, ingest.Options{
		WeekStart:       c.weekday(),
		DetectWeekStart: c.DetectWeekStart,
		Reference:       ref,
	})
	sum, err := loader.Load(app.ctx, c.Sites, c.Series)
	if err != nil {
		return err
	}
	for _, w := range sum.Warnings {
		log.Printf("calendar warning: %v", w)
	}

	if c.ArchiveDays > 0 {
		n, err := app.store.CleanupOldSourceFiles(c.ArchiveDays)
		if err != nil {
			return fmt.Errorf("cleanup archive: %w", err)
		}
		if n > 0 {
			log.Printf("removed %d archived source files", n)
		}
	}
	return nil
}

type CalendarCmd struct {
	CalendarFlags

	Start string `help:"First date (YYYY-MM-DD). With --end, builds a calendar instead of printing the stored one."`
	End   string `help:"Last date (YYYY-MM-DD). Defaults to the last stored calendar day."`
}

func (c *CalendarCmd) Run(app *appContext) error {
	stored, err := app.store.GetCalendar()
	if err != nil {
		return err
	}

	days := stored
	if c.Start != "" || c.End != "" {
		if days, err = c.build(stored); err != nil {
			return err
		}
	} else if len(days) == 0 {
		return errors.New("no stored calendar; run ingest or pass --start and --end")
	}

	fmt.Println("date,week_id,year,day_id")
	for _, d := range days {
		fmt.Printf("%s,%d,%d,%d\n", d.Date.Format("2006-01-02"), d.WeekID, d.Year, d.DayID)
	}
	return nil
}

// build computes a calendar for the flag range, taking a missing bound from
// the stored calendar.
func (c *CalendarCmd) build(stored []models.CalendarDay) ([]models.CalendarDay, error) {
	var start, end time.Time
	if len(stored) > 0 {
		start, end = stored[0].Date, stored[len(stored)-1].Date
	}
	for _, f := range []struct {
		raw string
		dst *time.Time
		arg string
	}{{c.Start, &start, "start"}, {c.End, &end, "end"}} {
		if f.raw == "" {
			if f.dst.IsZero() {
				return nil, fmt.Errorf("no stored calendar; pass --%s", f.arg)
			}
			continue
		}
		t, err := time.Parse("2006-01-02", f.raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.arg, err)
		}
		*f.dst = t
	}
	return calendar.Build(start, end, c.weekday())
}

type SourceCmd struct {
	ID int64 `arg:"" help:"Archived source file id, as logged by ingest."`
}

// Run writes an archived source table to stdout, decompressed.
func (c *SourceCmd) Run(app *appContext) error {
	payload, err := app.store.GetSourceFile(c.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("no archived source file %d", c.ID)
	}
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(payload)
	return err
}

type BacktestCmd struct {
	Models           []string      `help:"Candidate models." default:"snaive,ets,arima,ensemble" env:"SALESCAST_MODELS"`
	Targets          []string      `help:"Target metrics." default:"inside_sales,food_service,diesel,unleaded" env:"SALESCAST_TARGETS"`
	Sites            []string      `help:"Restrict to these sites (default all)." env:"SALESCAST_SITES_FILTER"`
	Cutoffs          []int         `help:"Cutoff days to evaluate (default 1..max-cutoff)." env:"SALESCAST_CUTOFFS"`
	MaxCutoff        int           `help:"Last cutoff day when --cutoffs is not set." default:"365" env:"SALESCAST_MAX_CUTOFF"`
	Workers          int           `help:"Concurrent backtest units." default:"4" env:"SALESCAST_WORKERS"`
	MaxRetries       uint64        `help:"Retries for transient model fit failures." default:"5" env:"SALESCAST_MAX_RETRIES"`
	RetryInitial     time.Duration `help:"Initial retry backoff." default:"100ms" env:"SALESCAST_RETRY_INITIAL"`
	BenchmarkCutoffs []int         `help:"Cutoffs reported in the benchmark table." default:"14,21,183" env:"SALESCAST_BENCHMARK_CUTOFFS"`
}

func (c *BacktestCmd) Run(app *appContext) error {
	ms, err := forecast.Lookup(c.Models)
	if err != nil {
		return err
	}

	obs, err := app.store.GetPanel()
	if err != nil {
		return err
	}
	panel := backtest.NewPanel(filterSites(obs, c.Sites))

	cutoffs := fmt.Sprintf("1..%d", c.MaxCutoff)
	if len(c.Cutoffs) > 0 {
		cutoffs = joinInts(c.Cutoffs)
	}
	run, err := app.store.StartBacktestRun(strings.Join(c.Models, ","), strings.Join(c.Targets, ","), cutoffs)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	runner := backtest.NewRunner(backtest.Config{
		Cutoffs:          c.Cutoffs,
		MaxCutoff:        c.MaxCutoff,
		Workers:          c.Workers,
		MaxRetries:       c.MaxRetries,
		RetryInitial:     c.RetryInitial,
		BenchmarkCutoffs: c.BenchmarkCutoffs,
	})
	report, runErr := runner.Run(app.ctx, panel, c.Targets, ms)
	if runErr == nil {
		runErr = app.store.InsertResults(run.ID, report.Results)
	}
	if runErr == nil {
		runErr = app.store.InsertBenchmarks(run.ID, report.Benchmarks)
	}

	if report != nil {
		run.UnitsScheduled.Int64, run.UnitsScheduled.Valid = int64(report.Units), true
		run.UnitsFailed.Int64, run.UnitsFailed.Valid = int64(report.FailedUnits), true
		run.UnitsSucceeded.Int64, run.UnitsSucceeded.Valid = int64(report.SucceededUnits()), true
	}
	run.Success = runErr == nil
	if runErr != nil {
		run.ErrorMessage.String, run.ErrorMessage.Valid = runErr.Error(), true
	}
	if err := app.store.CompleteBacktestRun(run); err != nil {
		log.Printf("complete run %d: %v", run.ID, err)
	}
	if runErr != nil {
		return runErr
	}

	log.Printf("run %d: %d results, %d failures, %d units skipped, %d out of range",
		run.ID, len(report.Results), len(report.Failures), report.SkippedUnits, report.OutOfRangeUnits)
	return printBenchmarks(report.Benchmarks)
}

type BenchmarkCmd struct {
	RunID int64 `arg:"" optional:"" name:"run" help:"Run id (default latest successful run)."`
}

func (c *BenchmarkCmd) Run(app *appContext) error {
	id := c.RunID
	if id == 0 {
		var err error
		if id, err = app.store.LatestRunID(); err != nil {
			return err
		}
		if id == 0 {
			return errors.New("no successful backtest run")
		}
	}
	rows, err := app.store.GetBenchmarks(id)
	if err != nil {
		return err
	}
	fmt.Printf("run %d\n", id)
	return printBenchmarks(rows)
}

type ServeCmd struct {
	Addr string `help:"HTTP listen address." default:":8080" env:"SALESCAST_ADDR"`
}

func (c *ServeCmd) Run(app *appContext) error {
	server := api.NewServer(app.store, c.Addr)
	log.Printf("starting server on %s", c.Addr)
	return server.Run(app.ctx)
}

func printBenchmarks(rows []models.Benchmark) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tCUTOFF\tBEST RMSE\tRMSE\tBEST MAPE\tMAPE %")
	for _, b := range rows {
		mapeModel, mape := "-", "-"
		if b.BestMAPEModel.Valid {
			mapeModel = b.BestMAPEModel.String
		}
		if b.BestMAPE.Valid {
			mape = strconv.FormatFloat(b.BestMAPE.Float64, 'f', 2, 64)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.2f\t%s\t%s\n", b.Target, b.Cutoff, b.BestRMSEModel, b.BestRMSE, mapeModel, mape)
	}
	return tw.Flush()
}

func filterSites(obs []models.Observation, sites []string) []models.Observation {
	if len(sites) == 0 {
		return obs
	}
	keep := make(map[string]bool, len(sites))
	for _, s := range sites {
		keep[strings.TrimSpace(s)] = true
	}
	out := obs[:0:0]
	for _, o := range obs {
		if keep[o.SiteID] {
			out = append(out, o)
		}
	}
	return out
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
