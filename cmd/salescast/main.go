package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/chediazfadel/salescast/internal/store"
)

type CLI struct {
	DB string `help:"Path to SQLite database." default:"data/salescast.db" env:"SALESCAST_DB" type:"path"`

	Ingest    IngestCmd    `cmd:"" help:"Load site attributes and daily sales into the store."`
	Calendar  CalendarCmd  `cmd:"" help:"Print the fiscal calendar for a date range."`
	Backtest  BacktestCmd  `cmd:"" help:"Run a walk-forward backtest over the stored panel."`
	Benchmark BenchmarkCmd `cmd:"" help:"Print the benchmark table of a backtest run."`
	Source    SourceCmd    `cmd:"" help:"Print an archived source table."`
	Serve     ServeCmd     `cmd:"" help:"Serve results over HTTP."`
}

// CalendarFlags are shared by every command that builds a fiscal calendar.
type CalendarFlags struct {
	WeekStart string `help:"Weekday fiscal weeks begin on." default:"friday" env:"SALESCAST_WEEK_START" enum:"sunday,monday,tuesday,wednesday,thursday,friday,saturday"`
	Reference string `help:"Reference date for the continuous index (YYYY-MM-DD)." default:"2021-01-01" env:"SALESCAST_REFERENCE_DATE"`
}

func (f CalendarFlags) weekday() time.Weekday {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(wd.String(), f.WeekStart) {
			return wd
		}
	}
	return time.Friday
}

func (f CalendarFlags) reference() (time.Time, error) {
	t, err := time.Parse("2006-01-02", f.Reference)
	if err != nil {
		return time.Time{}, fmt.Errorf("reference date %q: %w", f.Reference, err)
	}
	return t, nil
}

type appContext struct {
	ctx   context.Context
	store *store.Store
}

func openStore(path string) (*store.Store, *sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	log.Println("database migrated")
	return st, db, nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("salescast"),
		kong.Description("Fiscal-calendar normalization and walk-forward backtesting of site sales forecasts."),
		kong.UsageOnError(),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	if err := os.MkdirAll(filepath.Dir(cli.DB), 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	st, db, err := openStore(cli.DB)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := kctx.Run(&appContext{ctx: ctx, store: st}); err != nil {
		log.Fatalf("%s: %v", kctx.Command(), err)
	}
}
