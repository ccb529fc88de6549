package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS sites (
    site_id TEXT PRIMARY KEY,
    attributes TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS calendar_days (
    date TEXT PRIMARY KEY,
    week_id INTEGER NOT NULL,
    year INTEGER NOT NULL,
    day_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    site_id TEXT NOT NULL REFERENCES sites(site_id),
    date TEXT NOT NULL,
    week_id INTEGER,
    day_name TEXT,
    holiday TEXT,
    day_type TEXT,
    inside_sales REAL NOT NULL,
    food_service REAL NOT NULL,
    diesel REAL NOT NULL,
    unleaded REAL NOT NULL,
    day_id INTEGER NOT NULL,
    day_id2 INTEGER NOT NULL,
    date2 TEXT NOT NULL,
    quality_flags TEXT,
    UNIQUE(site_id, date)
);

CREATE INDEX IF NOT EXISTS idx_observations_site_day ON observations(site_id, day_id2);
`,
	},
	{
		Version:     2,
		Description: "Add backtest runs, results and benchmarks",
		SQL: `
CREATE TABLE IF NOT EXISTS backtest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    models TEXT NOT NULL,
    targets TEXT NOT NULL,
    cutoffs TEXT NOT NULL,
    units_scheduled INTEGER,
    units_succeeded INTEGER,
    units_failed INTEGER,
    success BOOLEAN DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS backtest_results (
    run_id INTEGER NOT NULL REFERENCES backtest_runs(id),
    site_id TEXT NOT NULL,
    target TEXT NOT NULL,
    model TEXT NOT NULL,
    start_init INTEGER NOT NULL,
    horizon INTEGER NOT NULL,
    fc REAL NOT NULL,
    pre REAL NOT NULL,
    post REAL NOT NULL,
    sales REAL NOT NULL,
    tpred REAL NOT NULL,
    er REAL NOT NULL,
    rmse REAL NOT NULL,
    mae REAL NOT NULL,
    mape REAL,
    step_rmse REAL,
    step_mae REAL,
    step_mape REAL,
    rmse_roll REAL,
    mae_roll REAL,
    mape_roll REAL,
    PRIMARY KEY (run_id, site_id, target, model, start_init)
);

CREATE INDEX IF NOT EXISTS idx_results_run_target_model ON backtest_results(run_id, target, model, start_init);

CREATE TABLE IF NOT EXISTS benchmarks (
    run_id INTEGER NOT NULL REFERENCES backtest_runs(id),
    target TEXT NOT NULL,
    cutoff INTEGER NOT NULL,
    best_rmse_model TEXT NOT NULL,
    best_rmse REAL NOT NULL,
    best_mape_model TEXT,
    best_mape REAL,
    PRIMARY KEY (run_id, target, cutoff)
);
`,
	},
	{
		Version:     3,
		Description: "Archive source files",
		SQL: `
CREATE TABLE IF NOT EXISTS source_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fetched_at DATETIME NOT NULL,
    kind TEXT NOT NULL,
    location TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE INDEX IF NOT EXISTS idx_source_files_fetched ON source_files(fetched_at);
`,
	},
}

// Migrate applies every pending migration, each in its own transaction.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description TEXT,
		applied_at DATETIME
	)`); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	done, err := s.appliedVersions()
	if err != nil {
		return fmt.Errorf("read applied migrations: %w", err)
	}

	for _, m := range migrations {
		if _, ok := done[m.Version]; ok {
			continue
		}
		log.Printf("store: migrating to v%d (%s)", m.Version, m.Description)
		if err := s.apply(m); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func (s *Store) apply(m migration) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC()); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit()
}

func (s *Store) appliedVersions() (map[int]struct{}, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[int]struct{})
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = struct{}{}
	}
	return done, rows.Err()
}

// MigrationVersion returns the highest applied schema version, 0 on a fresh
// database.
func (s *Store) MigrationVersion() (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}
