package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/chediazfadel/salescast/internal/models"
)

// StartBacktestRun creates the audit row for a run and returns it.
func (s *Store) StartBacktestRun(modelNames, targets, cutoffs string) (*models.BacktestRun, error) {
	run := &models.BacktestRun{
		StartedAt: time.Now().UTC(),
		Models:    modelNames,
		Targets:   targets,
		Cutoffs:   cutoffs,
	}

	result, err := s.db.Exec(`
		INSERT INTO backtest_runs (started_at, models, targets, cutoffs, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Models, run.Targets, run.Cutoffs)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteBacktestRun records the outcome of a run.
func (s *Store) CompleteBacktestRun(run *models.BacktestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE backtest_runs SET
			finished_at = ?,
			units_scheduled = ?,
			units_succeeded = ?,
			units_failed = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.UnitsScheduled, run.UnitsSucceeded, run.UnitsFailed,
		run.Success, run.ErrorMessage, run.ID)
	return err
}

const runColumns = `id, started_at, finished_at, models, targets, cutoffs, units_scheduled, units_succeeded, units_failed, success, error_message`

func scanRun(row interface{ Scan(...any) error }) (*models.BacktestRun, error) {
	var r models.BacktestRun
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Models, &r.Targets, &r.Cutoffs,
		&r.UnitsScheduled, &r.UnitsSucceeded, &r.UnitsFailed, &r.Success, &r.ErrorMessage)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetBacktestRun returns nil when no run has the id.
func (s *Store) GetBacktestRun(id int64) (*models.BacktestRun, error) {
	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// GetRecentRuns returns the newest runs first.
func (s *Store) GetRecentRuns(limit int) ([]models.BacktestRun, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM backtest_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.BacktestRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// LatestRunID returns the newest successful run, or 0 when there is none.
func (s *Store) LatestRunID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM backtest_runs WHERE success = TRUE`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (s *Store) InsertResults(runID int64, results []models.BacktestResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO backtest_results (run_id, site_id, target, model, start_init, horizon, fc, pre, post, sales, tpred, er,
			rmse, mae, mape, step_rmse, step_mae, step_mape, rmse_roll, mae_roll, mape_roll)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, site_id, target, model, start_init) DO UPDATE SET
			rmse_roll = excluded.rmse_roll,
			mae_roll = excluded.mae_roll,
			mape_roll = excluded.mape_roll
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.Exec(runID, r.SiteID, r.Target, r.Model, r.StartInit, r.Horizon, r.FC, r.Pre, r.Post, r.Sales, r.TPred, r.Er,
			r.RMSE, r.MAE, r.MAPE, r.StepRMSE, r.StepMAE, r.StepMAPE, r.RMSERoll, r.MAERoll, r.MAPERoll); err != nil {
			return fmt.Errorf("result %s/%s/%s@%d: %w", r.SiteID, r.Target, r.Model, r.StartInit, err)
		}
	}
	return tx.Commit()
}

// GetResults returns a run's results ordered by model, site and cutoff. An
// empty target or model matches all.
func (s *Store) GetResults(runID int64, target, model string) ([]models.BacktestResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, site_id, target, model, start_init, horizon, fc, pre, post, sales, tpred, er,
			rmse, mae, mape, step_rmse, step_mae, step_mape, rmse_roll, mae_roll, mape_roll
		FROM backtest_results
		WHERE run_id = ? AND (? = '' OR target = ?) AND (? = '' OR model = ?)
		ORDER BY target, model, site_id, start_init
	`, runID, target, target, model, model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.BacktestResult
	for rows.Next() {
		var r models.BacktestResult
		if err := rows.Scan(&r.RunID, &r.SiteID, &r.Target, &r.Model, &r.StartInit, &r.Horizon, &r.FC, &r.Pre, &r.Post, &r.Sales, &r.TPred, &r.Er,
			&r.RMSE, &r.MAE, &r.MAPE, &r.StepRMSE, &r.StepMAE, &r.StepMAPE, &r.RMSERoll, &r.MAERoll, &r.MAPERoll); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertBenchmarks replaces the benchmark table of a run.
func (s *Store) InsertBenchmarks(runID int64, rows []models.Benchmark) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM benchmarks WHERE run_id = ?`, runID); err != nil {
		return err
	}
	for _, b := range rows {
		if _, err := tx.Exec(`
			INSERT INTO benchmarks (run_id, target, cutoff, best_rmse_model, best_rmse, best_mape_model, best_mape)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, runID, b.Target, b.Cutoff, b.BestRMSEModel, b.BestRMSE, b.BestMAPEModel, b.BestMAPE); err != nil {
			return fmt.Errorf("benchmark %s@%d: %w", b.Target, b.Cutoff, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetBenchmarks(runID int64) ([]models.Benchmark, error) {
	rows, err := s.db.Query(`
		SELECT run_id, target, cutoff, best_rmse_model, best_rmse, best_mape_model, best_mape
		FROM benchmarks
		WHERE run_id = ?
		ORDER BY target, cutoff
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Benchmark
	for rows.Next() {
		var b models.Benchmark
		if err := rows.Scan(&b.RunID, &b.Target, &b.Cutoff, &b.BestRMSEModel, &b.BestRMSE, &b.BestMAPEModel, &b.BestMAPE); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
