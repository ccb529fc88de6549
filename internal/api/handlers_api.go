package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/chediazfadel/salescast/internal/models"
)

type siteView struct {
	SiteID     string          `json:"site_id"`
	Attributes json.RawMessage `json:"attributes"`
}

type observationView struct {
	Date         string          `json:"date"`
	WeekID       int             `json:"week_id"`
	DayID        int             `json:"day_id"`
	DayID2       int             `json:"day_id2"`
	Date2        string          `json:"date2"`
	DayType      string          `json:"day_type"`
	Holiday      string          `json:"holiday"`
	InsideSales  float64         `json:"inside_sales"`
	FoodService  float64         `json:"food_service"`
	Diesel       float64         `json:"diesel"`
	Unleaded     float64         `json:"unleaded"`
	QualityFlags json.RawMessage `json:"quality_flags"`
}

type runView struct {
	ID             int64   `json:"id"`
	StartedAt      string  `json:"started_at"`
	FinishedAt     *string `json:"finished_at"`
	Models         string  `json:"models"`
	Targets        string  `json:"targets"`
	Cutoffs        string  `json:"cutoffs"`
	UnitsScheduled *int64  `json:"units_scheduled"`
	UnitsSucceeded *int64  `json:"units_succeeded"`
	UnitsFailed    *int64  `json:"units_failed"`
	Success        bool    `json:"success"`
	Error          *string `json:"error,omitempty"`
}

type resultView struct {
	SiteID    string   `json:"site_id"`
	Target    string   `json:"target_metric"`
	Model     string   `json:"model_name"`
	StartInit int      `json:"start_init"`
	Horizon   int      `json:"horizon"`
	FC        float64  `json:"fc"`
	Pre       float64  `json:"pre"`
	Post      float64  `json:"post"`
	Sales     float64  `json:"sales"`
	TPred     float64  `json:"tpred"`
	Er        float64  `json:"er"`
	RMSE      float64  `json:"rmse"`
	MAE       float64  `json:"mae"`
	MAPE      *float64 `json:"mape"`
	StepRMSE  float64  `json:"step_rmse"`
	StepMAE   float64  `json:"step_mae"`
	StepMAPE  *float64 `json:"step_mape"`
	RMSERoll  float64  `json:"rmse_roll"`
	MAERoll   float64  `json:"mae_roll"`
	MAPERoll  *float64 `json:"mape_roll"`
}

type benchmarkView struct {
	Target        string   `json:"target_metric"`
	Cutoff        int      `json:"cutoff"`
	BestRMSEModel string   `json:"best_rmse_model"`
	BestRMSE      float64  `json:"best_rmse"`
	BestMAPEModel *string  `json:"best_mape_model"`
	BestMAPE      *float64 `json:"best_mape"`
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	str := v.String
	return &str
}

func newRunView(r models.BacktestRun) runView {
	v := runView{
		ID:             r.ID,
		StartedAt:      r.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Models:         r.Models,
		Targets:        r.Targets,
		Cutoffs:        r.Cutoffs,
		UnitsScheduled: nullInt(r.UnitsScheduled),
		UnitsSucceeded: nullInt(r.UnitsSucceeded),
		UnitsFailed:    nullInt(r.UnitsFailed),
		Success:        r.Success,
		Error:          nullString(r.ErrorMessage),
	}
	if r.FinishedAt.Valid {
		f := r.FinishedAt.Time.UTC().Format("2006-01-02T15:04:05Z")
		v.FinishedAt = &f
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// runID resolves the run query parameter, defaulting to the latest
// successful run, and writes the error response itself when it fails. The id
// is 0 when there is no run to show.
func (s *Server) runID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if raw := r.URL.Query().Get("run"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 1 {
			http.Error(w, fmt.Sprintf("invalid run %q", raw), http.StatusBadRequest)
			return 0, false
		}
		return id, true
	}
	id, err := s.store.LatestRunID()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return 0, false
	}
	return id, true
}

func (s *Server) handleAPISites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.store.GetSites()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]siteView, 0, len(sites))
	for _, site := range sites {
		attrs := json.RawMessage(site.Attributes)
		if !json.Valid(attrs) {
			attrs = json.RawMessage("{}")
		}
		out = append(out, siteView{SiteID: site.SiteID, Attributes: attrs})
	}
	writeJSON(w, out)
}

func (s *Server) handleAPIObservations(w http.ResponseWriter, r *http.Request) {
	site := r.PathValue("id")
	obs, err := s.store.GetObservations(site)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(obs) == 0 {
		http.Error(w, fmt.Sprintf("no observations for site %q", site), http.StatusNotFound)
		return
	}
	out := make([]observationView, 0, len(obs))
	for _, o := range obs {
		flags := json.RawMessage("null")
		if o.QualityFlags.Valid && json.Valid([]byte(o.QualityFlags.String)) {
			flags = json.RawMessage(o.QualityFlags.String)
		}
		out = append(out, observationView{
			Date: o.Date.Format(time.DateOnly), WeekID: o.WeekID,
			DayID: o.DayID, DayID2: o.DayID2, Date2: o.Date2.Format(time.DateOnly),
			DayType: o.DayType, Holiday: o.Holiday,
			InsideSales: o.InsideSales, FoodService: o.FoodService, Diesel: o.Diesel, Unleaded: o.Unleaded,
			QualityFlags: flags,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	runs, err := s.store.GetRecentRuns(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]runView, 0, len(runs))
	for _, run := range runs {
		out = append(out, newRunView(run))
	}
	writeJSON(w, out)
}

func (s *Server) handleAPILatestRun(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.LatestRunID()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if id == 0 {
		http.Error(w, "no completed backtest run", http.StatusNotFound)
		return
	}
	run, err := s.store.GetBacktestRun(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, newRunView(*run))
}

func (s *Server) handleAPIResults(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target != "" && !models.ValidTarget(target) {
		http.Error(w, fmt.Sprintf("unknown target %q", target), http.StatusBadRequest)
		return
	}
	id, ok := s.runID(w, r)
	if !ok {
		return
	}

	out := []resultView{}
	if id > 0 {
		results, err := s.store.GetResults(id, target, r.URL.Query().Get("model"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for _, res := range results {
			out = append(out, resultView{
				SiteID: res.SiteID, Target: res.Target, Model: res.Model,
				StartInit: res.StartInit, Horizon: res.Horizon,
				FC: res.FC, Pre: res.Pre, Post: res.Post, Sales: res.Sales, TPred: res.TPred, Er: res.Er,
				RMSE: res.RMSE, MAE: res.MAE, MAPE: nullFloat(res.MAPE),
				StepRMSE: res.StepRMSE, StepMAE: res.StepMAE, StepMAPE: nullFloat(res.StepMAPE),
				RMSERoll: res.RMSERoll, MAERoll: res.MAERoll, MAPERoll: nullFloat(res.MAPERoll),
			})
		}
	}
	writeJSON(w, out)
}

func (s *Server) benchmarkViews(id int64) ([]benchmarkView, error) {
	out := []benchmarkView{}
	if id == 0 {
		return out, nil
	}
	rows, err := s.store.GetBenchmarks(id)
	if err != nil {
		return nil, err
	}
	for _, b := range rows {
		out = append(out, benchmarkView{
			Target:        b.Target,
			Cutoff:        b.Cutoff,
			BestRMSEModel: b.BestRMSEModel,
			BestRMSE:      b.BestRMSE,
			BestMAPEModel: nullString(b.BestMAPEModel),
			BestMAPE:      nullFloat(b.BestMAPE),
		})
	}
	return out, nil
}

func (s *Server) handleAPIBenchmark(w http.ResponseWriter, r *http.Request) {
	id, ok := s.runID(w, r)
	if !ok {
		return
	}
	out, err := s.benchmarkViews(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}
