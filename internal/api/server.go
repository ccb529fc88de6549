package api

import (
	"context"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chediazfadel/salescast/internal/models"
)

// Store is the read side of the result store the server needs.
type Store interface {
	GetSites() ([]models.Site, error)
	GetObservations(siteID string) ([]models.Observation, error)
	LatestRunID() (int64, error)
	GetBacktestRun(id int64) (*models.BacktestRun, error)
	GetRecentRuns(limit int) ([]models.BacktestRun, error)
	GetResults(runID int64, target, model string) ([]models.BacktestResult, error)
	GetBenchmarks(runID int64) ([]models.Benchmark, error)
	MigrationVersion() (int, error)
}

type Server struct {
	store Store
	addr  string
	tmpl  *template.Template
}

func NewServer(store Store, addr string) *Server {
	return &Server{
		store: store,
		addr:  addr,
		tmpl:  newTemplates(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/sites", s.handleAPISites)
	mux.HandleFunc("/api/sites/{id}/observations", s.handleAPIObservations)
	mux.HandleFunc("/api/runs", s.handleAPIRuns)
	mux.HandleFunc("/api/runs/latest", s.handleAPILatestRun)
	mux.HandleFunc("/api/results", s.handleAPIResults)
	mux.HandleFunc("/api/benchmark", s.handleAPIBenchmark)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type HealthStatus struct {
	Status           string   `json:"status"`
	SchemaVersion    int      `json:"schema_version"`
	Sites            int      `json:"sites"`
	LatestRunID      int64    `json:"latest_run_id,omitempty"`
	LatestRunFinish  string   `json:"latest_run_finished_at,omitempty"`
	LastRunSucceeded *bool    `json:"last_run_succeeded,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	version, err := s.store.MigrationVersion()
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{Status: "ok", SchemaVersion: version}

	if sites, err := s.store.GetSites(); err != nil {
		health.Errors = append(health.Errors, "sites: "+err.Error())
	} else {
		health.Sites = len(sites)
	}

	if id, err := s.store.LatestRunID(); err != nil {
		health.Errors = append(health.Errors, "latest run: "+err.Error())
	} else if id > 0 {
		health.LatestRunID = id
		if run, err := s.store.GetBacktestRun(id); err == nil && run != nil && run.FinishedAt.Valid {
			health.LatestRunFinish = run.FinishedAt.Time.UTC().Format(time.RFC3339)
		}
	}

	if recent, err := s.store.GetRecentRuns(1); err == nil && len(recent) == 1 && recent[0].FinishedAt.Valid {
		ok := recent[0].Success
		health.LastRunSucceeded = &ok
		if !ok {
			health.Status = "degraded"
		}
	}
	if len(health.Errors) > 0 {
		health.Status = "degraded"
	}

	json.NewEncoder(w).Encode(health)
}
