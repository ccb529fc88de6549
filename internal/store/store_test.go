package store

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chediazfadel/salescast/internal/models"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testObservation(site string, date time.Time, dayID2 int) models.Observation {
	return models.Observation{
		SiteID:      site,
		Date:        date,
		WeekID:      2,
		DayName:     date.Weekday().String(),
		Holiday:     "NONE",
		DayType:     "WEEKDAY",
		InsideSales: 2000 + float64(dayID2),
		FoodService: 700,
		Diesel:      1300,
		Unleaded:    2800,
		DayID:       dayID2,
		DayID2:      dayID2,
		Date2:       day(2021, 1, 1).AddDate(0, 0, dayID2-1),
	}
}

func TestUpsertAndGetSites(t *testing.T) {
	store := setupTestStore(t)

	if err := store.UpsertSite(models.Site{SiteID: "21560", Attributes: `{"square_feet":"5046"}`}); err != nil {
		t.Fatalf("UpsertSite: %v", err)
	}
	if err := store.UpsertSite(models.Site{SiteID: "22015"}); err != nil {
		t.Fatalf("UpsertSite: %v", err)
	}
	// an attribute-less upsert must not wipe known attributes
	if err := store.UpsertSite(models.Site{SiteID: "21560", Attributes: "{}"}); err != nil {
		t.Fatalf("UpsertSite: %v", err)
	}

	sites, err := store.GetSites()
	if err != nil {
		t.Fatalf("GetSites: %v", err)
	}
	if len(sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(sites))
	}
	if sites[0].SiteID != "21560" || sites[0].Attributes != `{"square_feet":"5046"}` {
		t.Errorf("unexpected site %+v", sites[0])
	}
	if sites[1].Attributes != "{}" {
		t.Errorf("default attributes = %q", sites[1].Attributes)
	}
}

func TestReplaceAndGetCalendar(t *testing.T) {
	store := setupTestStore(t)

	days := []models.CalendarDay{
		{Date: day(2021, 12, 30), WeekID: 52, Year: 2021, DayID: 364},
		{Date: day(2021, 12, 31), WeekID: 1, Year: 2022, DayID: 1},
	}
	if err := store.ReplaceCalendar(days); err != nil {
		t.Fatalf("ReplaceCalendar: %v", err)
	}
	days[1].DayID = 2
	if err := store.ReplaceCalendar(days[1:]); err != nil {
		t.Fatalf("ReplaceCalendar: %v", err)
	}

	got, err := store.GetCalendar()
	if err != nil {
		t.Fatalf("GetCalendar: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 days, got %d", len(got))
	}
	if !got[0].Date.Equal(day(2021, 12, 30)) || got[0].WeekID != 52 {
		t.Errorf("first day = %+v", got[0])
	}
	if got[1].Year != 2022 || got[1].DayID != 2 {
		t.Errorf("replaced day = %+v", got[1])
	}
}

func TestInsertObservations_UpsertsByKey(t *testing.T) {
	store := setupTestStore(t)
	if err := store.UpsertSite(models.Site{SiteID: "21560"}); err != nil {
		t.Fatal(err)
	}

	obs := []models.Observation{
		testObservation("21560", day(2021, 1, 1), 1),
		testObservation("21560", day(2021, 1, 2), 2),
	}
	obs[1].QualityFlags = sql.NullString{String: `["no_sales_day"]`, Valid: true}

	n, err := store.InsertObservations(obs)
	if err != nil {
		t.Fatalf("InsertObservations: %v", err)
	}
	if n != 2 {
		t.Errorf("stored %d, want 2", n)
	}

	n, err = store.InsertObservations(obs)
	if err != nil {
		t.Fatalf("InsertObservations again: %v", err)
	}
	if n != 0 {
		t.Errorf("identical insert stored %d, want 0", n)
	}

	reindexed := []models.Observation{obs[0], obs[1]}
	reindexed[1].DayID, reindexed[1].DayID2, reindexed[1].WeekID = 5, 5, 1
	reindexed[1].Date2 = day(2021, 1, 5)
	n, err = store.InsertObservations(reindexed)
	if err != nil {
		t.Fatalf("InsertObservations reindexed: %v", err)
	}
	if n != 1 {
		t.Errorf("reindexed insert stored %d, want 1", n)
	}

	got, err := store.GetObservations("21560")
	if err != nil {
		t.Fatalf("GetObservations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(got))
	}
	if !got[1].Date2.Equal(day(2021, 1, 5)) || got[1].DayID2 != 5 || got[1].WeekID != 1 || got[1].DayName != "Saturday" {
		t.Errorf("unexpected observation %+v", got[1])
	}
	if got[0].QualityFlags.Valid || got[1].QualityFlags.String != `["no_sales_day"]` {
		t.Errorf("quality flags = %v / %v", got[0].QualityFlags, got[1].QualityFlags)
	}
}

func TestGetPanel_Ordering(t *testing.T) {
	store := setupTestStore(t)
	for _, site := range []string{"B", "A"} {
		if err := store.UpsertSite(models.Site{SiteID: site}); err != nil {
			t.Fatal(err)
		}
	}

	obs := []models.Observation{
		testObservation("B", day(2021, 1, 2), 2),
		testObservation("A", day(2021, 1, 2), 2),
		testObservation("B", day(2021, 1, 1), 1),
		testObservation("A", day(2021, 1, 1), 1),
	}
	if _, err := store.InsertObservations(obs); err != nil {
		t.Fatalf("InsertObservations: %v", err)
	}

	panel, err := store.GetPanel()
	if err != nil {
		t.Fatalf("GetPanel: %v", err)
	}
	want := []struct {
		site string
		id   int
	}{{"A", 1}, {"A", 2}, {"B", 1}, {"B", 2}}
	if len(panel) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(panel))
	}
	for i, w := range want {
		if panel[i].SiteID != w.site || panel[i].DayID2 != w.id {
			t.Errorf("row %d = %s/%d, want %s/%d", i, panel[i].SiteID, panel[i].DayID2, w.site, w.id)
		}
	}
}

func TestBacktestRun_StartAndComplete(t *testing.T) {
	store := setupTestStore(t)

	if id, err := store.LatestRunID(); err != nil || id != 0 {
		t.Fatalf("LatestRunID on empty store = %d, %v", id, err)
	}

	run, err := store.StartBacktestRun("snaive,ets", "diesel", "14,21,183")
	if err != nil {
		t.Fatalf("StartBacktestRun: %v", err)
	}
	if run.ID == 0 {
		t.Fatal("expected run id")
	}

	run.UnitsScheduled = sql.NullInt64{Int64: 9, Valid: true}
	run.UnitsSucceeded = sql.NullInt64{Int64: 8, Valid: true}
	run.UnitsFailed = sql.NullInt64{Int64: 1, Valid: true}
	run.Success = true
	if err := store.CompleteBacktestRun(run); err != nil {
		t.Fatalf("CompleteBacktestRun: %v", err)
	}

	failed, err := store.StartBacktestRun("arima", "diesel", "1..365")
	if err != nil {
		t.Fatalf("StartBacktestRun: %v", err)
	}
	failed.ErrorMessage = sql.NullString{String: "context canceled", Valid: true}
	if err := store.CompleteBacktestRun(failed); err != nil {
		t.Fatalf("CompleteBacktestRun: %v", err)
	}

	got, err := store.GetBacktestRun(run.ID)
	if err != nil {
		t.Fatalf("GetBacktestRun: %v", err)
	}
	if got == nil || !got.Success || !got.FinishedAt.Valid || got.UnitsFailed.Int64 != 1 || got.Models != "snaive,ets" {
		t.Errorf("unexpected run %+v", got)
	}

	latest, err := store.LatestRunID()
	if err != nil {
		t.Fatalf("LatestRunID: %v", err)
	}
	if latest != run.ID {
		t.Errorf("LatestRunID = %d, want successful run %d", latest, run.ID)
	}

	recent, err := store.GetRecentRuns(10)
	if err != nil {
		t.Fatalf("GetRecentRuns: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != failed.ID || recent[0].ErrorMessage.String != "context canceled" {
		t.Errorf("unexpected recent runs %+v", recent)
	}

	missing, err := store.GetBacktestRun(9999)
	if err != nil || missing != nil {
		t.Errorf("missing run = %+v, %v", missing, err)
	}
}

func TestResultsAndBenchmarks_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.StartBacktestRun("snaive", "diesel", "14")
	if err != nil {
		t.Fatal(err)
	}

	results := []models.BacktestResult{
		{SiteID: "A", Target: "diesel", Model: "snaive", StartInit: 14, Horizon: 10, FC: 100, Pre: 50, Post: 90,
			Sales: 140, TPred: 150, Er: 10, RMSE: 10, MAE: 10, MAPE: sql.NullFloat64{Float64: 7.14, Valid: true},
			StepRMSE: 3, StepMAE: 2, RMSERoll: 10, MAERoll: 10, MAPERoll: sql.NullFloat64{Float64: 7.14, Valid: true}},
		{SiteID: "A", Target: "unleaded", Model: "snaive", StartInit: 14, Horizon: 10, FC: 5, Sales: 0},
	}
	if err := store.InsertResults(run.ID, results); err != nil {
		t.Fatalf("InsertResults: %v", err)
	}

	got, err := store.GetResults(run.ID, "diesel", "")
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 diesel result, got %d", len(got))
	}
	r := got[0]
	if r.RunID != run.ID || r.Er != 10 || r.Horizon != 10 || !r.MAPE.Valid || r.StepMAPE.Valid {
		t.Errorf("unexpected result %+v", r)
	}

	all, err := store.GetResults(run.ID, "", "")
	if err != nil {
		t.Fatalf("GetResults: %v", err)
	}
	if len(all) != 2 || all[1].MAPE.Valid {
		t.Errorf("expected zero-sales row with NULL mape, got %+v", all)
	}

	bench := []models.Benchmark{
		{Target: "diesel", Cutoff: 14, BestRMSEModel: "snaive", BestRMSE: 10,
			BestMAPEModel: sql.NullString{String: "snaive", Valid: true}, BestMAPE: sql.NullFloat64{Float64: 7.14, Valid: true}},
		{Target: "unleaded", Cutoff: 14, BestRMSEModel: "snaive", BestRMSE: 5},
	}
	if err := store.InsertBenchmarks(run.ID, bench); err != nil {
		t.Fatalf("InsertBenchmarks: %v", err)
	}
	if err := store.InsertBenchmarks(run.ID, bench); err != nil {
		t.Fatalf("InsertBenchmarks twice: %v", err)
	}

	gotBench, err := store.GetBenchmarks(run.ID)
	if err != nil {
		t.Fatalf("GetBenchmarks: %v", err)
	}
	if len(gotBench) != 2 {
		t.Fatalf("expected 2 benchmarks, got %d", len(gotBench))
	}
	if gotBench[0].BestMAPEModel.String != "snaive" || gotBench[1].BestMAPEModel.Valid {
		t.Errorf("unexpected benchmarks %+v", gotBench)
	}
}

func TestSourceFiles_Dedupe(t *testing.T) {
	store := setupTestStore(t)
	payload := []byte("site_id,date\n21560,2021-01-01\n")

	id, err := store.StoreSourceFile("time_series", "series.csv", payload)
	if err != nil {
		t.Fatalf("StoreSourceFile: %v", err)
	}
	if id == 0 {
		t.Fatal("expected id for new file")
	}

	dup, err := store.StoreSourceFile("time_series", "copy.csv", payload)
	if err != nil {
		t.Fatalf("StoreSourceFile duplicate: %v", err)
	}
	if dup != 0 {
		t.Errorf("duplicate id = %d, want 0", dup)
	}

	got, err := store.GetSourceFile(id)
	if err != nil {
		t.Fatalf("GetSourceFile: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q", got)
	}

	removed, err := store.CleanupOldSourceFiles(30)
	if err != nil {
		t.Fatalf("CleanupOldSourceFiles: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed %d fresh files", removed)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)

	if err := store.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	version, err := store.MigrationVersion()
	if err != nil {
		t.Fatalf("MigrationVersion: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", version, len(migrations))
	}
}
