package forecast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

// trendSeason returns base + slope*t plus a fixed weekly pattern.
func trendSeason(n int, base, slope float64) []float64 {
	pattern := []float64{-30, -10, 0, 5, 10, 40, -15}
	y := make([]float64, n)
	for t := range y {
		y[t] = base + slope*float64(t) + pattern[t%7]
	}
	return y
}

func TestSeasonalNaive_RepeatsLastWeek(t *testing.T) {
	y := trendSeason(21, 100, 0)
	fit, err := NewSeasonalNaive(7).Fit(context.Background(), y)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	fc, err := fit.Forecast(10)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(fc.Point) != 10 {
		t.Fatalf("len(Point) = %d, want 10", len(fc.Point))
	}
	for h, v := range fc.Point {
		if want := y[14+h%7]; v != want {
			t.Errorf("Point[%d] = %v, want %v", h, v, want)
		}
	}
	// A flat seasonal series has zero seasonal-difference spread.
	if fc.Lower[0] != fc.Point[0] || fc.Upper[0] != fc.Point[0] {
		t.Errorf("interval = [%v, %v], want degenerate at %v", fc.Lower[0], fc.Upper[0], fc.Point[0])
	}
}

func TestSeasonalNaive_InsufficientData(t *testing.T) {
	_, err := NewSeasonalNaive(7).Fit(context.Background(), []float64{1, 2, 3})
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestForecast_InvalidSteps(t *testing.T) {
	fit, err := NewSeasonalNaive(7).Fit(context.Background(), trendSeason(14, 10, 0))
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if _, err := fit.Forecast(0); err == nil {
		t.Error("expected error for zero steps")
	}
}

func TestHoltWinters_TracksTrendAndSeason(t *testing.T) {
	y := trendSeason(140, 500, 2)
	fit, err := NewHoltWinters(7).Fit(context.Background(), y)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	fc, err := fit.Forecast(14)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	truth := trendSeason(154, 500, 2)[140:]
	for h := range truth {
		if diff := math.Abs(fc.Point[h] - truth[h]); diff > 15 {
			t.Errorf("Point[%d] = %.1f, want %.1f (diff %.1f)", h, fc.Point[h], truth[h], diff)
		}
		if fc.Lower[h] > fc.Point[h] || fc.Upper[h] < fc.Point[h] {
			t.Errorf("interval [%v, %v] does not contain %v", fc.Lower[h], fc.Upper[h], fc.Point[h])
		}
	}
}

func TestHoltWinters_InsufficientData(t *testing.T) {
	_, err := NewHoltWinters(7).Fit(context.Background(), trendSeason(10, 1, 0))
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestAutoARIMA_Forecast(t *testing.T) {
	y := make([]float64, 120)
	y[0] = 100
	for i := 1; i < len(y); i++ {
		y[i] = 50 + 0.5*y[i-1] + 5*math.Sin(float64(i))
	}

	fit, err := Fit(context.Background(), NewAutoARIMA(), y)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	fc, err := fit.Forecast(30)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(fc.Point) != 30 {
		t.Errorf("len(Point) = %d, want 30", len(fc.Point))
	}
}

func TestAutoARIMA_InsufficientData(t *testing.T) {
	_, err := NewAutoARIMA().Fit(context.Background(), trendSeason(20, 1, 0))
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestSARIMA_InsufficientData(t *testing.T) {
	_, err := NewWeeklySARIMA().Fit(context.Background(), trendSeason(30, 1, 0))
	if !errors.Is(err, ErrInsufficientData) {
		t.Errorf("err = %v, want ErrInsufficientData", err)
	}
}

func TestSARIMA_Forecast(t *testing.T) {
	y := trendSeason(140, 200, 0.5)
	for i := range y {
		y[i] += 3 * math.Sin(1.7*float64(i))
	}

	fit, err := Fit(context.Background(), NewWeeklySARIMA(), y)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	fc, err := fit.Forecast(21)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(fc.Point) != 21 || len(fc.Lower) != 21 || len(fc.Upper) != 21 {
		t.Fatalf("lengths = %d/%d/%d, want 21", len(fc.Point), len(fc.Lower), len(fc.Upper))
	}
	for h := range fc.Point {
		if math.IsNaN(fc.Point[h]) || math.IsInf(fc.Point[h], 0) {
			t.Fatalf("Point[%d] = %v, want finite", h, fc.Point[h])
		}
		if fc.Lower[h] > fc.Point[h] || fc.Point[h] > fc.Upper[h] {
			t.Errorf("h=%d: interval [%v, %v] does not contain %v", h, fc.Lower[h], fc.Upper[h], fc.Point[h])
		}
	}
}

type panicModel struct{}

func (panicModel) Name() string { return "panic" }
func (panicModel) Fit(context.Context, []float64) (Fitted, error) {
	var m map[string]int
	m["boom"]++
	return nil, nil
}

type slowModel struct{ release chan struct{} }

func (slowModel) Name() string { return "slow" }
func (m slowModel) Fit(context.Context, []float64) (Fitted, error) {
	<-m.release
	return nil, errors.New("released")
}

type nilModel struct{}

func (nilModel) Name() string                                   { return "nil" }
func (nilModel) Fit(context.Context, []float64) (Fitted, error) { return nil, nil }

func TestFit_RecoversPanic(t *testing.T) {
	_, err := Fit(context.Background(), panicModel{}, []float64{1})
	var fe *FitError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FitError", err)
	}
	if fe.Model != "panic" {
		t.Errorf("Model = %q, want panic", fe.Model)
	}
}

func TestFit_NilFitIsError(t *testing.T) {
	var fe *FitError
	if _, err := Fit(context.Background(), nilModel{}, []float64{1}); !errors.As(err, &fe) {
		t.Errorf("err = %v, want *FitError", err)
	}
}

func TestFit_Cancelled(t *testing.T) {
	m := slowModel{release: make(chan struct{})}
	defer close(m.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := Fit(ctx, m, []float64{1}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

type failModel struct{ err error }

func (failModel) Name() string { return "fail" }
func (m failModel) Fit(context.Context, []float64) (Fitted, error) {
	return nil, m.err
}

func TestEnsemble(t *testing.T) {
	y := trendSeason(28, 100, 0)

	t.Run("averages members", func(t *testing.T) {
		e := NewEnsemble("pair", NewSeasonalNaive(7), NewSeasonalNaive(7))
		fit, err := e.Fit(context.Background(), y)
		if err != nil {
			t.Fatalf("Fit: %v", err)
		}
		fc, err := fit.Forecast(7)
		if err != nil {
			t.Fatalf("Forecast: %v", err)
		}
		for h, v := range fc.Point {
			if v != y[21+h] {
				t.Errorf("Point[%d] = %v, want %v", h, v, y[21+h])
			}
		}
		if fc.Lower == nil {
			t.Error("expected intervals when every member has them")
		}
	})

	t.Run("skips failing member", func(t *testing.T) {
		e := NewEnsemble("partial", failModel{err: errors.New("diverged")}, NewSeasonalNaive(7))
		fit, err := e.Fit(context.Background(), y)
		if err != nil {
			t.Fatalf("Fit: %v", err)
		}
		if n := len(fit.(*ensembleFit).members); n != 1 {
			t.Errorf("members = %d, want 1", n)
		}
	})

	t.Run("all members fail", func(t *testing.T) {
		e := NewEnsemble("broken", failModel{err: errors.New("a")}, failModel{err: errors.New("b")})
		_, err := e.Fit(context.Background(), y)
		var fe *FitError
		if !errors.As(err, &fe) || fe.Model != "broken" {
			t.Errorf("err = %v, want *FitError for broken", err)
		}
	})

	t.Run("all members short", func(t *testing.T) {
		e := NewEnsemble("short", NewHoltWinters(7), NewSeasonalNaive(7))
		if _, err := e.Fit(context.Background(), y[:3]); !errors.Is(err, ErrInsufficientData) {
			t.Errorf("err = %v, want ErrInsufficientData", err)
		}
	})

	t.Run("transient failure propagates", func(t *testing.T) {
		e := NewEnsemble("flaky", failModel{err: ErrTransient}, NewSeasonalNaive(7))
		if _, err := e.Fit(context.Background(), y); !errors.Is(err, ErrTransient) {
			t.Errorf("err = %v, want ErrTransient", err)
		}
	})
}

func TestLookup(t *testing.T) {
	models, err := Lookup([]string{"snaive", " ets ", "snaive"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	if models[0].Name() != "snaive" || models[1].Name() != "ets" {
		t.Errorf("names = %s, %s", models[0].Name(), models[1].Name())
	}

	if _, err := Lookup([]string{"xgboost"}); err == nil {
		t.Error("expected error for unknown model")
	}
	if _, err := Lookup(nil); err == nil {
		t.Error("expected error for empty model list")
	}
	for _, name := range DefaultModels {
		if _, err := Lookup([]string{name}); err != nil {
			t.Errorf("default model %q not registered: %v", name, err)
		}
	}
}
