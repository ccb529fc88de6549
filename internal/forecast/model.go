// Package forecast holds the candidate forecasting models evaluated by the
// backtester. Each model fits a daily series and returns a fitted value that
// can forecast any number of days past the end of that series.
package forecast

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData means the series is too short for the model; the
	// cutoff is skipped rather than scored.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrTransient marks a failure worth retrying with the same inputs.
	ErrTransient = errors.New("transient fit failure")
)

// FitError is a model failing on a particular series.
type FitError struct {
	Model string
	Err   error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fit %s: %v", e.Model, e.Err)
}

func (e *FitError) Unwrap() error { return e.Err }

// Forecast is a sequence of daily point predictions. Lower and Upper are the
// bounds of a prediction interval and are nil when the model has none.
type Forecast struct {
	Point []float64
	Lower []float64
	Upper []float64
}

// Sum returns the total of the point forecasts.
func (f Forecast) Sum() float64 {
	var total float64
	for _, v := range f.Point {
		total += v
	}
	return total
}

type Model interface {
	Name() string
	Fit(ctx context.Context, series []float64) (Fitted, error)
}

type Fitted interface {
	Forecast(steps int) (Forecast, error)
}

type fitResult struct {
	fitted Fitted
	err    error
}

// Fit runs m.Fit on series. A panic inside the model becomes a *FitError, and
// a cancelled ctx abandons the fit and returns ctx.Err().
func Fit(ctx context.Context, m Model, series []float64) (Fitted, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := make(chan fitResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fitResult{err: &FitError{Model: m.Name(), Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		f, err := m.Fit(ctx, series)
		done <- fitResult{fitted: f, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err == nil && res.fitted == nil {
			return nil, &FitError{Model: m.Name(), Err: errors.New("model returned no fit")}
		}
		return res.fitted, res.err
	}
}

func checkSteps(steps int) error {
	if steps < 1 {
		return fmt.Errorf("forecast steps must be at least 1, got %d", steps)
	}
	return nil
}

// z95 is the two-sided 95% normal quantile.
const z95 = 1.959964

func interval(point []float64, se func(h int) float64) (lower, upper []float64) {
	lower = make([]float64, len(point))
	upper = make([]float64, len(point))
	for h, p := range point {
		w := z95 * se(h)
		lower[h] = p - w
		upper[h] = p + w
	}
	return lower, upper
}
