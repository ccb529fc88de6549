package forecast

import (
	"context"
	"fmt"
	"math"
)

// SeasonalNaive repeats the last observed season, "repeat last week" for a
// period of 7.
type SeasonalNaive struct {
	Period int
}

func NewSeasonalNaive(period int) *SeasonalNaive {
	return &SeasonalNaive{Period: period}
}

func (m *SeasonalNaive) Name() string { return "snaive" }

func (m *SeasonalNaive) Fit(_ context.Context, series []float64) (Fitted, error) {
	if m.Period < 1 {
		return nil, &FitError{Model: m.Name(), Err: fmt.Errorf("invalid period %d", m.Period)}
	}
	n := len(series)
	if n < m.Period {
		return nil, fmt.Errorf("snaive needs %d observations, have %d: %w", m.Period, n, ErrInsufficientData)
	}

	last := make([]float64, m.Period)
	copy(last, series[n-m.Period:])

	var ss float64
	count := 0
	for t := m.Period; t < n; t++ {
		d := series[t] - series[t-m.Period]
		ss += d * d
		count++
	}
	sd := 0.0
	if count > 0 {
		sd = math.Sqrt(ss / float64(count))
	}

	return &seasonalNaiveFit{period: m.Period, last: last, sd: sd}, nil
}

type seasonalNaiveFit struct {
	period int
	last   []float64
	sd     float64
}

func (f *seasonalNaiveFit) Forecast(steps int) (Forecast, error) {
	if err := checkSteps(steps); err != nil {
		return Forecast{}, err
	}
	point := make([]float64, steps)
	for h := range point {
		point[h] = f.last[h%f.period]
	}
	lower, upper := interval(point, func(h int) float64 {
		return f.sd * math.Sqrt(float64(h/f.period+1))
	})
	return Forecast{Point: point, Lower: lower, Upper: upper}, nil
}
