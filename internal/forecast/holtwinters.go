package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	hwAlphas = []float64{0.1, 0.3, 0.5, 0.8}
	hwBetas  = []float64{0.01, 0.05, 0.2}
	hwGammas = []float64{0.05, 0.2, 0.5}
)

// HoltWinters is additive exponential smoothing with level, trend and a
// seasonal component. Smoothing parameters are picked from a fixed grid by
// one-step-ahead in-sample squared error.
type HoltWinters struct {
	Period int
}

func NewHoltWinters(period int) *HoltWinters {
	return &HoltWinters{Period: period}
}

func (m *HoltWinters) Name() string { return "ets" }

type hwState struct {
	level  float64
	trend  float64
	season []float64 // indexed by t % period
	sse    float64
	n      int
}

func (m *HoltWinters) Fit(ctx context.Context, series []float64) (Fitted, error) {
	p := m.Period
	if p < 1 {
		return nil, &FitError{Model: m.Name(), Err: fmt.Errorf("invalid period %d", p)}
	}
	if len(series) < 2*p {
		return nil, fmt.Errorf("ets needs %d observations, have %d: %w", 2*p, len(series), ErrInsufficientData)
	}

	var best *hwState
	for _, a := range hwAlphas {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, b := range hwBetas {
			for _, g := range hwGammas {
				st := runHoltWinters(series, p, a, b, g)
				if math.IsNaN(st.sse) || math.IsInf(st.sse, 0) {
					continue
				}
				if best == nil || st.sse < best.sse {
					best = st
				}
			}
		}
	}
	if best == nil {
		return nil, &FitError{Model: m.Name(), Err: errors.New("smoothing did not converge")}
	}

	sigma := 0.0
	if fitted := len(series) - p; fitted > 0 {
		sigma = math.Sqrt(best.sse / float64(fitted))
	}
	return &holtWintersFit{period: p, state: best, sigma: sigma}, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// runHoltWinters initialises from the first two seasons and smooths the rest.
func runHoltWinters(y []float64, p int, alpha, beta, gamma float64) *hwState {
	first, second := mean(y[:p]), mean(y[p:2*p])
	st := &hwState{
		level:  first,
		trend:  (second - first) / float64(p),
		season: make([]float64, p),
		n:      len(y),
	}
	for i := 0; i < p; i++ {
		st.season[i] = y[i] - first
	}

	for t := p; t < len(y); t++ {
		s := st.season[t%p]
		e := y[t] - (st.level + st.trend + s)
		st.sse += e * e

		level := alpha*(y[t]-s) + (1-alpha)*(st.level+st.trend)
		st.trend = beta*(level-st.level) + (1-beta)*st.trend
		st.season[t%p] = gamma*(y[t]-level) + (1-gamma)*s
		st.level = level
	}
	return st
}

type holtWintersFit struct {
	period int
	state  *hwState
	sigma  float64
}

func (f *holtWintersFit) Forecast(steps int) (Forecast, error) {
	if err := checkSteps(steps); err != nil {
		return Forecast{}, err
	}
	st := f.state
	point := make([]float64, steps)
	for h := range point {
		point[h] = st.level + float64(h+1)*st.trend + st.season[(st.n+h)%f.period]
	}
	lower, upper := interval(point, func(h int) float64 {
		return f.sigma * math.Sqrt(float64(h+1))
	})
	return Forecast{Point: point, Lower: lower, Upper: upper}, nil
}
