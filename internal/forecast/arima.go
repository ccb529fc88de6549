package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sartorproj/goarima/autoarima"
	"github.com/sartorproj/goarima/sarima"
	"github.com/sartorproj/goarima/timeseries"
)

// AutoARIMA selects a non-seasonal ARIMA order by stepwise AIC search.
type AutoARIMA struct {
	Config          *autoarima.Config
	MinObservations int
}

func NewAutoARIMA() *AutoARIMA {
	cfg := autoarima.DefaultConfig()
	cfg.MaxP = 3
	cfg.MaxQ = 3
	return &AutoARIMA{Config: cfg, MinObservations: 30}
}

func (m *AutoARIMA) Name() string { return "arima" }

func (m *AutoARIMA) Fit(_ context.Context, series []float64) (Fitted, error) {
	if len(series) < m.MinObservations {
		return nil, fmt.Errorf("arima needs %d observations, have %d: %w", m.MinObservations, len(series), ErrInsufficientData)
	}

	values := make([]float64, len(series))
	copy(values, series)

	res, err := autoarima.AutoARIMA(timeseries.New(values), m.Config)
	if err != nil {
		return nil, &FitError{Model: m.Name(), Err: err}
	}
	if res == nil || (res.Model == nil && res.SeasonalModel == nil) {
		return nil, &FitError{Model: m.Name(), Err: errors.New("no candidate order could be fitted")}
	}
	return &autoARIMAFit{res: res}, nil
}

type autoARIMAFit struct {
	res *autoarima.Result
}

func (f *autoARIMAFit) Forecast(steps int) (Forecast, error) {
	if err := checkSteps(steps); err != nil {
		return Forecast{}, err
	}
	if f.res.IsSeasonal && f.res.SeasonalModel != nil {
		point, lower, upper, err := f.res.SeasonalModel.PredictWithInterval(steps, 0.95)
		if err != nil {
			return Forecast{}, err
		}
		return Forecast{Point: point, Lower: lower, Upper: upper}, nil
	}

	point, err := f.res.Predict(steps)
	if err != nil {
		return Forecast{}, err
	}
	if len(point) != steps {
		return Forecast{}, fmt.Errorf("arima returned %d of %d forecasts", len(point), steps)
	}

	se := math.Sqrt(f.res.Model.Variance)
	integrated := f.res.D > 0
	lower, upper := interval(point, func(h int) float64 {
		if integrated {
			return se * math.Sqrt(float64(h+1))
		}
		return se
	})
	return Forecast{Point: point, Lower: lower, Upper: upper}, nil
}

// SARIMA is a fixed-order seasonal ARIMA, weekly by default.
type SARIMA struct {
	Order sarima.Order
}

// NewWeeklySARIMA returns SARIMA(1,0,1)(0,1,1)[7].
func NewWeeklySARIMA() *SARIMA {
	return &SARIMA{Order: sarima.Order{P: 1, D: 0, Q: 1, SP: 0, SD: 1, SQ: 1, M: 7}}
}

func (m *SARIMA) Name() string { return "sarima" }

func (m *SARIMA) minObservations() int {
	o := m.Order
	return o.P + o.Q + o.D + (o.SP+o.SD+o.SQ)*o.M + 20
}

func (m *SARIMA) Fit(_ context.Context, series []float64) (Fitted, error) {
	if need := m.minObservations(); len(series) < need {
		return nil, fmt.Errorf("sarima needs %d observations, have %d: %w", need, len(series), ErrInsufficientData)
	}

	values := make([]float64, len(series))
	copy(values, series)

	o := m.Order
	model := sarima.New(o.P, o.D, o.Q, o.SP, o.SD, o.SQ, o.M)
	if err := model.Fit(timeseries.New(values)); err != nil {
		return nil, &FitError{Model: m.Name(), Err: err}
	}
	return &sarimaFit{model: model}, nil
}

type sarimaFit struct {
	model *sarima.Model
}

func (f *sarimaFit) Forecast(steps int) (Forecast, error) {
	if err := checkSteps(steps); err != nil {
		return Forecast{}, err
	}
	point, lower, upper, err := f.model.PredictWithInterval(steps, 0.95)
	if err != nil {
		return Forecast{}, err
	}
	return Forecast{Point: point, Lower: lower, Upper: upper}, nil
}
