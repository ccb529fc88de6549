package forecast

import (
	"context"
	"errors"
	"fmt"
)

// Ensemble averages the forecasts of its members. Members that fail to fit
// are left out; the ensemble fails only when none fit.
type Ensemble struct {
	name    string
	Members []Model
}

func NewEnsemble(name string, members ...Model) *Ensemble {
	return &Ensemble{name: name, Members: members}
}

func (e *Ensemble) Name() string { return e.name }

func (e *Ensemble) Fit(ctx context.Context, series []float64) (Fitted, error) {
	if len(e.Members) == 0 {
		return nil, &FitError{Model: e.name, Err: errors.New("ensemble has no members")}
	}

	var fits []Fitted
	var errs []error
	insufficient := 0
	for _, m := range e.Members {
		f, err := Fit(ctx, m, series)
		switch {
		case err == nil:
			fits = append(fits, f)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrTransient):
			return nil, err
		default:
			if errors.Is(err, ErrInsufficientData) {
				insufficient++
			}
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
		}
	}

	if len(fits) == 0 {
		if insufficient == len(e.Members) {
			return nil, fmt.Errorf("%s: %w", e.name, ErrInsufficientData)
		}
		return nil, &FitError{Model: e.name, Err: errors.Join(errs...)}
	}
	return &ensembleFit{name: e.name, members: fits}, nil
}

type ensembleFit struct {
	name    string
	members []Fitted
}

func (f *ensembleFit) Forecast(steps int) (Forecast, error) {
	if err := checkSteps(steps); err != nil {
		return Forecast{}, err
	}

	out := Forecast{Point: make([]float64, steps)}
	withIntervals := true
	var lower, upper []float64
	for _, m := range f.members {
		fc, err := m.Forecast(steps)
		if err != nil {
			return Forecast{}, fmt.Errorf("%s member: %w", f.name, err)
		}
		if len(fc.Point) != steps {
			return Forecast{}, fmt.Errorf("%s member returned %d of %d forecasts", f.name, len(fc.Point), steps)
		}
		for h, v := range fc.Point {
			out.Point[h] += v
		}
		if len(fc.Lower) != steps || len(fc.Upper) != steps {
			withIntervals = false
			continue
		}
		if lower == nil {
			lower, upper = make([]float64, steps), make([]float64, steps)
		}
		for h := 0; h < steps; h++ {
			lower[h] += fc.Lower[h]
			upper[h] += fc.Upper[h]
		}
	}

	k := float64(len(f.members))
	for h := range out.Point {
		out.Point[h] /= k
	}
	if withIntervals && lower != nil {
		for h := 0; h < steps; h++ {
			lower[h] /= k
			upper[h] /= k
		}
		out.Lower, out.Upper = lower, upper
	}
	return out, nil
}
