package backtest

import (
	"database/sql"
	"math"
)

// RMSE is the root mean squared error of pred against truth.
func RMSE(pred, truth []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	var ss float64
	for i := range pred {
		d := pred[i] - truth[i]
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(pred)))
}

// MAE is the mean absolute error of pred against truth.
func MAE(pred, truth []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	var sum float64
	for i := range pred {
		sum += math.Abs(pred[i] - truth[i])
	}
	return sum / float64(len(pred))
}

// MAPE is the mean absolute percentage error. Points whose truth is exactly
// zero are left out; ok is false when no point remains.
func MAPE(pred, truth []float64) (mape float64, ok bool) {
	var sum float64
	n := 0
	for i := range pred {
		if truth[i] == 0 {
			continue
		}
		sum += math.Abs(pred[i]-truth[i]) / math.Abs(truth[i])
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n) * 100, true
}

func nullMAPE(pred, truth []float64) sql.NullFloat64 {
	v, ok := MAPE(pred, truth)
	return sql.NullFloat64{Float64: v, Valid: ok}
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
