package backtest

import (
	"database/sql"
	"math"
	"sort"

	"github.com/chediazfadel/salescast/internal/models"
)

type seriesKey struct {
	target string
	model  string
}

// Rolling fills the rolling columns in place. For a row with cutoff i, the
// rolling metric covers every row of the same target and model, across all
// sites, whose cutoff is at least i.
func Rolling(results []models.BacktestResult) {
	groups := make(map[seriesKey][]int)
	for i, r := range results {
		k := seriesKey{r.Target, r.Model}
		groups[k] = append(groups[k], i)
	}

	for _, idx := range groups {
		sort.SliceStable(idx, func(a, b int) bool {
			return results[idx[a]].StartInit > results[idx[b]].StartInit
		})

		var ss, abs, pct float64
		n, npct := 0, 0
		for start := 0; start < len(idx); {
			cutoff := results[idx[start]].StartInit
			end := start
			for end < len(idx) && results[idx[end]].StartInit == cutoff {
				r := results[idx[end]]
				ss += r.Er * r.Er
				abs += math.Abs(r.Er)
				n++
				if r.Sales != 0 {
					pct += math.Abs(r.Er) / math.Abs(r.Sales)
					npct++
				}
				end++
			}

			rmse := math.Sqrt(ss / float64(n))
			mae := abs / float64(n)
			mape := sql.NullFloat64{}
			if npct > 0 {
				mape = sql.NullFloat64{Float64: pct / float64(npct) * 100, Valid: true}
			}
			for _, i := range idx[start:end] {
				results[i].RMSERoll = rmse
				results[i].MAERoll = mae
				results[i].MAPERoll = mape
			}
			start = end
		}
	}
}

// Benchmark picks, for each target and each of the given cutoffs, the model
// with the lowest rolling RMSE and the model with the lowest rolling MAPE.
// Cutoffs with no rows are left out. Ties go to the model name that sorts
// first.
func Benchmark(results []models.BacktestResult, cutoffs []int) []models.Benchmark {
	type cell struct {
		target string
		cutoff int
	}
	want := make(map[int]bool, len(cutoffs))
	for _, c := range cutoffs {
		want[c] = true
	}

	best := make(map[cell]*models.Benchmark)
	var order []cell
	for _, r := range results {
		if !want[r.StartInit] {
			continue
		}
		k := cell{r.Target, r.StartInit}
		b, ok := best[k]
		if !ok {
			b = &models.Benchmark{Target: r.Target, Cutoff: r.StartInit, BestRMSEModel: r.Model, BestRMSE: r.RMSERoll}
			best[k] = b
			order = append(order, k)
		} else if better(r.RMSERoll, r.Model, b.BestRMSE, b.BestRMSEModel) {
			b.BestRMSEModel, b.BestRMSE = r.Model, r.RMSERoll
		}

		if r.MAPERoll.Valid && (!b.BestMAPE.Valid || better(r.MAPERoll.Float64, r.Model, b.BestMAPE.Float64, b.BestMAPEModel.String)) {
			b.BestMAPEModel = sql.NullString{String: r.Model, Valid: true}
			b.BestMAPE = r.MAPERoll
		}
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].target != order[j].target {
			return order[i].target < order[j].target
		}
		return order[i].cutoff < order[j].cutoff
	})
	out := make([]models.Benchmark, 0, len(order))
	for _, k := range order {
		out = append(out, *best[k])
	}
	return out
}

func better(v float64, model string, cur float64, curModel string) bool {
	if v != cur {
		return v < cur
	}
	return model < curModel
}
