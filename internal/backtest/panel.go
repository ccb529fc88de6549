package backtest

import (
	"sort"

	"github.com/chediazfadel/salescast/internal/models"
)

// Panel holds each site's observations ordered by DayID2. It is shared
// read-only by every unit of a run.
type Panel map[string][]models.Observation

// NewPanel groups obs by site and orders each site's history.
func NewPanel(obs []models.Observation) Panel {
	p := make(Panel)
	for _, o := range obs {
		p[o.SiteID] = append(p[o.SiteID], o)
	}
	for _, rows := range p {
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].DayID2 != rows[j].DayID2 {
				return rows[i].DayID2 < rows[j].DayID2
			}
			return rows[i].Date.Before(rows[j].Date)
		})
	}
	return p
}

// Sites returns the site ids in sorted order.
func (p Panel) Sites() []string {
	sites := make([]string, 0, len(p))
	for site := range p {
		sites = append(sites, site)
	}
	sort.Strings(sites)
	return sites
}

// Values returns the site's target metric in history order.
func (p Panel) Values(site, target string) []float64 {
	rows := p[site]
	values := make([]float64, len(rows))
	for i, o := range rows {
		values[i], _ = o.Value(target)
	}
	return values
}
