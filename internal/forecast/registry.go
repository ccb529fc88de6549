package forecast

import (
	"fmt"
	"sort"
	"strings"
)

const weekly = 7

var registry = map[string]func() Model{
	"snaive":   func() Model { return NewSeasonalNaive(weekly) },
	"ets":      func() Model { return NewHoltWinters(weekly) },
	"arima":    func() Model { return NewAutoARIMA() },
	"sarima":   func() Model { return NewWeeklySARIMA() },
	"ensemble": func() Model { return NewEnsemble("ensemble", NewAutoARIMA(), NewHoltWinters(weekly)) },
}

// DefaultModels is the candidate set used when none is configured.
var DefaultModels = []string{"snaive", "ets", "arima", "ensemble"}

// Names lists the registered model names.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup constructs a fresh model for each name.
func Lookup(names []string) ([]Model, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	models := make([]Model, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		ctor, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown model %q (known: %s)", name, strings.Join(Names(), ", "))
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		models = append(models, ctor())
	}
	return models, nil
}
