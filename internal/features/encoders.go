package features

import (
	"slices"

	"trainflow/internal/store"
)

// Encoders map categorical values to the index they had in the sorted
// training-time value set. They travel with the model so inference encodes
// exactly as training did.
type Encoders struct {
	Route      []string `json:"route"`
	TrainType  []string `json:"train_type"`
	RouteTrain []string `json:"route_train"`
}

// FitEncoders collects the sorted distinct categorical values of records.
func FitEncoders(records []store.Record) Encoders {
	routes := map[string]struct{}{}
	types := map[string]struct{}{}
	pairs := map[string]struct{}{}
	for _, r := range records {
		routes[r.Route] = struct{}{}
		types[r.TrainType] = struct{}{}
		pairs[r.Key()] = struct{}{}
	}
	return Encoders{
		Route:      sortedKeys(routes),
		TrainType:  sortedKeys(types),
		RouteTrain: sortedKeys(pairs),
	}
}

// Encode returns the index of value in values, or 0 when it was not seen.
func Encode(values []string, value string) float64 {
	i, ok := slices.BinarySearch(values, value)
	if !ok {
		return 0
	}
	return float64(i)
}

func (e Encoders) encode(r store.Record) (route, trainType, pair float64) {
	return Encode(e.Route, r.Route), Encode(e.TrainType, r.TrainType), Encode(e.RouteTrain, r.Key())
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
