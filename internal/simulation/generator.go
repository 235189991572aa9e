package simulation

import (
	"context"
	"math/rand"
	"time"

	"trainflow/internal/calendar"
	"trainflow/internal/store"
)

// RouteCapacity is the daily seat capacity the generator draws against.
type RouteCapacity struct {
	Route    string
	Capacity int
}

var DefaultRoutes = []RouteCapacity{
	{"Jakarta-Surabaya", 45000},
	{"Jakarta-Yogyakarta", 35000},
	{"Jakarta-Bandung", 50000},
	{"Jakarta-Semarang", 30000},
	{"Jakarta-Solo", 25000},
	{"Surabaya-Malang", 15000},
	{"Bandung-Yogyakarta", 20000},
	{"Jakarta-Cirebon", 8000},
}

var TrainTypes = []string{"Eksekutif", "Bisnis", "Ekonomi"}

const minBookings = 33

// Generator produces one synthetic day of bookings for every route and
// train type. Output is reproducible for a given seed and call sequence.
type Generator struct {
	rng      *rand.Rand
	routes   []RouteCapacity
	holidays calendar.HolidaySource
}

func NewGenerator(seed int64, holidays calendar.HolidaySource) *Generator {
	return &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		routes:   DefaultRoutes,
		holidays: holidays,
	}
}

func (g *Generator) uniform(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// Day generates the records for date.
func (g *Generator) Day(ctx context.Context, date time.Time) []store.Record {
	date = calendar.Date(date)
	holiday := calendar.IsHoliday(ctx, g.holidays, date)
	weekend := calendar.IsWeekend(date)

	lo, hi := 0.1, 0.4
	switch {
	case holiday:
		lo, hi = 0.4, 0.9
	case weekend:
		lo, hi = 0.2, 0.6
	}
	holidayMult, weeklyMult := 1.0, 1.0
	if holiday {
		holidayMult = 1.5
	}
	if weekend {
		weeklyMult = 1.3
	}

	// Every train type draws from the full route capacity.
	out := make([]store.Record, 0, len(g.routes)*len(TrainTypes))
	for _, rc := range g.routes {
		for _, tt := range TrainTypes {
			base := int(float64(rc.Capacity) * g.uniform(lo, hi))
			bookings := max(int(float64(base)*g.uniform(0.85, 1.15)), minBookings)
			out = append(out, store.Record{
				Date:              date,
				Route:             rc.Route,
				TrainType:         tt,
				Bookings:          bookings,
				HolidayMultiplier: holidayMult,
				WeeklyMultiplier:  weeklyMult,
				IsHoliday:         holiday,
				Extra: map[string]string{
					"yearly_growth": "1.05",
					"covid_factor":  "1.0",
				},
			}.Normalize())
		}
	}
	return out
}
