package predict

// baselines are typical daily bookings per route and train type, used as
// the reference for demand levels.
var baselines = map[string]map[string]int{
	"Jakarta-Surabaya":   {"Eksekutif": 700, "Bisnis": 980, "Ekonomi": 1120},
	"Jakarta-Yogyakarta": {"Eksekutif": 550, "Bisnis": 770, "Ekonomi": 880},
	"Jakarta-Bandung":    {"Eksekutif": 875, "Bisnis": 1225, "Ekonomi": 1400},
	"Jakarta-Semarang":   {"Eksekutif": 450, "Bisnis": 630, "Ekonomi": 720},
	"Jakarta-Solo":       {"Eksekutif": 400, "Bisnis": 560, "Ekonomi": 640},
	"Surabaya-Malang":    {"Eksekutif": 300, "Bisnis": 420, "Ekonomi": 480},
	"Bandung-Yogyakarta": {"Eksekutif": 225, "Bisnis": 315, "Ekonomi": 360},
	"Jakarta-Cirebon":    {"Eksekutif": 350, "Bisnis": 490, "Ekonomi": 560},
}

// capacities are total daily seats per route across train types.
var capacities = map[string]int{
	"Jakarta-Surabaya":   3500,
	"Jakarta-Yogyakarta": 2800,
	"Jakarta-Bandung":    4200,
	"Jakarta-Semarang":   2300,
	"Jakarta-Solo":       2000,
	"Surabaya-Malang":    1500,
	"Bandung-Yogyakarta": 1200,
	"Jakarta-Cirebon":    1800,
}

var trainTypes = []string{"Eksekutif", "Bisnis", "Ekonomi"}

const (
	defaultBaseline = 400
	defaultCapacity = 2000
)

func Baseline(route, trainType string) int {
	if b, ok := baselines[route][trainType]; ok {
		return b
	}
	return defaultBaseline
}

func Capacity(route string) int {
	if c, ok := capacities[route]; ok {
		return c
	}
	return defaultCapacity
}

// Route is one served route with its capacity and per-class baselines.
type Route struct {
	Name      string         `json:"name"`
	Capacity  int            `json:"capacity"`
	Baselines map[string]int `json:"baselines"`
}

// Routes lists the known routes in a stable order.
func Routes() []Route {
	names := []string{
		"Jakarta-Surabaya", "Jakarta-Yogyakarta", "Jakarta-Bandung", "Jakarta-Semarang",
		"Jakarta-Solo", "Surabaya-Malang", "Bandung-Yogyakarta", "Jakarta-Cirebon",
	}
	out := make([]Route, len(names))
	for i, n := range names {
		b := make(map[string]int, len(baselines[n]))
		for k, v := range baselines[n] {
			b[k] = v
		}
		out[i] = Route{Name: n, Capacity: capacities[n], Baselines: b}
	}
	return out
}

type DemandLevel string

const (
	DemandLow      DemandLevel = "Low"
	DemandMedium   DemandLevel = "Medium"
	DemandHigh     DemandLevel = "High"
	DemandCritical DemandLevel = "Critical"
)

// Level grades bookings against the route's Bisnis baseline.
func Level(bookings int, route string) DemandLevel {
	base := float64(Baseline(route, "Bisnis"))
	b := float64(bookings)
	switch {
	case b >= base*6:
		return DemandCritical
	case b >= base*3:
		return DemandHigh
	case b >= base*1.5:
		return DemandMedium
	default:
		return DemandLow
	}
}

func Recommendations(level DemandLevel) []string {
	switch level {
	case DemandCritical:
		return []string{
			"Activate virtual waiting room",
			"Scale server capacity by 2x",
			"Deploy additional trains if available",
			"Implement strict bot detection",
			"Alert operations team immediately",
		}
	case DemandHigh:
		return []string{
			"Prepare virtual waiting room",
			"Scale server capacity by 1.5x",
			"Consider additional train deployment",
			"Increase staff at major stations",
		}
	case DemandMedium:
		return []string{
			"Monitor capacity closely",
			"Standard bot detection",
			"Normal staffing levels",
		}
	default:
		return []string{
			"Standard operations",
			"Consider promotional pricing",
		}
	}
}

// CapacityStatus grades a route utilisation rate.
func CapacityStatus(utilization float64) string {
	switch {
	case utilization >= 0.95:
		return "Overbooked"
	case utilization >= 0.8:
		return "High Utilization"
	case utilization >= 0.6:
		return "Medium Utilization"
	default:
		return "Low Utilization"
	}
}

func operationalRecommendations(utilization float64) []string {
	switch {
	case utilization >= 0.9:
		return []string{
			"Deploy additional trains",
			"Extend boarding time",
			"Increase cleaning crew",
			"Alert passengers of delays",
		}
	case utilization >= 0.7:
		return []string{
			"Monitor passenger flow",
			"Prepare additional staff",
			"Consider alternative route suggestions",
		}
	}
	return []string{}
}
