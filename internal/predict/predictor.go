// Package predict serves booking forecasts from the active model artifact.
//
// The simulation model wins while it exists, otherwise the production model
// is used. Feature rows for a target date are built by the same builder that
// trains the models, over the stored history of the (route, train_type)
// series with a placeholder row for the target date whose bookings are the
// last observed value.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"sync"
	"time"

	"trainflow/internal/calendar"
	"trainflow/internal/features"
	"trainflow/internal/logger"
	"trainflow/internal/model"
	"trainflow/internal/store"
)

var (
	ErrNoModel        = errors.New("no trained model available")
	ErrInvalidRequest = errors.New("invalid prediction request")
)

const (
	MaxForecastDays = 90
	// historyRows covers the longest lag plus the longest rolling window.
	historyRows = 400
)

type Source string

const (
	SourceSimulation Source = "simulation"
	SourceProduction Source = "production"
)

// History yields the stored booking series.
type History interface {
	Load(ctx context.Context) ([]store.Record, error)
}

type Prediction struct {
	Route             string      `json:"route"`
	TrainType         string      `json:"train_type"`
	Date              string      `json:"date"`
	PredictedBookings int         `json:"predicted_bookings"`
	DemandLevel       DemandLevel `json:"demand_level"`
	HolidayIntensity  float64     `json:"holiday_intensity"`
	IsWeekend         bool        `json:"is_weekend"`
	Recommendations   []string    `json:"recommendations"`
	ModelID           string      `json:"model_id"`
	ModelSource       Source      `json:"model_source"`
}

type RouteDemand struct {
	Route                      string       `json:"route"`
	Date                       string       `json:"date"`
	Predictions                []Prediction `json:"predictions_by_type"`
	TotalPredicted             int          `json:"total_predicted_demand"`
	RouteCapacity              int          `json:"route_capacity"`
	UtilizationRate            float64      `json:"utilization_rate"`
	CapacityStatus             string       `json:"capacity_status"`
	OperationalRecommendations []string     `json:"operational_recommendations"`
}

type Predictor struct {
	modelPath    string
	simModelPath string
	history      History
	builder      *features.Builder
	log          *slog.Logger

	mu      sync.Mutex
	cached  *model.Artifact
	path    string
	modTime time.Time
}

func NewPredictor(modelPath, simModelPath string, history History, builder *features.Builder, log *slog.Logger) *Predictor {
	return &Predictor{
		modelPath:    modelPath,
		simModelPath: simModelPath,
		history:      history,
		builder:      builder,
		log:          logger.OrNop(log),
	}
}

// Active returns the artifact predictions are served from. Loaded artifacts
// are cached until the file changes.
func (p *Predictor) Active() (*model.Artifact, Source, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.simModelPath != "" {
		a, err := p.load(p.simModelPath)
		if err == nil {
			return a, SourceSimulation, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			p.log.Warn("simulation model unreadable, serving production model", "error", err)
		}
	}
	a, err := p.load(p.modelPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrNoModel
	}
	if err != nil {
		return nil, "", err
	}
	return a, SourceProduction, nil
}

func (p *Predictor) load(path string) (*model.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if p.cached != nil && p.path == path && p.modTime.Equal(info.ModTime()) {
		return p.cached, nil
	}
	a, err := model.LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	p.cached, p.path, p.modTime = a, path, info.ModTime()
	p.log.Debug("model loaded", "path", path, "model_id", a.Manifest.ID)
	return a, nil
}

func (p *Predictor) Predict(ctx context.Context, route, trainType string, date time.Time) (Prediction, error) {
	preds, err := p.Forecast(ctx, route, trainType, date, 1)
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

// Forecast predicts days consecutive dates from start. Each predicted day
// becomes history for the next one.
func (p *Predictor) Forecast(ctx context.Context, route, trainType string, start time.Time, days int) ([]Prediction, error) {
	if route == "" || trainType == "" {
		return nil, fmt.Errorf("%w: route and train_type are required", ErrInvalidRequest)
	}
	if days < 1 || days > MaxForecastDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRequest, MaxForecastDays)
	}
	artifact, source, err := p.Active()
	if err != nil {
		return nil, err
	}
	start = calendar.Date(start)
	history, err := p.seriesBefore(ctx, route, trainType, start)
	if err != nil {
		return nil, err
	}

	out := make([]Prediction, 0, days)
	for i := 0; i < days; i++ {
		date := start.AddDate(0, 0, i)
		bookings, err := p.score(ctx, artifact, history, route, trainType, date)
		if err != nil {
			return nil, err
		}
		history = append(history, store.Record{Date: date, Route: route, TrainType: trainType, Bookings: bookings}.Normalize())

		hf := calendar.HolidayFeatures(date)
		level := Level(bookings, route)
		out = append(out, Prediction{
			Route:             route,
			TrainType:         trainType,
			Date:              date.Format(time.DateOnly),
			PredictedBookings: bookings,
			DemandLevel:       level,
			HolidayIntensity:  hf.HolidayIntensity,
			IsWeekend:         calendar.IsWeekend(date),
			Recommendations:   Recommendations(level),
			ModelID:           artifact.Manifest.ID,
			ModelSource:       source,
		})
	}
	return out, nil
}

// RouteDemand predicts every train type on route for date and grades the
// total against the route capacity.
func (p *Predictor) RouteDemand(ctx context.Context, route string, date time.Time) (RouteDemand, error) {
	rd := RouteDemand{
		Route:         route,
		Date:          calendar.Date(date).Format(time.DateOnly),
		RouteCapacity: Capacity(route),
	}
	for _, tt := range trainTypes {
		pred, err := p.Predict(ctx, route, tt, date)
		if err != nil {
			return RouteDemand{}, err
		}
		rd.Predictions = append(rd.Predictions, pred)
		rd.TotalPredicted += pred.PredictedBookings
	}
	utilization := float64(rd.TotalPredicted) / float64(rd.RouteCapacity)
	rd.UtilizationRate = math.Round(utilization*100) / 100
	rd.CapacityStatus = CapacityStatus(utilization)
	rd.OperationalRecommendations = operationalRecommendations(utilization)
	return rd, nil
}

// seriesBefore returns the newest historyRows records of one series dated
// before start, in date order.
func (p *Predictor) seriesBefore(ctx context.Context, route, trainType string, start time.Time) ([]store.Record, error) {
	if p.history == nil {
		return nil, nil
	}
	all, err := p.history.Load(ctx)
	if err != nil {
		return nil, err
	}
	var out []store.Record
	for _, r := range all {
		if r.Route == route && r.TrainType == trainType && r.Date.Before(start) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b store.Record) int { return a.Date.Compare(b.Date) })
	if len(out) > historyRows {
		out = out[len(out)-historyRows:]
	}
	return out, nil
}

func (p *Predictor) score(ctx context.Context, a *model.Artifact, history []store.Record, route, trainType string, date time.Time) (int, error) {
	placeholder := 0
	if len(history) > 0 {
		placeholder = history[len(history)-1].Bookings
	}
	target := store.Record{Date: date, Route: route, TrainType: trainType, Bookings: placeholder}.Normalize()

	rows := append(slices.Clip(history), target)
	table, err := p.builder.BuildWithEncoders(ctx, rows, a.Manifest.Encoders)
	if err != nil {
		return 0, err
	}
	m := table.Align(a.Manifest.FeatureColumns)
	if m.IsEmpty() {
		return 0, fmt.Errorf("%w: model has no feature columns", ErrNoModel)
	}
	n, _ := m.Dims()
	v := a.Predict(m.RawRowView(n - 1))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite prediction for %s %s on %s", route, trainType, date.Format(time.DateOnly))
	}
	return max(0, int(math.Round(v))), nil
}
