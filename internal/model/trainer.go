// Package model fits and serves the gradient-boosted booking regressor.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"trainflow/internal/features"
	"trainflow/internal/logger"
)

// Version tags the artifact layout written by SaveArtifact.
const Version = "gbrt-v1"

var (
	// ErrRetrainFailure is the family every fit failure belongs to.
	ErrRetrainFailure   = errors.New("retrain failed")
	ErrEmptyTable       = fmt.Errorf("%w: empty feature table", ErrRetrainFailure)
	ErrDegenerateTarget = fmt.Errorf("%w: constant target", ErrRetrainFailure)
	ErrDegenerateFit    = fmt.Errorf("%w: non-finite fit", ErrRetrainFailure)
)

// Metrics are measured on the training rows.
type Metrics struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	R2   float64 `json:"r2"`
}

type Trainer struct {
	params Params
	log    *slog.Logger
	now    func() time.Time
}

func NewTrainer(params Params, log *slog.Logger) *Trainer {
	return &Trainer{
		params: params.withDefaults(),
		log:    logger.OrNop(log),
		now:    time.Now,
	}
}

func (t *Trainer) Params() Params { return t.params }

// Fit trains a fresh artifact on table. Every successful fit is returned;
// there is no comparison against a previous model.
func (t *Trainer) Fit(ctx context.Context, table *features.Table) (*Artifact, error) {
	if table == nil || table.Len() == 0 {
		return nil, ErrEmptyTable
	}
	y := table.Target
	if isConstant(y) {
		return nil, ErrDegenerateTarget
	}

	start := t.now()
	ensemble, pred, err := fitEnsemble(ctx, table.Matrix(), y, t.params)
	if err != nil {
		return nil, err
	}
	for _, v := range pred {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrDegenerateFit
		}
	}

	metrics := Evaluate(pred, y)
	if math.IsNaN(metrics.R2) || math.IsInf(metrics.RMSE, 0) {
		return nil, ErrDegenerateFit
	}

	a := &Artifact{
		Manifest: Manifest{
			ID:             uuid.NewString(),
			Version:        Version,
			FeatureColumns: append([]string(nil), table.Columns...),
			Encoders:       table.Encoders,
			Metrics:        metrics,
			Params:         t.params,
			TrainedAt:      t.now().UTC(),
			Rows:           table.Len(),
		},
		Model: ensemble,
	}

	t.log.Info("model trained",
		"rows", table.Len(),
		"features", len(table.Columns),
		"trees", len(ensemble.Trees),
		"mae", metrics.MAE,
		"rmse", metrics.RMSE,
		"r2", metrics.R2,
		"duration", time.Since(start),
	)
	return a, nil
}

// Evaluate computes MAE, RMSE and R² of pred against actual.
func Evaluate(pred, actual []float64) Metrics {
	if len(pred) == 0 {
		return Metrics{}
	}
	var absSum, sqSum float64
	for i := range pred {
		d := pred[i] - actual[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(pred))
	return Metrics{
		MAE:  absSum / n,
		RMSE: math.Sqrt(sqSum / n),
		R2:   stat.RSquaredFrom(pred, actual, nil),
	}
}

func isConstant(y []float64) bool {
	for _, v := range y[1:] {
		if v != y[0] {
			return false
		}
	}
	return true
}
