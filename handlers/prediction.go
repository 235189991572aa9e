package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trainflow/internal/logger"
	"trainflow/internal/predict"
	"trainflow/models"
	"trainflow/services"
)

const (
	predictionTTL       = 30 * time.Second
	defaultForecastDays = 7
)

// DemandPredictor is satisfied by *predict.Predictor.
type DemandPredictor interface {
	Predict(ctx context.Context, route, trainType string, date time.Time) (predict.Prediction, error)
	Forecast(ctx context.Context, route, trainType string, start time.Time, days int) ([]predict.Prediction, error)
	RouteDemand(ctx context.Context, route string, date time.Time) (predict.RouteDemand, error)
}

type PredictionHandler struct {
	predictor DemandPredictor
	cache     *services.CacheService
	log       *slog.Logger
	now       func() time.Time
}

func NewPredictionHandler(predictor DemandPredictor, cache *services.CacheService, log *slog.Logger) *PredictionHandler {
	if cache == nil {
		cache = &services.CacheService{}
	}
	return &PredictionHandler{predictor: predictor, cache: cache, log: logger.OrNop(log), now: time.Now}
}

func (h *PredictionHandler) Predict(c *gin.Context) {
	var req models.PredictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "route, train_type and date are required"})
		return
	}
	date, err := models.ParseDate(req.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}

	cacheKey := fmt.Sprintf("demand:predict:%s:%s:%s", req.Route, req.TrainType, req.Date)
	var cached predict.Prediction
	if found, _ := h.cache.Get(c.Request.Context(), cacheKey, &cached); found {
		c.JSON(http.StatusOK, cached)
		return
	}

	pred, err := h.predictor.Predict(c.Request.Context(), req.Route, req.TrainType, date)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	go h.cache.Set(context.Background(), cacheKey, pred, predictionTTL)

	c.JSON(http.StatusOK, pred)
}

func (h *PredictionHandler) Forecast(c *gin.Context) {
	var q models.ForecastQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "route and train_type are required, days must be an integer"})
		return
	}
	if q.Days == 0 {
		q.Days = defaultForecastDays
	}
	start := h.now().UTC().AddDate(0, 0, 1)
	if q.Start != "" {
		var err error
		if start, err = models.ParseDate(q.Start); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start, expected YYYY-MM-DD"})
			return
		}
	}
	startStr := start.Format(time.DateOnly)

	cacheKey := fmt.Sprintf("demand:forecast:%s:%s:%s:%d", q.Route, q.TrainType, startStr, q.Days)
	var cached []predict.Prediction
	if found, _ := h.cache.Get(c.Request.Context(), cacheKey, &cached); found {
		c.JSON(http.StatusOK, gin.H{"data": cached})
		return
	}

	preds, err := h.predictor.Forecast(c.Request.Context(), q.Route, q.TrainType, start, q.Days)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	go h.cache.Set(context.Background(), cacheKey, preds, predictionTTL)

	c.JSON(http.StatusOK, gin.H{"data": preds})
}

func (h *PredictionHandler) RouteDemand(c *gin.Context) {
	var q models.RouteDemandQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "route and date are required"})
		return
	}
	date, err := models.ParseDate(q.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date, expected YYYY-MM-DD"})
		return
	}

	rd, err := h.predictor.RouteDemand(c.Request.Context(), q.Route, date)
	if err != nil {
		abortWithError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, rd)
}

func GetRoutes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": predict.Routes()})
}
