package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"trainflow/config"
	"trainflow/handlers"
	"trainflow/internal/calendar"
	"trainflow/internal/features"
	"trainflow/internal/logger"
	"trainflow/internal/predict"
	"trainflow/internal/store"
	"trainflow/middleware"
	"trainflow/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, sync := logger.New(cfg.App.IsProduction())
	defer func() { _ = sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("api exited", "error", err)
		_ = sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log = logger.OrNop(log)
	cache, err := services.NewCacheService(ctx, cfg.Redis, log)
	if err != nil {
		// The API still serves predictions without a cache or a live feed.
		log.Warn("redis unavailable, continuing without cache", "error", err)
	}
	defer cache.Close()

	holidays := calendar.NewFallbackSource(
		calendar.NewRemoteSource(cfg.Holiday.APIURL, cfg.Holiday.Timeout), calendar.StaticSource{}, log)
	series := store.New(cfg.Paths.SimDataFile, cfg.Paths.BaseDataFile, cfg.Simulation.MaxRows, log)
	predictor := predict.NewPredictor(
		cfg.Paths.ModelFile(), cfg.Paths.SimulationModelFile(), series, features.NewBuilder(holidays), log)

	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := setupRouter(cfg, predictor, series, cache, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func setupRouter(cfg *config.Config, predictor handlers.DemandPredictor, series handlers.SeriesReader, cache *services.CacheService, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Metrics(), middleware.SetupCORS(cfg.CORS))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "UP",
			"message": "Train demand API is running",
			"cache":   cache.Available(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	prediction := handlers.NewPredictionHandler(predictor, cache, log)
	sim := handlers.NewSimulationHandler(cfg.Paths.StatusFile, series, log)

	api := router.Group("/api")
	{
		api.GET("/routes", handlers.GetRoutes)

		demand := api.Group("/demand")
		demand.POST("/predict", prediction.Predict)
		demand.GET("/forecast", prediction.Forecast)
		demand.GET("/route", prediction.RouteDemand)

		simulation := api.Group("/simulation")
		simulation.GET("/status", sim.GetStatus)
		simulation.GET("/bookings", sim.GetBookings)
	}

	router.GET("/ws/simulation", handlers.SimulationWebSocket(cache, cfg.Paths.StatusFile, time.Second, log))

	return router
}
