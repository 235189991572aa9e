package simulation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_ticks_total",
		Help: "Total number of simulation ticks run.",
	})
	tickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_tick_errors_total",
		Help: "Total number of ticks that ended in an error or panic.",
	})
	rowsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_rows_generated_total",
		Help: "Total number of synthetic booking rows appended.",
	})
	retrainsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_retrains_total",
		Help: "Total number of successful retrains.",
	})
	retrainsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_retrains_failed_total",
		Help: "Total number of failed retrains.",
	})
	statusPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_status_published_total",
		Help: "Total number of status snapshots published to Redis.",
	})
	statusPublishFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_status_publish_failed_total",
		Help: "Total number of status snapshots that failed to publish.",
	})
	bookingsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_bookings_published_total",
		Help: "Total number of booking records published to MQTT.",
	})
	bookingsPublishFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trainflow_simulation_bookings_publish_failed_total",
		Help: "Total number of booking records that failed to publish.",
	})
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trainflow_simulation_tick_duration_seconds",
		Help:    "Duration of a full simulation tick, retraining included.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
	})
	trainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trainflow_simulation_training_duration_seconds",
		Help:    "Duration of a retrain, feature build included.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	})
	lastTrainingR2 = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trainflow_simulation_last_training_r2",
		Help: "Training-set R² of the active simulation model.",
	})
	running = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trainflow_simulation_running",
		Help: "1 while a simulation run is active in this process.",
	})
)
