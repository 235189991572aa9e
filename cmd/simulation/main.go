// Command simulation drives the rolling retraining simulation.
//
//	simulation start     run in the foreground until SIGINT/SIGTERM
//	simulation stop      stop the running simulation and restore the model
//	simulation status    print the status file as JSON
//	simulation cleanup   remove simulation files and restore the model
//	simulation train     fit the production model on the baseline series
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"trainflow/config"
	"trainflow/internal/calendar"
	"trainflow/internal/features"
	"trainflow/internal/logger"
	"trainflow/internal/model"
	"trainflow/internal/simulation"
	"trainflow/internal/store"
	"trainflow/services"
)

var (
	ErrInvalidCommand   = errors.New("invalid command")
	errSimulationFailed = errors.New("simulation failed")
)

const usage = "usage: simulation <start|stop|status|cleanup|train>"

const (
	exitOK         = 0
	exitFailure    = 1
	exitInvalidCmd = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		return exitCode(fmt.Errorf("%w: expected exactly one command", ErrInvalidCommand), stderr)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitFailure
	}
	log, sync := logger.New(cfg.App.IsProduction())
	defer func() { _ = sync() }()

	a, err := newApp(cfg, log, stdout)
	if err != nil {
		return exitCode(err, stderr)
	}
	return exitCode(a.dispatch(ctx, args[0]), stderr)
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ErrInvalidCommand):
		fmt.Fprintf(stderr, "%v\n%s\n", err, usage)
		return exitInvalidCmd
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
}

type app struct {
	cfg     *config.Config
	log     *slog.Logger
	out     io.Writer
	series  *store.Store
	builder *features.Builder
	trainer *model.Trainer
	gen     *simulation.Generator
}

func newApp(cfg *config.Config, log *slog.Logger, out io.Writer) (*app, error) {
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.ModelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	holidays := calendar.NewFallbackSource(
		calendar.NewRemoteSource(cfg.Holiday.APIURL, cfg.Holiday.Timeout), calendar.StaticSource{}, log)
	m := cfg.Model
	return &app{
		cfg:     cfg,
		log:     log,
		out:     out,
		series:  store.New(cfg.Paths.SimDataFile, cfg.Paths.BaseDataFile, cfg.Simulation.MaxRows, log),
		builder: features.NewBuilder(holidays),
		trainer: model.NewTrainer(model.Params{
			NEstimators:    m.NEstimators,
			MaxDepth:       m.MaxDepth,
			LearningRate:   m.LearningRate,
			Subsample:      m.Subsample,
			MinSamplesLeaf: m.MinSamplesLeaf,
			MaxBins:        m.MaxBins,
			Seed:           m.Seed,
		}, log),
		gen: simulation.NewGenerator(cfg.Simulation.Seed, holidays),
	}, nil
}

func (a *app) dispatch(ctx context.Context, cmd string) error {
	switch cmd {
	case "start":
		return a.start(ctx)
	case "stop":
		return a.stop(ctx)
	case "status":
		return a.status()
	case "cleanup":
		return a.cleanup(ctx)
	case "train":
		return a.train(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
}

func (a *app) driver(pub simulation.Publisher) (*simulation.Driver, error) {
	sc := a.cfg.Simulation
	opts := simulation.Options{
		Paths: simulation.Paths{
			StatusFile:      a.cfg.Paths.StatusFile,
			LockFile:        a.cfg.Paths.LockFile,
			ModelFile:       a.cfg.Paths.ModelFile(),
			SimModelFile:    a.cfg.Paths.SimulationModelFile(),
			BackupModelFile: a.cfg.Paths.BackupModelFile(),
		},
		TickInterval:       sc.TickInterval,
		RetrainEvery:       sc.RetrainEvery,
		StopTimeout:        sc.StopTimeout,
		MaxRetrainFailures: sc.MaxRetrainFailures,
		Publisher:          pub,
	}
	if sc.StartDate != "" {
		start, err := time.Parse(time.DateOnly, sc.StartDate)
		if err != nil {
			return nil, fmt.Errorf("invalid SIM_START_DATE: %w", err)
		}
		opts.StartDate = start
	}
	return simulation.NewDriver(opts, a.series, a.builder, a.trainer, a.gen, a.log), nil
}

// publishers connects the optional event feeds. A feed that cannot be
// reached is skipped with a warning.
func (a *app) publishers(ctx context.Context) (simulation.Publishers, func()) {
	var pubs simulation.Publishers
	var closers []func()

	if a.cfg.Redis.URL != "" {
		cache, err := services.NewCacheService(ctx, a.cfg.Redis, a.log)
		if err != nil {
			a.log.Warn("redis unavailable, status feed disabled", "error", err)
		} else {
			pubs = append(pubs, simulation.NewRedisPublisher(cache.Client()))
			closers = append(closers, func() { _ = cache.Close() })
		}
	}
	if a.cfg.MQTT.URL != "" {
		client, err := simulation.ConnectMQTT(a.cfg.MQTT.URL, fmt.Sprintf("trainflow-simulation-%d", os.Getpid()), a.log)
		if err != nil {
			a.log.Warn("mqtt unavailable, booking feed disabled", "error", err)
		} else {
			pubs = append(pubs, simulation.NewMQTTPublisher(client, a.cfg.MQTT.TopicPrefix, a.log))
			closers = append(closers, func() { client.Disconnect(250) })
		}
	}
	return pubs, func() {
		for _, c := range closers {
			c()
		}
	}
}

func (a *app) start(ctx context.Context) error {
	pubs, closeFeeds := a.publishers(ctx)
	defer closeFeeds()

	d, err := a.driver(pubs)
	if err != nil {
		return err
	}
	st, err := d.Start(ctx)
	if err != nil {
		return err
	}
	if err := a.print(st); err != nil {
		return err
	}

	if addr := a.cfg.App.MetricsAddr; addr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := serveHTTP(metricsCtx, addr, a.log); err != nil {
				a.log.Error("metrics server failed", "error", err)
			}
		}()
	}

	stopCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Simulation.StopTimeout+10*time.Second)
	}

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		sctx, cancel := stopCtx()
		defer cancel()
		st, err := d.Stop(sctx)
		if err != nil {
			return fmt.Errorf("stop simulation: %w", err)
		}
		return a.print(st)
	case <-d.Done():
		// The worker only exits on its own when the run failed.
		sctx, cancel := stopCtx()
		defer cancel()
		if _, err := d.Cleanup(sctx); err != nil && !errors.Is(err, simulation.ErrLockLost) {
			a.log.Error("cleanup after failure", "error", err)
		}
		return errSimulationFailed
	}
}

// stop signals the owning process and waits for it to release the lock. A
// lock without a live owner is cleaned up here.
func (a *app) stop(ctx context.Context) error {
	lockFile := a.cfg.Paths.LockFile
	pid, err := simulation.ReadLockPID(lockFile)
	if err != nil || pid == os.Getpid() || !simulation.ProcessAlive(pid) {
		a.log.Info("no live simulation owner, cleaning up locally")
		return a.cleanup(ctx)
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	a.log.Info("stop requested", "pid", pid)

	wait := a.cfg.Simulation.StopTimeout + 10*time.Second
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("simulation pid %d did not stop within %s", pid, wait)
		case <-ticker.C:
		}
		if _, err := os.Stat(lockFile); errors.Is(err, os.ErrNotExist) || !simulation.ProcessAlive(pid) {
			return a.status()
		}
	}
}

func (a *app) status() error {
	st, err := simulation.ReadStatus(a.cfg.Paths.StatusFile)
	if err != nil {
		return err
	}
	if st.IsRunning && !simulation.ProcessAlive(st.OwningPID) {
		a.log.Warn("status file names a dead owner, run cleanup", "pid", st.OwningPID)
	}
	return a.print(st)
}

func (a *app) cleanup(ctx context.Context) error {
	d, err := a.driver(nil)
	if err != nil {
		return err
	}
	st, err := d.Cleanup(ctx)
	if err != nil {
		return err
	}
	return a.print(st)
}

// train fits the production model on the baseline series. It holds the
// simulation lock so a running simulation cannot later restore over it.
func (a *app) train(ctx context.Context) error {
	lock, err := simulation.AcquireLock(a.cfg.Paths.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.log.Error("failed to release simulation lock", "error", err)
		}
	}()

	records, _, err := store.LoadFile(a.cfg.Paths.BaseDataFile)
	if err != nil {
		return fmt.Errorf("load baseline: %w", err)
	}
	table, err := a.builder.Build(ctx, records)
	if err != nil {
		return err
	}
	start := time.Now()
	artifact, err := a.trainer.Fit(ctx, table)
	if err != nil {
		return err
	}
	if err := model.SaveArtifact(a.cfg.Paths.ModelFile(), artifact); err != nil {
		return err
	}
	a.log.Info("production model trained",
		"path", a.cfg.Paths.ModelFile(),
		"rows", table.Len(),
		"r2", artifact.Manifest.Metrics.R2,
		"duration", time.Since(start),
	)
	return a.print(artifact.Manifest)
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveHTTP(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
