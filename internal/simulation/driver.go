// Package simulation runs the rolling retraining loop: every tick it
// appends one synthetic day to the series, periodically retrains a
// simulation model from the whole retained series, and publishes a status
// snapshot. One run per machine is enforced with a file lock; stopping
// restores the production model that was backed up at start.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"trainflow/internal/calendar"
	"trainflow/internal/features"
	"trainflow/internal/fileutil"
	"trainflow/internal/logger"
	"trainflow/internal/model"
	"trainflow/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("simulation already running")
	ErrNotRunning     = errors.New("simulation not running")
	// ErrTooManyRetrainFailures moves a run to Failed.
	ErrTooManyRetrainFailures = errors.New("too many consecutive retrain failures")
)

// SeriesStore is the accumulated booking series the driver appends to.
type SeriesStore interface {
	Load(ctx context.Context) ([]store.Record, error)
	Append(ctx context.Context, records []store.Record) (int, error)
	LastDate(ctx context.Context) (time.Time, error)
	Remove() error
	Path() string
}

// Retrainer fits a model on a feature table.
type Retrainer interface {
	Fit(ctx context.Context, table *features.Table) (*model.Artifact, error)
}

// Paths are the files a run owns or touches.
type Paths struct {
	StatusFile      string
	LockFile        string
	ModelFile       string
	SimModelFile    string
	BackupModelFile string
}

type Options struct {
	Paths              Paths
	TickInterval       time.Duration
	RetrainEvery       int
	StopTimeout        time.Duration
	MaxRetrainFailures int
	// StartDate overrides the first simulated day. When zero the run starts
	// the day after the newest stored record.
	StartDate time.Time
	Publisher Publisher
	// PublishTimeout bounds each feed call so an unreachable broker cannot
	// stall a tick. Defaults to half the tick interval.
	PublishTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 5 * time.Second
	}
	if o.RetrainEvery <= 0 {
		o.RetrainEvery = 5
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 10 * time.Second
	}
	if o.Publisher == nil {
		o.Publisher = Publishers(nil)
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = o.TickInterval / 2
	}
	return o
}

// Driver owns one simulation run at a time. Callers hold it; there is no
// package-level instance.
type Driver struct {
	opts    Options
	series  SeriesStore
	builder *features.Builder
	trainer Retrainer
	gen     *Generator
	log     *slog.Logger
	now     func() time.Time

	mu              sync.Mutex
	state           State
	lock            *FileLock
	runID           string
	startTime       time.Time
	currentDate     time.Time
	generation      int
	training        int
	retrainFailures int
	lastMetrics     *model.Metrics
	cancel          context.CancelFunc
	done            chan struct{}
	stopped         chan struct{}
}

func NewDriver(opts Options, series SeriesStore, builder *features.Builder, trainer Retrainer, gen *Generator, log *slog.Logger) *Driver {
	return &Driver{
		opts:    opts.withDefaults(),
		series:  series,
		builder: builder,
		trainer: trainer,
		gen:     gen,
		log:     logger.OrNop(log),
		now:     time.Now,
	}
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Done is closed when the worker of the current run exits.
func (d *Driver) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Start takes the lock, backs up the production model, seeds the simulation
// model from it and launches the worker.
func (d *Driver) Start(ctx context.Context) (Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != Stopped {
		return d.snapshotLocked(), ErrAlreadyRunning
	}
	lock, err := AcquireLock(d.opts.Paths.LockFile)
	if err != nil {
		return d.snapshotLocked(), err
	}
	d.state = Starting

	startDate, err := d.prepare(ctx)
	if err == nil {
		d.lock = lock
		d.runID = uuid.NewString()
		d.startTime = d.now().UTC()
		d.currentDate = startDate
		d.generation, d.training, d.retrainFailures = 0, 0, 0
		d.lastMetrics = nil
		d.state = Running
		err = WriteStatus(d.opts.Paths.StatusFile, d.snapshotLocked())
	}
	if err != nil {
		d.lock = nil
		d.state = Stopped
		if rerr := lock.Release(); rerr != nil {
			d.log.Error("failed to release simulation lock", "error", rerr)
		}
		return d.snapshotLocked(), fmt.Errorf("start simulation: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(runCtx, d.done)
	running.Set(1)

	st := d.snapshotLocked()
	d.log.Info("simulation started",
		"run_id", d.runID,
		"start_date", startDate.Format(time.DateOnly),
		"interval", d.opts.TickInterval,
		"retrain_every", d.opts.RetrainEvery,
		"pid", lock.PID(),
	)
	d.publish(ctx, st)
	return st, nil
}

func (d *Driver) prepare(ctx context.Context) (time.Time, error) {
	p := d.opts.Paths
	if fileutil.Exists(p.ModelFile) {
		// A backup left by a crashed run is the real original; keep it.
		if !fileutil.Exists(p.BackupModelFile) {
			if err := model.CopyArtifact(p.ModelFile, p.BackupModelFile); err != nil {
				return time.Time{}, fmt.Errorf("backup model: %w", err)
			}
			d.log.Info("production model backed up", "path", p.BackupModelFile)
		}
		if err := model.CopyArtifact(p.ModelFile, p.SimModelFile); err != nil {
			return time.Time{}, fmt.Errorf("seed simulation model: %w", err)
		}
	} else {
		d.log.Warn("no production model to back up", "path", p.ModelFile)
	}

	if !d.opts.StartDate.IsZero() {
		return calendar.Date(d.opts.StartDate), nil
	}
	last, err := d.series.LastDate(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if last.IsZero() {
		return calendar.Date(d.now()), nil
	}
	return last.AddDate(0, 0, 1), nil
}

func (d *Driver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := d.tick(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		tickErrors.Inc()
		if errors.Is(err, ErrLockLost) || errors.Is(err, ErrTooManyRetrainFailures) {
			d.fail(ctx, err)
			return
		}
		d.log.Error("simulation tick failed", "error", err)
	}
}

// tick runs one iteration. Panics are turned into errors so the loop
// survives them.
func (d *Driver) tick(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
		tickDuration.Observe(time.Since(start).Seconds())
	}()
	ticksTotal.Inc()

	d.mu.Lock()
	lock, date := d.lock, d.currentDate
	d.mu.Unlock()
	if lock == nil {
		return ErrLockLost
	}
	if err := lock.Verify(); err != nil {
		return err
	}

	records := d.gen.Day(ctx, date)
	if _, err := d.series.Append(ctx, records); err != nil {
		return fmt.Errorf("append generated rows: %w", err)
	}
	rowsGenerated.Add(float64(len(records)))
	pubCtx, cancel := context.WithTimeout(ctx, d.opts.PublishTimeout)
	pubErr := d.opts.Publisher.PublishBookings(pubCtx, records)
	cancel()
	if pubErr != nil {
		d.log.Warn("booking publish failed", "error", pubErr)
	}

	d.mu.Lock()
	d.currentDate = date.AddDate(0, 0, 1)
	d.generation++
	generation := d.generation
	d.mu.Unlock()

	d.log.Debug("generated synthetic day", "date", date.Format(time.DateOnly), "rows", len(records), "generation", generation)

	if generation%d.opts.RetrainEvery == 0 {
		if err := d.retrain(ctx); err != nil {
			return err
		}
	}
	return d.writeStatus(ctx)
}

func (d *Driver) fit(ctx context.Context) (*model.Artifact, error) {
	records, err := d.series.Load(ctx)
	if err != nil {
		return nil, err
	}
	table, err := d.builder.Build(ctx, records)
	if err != nil {
		return nil, err
	}
	return d.trainer.Fit(ctx, table)
}

// retrain fits on the whole retained series and swaps the simulation model.
// A failed fit keeps the previous model; only a run of MaxRetrainFailures
// failures is returned as an error.
func (d *Driver) retrain(ctx context.Context) error {
	start := time.Now()
	artifact, err := d.fit(ctx)
	trainingDuration.Observe(time.Since(start).Seconds())

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Running || ctx.Err() != nil {
		return nil
	}
	if err == nil {
		err = model.SaveArtifact(d.opts.Paths.SimModelFile, artifact)
	}
	if err != nil {
		d.retrainFailures++
		retrainsFailed.Inc()
		d.log.Warn("retrain failed, keeping previous model",
			"error", err,
			"generation", d.generation,
			"consecutive_failures", d.retrainFailures,
		)
		if limit := d.opts.MaxRetrainFailures; limit > 0 && d.retrainFailures >= limit {
			return fmt.Errorf("%w: %d", ErrTooManyRetrainFailures, d.retrainFailures)
		}
		return nil
	}

	d.retrainFailures = 0
	d.training++
	metrics := artifact.Manifest.Metrics
	d.lastMetrics = &metrics
	retrainsSucceeded.Inc()
	lastTrainingR2.Set(metrics.R2)
	d.log.Info("simulation model retrained",
		"training_count", d.training,
		"rows", artifact.Manifest.Rows,
		"r2", metrics.R2,
		"mae", metrics.MAE,
	)
	return nil
}

// writeStatus persists and publishes the snapshot while the run is live.
func (d *Driver) writeStatus(ctx context.Context) error {
	d.mu.Lock()
	if d.state != Running {
		d.mu.Unlock()
		return nil
	}
	st := d.snapshotLocked()
	err := WriteStatus(d.opts.Paths.StatusFile, st)
	d.mu.Unlock()

	d.publish(ctx, st)
	return err
}

func (d *Driver) publish(ctx context.Context, st Status) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.PublishTimeout)
	defer cancel()
	if err := d.opts.Publisher.PublishStatus(ctx, st); err != nil {
		d.log.Warn("status publish failed", "error", err)
	}
}

func (d *Driver) fail(ctx context.Context, cause error) {
	d.log.Error("simulation failed", "error", cause)

	d.mu.Lock()
	if d.state != Running {
		d.mu.Unlock()
		return
	}
	d.state = Failed
	st := d.snapshotLocked()
	var err error
	// After a lock loss the status file may already belong to another run.
	if !errors.Is(cause, ErrLockLost) {
		err = WriteStatus(d.opts.Paths.StatusFile, st)
	}
	d.mu.Unlock()

	running.Set(0)
	if err != nil {
		d.log.Error("failed to write status", "error", err)
	}
	d.publish(ctx, st)
}

// Stop ends the run: the worker is cancelled, the current tick gets up to
// StopTimeout to finish, then Cleanup runs. A concurrent second Stop waits
// for the first one.
func (d *Driver) Stop(ctx context.Context) (Status, error) {
	d.mu.Lock()
	switch d.state {
	case Stopped:
		st := d.snapshotLocked()
		d.mu.Unlock()
		return st, ErrNotRunning
	case Stopping:
		stopped := d.stopped
		d.mu.Unlock()
		select {
		case <-stopped:
			return d.Snapshot(), nil
		case <-ctx.Done():
			return d.Snapshot(), ctx.Err()
		}
	}
	d.state = Stopping
	d.stopped = make(chan struct{})
	stopped, cancel, done := d.stopped, d.cancel, d.done
	d.mu.Unlock()
	defer close(stopped)

	if cancel != nil {
		cancel()
	}
	if done != nil {
		timer := time.NewTimer(d.opts.StopTimeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			d.log.Warn("current tick did not finish in time", "timeout", d.opts.StopTimeout)
		case <-ctx.Done():
			d.log.Warn("stop interrupted while waiting for the current tick", "error", ctx.Err())
		}
	}

	err := d.cleanup(ctx)
	d.log.Info("simulation stopped")
	return d.Snapshot(), err
}

// Cleanup deletes every simulation-only file, restores the backed-up
// production model and releases the lock. It is safe to repeat and works
// from a fresh driver after a crash. A live run is stopped first. A run
// whose lock was taken over only drops its descriptor and returns
// ErrLockLost.
func (d *Driver) Cleanup(ctx context.Context) (Status, error) {
	switch d.State() {
	case Running, Stopping, Starting:
		return d.Stop(ctx)
	}
	err := d.cleanup(ctx)
	return d.Snapshot(), err
}

func (d *Driver) cleanup(ctx context.Context) error {
	d.mu.Lock()

	lock := d.lock
	if lock != nil {
		if err := lock.Verify(); err != nil {
			// Another run may own the files now. Drop our descriptor and
			// leave everything else alone.
			d.log.Warn("simulation lock lost, leaving files in place", "error", err)
			closeErr := lock.Close()
			st := d.resetLocked()
			d.mu.Unlock()

			running.Set(0)
			d.publish(ctx, st)
			return errors.Join(err, closeErr)
		}
	} else {
		// Recovering from another process: take the lock so a live run is
		// never cleaned up from under its owner.
		l, err := AcquireLock(d.opts.Paths.LockFile)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		lock = l
	}

	p := d.opts.Paths
	errs := []error{
		d.series.Remove(),
		model.RemoveArtifact(p.SimModelFile),
		fileutil.RemoveIfExists(p.StatusFile),
	}
	if fileutil.Exists(p.BackupModelFile) {
		if err := model.CopyArtifact(p.BackupModelFile, p.ModelFile); err != nil {
			errs = append(errs, fmt.Errorf("restore model: %w", err))
		} else {
			errs = append(errs, model.RemoveArtifact(p.BackupModelFile))
			d.log.Info("production model restored", "path", p.ModelFile)
		}
	}
	errs = append(errs, lock.Release())
	st := d.resetLocked()
	d.mu.Unlock()

	running.Set(0)
	d.publish(ctx, st)
	return errors.Join(errs...)
}

func (d *Driver) resetLocked() Status {
	d.lock = nil
	d.state = Stopped
	d.cancel = nil
	d.runID = ""
	d.generation, d.training, d.retrainFailures = 0, 0, 0
	d.lastMetrics = nil
	return d.snapshotLocked()
}

// Snapshot is the driver's in-memory view of the run.
func (d *Driver) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Driver) snapshotLocked() Status {
	st := Status{
		IsRunning:       d.state == Running,
		State:           d.state,
		RunID:           d.runID,
		LastUpdated:     d.now().UTC(),
		GenerationCount: d.generation,
		RowsAdded:       d.generation,
		TrainingCount:   d.training,
		LastMetrics:     d.lastMetrics,
	}
	if d.state == Stopped {
		return st
	}
	startTime := d.startTime
	st.StartTime = &startTime
	if !d.currentDate.IsZero() {
		st.CurrentDate = strPtr(d.currentDate.Format(time.DateOnly))
	}
	st.TempDataFile = strPtr(d.series.Path())
	st.TempModelFile = strPtr(d.opts.Paths.SimModelFile)
	if d.lock != nil {
		st.OwningPID = d.lock.PID()
	}
	return st
}

// Status reads the status file, which reflects whichever process owns the
// current run.
func (d *Driver) Status() (Status, error) {
	return ReadStatus(d.opts.Paths.StatusFile)
}
