// Package worker implements the single-flight polling loop that claims and
// executes pending runs: a recover-stale pre-pass, a per-execution
// heartbeat ticker, and a graceful stop that awaits the in-flight
// execution. The claim step assumes a single worker process reading
// pending rows, not row-locking against concurrent claimants.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/durably/internal/domain"
	"github.com/ErlanBelekov/durably/internal/events"
	"github.com/ErlanBelekov/durably/internal/registry"
	"github.com/ErlanBelekov/durably/internal/repository"
	"github.com/ErlanBelekov/durably/internal/stepctx"
)

// Config holds the loop's timing knobs, all in wall-clock duration.
type Config struct {
	PollingInterval   time.Duration
	HeartbeatInterval time.Duration
	StaleThreshold    time.Duration
}

// DefaultConfig gives conservative defaults for a single in-process worker.
func DefaultConfig() Config {
	return Config{
		PollingInterval:   1 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		StaleThreshold:    30 * time.Second,
	}
}

// Worker polls Storage for pending runs and executes them one at a time.
type Worker struct {
	storage  repository.Storage
	emitter  *events.Emitter
	registry *registry.Registry
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	stopped chan struct{}
	exited  chan struct{}
	started bool

	// inFlightKey tracks the concurrency key of the run this worker is
	// executing, if any. tick also excludes the keys of every row storage
	// reports as running, which covers runs left running by a process that
	// stopped before stale recovery reset them.
	inFlightKey atomicKeySet
}

// atomicKeySet is a tiny mutex-guarded set, kept separate from Worker's own
// mu to avoid holding the loop's state lock while a long execution runs.
type atomicKeySet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newAtomicKeySet() atomicKeySet { return atomicKeySet{keys: make(map[string]struct{})} }

func (s *atomicKeySet) add(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()
}

func (s *atomicKeySet) remove(key string) {
	if key == "" {
		return
	}
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

func (s *atomicKeySet) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	return out
}

// New constructs a Worker. logger defaults to slog.Default if nil.
func New(storage repository.Storage, emitter *events.Emitter, reg *registry.Registry, cfg Config, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		storage:     storage,
		emitter:     emitter,
		registry:    reg,
		cfg:         cfg,
		logger:      logger,
		inFlightKey: newAtomicKeySet(),
	}
}

// Start launches the polling loop in a background goroutine. Calling Start
// twice without an intervening Stop is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.stopped = make(chan struct{})
	w.exited = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx)
}

// Stop signals the loop to exit and blocks until any in-progress execution
// settles and the loop goroutine has exited.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	stopped := w.stopped
	exited := w.exited
	w.started = false
	w.mu.Unlock()

	close(stopped)
	<-exited
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.exited)

	ticker := time.NewTicker(w.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopped:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick runs one loop iteration: recover stale, claim, execute, finalize.
func (w *Worker) tick(ctx context.Context) {
	if _, err := w.storage.RecoverStale(ctx, time.Now().Add(-w.cfg.StaleThreshold)); err != nil {
		w.logger.Error("recover stale runs failed", "error", err)
	}

	exclude := w.inFlightKey.snapshot()
	running, err := w.storage.GetRuns(ctx, domain.RunFilter{Status: domain.StatusRunning})
	if err != nil {
		w.logger.Error("list running runs failed", "error", err)
		return
	}
	for _, r := range running {
		if r.ConcurrencyKey != nil {
			exclude = append(exclude, *r.ConcurrencyKey)
		}
	}

	run, err := w.storage.GetNextPendingRun(ctx, exclude)
	if err != nil {
		w.logger.Error("get next pending run failed", "error", err)
		return
	}
	if run == nil {
		return
	}

	w.execute(ctx, run)
}

func (w *Worker) execute(ctx context.Context, run *domain.Run) {
	if _, ok := w.registry.Runner(run.JobName); !ok {
		msg := fmt.Sprintf("Unknown job: %s", run.JobName)
		if err := w.storage.UpdateRun(ctx, run.ID, domain.RunUpdate{
			Status: statusPtr(domain.StatusFailed),
			Error:  &msg,
		}); err != nil {
			w.logger.Error("mark unknown-job run failed", "run_id", run.ID, "error", err)
		}
		w.emitter.Emit(events.Event{
			Type:           events.TypeRunFail,
			RunID:          run.ID,
			JobName:        run.JobName,
			Error:          msg,
			FailedStepName: "unknown",
		})
		return
	}

	now := time.Now()
	if err := w.storage.UpdateRun(ctx, run.ID, domain.RunUpdate{
		Status:      statusPtr(domain.StatusRunning),
		HeartbeatAt: &now,
	}); err != nil {
		w.logger.Error("claim run failed", "run_id", run.ID, "error", err)
		return
	}

	if run.ConcurrencyKey != nil {
		w.inFlightKey.add(*run.ConcurrencyKey)
		defer w.inFlightKey.remove(*run.ConcurrencyKey)
	}

	heartbeatStop := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go w.heartbeat(ctx, run.ID, heartbeatStop, heartbeatDone)

	sctx := stepctx.New(ctx, w.storage, w.emitter, run.ID, run.JobName)
	start := time.Now()

	w.emitter.Emit(events.Event{
		Type:    events.TypeRunStart,
		RunID:   run.ID,
		JobName: run.JobName,
		Payload: run.Payload,
	})

	output, runErr := w.registry.Run(sctx, run.JobName, run.Payload)

	close(heartbeatStop)
	<-heartbeatDone

	duration := time.Since(start)
	w.finalize(ctx, run, output, runErr, duration)
}

func (w *Worker) heartbeat(ctx context.Context, runID string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			now := time.Now()
			if err := w.storage.UpdateRun(ctx, runID, domain.RunUpdate{HeartbeatAt: &now}); err != nil {
				w.emitter.Emit(events.Event{
					Type:  events.TypeWorkerError,
					RunID: runID,
					Error: fmt.Sprintf("heartbeat: %s", err),
				})
			}
		}
	}
}

func (w *Worker) finalize(ctx context.Context, run *domain.Run, output []byte, runErr error, duration time.Duration) {
	current, err := w.storage.GetRun(ctx, run.ID)
	if err != nil {
		w.logger.Error("finalize: re-read run failed", "run_id", run.ID, "error", err)
		return
	}
	if current.Status == domain.StatusCancelled {
		return
	}

	if runErr == nil {
		if err := w.storage.UpdateRun(ctx, run.ID, domain.RunUpdate{
			Status: statusPtr(domain.StatusCompleted),
			Output: output,
		}); err != nil {
			w.logger.Error("finalize: mark completed failed", "run_id", run.ID, "error", err)
			return
		}
		w.emitter.Emit(events.Event{
			Type:     events.TypeRunComplete,
			RunID:    run.ID,
			JobName:  run.JobName,
			Output:   output,
			Duration: duration,
		})
		return
	}

	if errors.Is(runErr, stepctx.ErrCancelled) {
		return
	}

	msg := runErr.Error()
	if err := w.storage.UpdateRun(ctx, run.ID, domain.RunUpdate{
		Status: statusPtr(domain.StatusFailed),
		Error:  &msg,
	}); err != nil {
		w.logger.Error("finalize: mark failed failed", "run_id", run.ID, "error", err)
		return
	}

	failedStepName := "unknown"
	if steps, err := w.storage.GetSteps(ctx, run.ID); err == nil {
		for i := len(steps) - 1; i >= 0; i-- {
			if steps[i].Status == domain.StepFailed {
				failedStepName = steps[i].Name
				break
			}
		}
	}

	w.emitter.Emit(events.Event{
		Type:           events.TypeRunFail,
		RunID:          run.ID,
		JobName:        run.JobName,
		Error:          msg,
		FailedStepName: failedStepName,
		Duration:       duration,
	})
}

func statusPtr(s domain.Status) *domain.Status { return &s }
