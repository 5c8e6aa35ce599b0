// Package durably composes storage, the event emitter, the worker loop,
// and the job registry into the engine's public surface: one long-lived
// value whose constructor assembles its internal collaborators once and
// hands back a handle.
package durably

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ErlanBelekov/durably/internal/domain"
	"github.com/ErlanBelekov/durably/internal/events"
	"github.com/ErlanBelekov/durably/internal/registry"
	"github.com/ErlanBelekov/durably/internal/repository"
	"github.com/ErlanBelekov/durably/internal/worker"
)

// Facade is the engine instance. Construct with New, register jobs against
// Registry, then call Init to migrate the schema and start the worker.
type Facade struct {
	Storage  repository.Storage
	Emitter  *events.Emitter
	Registry *registry.Registry
	Worker   *worker.Worker

	logger *slog.Logger

	mu          sync.Mutex
	initialized bool
}

// Options configures a Facade. Logger and WorkerConfig are optional; zero
// values fall back to slog.Default and worker.DefaultConfig.
type Options struct {
	Logger       *slog.Logger
	WorkerConfig worker.Config
}

// New wires a Facade around storage. The worker is constructed but not
// started until Init is called.
func New(storage repository.Storage, opts Options) *Facade {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.WorkerConfig
	if cfg == (worker.Config{}) {
		cfg = worker.DefaultConfig()
	}

	emitter := events.New(logger, nil)
	reg := registry.New(storage, emitter)
	w := worker.New(storage, emitter, reg, cfg, logger)

	return &Facade{
		Storage:  storage,
		Emitter:  emitter,
		Registry: reg,
		Worker:   w,
		logger:   logger,
	}
}

// Init migrates the schema (if not already done) and starts the worker
// loop. Both steps are idempotent; calling Init more than once is a no-op.
func (f *Facade) Init(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return nil
	}
	if err := f.Storage.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	f.Worker.Start(ctx)
	f.initialized = true
	return nil
}

// Stop halts the worker loop, awaiting any in-flight execution.
func (f *Facade) Stop() {
	f.Worker.Stop()
}

// Retry transitions a failed run back to pending and emits run:retry. Only
// legal from domain.StatusFailed; any other status returns
// domain.ErrInvalidTransition.
func (f *Facade) Retry(ctx context.Context, runID string) error {
	run, err := f.Storage.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.StatusFailed {
		return fmt.Errorf("retry run %s (status=%s): %w", runID, run.Status, domain.ErrInvalidTransition)
	}

	pending := domain.StatusPending
	if err := f.Storage.UpdateRun(ctx, runID, domain.RunUpdate{
		Status:     &pending,
		ClearError: true,
	}); err != nil {
		return fmt.Errorf("retry run %s: %w", runID, err)
	}

	f.Emitter.Emit(events.Event{
		Type:    events.TypeRunRetry,
		RunID:   runID,
		JobName: run.JobName,
		Payload: run.Payload,
	})
	return nil
}

// Cancel transitions a pending or running run to cancelled and emits
// run:cancel. Any other status returns domain.ErrInvalidTransition.
func (f *Facade) Cancel(ctx context.Context, runID string) error {
	run, err := f.Storage.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != domain.StatusPending && run.Status != domain.StatusRunning {
		return fmt.Errorf("cancel run %s (status=%s): %w", runID, run.Status, domain.ErrInvalidTransition)
	}

	cancelled := domain.StatusCancelled
	if err := f.Storage.UpdateRun(ctx, runID, domain.RunUpdate{Status: &cancelled}); err != nil {
		return fmt.Errorf("cancel run %s: %w", runID, err)
	}

	f.Emitter.Emit(events.Event{
		Type:    events.TypeRunCancel,
		RunID:   runID,
		JobName: run.JobName,
		Payload: run.Payload,
	})
	return nil
}

// DeleteRun removes a run and its steps/logs. Only legal from a terminal
// status (completed, failed, cancelled); any other status returns
// domain.ErrInvalidTransition.
func (f *Facade) DeleteRun(ctx context.Context, runID string) error {
	run, err := f.Storage.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.IsTerminal() {
		return fmt.Errorf("delete run %s (status=%s): %w", runID, run.Status, domain.ErrInvalidTransition)
	}
	return f.Storage.DeleteRun(ctx, runID)
}
