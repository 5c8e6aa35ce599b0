// Package registry implements job definition registration and the
// JobHandle surface (trigger/triggerAndWait/batchTrigger/getRun/getRuns),
// scoped per job name: each handle wraps repository.Storage scoped to one
// job name, behind a narrow per-job-name interface.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ErlanBelekov/durably/internal/domain"
	"github.com/ErlanBelekov/durably/internal/events"
	"github.com/ErlanBelekov/durably/internal/repository"
	"github.com/ErlanBelekov/durably/internal/stepctx"
)

var validate = validator.New()

// RunFunc is a job's implementation: given a per-execution StepContext and
// the decoded+validated input, it returns an output or an error.
type RunFunc[TIn any, TOut any] func(ctx *stepctx.Context, input TIn) (TOut, error)

// Runner is the type-erased form the worker dispatches by job name: decode
// payload, validate, invoke, encode output.
type Runner interface {
	// run executes the job body against raw JSON payload bytes: decode and
	// validate the input, invoke the job function, validate the returned
	// output struct's tags, then encode it to raw JSON. A validation
	// failure on either side fails the run.
	run(ctx *stepctx.Context, payload []byte) ([]byte, error)
	// validateInput decodes and validates raw JSON without invoking the job
	// body, used by the HTTP trigger endpoint which only knows a job name
	// at runtime, not its Go input type.
	validateInput(payload []byte) error
}

type runnerFunc[TIn any, TOut any] struct {
	fn RunFunc[TIn, TOut]
}

func decodeAndValidate[TIn any](payload []byte) (TIn, error) {
	var input TIn
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &input); err != nil {
			return input, fmt.Errorf("invalid input: decode: %w", err)
		}
	}
	if err := validate.Struct(input); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); !ok {
			return input, fmt.Errorf("invalid input: %w", err)
		}
	}
	return input, nil
}

func (r runnerFunc[TIn, TOut]) validateInput(payload []byte) error {
	_, err := decodeAndValidate[TIn](payload)
	return err
}

func (r runnerFunc[TIn, TOut]) run(ctx *stepctx.Context, payload []byte) ([]byte, error) {
	input, err := decodeAndValidate[TIn](payload)
	if err != nil {
		return nil, err
	}

	output, err := r.fn(ctx, input)
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(output); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); !ok {
			return nil, fmt.Errorf("invalid output: %w", err)
		}
	}

	encoded, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	return encoded, nil
}

// entry tracks identity of the function registered under a job name, so a
// second Register call with the *same* function is idempotent while one
// with a *different* function under the same name is an error.
type entry struct {
	funcPtr uintptr
	handle  any
	runner  Runner
}

// Registry owns every registered job's handle and dispatch table.
type Registry struct {
	storage repository.Storage
	emitter *events.Emitter

	mu      sync.RWMutex
	entries map[string]entry
}

// New constructs an empty Registry backed by storage and emitter.
func New(storage repository.Storage, emitter *events.Emitter) *Registry {
	return &Registry{
		storage: storage,
		emitter: emitter,
		entries: make(map[string]entry),
	}
}

// Register installs fn under jobName and returns a JobHandle scoped to it.
// Re-registering the identical function value under the same name returns
// the existing handle; registering a different function under a name
// already in use returns domain.ErrJobDefinitionClash.
func Register[TIn any, TOut any](r *Registry, jobName string, fn RunFunc[TIn, TOut]) (*JobHandle[TIn, TOut], error) {
	funcPtr := reflect.ValueOf(fn).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[jobName]; ok {
		if existing.funcPtr != funcPtr {
			return nil, fmt.Errorf("job %q: %w", jobName, domain.ErrJobDefinitionClash)
		}
		handle, ok := existing.handle.(*JobHandle[TIn, TOut])
		if !ok {
			return nil, fmt.Errorf("job %q: %w", jobName, domain.ErrJobDefinitionClash)
		}
		return handle, nil
	}

	handle := &JobHandle[TIn, TOut]{
		jobName: jobName,
		storage: r.storage,
		emitter: r.emitter,
	}
	r.entries[jobName] = entry{
		funcPtr: funcPtr,
		handle:  handle,
		runner:  runnerFunc[TIn, TOut]{fn: fn},
	}
	return handle, nil
}

// Runner returns the type-erased runner for jobName, or false if no job is
// registered under that name. Used by the worker to dispatch without
// knowing TIn/TOut.
func (r *Registry) Runner(jobName string) (Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobName]
	if !ok {
		return nil, false
	}
	return e.runner, true
}

// Run invokes the runner registered under jobName against payload. Returns
// domain.ErrUnknownJob if no job is registered under that name.
func (r *Registry) Run(ctx *stepctx.Context, jobName string, payload []byte) ([]byte, error) {
	runner, ok := r.Runner(jobName)
	if !ok {
		return nil, fmt.Errorf("%s: %w", jobName, domain.ErrUnknownJob)
	}
	return runner.run(ctx, payload)
}

// TriggerRaw validates payload against jobName's input schema and creates a
// pending run, without requiring the caller to know the job's Go input
// type — the path the HTTP handler uses, since POST /trigger only carries
// a job name and raw JSON.
func (r *Registry) TriggerRaw(ctx context.Context, jobName string, payload []byte, opts TriggerOpts) (*domain.Run, error) {
	runner, ok := r.Runner(jobName)
	if !ok {
		return nil, fmt.Errorf("%s: %w", jobName, domain.ErrUnknownJob)
	}
	if err := runner.validateInput(payload); err != nil {
		return nil, err
	}

	run, err := r.storage.CreateRun(ctx, repository.CreateRunInput{
		JobName:        jobName,
		Payload:        payload,
		IdempotencyKey: opts.IdempotencyKey,
		ConcurrencyKey: opts.ConcurrencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	r.emitter.Emit(events.Event{
		Type:    events.TypeRunTrigger,
		RunID:   run.ID,
		JobName: jobName,
		Payload: payload,
	})
	return run, nil
}

// TriggerOpts carries the optional per-trigger settings.
type TriggerOpts struct {
	IdempotencyKey *string
	ConcurrencyKey *string
	Timeout        time.Duration // only meaningful for TriggerAndWait
}

// JobHandle is the per-job-name surface returned by Register.
type JobHandle[TIn any, TOut any] struct {
	jobName string
	storage repository.Storage
	emitter *events.Emitter
}

// Trigger validates input, inserts a pending run, and emits run:trigger.
func (h *JobHandle[TIn, TOut]) Trigger(ctx context.Context, input TIn, opts TriggerOpts) (*domain.Run, error) {
	if err := validate.Struct(input); err != nil {
		if _, ok := err.(*validator.InvalidValidationError); !ok {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	run, err := h.storage.CreateRun(ctx, repository.CreateRunInput{
		JobName:        h.jobName,
		Payload:        payload,
		IdempotencyKey: opts.IdempotencyKey,
		ConcurrencyKey: opts.ConcurrencyKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	h.emitter.Emit(events.Event{
		Type:    events.TypeRunTrigger,
		RunID:   run.ID,
		JobName: h.jobName,
		Payload: payload,
	})
	return run, nil
}

// TriggerAndWaitResult is what TriggerAndWait resolves with on success.
type TriggerAndWaitResult struct {
	RunID  string
	Output []byte
}

// TriggerAndWait triggers, then blocks for either run:complete or run:fail
// for this run, guarding against the race where the run finishes before the
// listener attaches by polling GetRun once right after subscribing.
func (h *JobHandle[TIn, TOut]) TriggerAndWait(ctx context.Context, input TIn, opts TriggerOpts) (*TriggerAndWaitResult, error) {
	run, err := h.Trigger(ctx, input, opts)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		result *TriggerAndWaitResult
		err    error
	}
	resultCh := make(chan outcome, 1)
	var once sync.Once
	deliver := func(o outcome) {
		once.Do(func() { resultCh <- o })
	}

	unsubComplete := h.emitter.On(events.TypeRunComplete, func(ev events.Event) {
		if ev.RunID != run.ID {
			return
		}
		deliver(outcome{result: &TriggerAndWaitResult{RunID: run.ID, Output: ev.Output}})
	})
	unsubFail := h.emitter.On(events.TypeRunFail, func(ev events.Event) {
		if ev.RunID != run.ID {
			return
		}
		deliver(outcome{err: fmt.Errorf("run %s failed: %s", run.ID, ev.Error)})
	})
	defer unsubComplete()
	defer unsubFail()

	// Mitigate the completion-before-subscription race: re-read the run once.
	if current, err := h.storage.GetRun(ctx, run.ID); err == nil {
		switch current.Status {
		case domain.StatusCompleted:
			deliver(outcome{result: &TriggerAndWaitResult{RunID: run.ID, Output: current.Output}})
		case domain.StatusFailed:
			msg := ""
			if current.Error != nil {
				msg = *current.Error
			}
			deliver(outcome{err: fmt.Errorf("run %s failed: %s", run.ID, msg)})
		}
	}

	var timeoutCh <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case o := <-resultCh:
		return o.result, o.err
	case <-timeoutCh:
		return nil, fmt.Errorf("run %s: triggerAndWait timed out after %s", run.ID, opts.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BatchTrigger validates every input before inserting any row: if any
// fails validation, nothing is inserted.
func (h *JobHandle[TIn, TOut]) BatchTrigger(ctx context.Context, inputs []TIn, opts []TriggerOpts) ([]*domain.Run, error) {
	creates := make([]repository.CreateRunInput, len(inputs))
	for i, input := range inputs {
		if err := validate.Struct(input); err != nil {
			if _, ok := err.(*validator.InvalidValidationError); !ok {
				return nil, fmt.Errorf("invalid input at index %d: %w", i, err)
			}
		}
		payload, err := json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("encode input at index %d: %w", i, err)
		}
		create := repository.CreateRunInput{JobName: h.jobName, Payload: payload}
		if i < len(opts) {
			create.IdempotencyKey = opts[i].IdempotencyKey
			create.ConcurrencyKey = opts[i].ConcurrencyKey
		}
		creates[i] = create
	}

	runs, err := h.storage.BatchCreateRuns(ctx, creates)
	if err != nil {
		return nil, fmt.Errorf("batch create runs: %w", err)
	}

	for _, run := range runs {
		h.emitter.Emit(events.Event{
			Type:    events.TypeRunTrigger,
			RunID:   run.ID,
			JobName: h.jobName,
			Payload: run.Payload,
		})
	}
	return runs, nil
}

// GetRun returns the run if it belongs to this handle's job, else
// domain.ErrRunNotFound.
func (h *JobHandle[TIn, TOut]) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	run, err := h.storage.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.JobName != h.jobName {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

// GetRuns passes filter through to Storage with JobName pinned to this
// handle's job, overriding any JobName the caller set on filter.
func (h *JobHandle[TIn, TOut]) GetRuns(ctx context.Context, filter domain.RunFilter) ([]*domain.Run, error) {
	filter.JobName = h.jobName
	return h.storage.GetRuns(ctx, filter)
}
