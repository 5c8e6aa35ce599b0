// Package stepctx implements the per-run façade a job function executes
// against: step.run's replay/memoize contract, progress reporting, and
// context-scoped logging. It is a small struct holding everything a
// running unit of work needs (storage handle, event sink, identifiers)
// rather than passing those individually through every call.
package stepctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ErlanBelekov/durably/internal/domain"
	"github.com/ErlanBelekov/durably/internal/events"
	"github.com/ErlanBelekov/durably/internal/id"
	"github.com/ErlanBelekov/durably/internal/repository"
)

// ErrCancelled is returned by Context.Run when the run was already
// cancelled before fn was invoked. The worker treats it like a no-op
// finalize rather than a failure, since storage already reflects the
// cancelled status.
var ErrCancelled = errors.New("run cancelled")

// StepFunc is the unit of work passed to Context.Run. It returns a
// JSON-marshalable output or an error.
type StepFunc func(ctx context.Context) (any, error)

// Context is constructed fresh for each claimed run and passed to the job
// function in place of a bare context.Context.
type Context struct {
	context.Context

	RunID   string
	jobName string

	storage  repository.Storage
	emitter  *events.Emitter

	mu    sync.Mutex
	index int // local step counter for this execution attempt
}

// New constructs a Context for one execution attempt of runID/jobName.
func New(parent context.Context, storage repository.Storage, emitter *events.Emitter, runID, jobName string) *Context {
	return &Context{
		Context: parent,
		RunID:   runID,
		jobName: jobName,
		storage: storage,
		emitter: emitter,
	}
}

// Run is the replay contract: if a completed step named `name` already
// exists for this run, its stored output is decoded into out and fn is
// never invoked. Otherwise fn runs, its result (or error) is persisted,
// and the corresponding step:* event is emitted.
//
// out must be a pointer (or nil if the step result is discarded); Run
// decodes the step's JSON output into it on both the replay path and the
// fresh-execution path, mirroring json.Unmarshal's contract.
func (c *Context) Run(name string, fn StepFunc, out any) error {
	run, err := c.storage.GetRun(c.Context, c.RunID)
	if err != nil {
		return fmt.Errorf("check run status for step %q: %w", name, err)
	}
	if run.Status == domain.StatusCancelled {
		return ErrCancelled
	}

	c.mu.Lock()
	stepIndex := c.index
	c.index++
	c.mu.Unlock()

	existing, err := c.storage.GetCompletedStep(c.Context, c.RunID, name)
	if err != nil {
		return fmt.Errorf("check completed step %q: %w", name, err)
	}
	if existing != nil {
		if out != nil && len(existing.Output) > 0 {
			if err := json.Unmarshal(existing.Output, out); err != nil {
				return fmt.Errorf("decode replayed output for step %q: %w", name, err)
			}
		}
		return nil
	}

	startedAt := time.Now()
	c.emitter.Emit(events.Event{
		Type:      events.TypeStepStart,
		RunID:     c.RunID,
		JobName:   c.jobName,
		StepName:  name,
		StepIndex: stepIndex,
	})

	result, fnErr := fn(c.Context)
	completedAt := time.Now()
	duration := completedAt.Sub(startedAt)

	if fnErr != nil {
		msg := fnErr.Error()
		step := &domain.Step{
			ID:          id.Step(),
			RunID:       c.RunID,
			Name:        name,
			Index:       stepIndex,
			Status:      domain.StepFailed,
			Error:       &msg,
			StartedAt:   startedAt,
			CompletedAt: completedAt,
		}
		if err := c.storage.CreateStep(c.Context, step); err != nil {
			return fmt.Errorf("persist failed step %q: %w", name, err)
		}
		c.emitter.Emit(events.Event{
			Type:      events.TypeStepFail,
			RunID:     c.RunID,
			JobName:   c.jobName,
			StepName:  name,
			StepIndex: stepIndex,
			Error:     msg,
			Duration:  duration,
		})
		return fnErr
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode output for step %q: %w", name, err)
	}

	step := &domain.Step{
		ID:          id.Step(),
		RunID:       c.RunID,
		Name:        name,
		Index:       stepIndex,
		Status:      domain.StepCompleted,
		Output:      encoded,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	if err := c.storage.CreateStep(c.Context, step); err != nil {
		return fmt.Errorf("persist completed step %q: %w", name, err)
	}

	nextIndex := stepIndex + 1
	if err := c.storage.UpdateRun(c.Context, c.RunID, domain.RunUpdate{CurrentStepIndex: &nextIndex}); err != nil {
		return fmt.Errorf("advance current step index: %w", err)
	}

	c.emitter.Emit(events.Event{
		Type:      events.TypeStepComple,
		RunID:     c.RunID,
		JobName:   c.jobName,
		StepName:  name,
		StepIndex: stepIndex,
		Output:    encoded,
		Duration:  duration,
	})

	if out != nil {
		if err := json.Unmarshal(encoded, out); err != nil {
			return fmt.Errorf("decode fresh output for step %q: %w", name, err)
		}
	}
	return nil
}

// Progress records the run's progress and emits run:progress. The storage
// write is synchronous: Progress returns only after UpdateRun does. A failed
// write is ignored and nothing is returned, so the job function cannot
// observe it.
func (c *Context) Progress(current float64, total *float64, message string) {
	progress := &domain.Progress{Current: current, Total: total, Message: message}
	_ = c.storage.UpdateRun(c.Context, c.RunID, domain.RunUpdate{Progress: progress})

	var eventTotal *float64
	if total != nil {
		t := *total
		eventTotal = &t
	}
	c.emitter.Emit(events.Event{
		Type:    events.TypeRunProgress,
		RunID:   c.RunID,
		JobName: c.jobName,
		Progress: &events.ProgressPayload{
			Current: current,
			Total:   eventTotal,
			Message: message,
		},
	})
}

// Log is the context.log.{info|warn|error} surface. stepName is empty for
// context-level log calls.
type Log struct {
	ctx      *Context
	stepName string
}

// Log returns a Log scoped to the given step name (empty for
// context-level logging outside any step.run call).
func (c *Context) Log(stepName string) Log {
	return Log{ctx: c, stepName: stepName}
}

func (l Log) Info(message string, data any)  { l.write(domain.LogInfo, message, data) }
func (l Log) Warn(message string, data any)  { l.write(domain.LogWarn, message, data) }
func (l Log) Error(message string, data any) { l.write(domain.LogError, message, data) }

func (l Log) write(level domain.LogLevel, message string, data any) {
	var encoded []byte
	if data != nil {
		encoded, _ = json.Marshal(data)
	}

	var stepName *string
	if l.stepName != "" {
		s := l.stepName
		stepName = &s
	}

	entry := &domain.LogEntry{
		ID:        id.Log(),
		RunID:     l.ctx.RunID,
		StepName:  stepName,
		Level:     level,
		Message:   message,
		Data:      encoded,
		CreatedAt: time.Now(),
	}
	_ = l.ctx.storage.CreateLog(l.ctx.Context, entry)

	l.ctx.emitter.Emit(events.Event{
		Type:     events.TypeLogWrite,
		RunID:    l.ctx.RunID,
		JobName:  l.ctx.jobName,
		StepName: l.stepName,
		LogLevel: string(level),
		Message:  message,
		Data:     encoded,
	})
}
