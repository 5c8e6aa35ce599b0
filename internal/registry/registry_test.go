package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ErlanBelekov/durably/internal/domain"
	"github.com/ErlanBelekov/durably/internal/events"
	"github.com/ErlanBelekov/durably/internal/registry"
	"github.com/ErlanBelekov/durably/internal/repository"
	"github.com/ErlanBelekov/durably/internal/stepctx"
	"github.com/ErlanBelekov/durably/internal/storage/sqlite"
)

type greetInput struct {
	Name string `json:"name" validate:"required"`
}

type greetOutput struct {
	Message string `json:"message"`
}

type strictOutput struct {
	Message string `json:"message" validate:"required"`
}

func newTestRegistry(t *testing.T) (*registry.Registry, *sqlite.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	emitter := events.New(nil, nil)
	return registry.New(db, emitter), db
}

func greetFn(ctx *stepctx.Context, input greetInput) (greetOutput, error) {
	return greetOutput{Message: "hello " + input.Name}, nil
}

func TestRegister_SameFunction_IsIdempotent(t *testing.T) {
	reg, _ := newTestRegistry(t)

	h1, err := registry.Register(reg, "greet", greetFn)
	if err != nil {
		t.Fatalf("first register: %v", err)
	}
	h2, err := registry.Register(reg, "greet", greetFn)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if h1 != h2 {
		t.Error("re-registering the same function returned a different handle")
	}
}

func TestRegister_DifferentFunctionSameName_IsAClash(t *testing.T) {
	reg, _ := newTestRegistry(t)

	if _, err := registry.Register(reg, "greet", greetFn); err != nil {
		t.Fatalf("first register: %v", err)
	}

	other := func(ctx *stepctx.Context, input greetInput) (greetOutput, error) {
		return greetOutput{Message: "bye " + input.Name}, nil
	}
	if _, err := registry.Register(reg, "greet", other); !errors.Is(err, domain.ErrJobDefinitionClash) {
		t.Errorf("err = %v, want ErrJobDefinitionClash", err)
	}
}

func TestJobHandle_Trigger_ValidatesInput(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handle, err := registry.Register(reg, "greet", greetFn)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := handle.Trigger(context.Background(), greetInput{}, registry.TriggerOpts{}); err == nil {
		t.Error("expected validation error for empty required field, got nil")
	}
}

func TestJobHandle_Trigger_CreatesPendingRun(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handle, err := registry.Register(reg, "greet", greetFn)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	run, err := handle.Trigger(context.Background(), greetInput{Name: "Ada"}, registry.TriggerOpts{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if run.Status != domain.StatusPending {
		t.Errorf("status = %q, want pending", run.Status)
	}
	if run.JobName != "greet" {
		t.Errorf("job name = %q, want greet", run.JobName)
	}
}

func TestJobHandle_BatchTrigger_AllOrNothingOnValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	handle, err := registry.Register(reg, "greet", greetFn)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = handle.BatchTrigger(context.Background(), []greetInput{
		{Name: "Ada"},
		{}, // invalid
	}, nil)
	if err == nil {
		t.Fatal("expected batch trigger to fail validation on the second input")
	}

	runs, getErr := handle.GetRuns(context.Background(), domain.RunFilter{})
	if getErr != nil {
		t.Fatalf("get runs: %v", getErr)
	}
	if len(runs) != 0 {
		t.Errorf("len(runs) = %d, want 0 (nothing inserted on validation failure)", len(runs))
	}
}

func TestJobHandle_GetRun_RejectsRunFromAnotherJob(t *testing.T) {
	reg, _ := newTestRegistry(t)
	greetHandle, err := registry.Register(reg, "greet", greetFn)
	if err != nil {
		t.Fatalf("register greet: %v", err)
	}
	otherFn := func(ctx *stepctx.Context, input greetInput) (greetOutput, error) { return greetOutput{}, nil }
	otherHandle, err := registry.Register(reg, "other", otherFn)
	if err != nil {
		t.Fatalf("register other: %v", err)
	}

	run, err := greetHandle.Trigger(context.Background(), greetInput{Name: "Ada"}, registry.TriggerOpts{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	if _, err := otherHandle.GetRun(context.Background(), run.ID); !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestTriggerRaw_UnknownJob_ReturnsErrUnknownJob(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.TriggerRaw(context.Background(), "nonexistent", []byte(`{}`), registry.TriggerOpts{})
	if !errors.Is(err, domain.ErrUnknownJob) {
		t.Errorf("err = %v, want ErrUnknownJob", err)
	}
}

func TestTriggerRaw_InvalidPayload_IsRejectedBeforeInsert(t *testing.T) {
	reg, db := newTestRegistry(t)
	if _, err := registry.Register(reg, "greet", greetFn); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := reg.TriggerRaw(context.Background(), "greet", []byte(`{}`), registry.TriggerOpts{}); err == nil {
		t.Fatal("expected validation error for missing required field")
	}

	runs, err := db.GetRuns(context.Background(), domain.RunFilter{JobName: "greet"})
	if err != nil {
		t.Fatalf("get runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("len(runs) = %d, want 0 (invalid payload must not create a row)", len(runs))
	}
}

func TestRegistry_Run_InvalidOutput_FailsRunBeforeEncoding(t *testing.T) {
	reg, db := newTestRegistry(t)
	blankFn := func(ctx *stepctx.Context, input greetInput) (strictOutput, error) {
		return strictOutput{}, nil
	}
	if _, err := registry.Register(reg, "blank", blankFn); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	run, err := db.CreateRun(ctx, repository.CreateRunInput{JobName: "blank", Payload: []byte(`{"name":"Ada"}`)})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	emitter := events.New(nil, nil)
	sctx := stepctx.New(ctx, db, emitter, run.ID, "blank")

	if _, err := reg.Run(sctx, "blank", []byte(`{"name":"Ada"}`)); err == nil {
		t.Error("expected output validation error for blank required field, got nil")
	}
}

func TestRegistry_Run_DispatchesByJobName(t *testing.T) {
	reg, db := newTestRegistry(t)
	if _, err := registry.Register(reg, "greet", greetFn); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	run, err := db.CreateRun(ctx, repository.CreateRunInput{JobName: "greet", Payload: []byte(`{"name":"Ada"}`)})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	emitter := events.New(nil, nil)
	sctx := stepctx.New(ctx, db, emitter, run.ID, "greet")

	out, err := reg.Run(sctx, "greet", []byte(`{"name":"Ada"}`))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(out) != `{"message":"hello Ada"}` {
		t.Errorf("out = %s, want {\"message\":\"hello Ada\"}", out)
	}
}
