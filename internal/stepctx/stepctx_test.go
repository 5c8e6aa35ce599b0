package stepctx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ErlanBelekov/durably/internal/domain"
	"github.com/ErlanBelekov/durably/internal/events"
	"github.com/ErlanBelekov/durably/internal/repository"
	"github.com/ErlanBelekov/durably/internal/storage/sqlite"
	"github.com/ErlanBelekov/durably/internal/stepctx"
)

func newTestContext(t *testing.T) (*stepctx.Context, *sqlite.DB) {
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

	run, err := db.CreateRun(ctx, repository.CreateRunInput{JobName: "test-job", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	emitter := events.New(nil, nil)
	return stepctx.New(ctx, db, emitter, run.ID, "test-job"), db
}

func TestRun_FreshExecution_InvokesFnAndPersistsOutput(t *testing.T) {
	sctx, _ := newTestContext(t)

	var calls int
	var out map[string]int
	err := sctx.Run("step-one", func(context.Context) (any, error) {
		calls++
		return map[string]int{"n": 42}, nil
	}, &out)

	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if out["n"] != 42 {
		t.Errorf("out[n] = %d, want 42", out["n"])
	}
}

func TestRun_Replay_DoesNotReinvokeFn(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	run, err := db.CreateRun(ctx, repository.CreateRunInput{JobName: "test-job", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	emitter := events.New(nil, nil)

	// First execution attempt.
	first := stepctx.New(ctx, db, emitter, run.ID, "test-job")
	var firstOut int
	if err := first.Run("increment", func(context.Context) (any, error) { return 1, nil }, &firstOut); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Simulated crash-and-replay: a fresh Context for the same run.
	second := stepctx.New(ctx, db, emitter, run.ID, "test-job")
	var calls int
	var secondOut int
	if err := second.Run("increment", func(context.Context) (any, error) {
		calls++
		return 999, nil // would be a different value if actually invoked
	}, &secondOut); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if calls != 0 {
		t.Errorf("calls = %d, want 0 (replayed from stored output)", calls)
	}
	if secondOut != 1 {
		t.Errorf("secondOut = %d, want 1 (the originally stored output)", secondOut)
	}
}

func TestRun_FnError_PersistsFailedStepAndReturnsError(t *testing.T) {
	sctx, db := newTestContext(t)

	wantErr := errors.New("payment declined")
	err := sctx.Run("charge", func(context.Context) (any, error) {
		return nil, wantErr
	}, nil)

	if err == nil || err.Error() != wantErr.Error() {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}

	steps, getErr := db.GetSteps(context.Background(), sctx.RunID)
	if getErr != nil {
		t.Fatalf("get steps: %v", getErr)
	}
	if len(steps) != 1 || steps[0].Error == nil || *steps[0].Error != wantErr.Error() {
		t.Fatalf("steps = %+v, want one failed step with the error message", steps)
	}
}

func TestRun_StepsGetStrictlyIncreasingIndices(t *testing.T) {
	sctx, db := newTestContext(t)

	for _, name := range []string{"a", "b", "c"} {
		if err := sctx.Run(name, func(context.Context) (any, error) { return nil, nil }, nil); err != nil {
			t.Fatalf("run %s: %v", name, err)
		}
	}

	steps, err := db.GetSteps(context.Background(), sctx.RunID)
	if err != nil {
		t.Fatalf("get steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("len(steps) = %d, want 3", len(steps))
	}
	for i, step := range steps {
		if step.Index != i {
			t.Errorf("steps[%d].Index = %d, want %d", i, step.Index, i)
		}
	}
}

func TestLog_Info_PersistsLogEntry(t *testing.T) {
	sctx, db := newTestContext(t)

	sctx.Log("send-notification").Info("sent", map[string]string{"to": "a@example.com"})

	logs, err := db.GetLogs(context.Background(), sctx.RunID)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Message != "sent" {
		t.Fatalf("logs = %+v, want one entry with message 'sent'", logs)
	}
	if logs[0].StepName == nil || *logs[0].StepName != "send-notification" {
		t.Errorf("step name = %v, want send-notification", logs[0].StepName)
	}
}

func TestProgress_UpdatesRunProgress(t *testing.T) {
	sctx, db := newTestContext(t)

	total := 10.0
	sctx.Progress(3, &total, "working")

	run, err := db.GetRun(context.Background(), sctx.RunID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Progress == nil || run.Progress.Current != 3 || run.Progress.Message != "working" {
		t.Fatalf("progress = %+v, want current=3 message=working", run.Progress)
	}
}

func TestRun_RunAlreadyCancelled_ReturnsErrCancelledWithoutInvokingFn(t *testing.T) {
	sctx, db := newTestContext(t)

	cancelled := domain.StatusCancelled
	if err := db.UpdateRun(context.Background(), sctx.RunID, domain.RunUpdate{Status: &cancelled}); err != nil {
		t.Fatalf("cancel run: %v", err)
	}

	var calls int
	err := sctx.Run("step-two", func(context.Context) (any, error) {
		calls++
		return nil, nil
	}, nil)

	if !errors.Is(err, stepctx.ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0 (fn must not run once the run is cancelled)", calls)
	}

	steps, getErr := db.GetSteps(context.Background(), sctx.RunID)
	if getErr != nil {
		t.Fatalf("get steps: %v", getErr)
	}
	if len(steps) != 0 {
		t.Errorf("len(steps) = %d, want 0 (no step should be persisted for a short-circuited call)", len(steps))
	}
}

func TestRun_EmitsStepStartAndStepCompleteEvents(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	run, err := db.CreateRun(ctx, repository.CreateRunInput{JobName: "test-job", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	emitter := events.New(nil, nil)
	var seen []events.Type
	emitter.On(events.TypeStepStart, func(ev events.Event) { seen = append(seen, ev.Type) })
	emitter.On(events.TypeStepComple, func(ev events.Event) { seen = append(seen, ev.Type) })

	sctx := stepctx.New(ctx, db, emitter, run.ID, "test-job")
	if err := sctx.Run("step", func(context.Context) (any, error) { return nil, nil }, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(seen) != 2 || seen[0] != events.TypeStepStart || seen[1] != events.TypeStepComple {
		t.Fatalf("seen = %v, want [step:start, step:complete]", seen)
	}
}
