package durably

import (
	"context"
	"sync"

	"github.com/ErlanBelekov/durably/internal/events"
)

// runSubscribeTypes is the event taxonomy a single-run subscription
// forwards. run:complete additionally closes the stream; run:fail/
// run:cancel/run:retry are forwarded but do not close it, so a consumer
// watching a run across a retry keeps receiving events.
var runSubscribeTypes = []events.Type{
	events.TypeRunStart,
	events.TypeRunProgress,
	events.TypeStepStart,
	events.TypeStepComple,
	events.TypeStepFail,
	events.TypeLogWrite,
	events.TypeRunComplete,
	events.TypeRunFail,
	events.TypeRunCancel,
	events.TypeRunRetry,
}

// Subscription is a pull-based stream of events for one run (or, for the
// all-runs feed, every run). Next blocks until an event is available, the
// stream closes, or ctx is cancelled.
type Subscription struct {
	ch        chan events.Event
	unsubs    []events.Unsubscribe
	closeOnce func()
}

// Next returns the next event, or ok=false once the stream has closed
// (either because a terminal event closed it or Close was called).
func (s *Subscription) Next(ctx context.Context) (events.Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-ctx.Done():
		return events.Event{}, false
	}
}

// Close unsubscribes every inner listener. Idempotent, and safe to call
// even after the stream has already closed itself on run:complete.
func (s *Subscription) Close() {
	s.closeOnce()
}

// Subscribe returns a Subscription restricted to runID. The stream closes
// itself after delivering a run:complete event for this run.
func (f *Facade) Subscribe(runID string) *Subscription {
	ch := make(chan events.Event, 64)
	sub := &Subscription{ch: ch}

	var closeMu sync.Once
	closed := false
	var mu sync.Mutex

	closeAll := func() {
		for _, unsub := range sub.unsubs {
			unsub()
		}
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
	sub.closeOnce = func() { closeMu.Do(closeAll) }

	for _, t := range runSubscribeTypes {
		t := t
		unsub := f.Emitter.On(t, func(ev events.Event) {
			if ev.RunID != runID {
				return
			}
			mu.Lock()
			alreadyClosed := closed
			mu.Unlock()
			if alreadyClosed {
				return
			}

			select {
			case ch <- ev:
			default:
				// A slow consumer must not block event delivery to other
				// listeners; dropping here is preferable to stalling Emit
				// for every other subscriber.
			}

			if t == events.TypeRunComplete {
				sub.closeOnce()
			}
		})
		sub.unsubs = append(sub.unsubs, unsub)
	}

	return sub
}

// SubscribeRuns returns a Subscription over every run's lifecycle events,
// optionally restricted to jobName. When jobName is empty (unfiltered),
// log:write events are included too; when filtered, they are excluded, to
// keep the filtered stream a narrower lifecycle-only summary.
func (f *Facade) SubscribeRuns(jobName string) *Subscription {
	ch := make(chan events.Event, 256)
	sub := &Subscription{ch: ch}

	var closeMu sync.Once
	var mu sync.Mutex
	closed := false

	closeAll := func() {
		for _, unsub := range sub.unsubs {
			unsub()
		}
		mu.Lock()
		if !closed {
			closed = true
			close(ch)
		}
		mu.Unlock()
	}
	sub.closeOnce = func() { closeMu.Do(closeAll) }

	types := runSubscribeTypes
	if jobName != "" {
		types = make([]events.Type, 0, len(runSubscribeTypes))
		for _, t := range runSubscribeTypes {
			if t != events.TypeLogWrite {
				types = append(types, t)
			}
		}
	}

	for _, t := range types {
		t := t
		unsub := f.Emitter.On(t, func(ev events.Event) {
			if jobName != "" && ev.JobName != jobName {
				return
			}
			mu.Lock()
			alreadyClosed := closed
			mu.Unlock()
			if alreadyClosed {
				return
			}
			select {
			case ch <- ev:
			default:
			}
		})
		sub.unsubs = append(sub.unsubs, unsub)
	}

	return sub
}
