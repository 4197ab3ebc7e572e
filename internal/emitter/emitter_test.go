package emitter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/sink"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSink struct {
	mu  sync.Mutex
	err error
	got []control.Transition
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Emit(_ context.Context, t control.Transition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, t)
	return c.err
}

func (c *captureSink) transitions() []control.Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]control.Transition(nil), c.got...)
}

func TestStep_NoChangeNoEmit(t *testing.T) {
	state := control.NewState()
	cs := &captureSink{}
	e := New(state, cs, time.Millisecond, discard(), nil)

	for range 3 {
		if _, err := e.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if got := cs.transitions(); len(got) != 0 {
		t.Errorf("got %d transitions for an unchanged state, want 0", len(got))
	}
}

func TestStep_QueueReplay(t *testing.T) {
	state := control.NewState()
	cs := &captureSink{}
	e := New(state, cs, time.Millisecond, discard(), nil)
	ctx := context.Background()

	if err := state.Apply(control.FieldLeftRight, []byte{0x01}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Step(ctx); err != nil {
		t.Fatal(err)
	}
	if err := state.Apply(control.FieldLeftRight, []byte{0x00}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Step(ctx); err != nil {
		t.Fatal(err)
	}

	want := []control.Transition{
		{Field: control.FieldLeftRight, Old: 0, New: 1},
		{Field: control.FieldLeftRight, Old: 1, New: 0},
	}
	got := cs.transitions()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStep_CoalescesWritesBetweenCycles(t *testing.T) {
	state := control.NewState()
	cs := &captureSink{}
	e := New(state, cs, time.Millisecond, discard(), nil)

	_ = state.Set(control.FieldShoot, 1)
	_ = state.Set(control.FieldShoot, 0)
	_, _ = e.Step(context.Background())

	if got := cs.transitions(); len(got) != 0 {
		t.Errorf("got %v, want nothing (press and release coalesced)", got)
	}
}

func TestStep_NonFatalErrorContinues(t *testing.T) {
	state := control.NewState()
	state.Replace(control.Control{Jump: true, Spin: true})
	cs := &captureSink{err: errors.New("subscriber went away")}
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	e := New(state, cs, time.Millisecond, discard(), bus)
	changes, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("Step() error = %v, want nil for non-fatal sink error", err)
	}
	if len(changes) != 2 || len(cs.transitions()) != 2 {
		t.Errorf("changes=%d delivered=%d, want 2 and 2", len(changes), len(cs.transitions()))
	}

	var kinds []string
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	failed := 0
	for _, k := range kinds {
		if k == events.KindSinkFailed {
			failed++
		}
	}
	if failed != 2 {
		t.Errorf("sink_failed events = %d, want 2 (kinds %v)", failed, kinds)
	}
}

func TestStep_FatalStops(t *testing.T) {
	state := control.NewState()
	state.Replace(control.Control{Jump: true, Spin: true})
	cs := &captureSink{err: sink.Fatal(errors.New("uinput rejected event"))}
	e := New(state, cs, time.Millisecond, discard(), nil)

	_, err := e.Step(context.Background())
	if !sink.IsFatal(err) {
		t.Fatalf("Step() error = %v, want fatal", err)
	}
	if got := len(cs.transitions()); got != 1 {
		t.Errorf("delivered %d transitions, want 1 before stopping", got)
	}
	if !e.Previous().Jump {
		t.Error("previous snapshot should advance even on failure")
	}
}

func TestRun_EmitsAndStopsOnCancel(t *testing.T) {
	state := control.NewState()
	cs := &captureSink{}
	e := New(state, cs, time.Millisecond, discard(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	_ = state.Set(control.FieldUpDown, -1)

	deadline := time.After(2 * time.Second)
	for len(cs.transitions()) == 0 {
		select {
		case <-deadline:
			t.Fatal("emitter never reported the change")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	got := cs.transitions()
	if got[0] != (control.Transition{Field: control.FieldUpDown, Old: 0, New: -1}) {
		t.Errorf("transition = %v", got[0])
	}
}

func TestRun_ReturnsFatal(t *testing.T) {
	state := control.NewState()
	state.Replace(control.Control{Shoot: true})
	cs := &captureSink{err: sink.Fatal(errors.New("gone"))}
	e := New(state, cs, time.Millisecond, discard(), nil)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	select {
	case err := <-done:
		if !sink.IsFatal(err) {
			t.Errorf("Run() error = %v, want fatal", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return on fatal sink error")
	}
}
