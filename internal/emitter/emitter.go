// Package emitter runs the edge-triggered publish loop: each cycle it
// snapshots the shared control state, diffs it against the previous
// snapshot and hands every changed field to a sink. Sinks run after
// the state lock is released.
package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/sink"
)

// Snapshotter is the read side of the shared state.
type Snapshotter interface {
	Snapshot() control.Control
}

// Emitter is the periodic diff loop. It is not safe to call Step
// concurrently; Run owns it once started.
type Emitter struct {
	state    Snapshotter
	sink     sink.Sink
	interval time.Duration
	logger   *slog.Logger
	bus      *events.Bus

	prev control.Control
}

// New creates an Emitter. The previous snapshot starts at the default
// Control, so the first cycle reports every non-default field. A zero
// interval defaults to 100ms.
func New(state Snapshotter, s sink.Sink, interval time.Duration, logger *slog.Logger, bus *events.Bus) *Emitter {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		state:    state,
		sink:     s,
		interval: interval,
		logger:   logger,
		bus:      bus,
	}
}

// Name identifies the emitter in logs.
func (e *Emitter) Name() string { return "emitter" }

// Run cycles at the configured interval until ctx is cancelled or a
// sink fails fatally. Cancellation returns nil.
func (e *Emitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("emitter started", "interval", e.interval.String(), "sink", e.sink.Name())
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("emitter stopped")
			return nil
		case <-ticker.C:
			if _, err := e.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Step runs a single cycle and returns the transitions it emitted. The
// previous snapshot advances even when a sink fails, so a transition is
// never reported twice.
func (e *Emitter) Step(ctx context.Context) ([]control.Transition, error) {
	cur := e.state.Snapshot()
	changes := control.Diff(e.prev, cur)
	e.prev = cur

	for _, t := range changes {
		e.bus.Emit(events.SourceEmitter, events.KindTransition, map[string]any{
			"field": t.Field.String(),
			"old":   t.Field.Format(t.Old),
			"new":   t.Field.Format(t.New),
		})

		err := e.sink.Emit(ctx, t)
		if err == nil {
			continue
		}
		if sink.IsFatal(err) {
			e.logger.Error("sink failed fatally", "field", t.Field.String(), "error", err)
			return changes, fmt.Errorf("emit %s: %w", t, err)
		}
		e.logger.Warn("sink error", "field", t.Field.String(), "error", err)
		e.bus.Emit(events.SourceSink, events.KindSinkFailed, map[string]any{
			"sink":  e.sink.Name(),
			"field": t.Field.String(),
			"error": err.Error(),
		})
	}
	return changes, nil
}

// Previous returns the last snapshot the emitter observed.
func (e *Emitter) Previous() control.Control {
	return e.prev
}
