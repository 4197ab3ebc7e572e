// Package sink turns field transitions into outward effects. A Sink
// error that wraps [ErrFatal] means the external device can no longer
// be trusted and the pipeline must stop; any other error is logged by
// the caller and the pipeline continues.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/thingy-control/internal/control"
)

// ErrFatal marks a sink failure that leaves external state unknown.
var ErrFatal = errors.New("fatal sink failure")

// Sink receives every transition the emitter observes.
type Sink interface {
	Name() string
	Emit(ctx context.Context, t control.Transition) error
}

// Fatal wraps err so that errors.Is(err, ErrFatal) holds.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}

// IsFatal reports whether err wraps ErrFatal.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// Multi fans a transition out to several sinks in order. A fatal error
// stops the fan-out immediately; other errors are joined and returned
// after every sink has run.
type Multi []Sink

// Name returns "multi".
func (m Multi) Name() string { return "multi" }

// Emit delivers t to every sink.
func (m Multi) Emit(ctx context.Context, t control.Transition) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, t); err != nil {
			err = fmt.Errorf("%s: %w", s.Name(), err)
			if IsFatal(err) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes each transition to a logger at Info, one line per field
// change.
type Log struct {
	Logger *slog.Logger
}

// Name returns "log".
func (Log) Name() string { return "log" }

// Emit logs the transition.
func (l Log) Emit(_ context.Context, t control.Transition) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("control changed",
		"field", t.Field.String(),
		"old", t.Field.Format(t.Old),
		"new", t.Field.Format(t.New),
	)
	return nil
}
