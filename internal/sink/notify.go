package sink

import (
	"context"
	"log/slog"

	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/events"
)

// Notifier is an outward channel with one notification endpoint per
// field. Set stores the value without notifying anyone.
type Notifier interface {
	Notify(ctx context.Context, f control.FieldID, payload []byte) error
	Set(f control.FieldID, payload []byte) error
}

// Notify writes the new value of each transition to a Notifier. A
// failed notify falls back to Set so the stored value stays current;
// neither failure is propagated.
type Notify struct {
	name     string
	notifier Notifier
	logger   *slog.Logger
	bus      *events.Bus
}

// NewNotify creates a notify sink. The name appears in logs.
func NewNotify(name string, n Notifier, logger *slog.Logger, bus *events.Bus) *Notify {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notify{name: name, notifier: n, logger: logger, bus: bus}
}

// Name returns the configured sink name.
func (s *Notify) Name() string { return s.name }

// Emit notifies the new value, falling back to Set on failure.
func (s *Notify) Emit(ctx context.Context, t control.Transition) error {
	payload := control.Encode(t.Field, t.New)

	err := s.notifier.Notify(ctx, t.Field, payload)
	if err == nil {
		s.logger.Debug("notify success", "sink", s.name, "field", t.Field.String())
		return nil
	}

	s.logger.Info("notify error, storing value without notification",
		"sink", s.name,
		"field", t.Field.String(),
		"error", err,
	)
	s.bus.Emit(events.SourceSink, events.KindNotifyFallback, map[string]any{
		"sink":  s.name,
		"field": t.Field.String(),
		"error": err.Error(),
	})

	if err := s.notifier.Set(t.Field, payload); err != nil {
		s.logger.Warn("set fallback failed",
			"sink", s.name,
			"field", t.Field.String(),
			"error", err,
		)
	}
	return nil
}
