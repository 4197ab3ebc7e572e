// Package source defines the message-source side of the pipeline: a
// Source is a long-running task that receives raw single-field payloads
// and applies them through an Updater bound at construction time.
// Concrete sources live with their transport (characteristic, mqtt).
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/thingy-control/internal/config"
	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/sensor"
)

// Source is one inbound task. Run blocks until ctx is cancelled or the
// source fails.
type Source interface {
	Name() string
	Run(ctx context.Context) error
}

// Updater applies one decoded payload to exactly one field. ID is the
// stable identifier used in queue and characteristic addressing.
type Updater interface {
	ID() string
	String() string
	Update(payload []byte) error
}

// ControlField binds a control field of the shared state.
type ControlField struct {
	State *control.State
	Field control.FieldID
}

// ID returns the field UUID.
func (u ControlField) ID() string { return u.Field.UUID() }

func (u ControlField) String() string { return u.Field.String() }

// Update decodes and assigns the field.
func (u ControlField) Update(payload []byte) error {
	return u.State.Apply(u.Field, payload)
}

// SensorChannel binds one raw sensor channel of a sample buffer.
type SensorChannel struct {
	Buffer  *sensor.Buffer
	Channel sensor.Channel
}

// ID returns the channel UUID.
func (u SensorChannel) ID() string { return u.Channel.UUID() }

func (u SensorChannel) String() string { return u.Channel.String() }

// Update decodes and stores the channel value.
func (u SensorChannel) Update(payload []byte) error {
	return u.Buffer.Apply(u.Channel, payload)
}

// ControlFields returns one binding per control field.
func ControlFields(state *control.State) []Updater {
	var out []Updater
	for _, f := range control.Fields() {
		out = append(out, ControlField{State: state, Field: f})
	}
	return out
}

// SensorChannels returns one binding per relayed sensor channel.
func SensorChannels(buf *sensor.Buffer) []Updater {
	var out []Updater
	for _, c := range sensor.Channels() {
		out = append(out, SensorChannel{Buffer: buf, Channel: c})
	}
	return out
}

// Deliver applies payload through u. A decode failure drops the
// payload: it is logged, reported on the bus and not retried. Deliver
// reports whether the payload was applied.
func Deliver(u Updater, payload []byte, origin string, logger *slog.Logger, bus *events.Bus) bool {
	if err := u.Update(payload); err != nil {
		logger.Warn("payload dropped",
			"source", origin,
			"field", u.String(),
			"payload_size", len(payload),
			"error", err,
		)
		bus.Emit(origin, events.KindDecodeDropped, map[string]any{
			"field":        u.String(),
			"payload_size": len(payload),
			"error":        err.Error(),
		})
		return false
	}
	logger.Log(context.Background(), config.LevelTrace, "payload applied",
		"source", origin, "field", u.String(), "payload", payload)
	return true
}

// RunAll runs every source concurrently until ctx is cancelled. If one
// source fails the others are cancelled and the first error returned.
func RunAll(ctx context.Context, sources []Source, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, s := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Debug("source started", "source", s.Name())
			err := s.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("source %s: %w", s.Name(), err)
				}
				mu.Unlock()
				cancel()
			}
			logger.Debug("source stopped", "source", s.Name())
		}()
	}
	wg.Wait()
	return firstErr
}
