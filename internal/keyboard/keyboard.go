package keyboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/sink"
)

// ErrUnsupported is returned when no virtual keyboard is available on
// this platform.
var ErrUnsupported = errors.New("virtual keyboard not supported on this platform")

// Device injects key events. Press and Release each produce one event
// followed by a sync.
type Device interface {
	Press(k Key) error
	Release(k Key) error
	Close() error
}

// Sink turns control transitions into key events. For a tri-state
// field the key for the old direction is released before the key for
// the new direction is pressed, so the two are never held together.
type Sink struct {
	dev    Device
	keys   Keymap
	logger *slog.Logger
}

// NewSink creates a keyboard sink writing to dev.
func NewSink(dev Device, keys Keymap, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{dev: dev, keys: keys, logger: logger}
}

// Name returns "keyboard".
func (s *Sink) Name() string { return "keyboard" }

// Emit releases the key held for the old value then presses the key
// for the new one. Device failures are fatal: a failed release may
// leave a key stuck down.
func (s *Sink) Emit(_ context.Context, t control.Transition) error {
	if oldKey, held := s.keys.KeyFor(t.Field, t.Old); held {
		if err := s.dev.Release(oldKey); err != nil {
			return sink.Fatal(fmt.Errorf("release key %d for %s: %w", oldKey, t.Field, err))
		}
		s.logger.Debug("key released", "field", t.Field.String(), "key", oldKey)
	}
	if newKey, held := s.keys.KeyFor(t.Field, t.New); held {
		if err := s.dev.Press(newKey); err != nil {
			return sink.Fatal(fmt.Errorf("press key %d for %s: %w", newKey, t.Field, err))
		}
		s.logger.Debug("key pressed", "field", t.Field.String(), "key", newKey)
	}
	return nil
}

// Event is one key event captured by a Recorder.
type Event struct {
	Key     Key
	Pressed bool
}

// Recorder is an in-memory Device. It is used when no uinput device is
// configured and in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	down   map[Key]bool
	closed bool
	// Fail, when set, is returned from the next Press or Release.
	Fail error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{down: make(map[Key]bool)}
}

// Press records a key-down event.
func (r *Recorder) Press(k Key) error { return r.record(k, true) }

// Release records a key-up event.
func (r *Recorder) Release(k Key) error { return r.record(k, false) }

func (r *Recorder) record(k Key, pressed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("recorder closed")
	}
	if err := r.Fail; err != nil {
		r.Fail = nil
		return err
	}
	r.events = append(r.events, Event{Key: k, Pressed: pressed})
	r.down[k] = pressed
	return nil
}

// Close marks the recorder closed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Events returns a copy of every event recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Held returns the keys currently down.
func (r *Recorder) Held() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []Key
	for k, down := range r.down {
		if down {
			keys = append(keys, k)
		}
	}
	return keys
}
