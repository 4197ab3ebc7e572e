package control

import (
	"fmt"
	"sync"
)

// State is the single mutable Control shared by the classifier, the
// message sources and the emitter. Construct it once at startup and
// pass the pointer to every task. Lock hold times are bounded to one
// struct copy or one field write; writes between two reads coalesce
// (last write wins).
type State struct {
	mu      sync.Mutex
	current Control
}

// NewState returns a State holding the default Control.
func NewState() *State {
	return &State{}
}

// Snapshot returns a copy of the current value.
func (s *State) Snapshot() Control {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Replace overwrites every field at once.
func (s *State) Replace(c Control) {
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
}

// Set assigns exactly one field, leaving the others untouched.
// Reapplying the same value is a no-op.
func (s *State) Set(f FieldID, v Value) error {
	if !f.Valid(v) {
		return fmt.Errorf("set %s: invalid value %d", f, v)
	}
	s.mu.Lock()
	s.current.set(f, v)
	s.mu.Unlock()
	return nil
}

// Apply decodes payload for the field and assigns it. On decode
// failure the field is left unchanged.
func (s *State) Apply(f FieldID, payload []byte) error {
	v, err := Decode(f, payload)
	if err != nil {
		return err
	}
	return s.Set(f, v)
}
