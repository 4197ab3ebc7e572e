// Package events is a broadcast bus for operational events: emitted
// transitions, dropped payloads, notify fallbacks. The API streams them
// to websocket clients. Publishing on a nil *Bus is a no-op so
// components never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources name the component that published an event.
const (
	// SourceEmitter is the edge emitter loop.
	SourceEmitter = "emitter"
	// SourceQueue is a broker queue consumer.
	SourceQueue = "queue"
	// SourceCharacteristic is a characteristic write or notify.
	SourceCharacteristic = "characteristic"
	// SourceSink is an event sink.
	SourceSink = "sink"
)

// Kinds describe what happened.
const (
	// KindTransition is a field change.
	// Data: field, old, new.
	KindTransition = "transition"
	// KindDecodeDropped is a payload dropped on decode failure.
	// Data: source, field, payload_size, error.
	KindDecodeDropped = "decode_dropped"
	// KindNotifyFallback is a notify that failed and fell back to set.
	// Data: field, error.
	KindNotifyFallback = "notify_fallback"
	// KindSinkFailed is a non-fatal sink error.
	// Data: sink, field, error.
	KindSinkFailed = "sink_failed"
)

// Event is one operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// instead of blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recv maps the receive-only view handed to subscribers back to
	// the channel stored in subs.
	recv map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[chan Event]struct{}),
		recv: make(map[<-chan Event]chan Event),
	}
}

// Publish delivers e to every subscriber with buffer space. Safe on a
// nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit stamps and publishes an event. Safe on a nil receiver.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of future events with the given buffer.
// Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recv[ch] = ch
	return ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown
// or already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.recv[ch]
	if !ok {
		return
	}
	delete(b.subs, send)
	delete(b.recv, ch)
	close(send)
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
