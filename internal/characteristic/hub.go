// Package characteristic exposes each control field as a GATT-style
// characteristic over HTTP and websocket. Peers subscribe to a field's
// notifications and may write new values, which flow into the shared
// control state through a per-field [Source].
package characteristic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/source"
)

// ErrNoSubscribers is returned by Notify when no peer is subscribed to
// the characteristic.
var ErrNoSubscribers = errors.New("no subscribers")

const (
	sendBuffer   = 16
	writeBuffer  = 16
	writeTimeout = 5 * time.Second
)

type subscriber struct {
	id   string
	send chan []byte
}

type characteristic struct {
	value  []byte
	subs   map[*subscriber]struct{}
	writes chan []byte
}

// Info describes one characteristic for listings.
type Info struct {
	Field       string `json:"field"`
	UUID        string `json:"uuid"`
	Value       []byte `json:"value"`
	Subscribers int    `json:"subscribers"`
}

// Hub holds one characteristic per control field.
type Hub struct {
	mu       sync.Mutex
	chars    map[control.FieldID]*characteristic
	upgrader websocket.Upgrader
	logger   *slog.Logger
	bus      *events.Bus
}

// NewHub creates a hub with every control field registered at its
// default value.
func NewHub(logger *slog.Logger, bus *events.Bus) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		chars: make(map[control.FieldID]*characteristic),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64,
			WriteBufferSize: 64,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
		bus:    bus,
	}
	for _, f := range control.Fields() {
		h.chars[f] = &characteristic{
			value:  control.Encode(f, 0),
			subs:   make(map[*subscriber]struct{}),
			writes: make(chan []byte, writeBuffer),
		}
	}
	return h
}

// Notify stores payload as the field's value and pushes it to every
// subscriber. It returns ErrNoSubscribers when nobody is listening. A
// subscriber whose queue is full misses the notification.
func (h *Hub) Notify(_ context.Context, f control.FieldID, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.chars[f]
	if !ok {
		return fmt.Errorf("unknown field %d", f)
	}
	if len(c.subs) == 0 {
		return ErrNoSubscribers
	}
	c.value = append([]byte(nil), payload...)
	for sub := range c.subs {
		select {
		case sub.send <- c.value:
		default:
			h.logger.Warn("notification dropped, subscriber queue full",
				"field", f.String(), "subscriber", sub.id)
		}
	}
	return nil
}

// Set stores payload as the field's value without notifying anyone.
func (h *Hub) Set(f control.FieldID, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.chars[f]
	if !ok {
		return fmt.Errorf("unknown field %d", f)
	}
	c.value = append([]byte(nil), payload...)
	return nil
}

// Value returns a copy of the field's current value.
func (h *Hub) Value(f control.FieldID) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.chars[f]; ok {
		return append([]byte(nil), c.value...)
	}
	return nil
}

// List describes every characteristic in field order.
func (h *Hub) List() []Info {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Info, 0, len(h.chars))
	for _, f := range control.Fields() {
		c := h.chars[f]
		out = append(out, Info{
			Field:       f.String(),
			UUID:        f.UUID(),
			Value:       append([]byte(nil), c.value...),
			Subscribers: len(c.subs),
		})
	}
	return out
}

// Write queues a peer write for the field's Source. It blocks while
// the queue is full until ctx is done.
func (h *Hub) Write(ctx context.Context, f control.FieldID, payload []byte) error {
	h.mu.Lock()
	c, ok := h.chars[f]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown field %d", f)
	}
	select {
	case c.writes <- append([]byte(nil), payload...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) subscribe(f control.FieldID) *subscriber {
	sub := &subscriber{id: uuid.NewString(), send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.chars[f].subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(f control.FieldID, sub *subscriber) {
	h.mu.Lock()
	delete(h.chars[f].subs, sub)
	h.mu.Unlock()
}

// Subscribers returns the number of peers subscribed to f.
func (h *Hub) Subscribers(f control.FieldID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.chars[f]; ok {
		return len(c.subs)
	}
	return 0
}

// ServeNotify upgrades the request to a websocket subscribed to f.
// Notifications go out as binary messages; binary messages from the
// peer are treated as characteristic writes.
func (h *Hub) ServeNotify(w http.ResponseWriter, r *http.Request, f control.FieldID) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "field", f.String(), "error", err)
		return
	}
	sub := h.subscribe(f)
	h.logger.Info("characteristic subscribed", "field", f.String(), "subscriber", sub.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer func() {
		cancel()
		h.unsubscribe(f, sub)
		conn.Close()
		h.logger.Info("characteristic unsubscribed", "field", f.String(), "subscriber", sub.id)
	}()

	go func() {
		defer cancel()
		for {
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.logger.Debug("characteristic read ended", "field", f.String(), "error", err)
				}
				return
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			if err := h.Write(ctx, f, msg); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case payload := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				h.logger.Debug("characteristic write failed", "field", f.String(), "error", err)
				return
			}
		}
	}
}

// Source consumes peer writes for one field.
type Source struct {
	hub     *Hub
	updater source.Updater
	writes  <-chan []byte
	logger  *slog.Logger
}

// Source returns the write consumer bound to u. The updater's ID must
// be a control field UUID.
func (h *Hub) Source(f control.FieldID, u source.Updater) *Source {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &Source{hub: h, updater: u, writes: h.chars[f].writes, logger: h.logger}
}

// Sources binds one write consumer to each control field of state.
func (h *Hub) Sources(state *control.State) []source.Source {
	var out []source.Source
	for _, f := range control.Fields() {
		out = append(out, h.Source(f, source.ControlField{State: state, Field: f}))
	}
	return out
}

// Name identifies the source in logs.
func (s *Source) Name() string { return "characteristic/" + s.updater.String() }

// Run applies each write until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-s.writes:
			source.Deliver(s.updater, payload, events.SourceCharacteristic, s.logger, s.hub.bus)
		}
	}
}
