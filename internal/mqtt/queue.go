package mqtt

import (
	"context"
	"log/slog"

	"github.com/nugget/thingy-control/internal/events"
	"github.com/nugget/thingy-control/internal/source"
)

type delivery struct {
	payload []byte
	done    chan struct{}
}

// QueueSource consumes one queue and applies each message through its
// Updater. Messages are processed one at a time in arrival order.
type QueueSource struct {
	topic   string
	updater source.Updater
	in      chan delivery
	logger  *slog.Logger
	bus     *events.Bus
}

func newQueueSource(topic string, u source.Updater, logger *slog.Logger, bus *events.Bus) *QueueSource {
	return &QueueSource{
		topic:   topic,
		updater: u,
		in:      make(chan delivery),
		logger:  logger,
		bus:     bus,
	}
}

// Name identifies the source in logs.
func (q *QueueSource) Name() string { return "queue/" + q.updater.String() }

// Topic returns the queue this source consumes.
func (q *QueueSource) Topic() string { return q.topic }

// Run applies messages until ctx is cancelled. Decode failures are
// dropped; the message still counts as processed.
func (q *QueueSource) Run(ctx context.Context) error {
	q.logger.Debug("queue consumer started", "topic", q.topic, "field", q.updater.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-q.in:
			source.Deliver(q.updater, d.payload, events.SourceQueue, q.logger, q.bus)
			close(d.done)
		}
	}
}

// handle passes payload to Run and waits until it has been applied. It
// reports false if ctx ended first.
func (q *QueueSource) handle(ctx context.Context, payload []byte) bool {
	d := delivery{payload: payload, done: make(chan struct{})}
	select {
	case q.in <- d:
	case <-ctx.Done():
		return false
	}
	select {
	case <-d.done:
		return true
	case <-ctx.Done():
		return false
	}
}
