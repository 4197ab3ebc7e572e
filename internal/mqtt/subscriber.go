package mqtt

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// logUnrouted records a message on a topic no queue consumer owns. The
// broker should never send one; seeing it usually means a wildcard
// subscription left over from another client id.
func logUnrouted(logger *slog.Logger, topic string, payload []byte) {
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	fields := []any{
		"topic", topic,
		"payload_size", len(payload),
	}
	if len(payload) == 1 {
		fields = append(fields, "byte", int8(payload[0]))
	}
	logger.Debug("mqtt message on unrouted topic", fields...)
}

// messageRateMonitor counts inbound queue messages and warns when a
// window exceeds the configured rate. It never drops: every queue
// message must be applied before it is acknowledged. Counters are
// atomic so the hot path takes no lock.
type messageRateMonitor struct {
	count    atomic.Int64
	excess   atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

// newMessageRateMonitor creates a monitor that warns above limit
// messages per interval.
func newMessageRateMonitor(limit int64, interval time.Duration, logger *slog.Logger) *messageRateMonitor {
	return &messageRateMonitor{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start runs the periodic counter reset loop until ctx is cancelled,
// warning when the interval went over the limit.
func (r *messageRateMonitor) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

// flush resets the window and reports how many messages went over.
func (r *messageRateMonitor) flush() int64 {
	count := r.count.Swap(0)
	excess := r.excess.Swap(0)
	if excess > 0 {
		r.logger.Warn("mqtt inbound rate above limit",
			"received", count,
			"over_limit", excess,
			"interval", r.interval.String(),
			"limit", r.limit,
		)
	}
	return excess
}

// observe counts one message and reports whether the window is now
// over the limit.
func (r *messageRateMonitor) observe() bool {
	n := r.count.Add(1)
	if n > r.limit {
		r.excess.Add(1)
		return true
	}
	return false
}
