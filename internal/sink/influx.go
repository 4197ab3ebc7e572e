package sink

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nugget/thingy-control/internal/control"
)

// PointWriter is the subset of the InfluxDB non-blocking write API the
// sink uses.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Influx records every transition as a point in the
// "control_transition" measurement, tagged by field.
type Influx struct {
	writer PointWriter
	device string
	now    func() time.Time
}

// NewInflux creates a time-series sink.
func NewInflux(w PointWriter, device string) *Influx {
	return &Influx{writer: w, device: device, now: time.Now}
}

// Name returns "influx".
func (s *Influx) Name() string { return "influx" }

// Emit queues one point. Writes are batched and flushed by the client;
// delivery errors surface on the write API's error channel.
func (s *Influx) Emit(_ context.Context, t control.Transition) error {
	p := influxdb2.NewPointWithMeasurement("control_transition").
		AddTag("device", s.device).
		AddTag("field", t.Field.String()).
		AddField("old", int64(t.Old)).
		AddField("new", int64(t.New)).
		AddField("state", t.Field.Format(t.New)).
		SetTime(s.now())
	s.writer.WritePoint(p)
	return nil
}

// LogWriteErrors drains the write API's error channel into the logger
// until ctx is cancelled.
func LogWriteErrors(ctx context.Context, w api.WriteAPI, logger *slog.Logger) {
	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Warn("influx write failed", "error", err)
		}
	}
}
