package sensor

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/thingy-control/internal/config"
	"github.com/nugget/thingy-control/internal/control"
)

// Sampler periodically reads a [Reader], classifies the sample and
// replaces the whole shared control state.
type Sampler struct {
	reader     Reader
	state      *control.State
	thresholds Thresholds
	interval   time.Duration
	logger     *slog.Logger
}

// NewSampler creates a Sampler. A zero interval defaults to 100ms.
func NewSampler(r Reader, state *control.State, th Thresholds, interval time.Duration, logger *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		reader:     r,
		state:      state,
		thresholds: th,
		interval:   interval,
		logger:     logger,
	}
}

// Name identifies the sampler in logs.
func (s *Sampler) Name() string { return "sampler" }

// Run samples until ctx is cancelled. A failed read is logged and the
// previous state is kept for that cycle.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sample(ctx)
		}
	}
}

// Sample performs one read-classify-replace cycle.
func (s *Sampler) Sample(ctx context.Context) {
	sample, err := s.reader.Read(ctx)
	if err != nil {
		s.logger.Warn("sensor read failed", "error", err)
		return
	}
	c := s.thresholds.Classify(sample)
	s.state.Replace(c)
	s.logger.Log(ctx, config.LevelTrace, "sensor sample classified",
		"accel", sample.Accel, "gyro", sample.Gyro, "button", sample.Button,
		"control", c)
}
