package mqtt

import (
	"context"
	"sync"
	"time"

	"github.com/nugget/thingy-control/internal/control"
)

// DailyTransitions counts emitted transitions, resetting at local
// midnight. It is a sink so it can sit in the emitter's fan-out.
type DailyTransitions struct {
	mu       sync.Mutex
	total    int64
	perField map[control.FieldID]int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyTransitions creates a counter using loc for midnight
// detection. If loc is nil, [time.Local] is used.
func NewDailyTransitions(loc *time.Location) *DailyTransitions {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTransitions{
		perField: make(map[control.FieldID]int64),
		loc:      loc,
		now:      time.Now,
	}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Name returns "daily_transitions".
func (d *DailyTransitions) Name() string { return "daily_transitions" }

// Emit counts one transition.
func (d *DailyTransitions) Emit(_ context.Context, t control.Transition) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	d.total++
	d.perField[t.Field]++
	return nil
}

// Snapshot returns today's total and per-field counts.
func (d *DailyTransitions) Snapshot() (total int64, perField map[string]int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset()
	perField = make(map[string]int64, len(d.perField))
	for f, n := range d.perField {
		perField[f.String()] = n
	}
	return d.total, perField
}

// maybeReset zeroes the counters if the local day-of-year has changed.
// Must be called with d.mu held.
func (d *DailyTransitions) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		d.total = 0
		clear(d.perField)
		d.resetDay = today
	}
}
