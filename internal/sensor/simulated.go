package sensor

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
)

// gravity is standard gravity in m/s².
const gravity = 9.80665

// Simulated is a synthetic IMU for running the device pipeline without
// hardware. It slowly sweeps pitch and roll through the tilt dead zone
// and occasionally presses the button, adding a little noise to every
// axis.
type Simulated struct {
	mu    sync.Mutex
	step  int
	rng   *rand.Rand
	noise float64
}

// NewSimulated creates a simulated IMU. The seed makes runs repeatable.
func NewSimulated(seed uint64) *Simulated {
	return &Simulated{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		noise: 0.05,
	}
}

// Read returns the next synthetic sample.
func (s *Simulated) Read(context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.step++
	phase := float64(s.step) / 20
	pitch := 0.6 * math.Sin(phase)
	roll := 0.6 * math.Sin(phase/1.7)

	// Orientation to gravity vector, sensor z pointing down at rest.
	ax := gravity * math.Sin(pitch)
	ay := gravity * math.Sin(roll) * math.Cos(pitch)
	az := -gravity * math.Cos(roll) * math.Cos(pitch)

	var gz float64
	if s.step%97 < 5 {
		gz = 4.0
	}

	return Sample{
		Accel: [3]float32{
			float32(ax + s.jitter()),
			float32(ay + s.jitter()),
			float32(az + s.jitter()),
		},
		Gyro:   [3]float32{float32(s.jitter()), float32(s.jitter()), float32(gz + s.jitter())},
		Button: s.step%53 < 3,
	}, nil
}

func (s *Simulated) jitter() float64 {
	return (s.rng.Float64()*2 - 1) * s.noise
}
