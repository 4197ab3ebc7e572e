// Package sensor turns raw IMU samples into control snapshots. The
// classifier is a pure function of one sample; the Sampler task runs
// it periodically and replaces the shared control state wholesale.
package sensor

import (
	"math"

	"github.com/nugget/thingy-control/internal/control"
)

// Thresholds are the classification boundaries. Tilt is a dead zone in
// radians around level; readings exactly on a boundary classify as
// None.
type Thresholds struct {
	Tilt float64 `yaml:"tilt"`
	Jump float64 `yaml:"jump"`
	Spin float64 `yaml:"spin"`
}

// DefaultThresholds returns the tuned defaults: 0.3 rad tilt, jump when
// the z axis rises above -6.5, spin above 3.0 on the gyro z axis.
func DefaultThresholds() Thresholds {
	return Thresholds{Tilt: 0.3, Jump: -6.5, Spin: 3.0}
}

// Angles returns pitch and roll in radians from an acceleration vector.
func Angles(accel [3]float32) (pitch, roll float64) {
	x, y, z := float64(accel[0]), float64(accel[1]), float64(accel[2])
	pitch = math.Atan2(x, math.Sqrt(y*y+z*z))
	roll = math.Atan2(y, math.Sqrt(x*x+z*z))
	return pitch, roll
}

// UpDownFor classifies a pitch angle.
func (t Thresholds) UpDownFor(pitch float64) control.UpDown {
	switch {
	case pitch < -t.Tilt:
		return control.Up
	case pitch > t.Tilt:
		return control.Down
	default:
		return control.UpDownNone
	}
}

// LeftRightFor classifies a roll angle.
func (t Thresholds) LeftRightFor(roll float64) control.LeftRight {
	switch {
	case roll > t.Tilt:
		return control.Left
	case roll < -t.Tilt:
		return control.Right
	default:
		return control.LeftRightNone
	}
}

// Classify maps one sample to a complete Control. It has no side
// effects; identical samples always yield identical snapshots.
func (t Thresholds) Classify(s Sample) control.Control {
	pitch, roll := Angles(s.Accel)
	return control.Control{
		UpDown:    t.UpDownFor(pitch),
		LeftRight: t.LeftRightFor(roll),
		Shoot:     s.Button,
		Jump:      float64(s.Accel[2]) > t.Jump,
		Spin:      float64(s.Gyro[2]) > t.Spin,
	}
}
