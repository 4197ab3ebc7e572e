// Package control defines the discrete control snapshot produced by the
// classifier and message sources, the field-by-field diff consumed by
// the emitter, and the mutex-guarded State shared between them.
package control

// LeftRight is the horizontal tri-state. The zero value is LeftRightNone.
type LeftRight int8

// Horizontal states.
const (
	LeftRightNone LeftRight = iota
	Left
	Right
)

// String returns the state name used in logs and the API.
func (lr LeftRight) String() string {
	switch lr {
	case Left:
		return "Left"
	case Right:
		return "Right"
	default:
		return "None"
	}
}

// UpDown is the vertical tri-state. The zero value is UpDownNone.
type UpDown int8

// Vertical states.
const (
	UpDownNone UpDown = iota
	Up
	Down
)

// String returns the state name used in logs and the API.
func (ud UpDown) String() string {
	switch ud {
	case Up:
		return "Up"
	case Down:
		return "Down"
	default:
		return "None"
	}
}

// Control is a complete snapshot of every control field. Fields are
// independent of each other; no combination is invalid. The zero value
// is the process-start default (None, None, false, false, false).
type Control struct {
	LeftRight LeftRight `json:"left_right"`
	UpDown    UpDown    `json:"up_down"`
	Shoot     bool      `json:"shoot"`
	Jump      bool      `json:"jump"`
	Spin      bool      `json:"spin"`
}

// Get returns the wire value of one field.
func (c Control) Get(f FieldID) Value {
	switch f {
	case FieldLeftRight:
		switch c.LeftRight {
		case Left:
			return 1
		case Right:
			return -1
		}
	case FieldUpDown:
		switch c.UpDown {
		case Down:
			return 1
		case Up:
			return -1
		}
	case FieldShoot:
		return boolValue(c.Shoot)
	case FieldJump:
		return boolValue(c.Jump)
	case FieldSpin:
		return boolValue(c.Spin)
	}
	return 0
}

// set assigns one field from a wire value that has already been
// validated with FieldID.Valid.
func (c *Control) set(f FieldID, v Value) {
	switch f {
	case FieldLeftRight:
		switch v {
		case 1:
			c.LeftRight = Left
		case -1:
			c.LeftRight = Right
		default:
			c.LeftRight = LeftRightNone
		}
	case FieldUpDown:
		switch v {
		case 1:
			c.UpDown = Down
		case -1:
			c.UpDown = Up
		default:
			c.UpDown = UpDownNone
		}
	case FieldShoot:
		c.Shoot = v != 0
	case FieldJump:
		c.Jump = v != 0
	case FieldSpin:
		c.Spin = v != 0
	}
}

// With returns a copy of c with one field replaced.
func (c Control) With(f FieldID, v Value) Control {
	c.set(f, v)
	return c
}

func boolValue(b bool) Value {
	if b {
		return 1
	}
	return 0
}
