package control

import (
	"fmt"
	"strings"

	"github.com/nugget/thingy-control/internal/wire"
)

// FieldID enumerates the control fields. The set is closed: every
// source binding, sink mapping and queue name derives from [Fields].
type FieldID int

// Control fields in diff order.
const (
	FieldLeftRight FieldID = iota
	FieldUpDown
	FieldShoot
	FieldJump
	FieldSpin
)

// Kind is the encoding family of a field.
type Kind int

// Field kinds.
const (
	KindTriState Kind = iota
	KindBool
)

// Value is the wire value of one field. Tri-states use the signed byte
// convention (left_right: Left=+1, Right=-1; up_down: Down=+1, Up=-1;
// None=0). Booleans are 0 or 1.
type Value int8

var fieldNames = [...]string{
	FieldLeftRight: "left_right",
	FieldUpDown:    "up_down",
	FieldShoot:     "shoot",
	FieldJump:      "jump",
	FieldSpin:      "spin",
}

// fieldUUIDs are the characteristic identifiers the firmware exposes.
var fieldUUIDs = [...]string{
	FieldLeftRight: "0000dad0-0000-0000-0000-000000000001",
	FieldUpDown:    "0000dad0-0000-0000-0000-000000000002",
	FieldShoot:     "0000dad0-0000-0000-0000-000000000003",
	FieldJump:      "0000dad0-0000-0000-0000-000000000004",
	FieldSpin:      "0000dad0-0000-0000-0000-000000000005",
}

// ServiceUUID is the control service identifier.
const ServiceUUID = "0000dad0-0000-0000-0000-000000000000"

// Fields returns every control field in diff order.
func Fields() []FieldID {
	return []FieldID{FieldLeftRight, FieldUpDown, FieldShoot, FieldJump, FieldSpin}
}

// String returns the snake_case field name.
func (f FieldID) String() string {
	if f < 0 || int(f) >= len(fieldNames) {
		return fmt.Sprintf("field(%d)", int(f))
	}
	return fieldNames[f]
}

// UUID returns the stable characteristic identifier of the field.
func (f FieldID) UUID() string {
	if f < 0 || int(f) >= len(fieldUUIDs) {
		return ""
	}
	return fieldUUIDs[f]
}

// Kind reports how the field is encoded.
func (f FieldID) Kind() Kind {
	if f == FieldLeftRight || f == FieldUpDown {
		return KindTriState
	}
	return KindBool
}

// Valid reports whether v is a legal value for the field.
func (f FieldID) Valid(v Value) bool {
	if f.Kind() == KindTriState {
		return v >= -1 && v <= 1
	}
	return v == 0 || v == 1
}

// Format renders v the way the field names its states.
func (f FieldID) Format(v Value) string {
	switch f {
	case FieldLeftRight:
		return Control{}.With(f, v).LeftRight.String()
	case FieldUpDown:
		return Control{}.With(f, v).UpDown.String()
	}
	if v != 0 {
		return "true"
	}
	return "false"
}

// ParseField accepts a field name or its UUID, case-insensitively.
func ParseField(s string) (FieldID, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, f := range Fields() {
		if s == f.String() || s == f.UUID() {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown control field %q", s)
}

// Decode turns a wire payload into a value for the field. Booleans
// collapse any nonzero byte to 1.
func Decode(f FieldID, payload []byte) (Value, error) {
	if f.Kind() == KindTriState {
		v, err := wire.DecodeTriState(payload)
		if err != nil {
			return 0, fmt.Errorf("decode %s: %w", f, err)
		}
		return Value(v), nil
	}
	b, err := wire.DecodeBool(payload)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", f, err)
	}
	return boolValue(b), nil
}

// Encode turns a value into its wire payload.
func Encode(f FieldID, v Value) []byte {
	if f.Kind() == KindTriState {
		return wire.EncodeTriState(int8(v))
	}
	return wire.EncodeBool(v != 0)
}
