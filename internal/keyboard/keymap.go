// Package keyboard is the virtual-key sink: it maps control transitions
// onto key press and release events on a [Device]. On Linux the device
// is a uinput virtual keyboard.
package keyboard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nugget/thingy-control/internal/control"
)

// Key is a Linux input event key code.
type Key uint16

// Key codes from linux/input-event-codes.h for the keys a keymap may
// name.
var keyCodes = map[string]Key{
	"esc":   1,
	"1":     2,
	"2":     3,
	"3":     4,
	"4":     5,
	"tab":   15,
	"q":     16,
	"w":     17,
	"e":     18,
	"r":     19,
	"enter": 28,
	"ctrl":  29,
	"a":     30,
	"s":     31,
	"d":     32,
	"f":     33,
	"shift": 42,
	"z":     44,
	"x":     45,
	"c":     46,
	"v":     47,
	"alt":   56,
	"space": 57,
	"up":    103,
	"left":  105,
	"right": 106,
	"down":  108,
}

// ParseKey resolves a key name such as "left" or "space".
func ParseKey(name string) (Key, error) {
	k, ok := keyCodes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown key %q", name)
	}
	return k, nil
}

// KeyNames returns every name ParseKey accepts, sorted.
func KeyNames() []string {
	names := make([]string, 0, len(keyCodes))
	for n := range keyCodes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Keymap assigns a key to each direction and each boolean field.
type Keymap struct {
	Left, Right Key
	Up, Down    Key
	Shoot       Key
	Jump        Key
	Spin        Key
}

// DefaultKeymap is arrows for direction, space to shoot, z to jump and
// x to spin.
func DefaultKeymap() Keymap {
	return Keymap{
		Left:  keyCodes["left"],
		Right: keyCodes["right"],
		Up:    keyCodes["up"],
		Down:  keyCodes["down"],
		Shoot: keyCodes["space"],
		Jump:  keyCodes["z"],
		Spin:  keyCodes["x"],
	}
}

// NewKeymap starts from DefaultKeymap and overrides entries named in
// names. Valid entries are left, right, up, down, shoot, jump and spin.
func NewKeymap(names map[string]string) (Keymap, error) {
	km := DefaultKeymap()
	for entry, name := range names {
		k, err := ParseKey(name)
		if err != nil {
			return Keymap{}, fmt.Errorf("keymap %s: %w", entry, err)
		}
		switch strings.ToLower(entry) {
		case "left":
			km.Left = k
		case "right":
			km.Right = k
		case "up":
			km.Up = k
		case "down":
			km.Down = k
		case "shoot":
			km.Shoot = k
		case "jump":
			km.Jump = k
		case "spin":
			km.Spin = k
		default:
			return Keymap{}, fmt.Errorf("keymap: unknown entry %q", entry)
		}
	}
	return km, nil
}

// Keys returns every key the map uses, for device registration.
func (km Keymap) Keys() []Key {
	return []Key{km.Left, km.Right, km.Up, km.Down, km.Shoot, km.Jump, km.Spin}
}

// KeyFor returns the key held while field f has value v. The neutral
// value of a tri-state and false for a boolean hold no key.
func (km Keymap) KeyFor(f control.FieldID, v control.Value) (Key, bool) {
	held := control.Control{}.With(f, v)
	switch f {
	case control.FieldLeftRight:
		switch held.LeftRight {
		case control.Left:
			return km.Left, true
		case control.Right:
			return km.Right, true
		}
	case control.FieldUpDown:
		switch held.UpDown {
		case control.Up:
			return km.Up, true
		case control.Down:
			return km.Down, true
		}
	case control.FieldShoot:
		return km.Shoot, v != 0
	case control.FieldJump:
		return km.Jump, v != 0
	case control.FieldSpin:
		return km.Spin, v != 0
	}
	return 0, false
}
