//go:build !linux

package keyboard

// DefaultPath is unused off Linux.
const DefaultPath = ""

// Uinput is unavailable off Linux.
type Uinput struct{}

// OpenUinput always fails with ErrUnsupported off Linux.
func OpenUinput(path, name string, keys []Key) (*Uinput, error) {
	return nil, ErrUnsupported
}

// Press is never reached.
func (*Uinput) Press(Key) error { return ErrUnsupported }

// Release is never reached.
func (*Uinput) Release(Key) error { return ErrUnsupported }

// Close is a no-op.
func (*Uinput) Close() error { return nil }
