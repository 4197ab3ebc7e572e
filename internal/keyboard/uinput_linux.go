//go:build linux

package keyboard

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl requests and event types from linux/uinput.h and
// linux/input-event-codes.h.
const (
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiDevSetup   = 0x405c5503
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502

	evSyn     = 0x00
	evKey     = 0x01
	synReport = 0

	busVirtual = 0x06
)

// DefaultPath is where the uinput control node usually lives.
const DefaultPath = "/dev/uinput"

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputSetup struct {
	ID           inputID
	Name         [80]byte
	FFEffectsMax uint32
}

type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Uinput is a virtual keyboard backed by /dev/uinput.
type Uinput struct {
	f *os.File
}

// OpenUinput creates a virtual keyboard named name that can emit keys.
// The caller needs write access to path.
func OpenUinput(path, name string, keys []Key) (*Uinput, error) {
	if path == "" {
		path = DefaultPath
	}
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	u := &Uinput{f: f}
	fd := int(f.Fd())

	if err := unix.IoctlSetInt(fd, uiSetEvBit, evKey); err != nil {
		f.Close()
		return nil, fmt.Errorf("enable key events: %w", err)
	}
	for _, k := range keys {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, int(k)); err != nil {
			f.Close()
			return nil, fmt.Errorf("enable key %d: %w", k, err)
		}
	}

	setup := uinputSetup{ID: inputID{Bustype: busVirtual, Vendor: 0x1209, Product: 0xdad0, Version: 1}}
	copy(setup.Name[:len(setup.Name)-1], name)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevSetup, uintptr(unsafe.Pointer(&setup))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("device setup: %w", errno)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevCreate, 0); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("device create: %w", errno)
	}
	return u, nil
}

// Press emits a key-down event and a sync report.
func (u *Uinput) Press(k Key) error { return u.key(k, 1) }

// Release emits a key-up event and a sync report.
func (u *Uinput) Release(k Key) error { return u.key(k, 0) }

func (u *Uinput) key(k Key, value int32) error {
	if err := u.write(evKey, uint16(k), value); err != nil {
		return err
	}
	return u.write(evSyn, synReport, 0)
}

func (u *Uinput) write(typ, code uint16, value int32) error {
	ev := inputEvent{
		Time:  unix.NsecToTimeval(time.Now().UnixNano()),
		Type:  typ,
		Code:  code,
		Value: value,
	}
	if err := binary.Write(u.f, binary.NativeEndian, &ev); err != nil {
		return fmt.Errorf("write input event: %w", err)
	}
	return nil
}

// Close destroys the virtual device and closes the control node.
func (u *Uinput) Close() error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, u.f.Fd(), uiDevDestroy, 0)
	cerr := u.f.Close()
	if errno != 0 {
		return fmt.Errorf("device destroy: %w", errno)
	}
	return cerr
}
