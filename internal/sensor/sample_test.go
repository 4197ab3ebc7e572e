package sensor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/nugget/thingy-control/internal/control"
	"github.com/nugget/thingy-control/internal/wire"
)

func TestBuffer_Apply(t *testing.T) {
	b := NewBuffer()
	steps := []struct {
		c       Channel
		payload []byte
	}{
		{ChannelAccelX, wire.EncodeFloat32(1.5)},
		{ChannelAccelZ, wire.EncodeFloat32(-9.8)},
		{ChannelGyroZ, wire.EncodeFloat32(3.5)},
		{ChannelButton, []byte{0x01}},
	}
	for _, s := range steps {
		if err := b.Apply(s.c, s.payload); err != nil {
			t.Fatalf("Apply(%s) error = %v", s.c, err)
		}
	}

	got, _ := b.Read(context.Background())
	want := Sample{
		Accel:  [3]float32{1.5, 0, -9.8},
		Gyro:   [3]float32{0, 0, 3.5},
		Button: true,
	}
	if got != want {
		t.Errorf("Read() = %+v, want %+v", got, want)
	}
}

func TestBuffer_ApplyBadPayloadKeepsValue(t *testing.T) {
	b := NewBuffer()
	_ = b.Apply(ChannelGyroY, wire.EncodeFloat32(2))
	if err := b.Apply(ChannelGyroY, []byte{1, 2}); !errors.Is(err, wire.ErrLength) {
		t.Fatalf("Apply() error = %v, want ErrLength", err)
	}
	got, _ := b.Read(context.Background())
	if got.Gyro[1] != 2 {
		t.Errorf("Gyro[1] = %v, want 2 (unchanged)", got.Gyro[1])
	}
}

func TestParseChannel(t *testing.T) {
	for _, c := range Channels() {
		if got, err := ParseChannel(c.UUID()); err != nil || got != c {
			t.Errorf("ParseChannel(%q) = %v, %v", c.UUID(), got, err)
		}
		if got, err := ParseChannel(c.String()); err != nil || got != c {
			t.Errorf("ParseChannel(%q) = %v, %v", c.String(), got, err)
		}
	}
}

func TestSimulated_Repeatable(t *testing.T) {
	a, b := NewSimulated(7), NewSimulated(7)
	for range 10 {
		sa, _ := a.Read(context.Background())
		sb, _ := b.Read(context.Background())
		if sa != sb {
			t.Fatalf("same seed produced %+v and %+v", sa, sb)
		}
	}
}

type failingReader struct{}

func (failingReader) Read(context.Context) (Sample, error) {
	return Sample{}, errors.New("i2c nack")
}

func TestSampler_Sample(t *testing.T) {
	state := control.NewState()
	buf := NewBuffer()
	_ = buf.Apply(ChannelAccelX, wire.EncodeFloat32(-9.8))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := NewSampler(buf, state, DefaultThresholds(), 0, logger)
	s.Sample(context.Background())

	if got := state.Snapshot().UpDown; got != control.Up {
		t.Errorf("UpDown = %v, want Up", got)
	}
}

func TestSampler_ReadErrorKeepsState(t *testing.T) {
	state := control.NewState()
	state.Replace(control.Control{Shoot: true})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	NewSampler(failingReader{}, state, DefaultThresholds(), 0, logger).Sample(context.Background())

	if got := state.Snapshot(); !got.Shoot {
		t.Errorf("Snapshot() = %+v, want Shoot preserved", got)
	}
}
