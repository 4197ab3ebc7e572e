package sensor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nugget/thingy-control/internal/wire"
)

// Sample is one IMU reading plus the button level. Units are whatever
// the driver delivers (m/s² for acceleration, rad/s or deg/s for rate).
type Sample struct {
	Accel  [3]float32 `json:"accel"`
	Gyro   [3]float32 `json:"gyro"`
	Button bool       `json:"button"`
}

// Reader produces samples on demand.
type Reader interface {
	Read(ctx context.Context) (Sample, error)
}

// Channel identifies one raw input relayed over the broker.
type Channel int

// Relayed channels.
const (
	ChannelButton Channel = iota
	ChannelAccelX
	ChannelAccelY
	ChannelAccelZ
	ChannelGyroX
	ChannelGyroY
	ChannelGyroZ
)

var channelNames = [...]string{
	ChannelButton: "button",
	ChannelAccelX: "accel_x",
	ChannelAccelY: "accel_y",
	ChannelAccelZ: "accel_z",
	ChannelGyroX:  "gyro_x",
	ChannelGyroY:  "gyro_y",
	ChannelGyroZ:  "gyro_z",
}

var channelUUIDs = [...]string{
	ChannelButton: "0000dad0-0001-0000-0000-000000000000",
	ChannelAccelX: "0000dad0-0002-0000-0000-000000000000",
	ChannelAccelY: "0000dad0-0002-0000-0000-000000000001",
	ChannelAccelZ: "0000dad0-0002-0000-0000-000000000002",
	ChannelGyroX:  "0000dad0-0003-0000-0000-000000000000",
	ChannelGyroY:  "0000dad0-0003-0000-0000-000000000001",
	ChannelGyroZ:  "0000dad0-0003-0000-0000-000000000002",
}

// Channels returns every relayed channel.
func Channels() []Channel {
	return []Channel{
		ChannelButton,
		ChannelAccelX, ChannelAccelY, ChannelAccelZ,
		ChannelGyroX, ChannelGyroY, ChannelGyroZ,
	}
}

func (c Channel) String() string {
	if c < 0 || int(c) >= len(channelNames) {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

// UUID returns the stable identifier used in queue names.
func (c Channel) UUID() string {
	if c < 0 || int(c) >= len(channelUUIDs) {
		return ""
	}
	return channelUUIDs[c]
}

// ParseChannel accepts a channel name or UUID.
func ParseChannel(s string) (Channel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Channels() {
		if s == c.String() || s == c.UUID() {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown sensor channel %q", s)
}

// Buffer holds the latest value of each relayed channel. Message
// sources write one channel at a time; the Sampler reads the whole
// sample. It implements [Reader].
type Buffer struct {
	mu     sync.Mutex
	sample Sample
}

// NewBuffer returns a Buffer holding a zero sample.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Apply decodes payload for the channel and stores it. On decode
// failure the channel keeps its previous value.
func (b *Buffer) Apply(c Channel, payload []byte) error {
	if c == ChannelButton {
		v, err := wire.DecodeBool(payload)
		if err != nil {
			return fmt.Errorf("decode %s: %w", c, err)
		}
		b.mu.Lock()
		b.sample.Button = v
		b.mu.Unlock()
		return nil
	}

	f, err := wire.DecodeFloat32(payload)
	if err != nil {
		return fmt.Errorf("decode %s: %w", c, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch c {
	case ChannelAccelX, ChannelAccelY, ChannelAccelZ:
		b.sample.Accel[c-ChannelAccelX] = f
	case ChannelGyroX, ChannelGyroY, ChannelGyroZ:
		b.sample.Gyro[c-ChannelGyroX] = f
	default:
		return fmt.Errorf("unknown sensor channel %d", int(c))
	}
	return nil
}

// Read returns a copy of the current sample.
func (b *Buffer) Read(context.Context) (Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sample, nil
}
