// Package wire holds the byte-level encodings used on characteristics
// and broker queues. Every payload carries exactly one field:
//
//   - tri-state: one signed byte, -1, 0 or +1
//   - boolean: one byte, zero is false and anything else is true
//   - continuous: four bytes, little-endian IEEE-754 single precision
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrLength is returned when a payload has the wrong size for its field kind.
	ErrLength = errors.New("wire: wrong payload length")
	// ErrRange is returned when a tri-state discriminator is not -1, 0 or +1.
	ErrRange = errors.New("wire: discriminator out of range")
)

// Float32Size is the encoded size of a continuous sensor axis.
const Float32Size = 4

// DecodeTriState decodes a single signed byte into -1, 0 or +1.
func DecodeTriState(payload []byte) (int8, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: tri-state wants 1 byte, got %d", ErrLength, len(payload))
	}
	v := int8(payload[0])
	if v < -1 || v > 1 {
		return 0, fmt.Errorf("%w: %d", ErrRange, v)
	}
	return v, nil
}

// EncodeTriState encodes -1, 0 or +1 as a signed byte.
func EncodeTriState(v int8) []byte {
	return []byte{byte(v)}
}

// DecodeBool decodes a single byte. Any nonzero value is true.
func DecodeBool(payload []byte) (bool, error) {
	if len(payload) != 1 {
		return false, fmt.Errorf("%w: boolean wants 1 byte, got %d", ErrLength, len(payload))
	}
	return payload[0] != 0, nil
}

// EncodeBool encodes true as 0x01 and false as 0x00.
func EncodeBool(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeFloat32 decodes a little-endian IEEE-754 single.
func DecodeFloat32(payload []byte) (float32, error) {
	if len(payload) != Float32Size {
		return 0, fmt.Errorf("%w: float wants %d bytes, got %d", ErrLength, Float32Size, len(payload))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(payload)), nil
}

// EncodeFloat32 encodes f as a little-endian IEEE-754 single.
func EncodeFloat32(f float32) []byte {
	buf := make([]byte, Float32Size)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
	return buf
}
