package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedFrame is matched by every frame validation failure.
var ErrMalformedFrame = errors.New("malformed frame")

// MalformedFrameError describes why a complete frame failed validation.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

// Is allows errors.Is(err, ErrMalformedFrame)
func (e *MalformedFrameError) Is(target error) bool {
	return target == ErrMalformedFrame
}

func malformed(format string, args ...any) error {
	return &MalformedFrameError{Reason: fmt.Sprintf(format, args...)}
}

// Frame is a validated protocol frame.
type Frame struct {
	Type PacketType
	Seq  uint8
	Cmd  uint8
	Data []byte
}

// NewCommand builds a host command frame.
func NewCommand(seq uint8, cmd CommandNumber, data []byte) *Frame {
	return &Frame{
		Type: PacketTypeCommand,
		Seq:  seq,
		Cmd:  uint8(cmd),
		Data: data,
	}
}

// Payload returns type, seq, cmd and data as they appear on the wire.
func (f *Frame) Payload() []byte {
	payload := make([]byte, 0, minPayloadSize+len(f.Data))
	payload = append(payload, byte(f.Type), f.Seq, f.Cmd)
	return append(payload, f.Data...)
}

// Encode serializes the frame with header and checksums.
func (f *Frame) Encode() ([]byte, error) {
	payload := f.Payload()
	declared := headerSize + len(payload)
	if declared > math.MaxUint16 {
		return nil, fmt.Errorf("frame payload too large: %d bytes", len(payload))
	}

	out := make([]byte, 0, declared+trailerSize)
	out = append(out, Marker)
	out = binary.LittleEndian.AppendUint16(out, uint16(declared))
	out = append(out, crc8(out[1:3]))
	out = append(out, payload...)
	out = binary.LittleEndian.AppendUint32(out, crc32IEEE(payload))
	return out, nil
}

// MustEncode is Encode for frames known to fit.
func (f *Frame) MustEncode() []byte {
	b, err := f.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s seq=%d cmd=%d len=%d", f.Type, f.Seq, f.Cmd, len(f.Data))
}

// Parse validates a complete raw frame as returned by Next.
// The returned Frame's Data aliases raw.
func Parse(raw []byte) (*Frame, error) {
	if len(raw) < headerSize+minPayloadSize+trailerSize {
		return nil, malformed("frame too short: %d bytes", len(raw))
	}
	if raw[0] != Marker {
		return nil, malformed("unexpected marker 0x%02x", raw[0])
	}

	declared := int(binary.LittleEndian.Uint16(raw[1:3]))
	if declared+trailerSize != len(raw) {
		return nil, malformed("declared length %d does not match frame size %d", declared, len(raw))
	}
	if want, got := crc8(raw[1:3]), raw[3]; want != got {
		return nil, malformed("header checksum mismatch: want 0x%02x, got 0x%02x", want, got)
	}

	payload := raw[headerSize:declared]
	want := crc32IEEE(payload)
	got := binary.LittleEndian.Uint32(raw[declared:])
	if want != got {
		return nil, malformed("payload checksum mismatch: want 0x%08x, got 0x%08x", want, got)
	}

	return &Frame{
		Type: PacketType(payload[0]),
		Seq:  payload[1],
		Cmd:  payload[2],
		Data: payload[3:],
	}, nil
}
