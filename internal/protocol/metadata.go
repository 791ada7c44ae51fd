package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrNotMetadata classifies frames that are not history metadata.
var ErrNotMetadata = errors.New("not a metadata frame")

const metadataSize = 14

// Metadata frames bracket history batches.
type Metadata struct {
	Type MetadataType
	Unix uint32
	// Trim is the strap's read cursor, echoed back to acknowledge a batch.
	Trim uint32
}

// DecodeMetadata decodes a PacketTypeMetadata frame.
func DecodeMetadata(f *Frame) (Metadata, error) {
	if f == nil || f.Type != PacketTypeMetadata {
		return Metadata{}, ErrNotMetadata
	}
	md := Metadata{Type: MetadataType(f.Cmd)}
	if len(f.Data) < metadataSize {
		if md.Type == MetadataHistoryComplete {
			return md, nil
		}
		return Metadata{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooShort, len(f.Data))
	}
	md.Unix = binary.LittleEndian.Uint32(f.Data[0:4])
	md.Trim = binary.LittleEndian.Uint32(f.Data[10:14])
	return md, nil
}

// EncodeMetadataData builds a metadata data block.
func EncodeMetadataData(unix, trim uint32) []byte {
	data := make([]byte, metadataSize)
	binary.LittleEndian.PutUint32(data[0:4], unix)
	binary.LittleEndian.PutUint32(data[10:14], trim)
	return data
}

// HistoryAckData is the HistoricalDataResult body acknowledging a batch.
func HistoryAckData(trim uint32) []byte {
	data := make([]byte, 9)
	data[0] = 1
	binary.LittleEndian.PutUint32(data[1:5], trim)
	return data
}

// SetClockData is the SetClock body for t.
func SetClockData(t time.Time) []byte {
	data := make([]byte, 9)
	binary.LittleEndian.PutUint32(data[0:4], uint32(t.Unix()))
	return data
}
