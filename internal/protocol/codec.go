package protocol

import "encoding/binary"

// Next extracts the frame starting at cursor.
//
// The frame spans the declared length plus the 4-byte trailer. When fewer than
// 3 bytes remain, or the frame would run past the end of buf, ok is false and
// next equals cursor. Checksums are not checked here.
func Next(buf []byte, cursor int) (frame []byte, next int, ok bool) {
	if cursor < 0 || cursor+3 > len(buf) {
		return nil, cursor, false
	}
	total := int(binary.LittleEndian.Uint16(buf[cursor+1:cursor+3])) + trailerSize
	if cursor+total > len(buf) {
		return nil, cursor, false
	}
	return buf[cursor : cursor+total], cursor + total, true
}

// SplitAll extracts every complete frame from a static buffer.
// Bytes of a truncated final frame are dropped and reported as discarded.
func SplitAll(buf []byte) (frames [][]byte, discarded int) {
	cursor := 0
	for {
		frame, next, ok := Next(buf, cursor)
		if !ok {
			return frames, len(buf) - cursor
		}
		frames = append(frames, frame)
		cursor = next
	}
}
