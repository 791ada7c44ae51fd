package protocol

import "bytes"

// Accumulator reassembles frames from notification chunks.
//
// Frames are returned in arrival order; an incomplete tail is kept until more
// bytes arrive. Bytes preceding a marker at the head of the buffer are dropped.
// Not safe for concurrent use.
type Accumulator struct {
	buf     []byte
	dropped int
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Write appends a chunk and returns the raw frames it completed.
// Returned slices are copies and remain valid after further writes.
func (a *Accumulator) Write(chunk []byte) [][]byte {
	a.buf = append(a.buf, chunk...)

	var frames [][]byte
	cursor := 0
	for {
		if cursor < len(a.buf) && a.buf[cursor] != Marker {
			idx := bytes.IndexByte(a.buf[cursor:], Marker)
			if idx < 0 {
				a.dropped += len(a.buf) - cursor
				cursor = len(a.buf)
				break
			}
			a.dropped += idx
			cursor += idx
		}

		frame, next, ok := Next(a.buf, cursor)
		if !ok {
			break
		}
		frames = append(frames, bytes.Clone(frame))
		cursor = next
	}

	a.buf = append(a.buf[:0], a.buf[cursor:]...)
	return frames
}

// Pending is the number of buffered bytes not yet forming a frame.
func (a *Accumulator) Pending() int {
	return len(a.buf)
}

// Dropped is the total number of garbage bytes skipped while resynchronising.
func (a *Accumulator) Dropped() int {
	return a.dropped
}

// Reset discards buffered bytes, e.g. after a reconnect.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
}
