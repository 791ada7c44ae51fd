package protocol_test

import (
	"bytes"
	"testing"

	"github.com/srg/openstrap/internal/protocol"
	"github.com/stretchr/testify/suite"
)

type CodecTestSuite struct {
	suite.Suite
}

func TestCodecTestSuite(t *testing.T) {
	suite.Run(t, new(CodecTestSuite))
}

func historyFrame(seq uint8, unix uint32, bpm uint8, rr ...uint16) []byte {
	f := &protocol.Frame{
		Type: protocol.PacketTypeHistoricalData,
		Seq:  seq,
		Cmd:  0,
		Data: protocol.EncodeHistoryData(unix, 0, bpm, rr),
	}
	return f.MustEncode()
}

func (suite *CodecTestSuite) TestNext() {
	// GOAL: Verify frame boundaries follow the declared length plus trailer
	//
	// TEST SCENARIO: Concatenated frames → Next walks each one → cursor lands on the following marker

	suite.Run("extracts consecutive frames", func() {
		f1 := historyFrame(1, 1000, 60, 800)
		f2 := historyFrame(2, 1001, 61)
		buf := append(append([]byte{}, f1...), f2...)

		frame, next, ok := protocol.Next(buf, 0)
		suite.Require().True(ok, "first frame MUST be complete")
		suite.Equal(f1, frame, "first frame MUST match byte-exact")
		suite.Equal(len(f1), next, "cursor MUST advance past the first frame")

		frame, next, ok = protocol.Next(buf, next)
		suite.Require().True(ok, "second frame MUST be complete")
		suite.Equal(f2, frame)
		suite.Equal(len(buf), next)

		_, after, ok := protocol.Next(buf, next)
		suite.False(ok, "empty remainder MUST be incomplete")
		suite.Equal(next, after, "cursor MUST NOT move on incomplete")
	})

	suite.Run("frame size equals declared length plus four", func() {
		// GOAL: Verify size arithmetic independently of the encoder
		//
		// TEST SCENARIO: Hand-built header declaring 6 → 10 bytes consumed

		buf := []byte{0xAA, 0x06, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0xFF}
		frame, next, ok := protocol.Next(buf, 0)
		suite.Require().True(ok)
		suite.Len(frame, 10, "MUST consume declared length + 4")
		suite.Equal(10, next)
	})

	suite.Run("incomplete header", func() {
		for _, buf := range [][]byte{nil, {0xAA}, {0xAA, 0x10}} {
			_, next, ok := protocol.Next(buf, 0)
			suite.False(ok, "fewer than 3 bytes MUST be incomplete")
			suite.Equal(0, next)
		}
	})

	suite.Run("frame overruns buffer", func() {
		full := historyFrame(1, 1000, 60)
		for cut := 3; cut < len(full); cut++ {
			_, next, ok := protocol.Next(full[:cut], 0)
			suite.False(ok, "truncated frame MUST be incomplete at %d bytes", cut)
			suite.Equal(0, next, "cursor MUST be unchanged")
		}
	})

	suite.Run("restartable", func() {
		// GOAL: Verify extraction is a pure function of buffer and cursor
		//
		// TEST SCENARIO: Same buffer walked twice → identical boundaries

		var buf []byte
		for i := 0; i < 5; i++ {
			buf = append(buf, historyFrame(uint8(i), uint32(1000+i), 60, 800, 810)...)
		}
		buf = append(buf, 0xAA, 0x40)

		walk := func() []int {
			var bounds []int
			cursor := 0
			for {
				_, next, ok := protocol.Next(buf, cursor)
				if !ok {
					return bounds
				}
				bounds = append(bounds, next)
				cursor = next
			}
		}
		suite.Equal(walk(), walk(), "boundaries MUST be identical across runs")
		suite.Len(walk(), 5)
	})
}

func (suite *CodecTestSuite) TestSplitAll() {
	suite.Run("drops truncated tail", func() {
		// GOAL: Verify a truncated final frame is never emitted
		//
		// TEST SCENARIO: Two frames + half a frame → two frames, tail discarded

		f := historyFrame(1, 1000, 60)
		buf := append(append(append([]byte{}, f...), f...), f[:len(f)/2]...)

		frames, discarded := protocol.SplitAll(buf)
		suite.Len(frames, 2, "MUST emit only complete frames")
		suite.Equal(len(f)/2, discarded, "MUST report discarded tail bytes")
	})

	suite.Run("empty input", func() {
		frames, discarded := protocol.SplitAll(nil)
		suite.Empty(frames)
		suite.Zero(discarded)
	})
}

func (suite *CodecTestSuite) TestParse() {
	suite.Run("command round trip", func() {
		// GOAL: Verify encode → Next → Parse recovers the command byte-exact
		//
		// TEST SCENARIO: Encode SetClock command → extract → parse → re-encode equals original

		cmd := protocol.NewCommand(7, protocol.CmdSetClock, []byte{1, 2, 3, 4, 0, 0, 0, 0, 0})
		raw := cmd.MustEncode()

		frame, _, ok := protocol.Next(raw, 0)
		suite.Require().True(ok)
		suite.Equal(raw, frame)

		parsed, err := protocol.Parse(frame)
		suite.Require().NoError(err)
		suite.Equal(protocol.PacketTypeCommand, parsed.Type)
		suite.Equal(uint8(7), parsed.Seq)
		suite.Equal(uint8(protocol.CmdSetClock), parsed.Cmd)
		suite.Equal(cmd.Data, parsed.Data)
		suite.Equal(raw, parsed.MustEncode(), "re-encoding MUST be byte-exact")
	})

	suite.Run("rejects corrupted frames", func() {
		raw := historyFrame(1, 1000, 60, 800)
		tests := []struct {
			name   string
			mutate func([]byte) []byte
		}{
			{"bad marker", func(b []byte) []byte { b[0] = 0x55; return b }},
			{"bad header crc", func(b []byte) []byte { b[3] ^= 0xFF; return b }},
			{"bad payload", func(b []byte) []byte { b[10] ^= 0x01; return b }},
			{"bad trailer", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }},
			{"length mismatch", func(b []byte) []byte { return b[:len(b)-1] }},
			{"too short", func(b []byte) []byte { return b[:6] }},
		}
		for _, tt := range tests {
			suite.Run(tt.name, func() {
				_, err := protocol.Parse(tt.mutate(bytes.Clone(raw)))
				suite.ErrorIs(err, protocol.ErrMalformedFrame, "MUST classify as malformed")

				var mfe *protocol.MalformedFrameError
				suite.ErrorAs(err, &mfe)
				suite.NotEmpty(mfe.Reason)
			})
		}
	})

	suite.Run("malformed frame still advances cursor", func() {
		// GOAL: Verify skip-and-continue over a corrupted frame
		//
		// TEST SCENARIO: bad frame followed by good frame → first fails Parse, second parses

		bad := historyFrame(1, 1000, 60)
		bad[len(bad)-2] ^= 0xFF
		good := historyFrame(2, 1001, 61)
		buf := append(append([]byte{}, bad...), good...)

		frames, _ := protocol.SplitAll(buf)
		suite.Require().Len(frames, 2)
		_, err := protocol.Parse(frames[0])
		suite.ErrorIs(err, protocol.ErrMalformedFrame)
		f, err := protocol.Parse(frames[1])
		suite.Require().NoError(err)
		suite.Equal(uint8(2), f.Seq)
	})
}

func (suite *CodecTestSuite) TestAccumulator() {
	suite.Run("reassembles split chunks", func() {
		// GOAL: Verify frames spanning several notifications are reassembled in order
		//
		// TEST SCENARIO: Three frames fed in 5-byte chunks → three frames out, nothing pending

		var stream []byte
		for i := 0; i < 3; i++ {
			stream = append(stream, historyFrame(uint8(i), uint32(2000+i), 70, 900)...)
		}

		acc := protocol.NewAccumulator()
		var got [][]byte
		for i := 0; i < len(stream); i += 5 {
			end := min(i+5, len(stream))
			got = append(got, acc.Write(stream[i:end])...)
		}

		suite.Require().Len(got, 3, "MUST emit every frame")
		for i, raw := range got {
			f, err := protocol.Parse(raw)
			suite.Require().NoError(err)
			suite.Equal(uint8(i), f.Seq, "MUST preserve arrival order")
		}
		suite.Zero(acc.Pending())
	})

	suite.Run("resyncs on marker", func() {
		acc := protocol.NewAccumulator()
		frame := historyFrame(9, 3000, 55)

		got := acc.Write(append([]byte{0x01, 0x02, 0x03}, frame...))
		suite.Require().Len(got, 1)
		suite.Equal(frame, got[0])
		suite.Equal(3, acc.Dropped(), "MUST count skipped garbage")
	})

	suite.Run("keeps incomplete tail", func() {
		acc := protocol.NewAccumulator()
		frame := historyFrame(1, 3000, 55)

		suite.Empty(acc.Write(frame[:4]))
		suite.Equal(4, acc.Pending())
		acc.Reset()
		suite.Zero(acc.Pending())
	})
}
