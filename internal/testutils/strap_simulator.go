//go:build test

package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/protocol"
)

// StrapSimulator is an in-process device.Peripheral that speaks the strap
// protocol: it answers commands, streams history in acknowledged batches and
// can drop the link on demand.
type StrapSimulator struct {
	// Records are streamed in order after CmdSendHistoricalData.
	Records []protocol.TelemetryRecord
	// BatchSize is the number of history frames between HistoryStart and HistoryEnd.
	BatchSize int
	// ChunkSize splits notifications; zero sends whole frames.
	ChunkSize int
	// FailConnects makes the first N Connect calls fail.
	FailConnects int
	// DropAfterFrames drops the link once this many history frames were sent (0 = never).
	DropAfterFrames int
	// Extra frames are emitted after HistoryStart of the first batch, e.g. corrupted ones.
	Extra [][]byte
	// SilentHistory suppresses every response to CmdSendHistoricalData.
	SilentHistory bool
	// Trailing frames follow HistoryComplete in the same notification burst.
	Trailing [][]byte
	// DropOnComplete drops the link right after HistoryComplete is delivered.
	DropOnComplete bool
	// FailReconnects makes this many Connect calls fail after the link was dropped.
	FailReconnects int

	mu        sync.Mutex
	connected bool
	ctx       context.Context
	cancel    context.CancelCauseFunc
	handlers  map[string]device.NotificationHandler
	commands  []protocol.CommandNumber
	writes    [][]byte
	connects  int
	sent      int
	batch     int
	seq       uint8
	dropped   bool
	failed    int
	complete  bool
}

var _ device.Peripheral = (*StrapSimulator)(nil)

// NewStrapSimulator creates a simulator holding records.
func NewStrapSimulator(records []protocol.TelemetryRecord) *StrapSimulator {
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(device.ErrNotConnected)
	return &StrapSimulator{
		Records:   records,
		BatchSize: 4,
		ctx:       ctx,
		cancel:    cancel,
		handlers:  make(map[string]device.NotificationHandler),
	}
}

func (s *StrapSimulator) Address() string { return "AA:BB:CC:DD:EE:FF" }

func (s *StrapSimulator) Connect(ctx context.Context, _ *device.ConnectOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.connects <= s.FailConnects {
		return errors.New("simulated connect failure")
	}
	if s.dropped && s.failed < s.FailReconnects {
		s.failed++
		return errors.New("simulated reconnect failure")
	}
	if s.connected {
		return device.ErrAlreadyConnected
	}
	s.connected = true
	s.handlers = make(map[string]device.NotificationHandler)
	s.ctx, s.cancel = context.WithCancelCause(context.Background())
	return nil
}

func (s *StrapSimulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.cancel(device.ErrNotConnected)
	return nil
}

func (s *StrapSimulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *StrapSimulator) ConnectionContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *StrapSimulator) Subscribe(_ string, characteristic string, handler device.NotificationHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return device.ErrNotConnected
	}
	s.handlers[device.NormalizeUUID(characteristic)] = handler
	return nil
}

// Connects returns the number of Connect calls.
func (s *StrapSimulator) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Commands returns the command numbers received, in order.
func (s *StrapSimulator) Commands() []protocol.CommandNumber {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.CommandNumber(nil), s.commands...)
}

// Writes returns the raw frames written, in order.
func (s *StrapSimulator) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

// DropLink simulates an unsolicited disconnect.
func (s *StrapSimulator) DropLink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop()
}

func (s *StrapSimulator) drop() {
	s.connected = false
	s.dropped = true
	s.cancel(device.ErrNotConnected)
}

func (s *StrapSimulator) Write(_ string, _ string, data []byte, _ bool) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return device.ErrNotConnected
	}
	s.writes = append(s.writes, append([]byte(nil), data...))

	f, err := protocol.Parse(data)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	cmd := protocol.CommandNumber(f.Cmd)
	s.commands = append(s.commands, cmd)

	var out [][]byte
	switch cmd {
	case protocol.CmdSendHistoricalData:
		if !s.SilentHistory {
			s.batch = 0
			out = s.nextBatch(true)
		}
	case protocol.CmdHistoricalDataResult:
		out = s.nextBatch(false)
	default:
		out = append(out, s.frame(protocol.PacketTypeCommandResponse, f.Cmd, []byte{1}))
	}
	handler := s.handlers[device.NormalizeUUID(protocol.DataFromStrapUUID)]
	if f.Type == protocol.PacketTypeCommand && cmd != protocol.CmdSendHistoricalData && cmd != protocol.CmdHistoricalDataResult {
		handler = s.handlers[device.NormalizeUUID(protocol.CmdFromStrapUUID)]
	}
	s.mu.Unlock()

	if handler != nil {
		for _, frame := range out {
			s.deliver(handler, frame)
		}
	}

	s.mu.Lock()
	if s.complete && s.DropOnComplete && !s.dropped {
		s.drop()
	}
	s.mu.Unlock()
	return nil
}

func (s *StrapSimulator) deliver(handler device.NotificationHandler, frame []byte) {
	if s.ChunkSize <= 0 {
		handler(frame)
		return
	}
	for i := 0; i < len(frame); i += s.ChunkSize {
		handler(frame[i:min(i+s.ChunkSize, len(frame))])
	}
}

func (s *StrapSimulator) frame(typ protocol.PacketType, cmd uint8, data []byte) []byte {
	s.seq++
	f := &protocol.Frame{Type: typ, Seq: s.seq, Cmd: cmd, Data: data}
	return f.MustEncode()
}

// nextBatch builds the frames of the next batch, or HistoryComplete when done.
// Caller must hold mu.
func (s *StrapSimulator) nextBatch(first bool) [][]byte {
	start := s.batch * s.BatchSize
	if start >= len(s.Records) {
		s.complete = true
		out := [][]byte{s.frame(protocol.PacketTypeMetadata, uint8(protocol.MetadataHistoryComplete), protocol.EncodeMetadataData(0, 0))}
		return append(out, s.Trailing...)
	}
	end := min(start+s.BatchSize, len(s.Records))
	s.batch++

	out := [][]byte{s.frame(protocol.PacketTypeMetadata, uint8(protocol.MetadataHistoryStart), protocol.EncodeMetadataData(s.Records[start].Timestamp, 0))}
	if first {
		out = append(out, s.Extra...)
	}
	for _, r := range s.Records[start:end] {
		if s.DropAfterFrames > 0 && !s.dropped && s.sent >= s.DropAfterFrames {
			s.drop()
			return out
		}
		out = append(out, s.frame(protocol.PacketTypeHistoricalData, 0, protocol.EncodeHistoryData(r.Timestamp, r.SubSeconds, r.HeartRate, r.RR)))
		s.sent++
	}
	trim := uint32(end)
	out = append(out, s.frame(protocol.PacketTypeMetadata, uint8(protocol.MetadataHistoryEnd), protocol.EncodeMetadataData(s.Records[end-1].Timestamp, trim)))
	return out
}
