package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/ingest"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/srg/openstrap/internal/store"
)

var (
	ErrNotInitialized = errors.New("session is not initialized")
	ErrConnectionLost = errors.New("connection lost")
	ErrSyncTimeout    = errors.New("history sync timed out")
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateInitializing
	StateSyncingHistory
	StateIdle
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateInitializing:
		return "initializing"
	case StateSyncingHistory:
		return "syncing-history"
	case StateIdle:
		return "idle"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tunes a Session. Zero fields are filled from the default tags.
type Options struct {
	ConnectTimeout   time.Duration `default:"30s"`
	SyncIdleTimeout  time.Duration `default:"60s"`
	ReconnectBackoff time.Duration `default:"1s"`
	BufferSize       int           `default:"1048576"`
}

// Publisher receives every reading stored during a sync.
type Publisher interface {
	Publish(ctx context.Context, r store.HeartRateReading) error
}

// SyncStats summarizes one SyncHistory call.
type SyncStats struct {
	ingest.Stats
	Packets      int    `json:"packets"`
	Batches      int    `json:"batches"`
	Complete     bool   `json:"complete"`
	DroppedBytes uint64 `json:"dropped_bytes"`
}

// Session drives one strap through connect, handshake and history download.
// It is owned by a single goroutine; only IsConnected, State and
// CorrelationID may be called concurrently.
type Session struct {
	peripheral device.Peripheral
	store      store.Store
	publisher  Publisher
	logger     *logrus.Logger
	opts       Options
	id         uuid.UUID

	data      *notificationPipe
	responses *notificationPipe
	dataAcc   *protocol.Accumulator
	respAcc   *protocol.Accumulator

	sendMu sync.Mutex
	seq    uint8

	mu          sync.RWMutex
	state       State
	initialized bool
}

// New creates a session for peripheral persisting into st.
func New(peripheral device.Peripheral, st store.Store, logger *logrus.Logger, opts *Options) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)

	return &Session{
		peripheral: peripheral,
		store:      st,
		logger:     logger,
		opts:       o,
		id:         uuid.New(),
		data:       newNotificationPipe(o.BufferSize, logger),
		responses:  newNotificationPipe(o.BufferSize, logger),
		dataAcc:    protocol.NewAccumulator(),
		respAcc:    protocol.NewAccumulator(),
		state:      StateDisconnected,
	}
}

// WithPublisher attaches a publisher for stored readings.
func (s *Session) WithPublisher(p Publisher) *Session {
	s.publisher = p
	return s
}

// CorrelationID tags every packet persisted by this session.
func (s *Session) CorrelationID() uuid.UUID {
	return s.id
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.WithFields(logrus.Fields{
			"from": prev,
			"to":   state,
		}).Debug("Session state changed")
	}
}

// IsConnected reports the transport link state without blocking.
func (s *Session) IsConnected() bool {
	return s.peripheral.IsConnected()
}

// Connect establishes the link and subscribes to telemetry and command responses.
func (s *Session) Connect(ctx context.Context) error {
	s.setState(StateConnecting)

	err := s.peripheral.Connect(ctx, &device.ConnectOptions{ConnectTimeout: s.opts.ConnectTimeout})
	if err != nil && !errors.Is(err, device.ErrAlreadyConnected) {
		s.setState(StateDisconnected)
		return fmt.Errorf("failed to connect to %s: %w", s.peripheral.Address(), err)
	}

	s.data.Reset()
	s.responses.Reset()
	s.dataAcc.Reset()
	s.respAcc.Reset()

	subscriptions := []struct {
		uuid    string
		handler device.NotificationHandler
	}{
		{protocol.DataFromStrapUUID, s.data.Write},
		{protocol.CmdFromStrapUUID, s.responses.Write},
	}
	for _, sub := range subscriptions {
		if err := s.peripheral.Subscribe(protocol.ServiceUUID, sub.uuid, sub.handler); err != nil {
			_ = s.peripheral.Disconnect()
			s.setState(StateDisconnected)
			return fmt.Errorf("failed to subscribe to %s: %w", sub.uuid, err)
		}
	}

	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
	s.setState(StateConnected)

	s.logger.WithFields(logrus.Fields{
		"address": s.peripheral.Address(),
		"session": s.id,
	}).Info("Connected to strap")
	return nil
}

// Initialize performs the handshake: hello, clock sync, high-frequency sync.
func (s *Session) Initialize(ctx context.Context) error {
	if !s.IsConnected() {
		return device.ErrNotConnected
	}
	s.setState(StateInitializing)

	steps := []struct {
		cmd  protocol.CommandNumber
		data []byte
	}{
		{protocol.CmdGetHelloHarvard, []byte{0}},
		{protocol.CmdSetClock, protocol.SetClockData(time.Now())},
		{protocol.CmdEnterHighFreqSync, nil},
	}
	for _, step := range steps {
		if err := s.Command(ctx, step.cmd, step.data); err != nil {
			if s.IsConnected() {
				s.setState(StateConnected)
			} else {
				s.setState(StateReconnecting)
			}
			return fmt.Errorf("initialize: %w", err)
		}
	}

	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.setState(StateIdle)
	return nil
}

// SyncHistory downloads stored history until the strap reports completion.
// Every raw frame is persisted as a packet and every decoded record as a reading.
func (s *Session) SyncHistory(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	s.mu.RLock()
	initialized := s.initialized
	s.mu.RUnlock()
	if !initialized {
		return stats, ErrNotInitialized
	}
	if !s.IsConnected() {
		return stats, device.ErrNotConnected
	}

	s.setState(StateSyncingHistory)
	decoder := ingest.NewDecoder(s.logger)
	link := s.peripheral.ConnectionContext()
	droppedBefore := s.data.Dropped()

	finish := func(err error) (SyncStats, error) {
		stats.Stats = decoder.Stats()
		stats.DroppedBytes = s.data.Dropped() - droppedBefore
		switch {
		case err == nil:
			s.setState(StateIdle)
		case errors.Is(err, ErrConnectionLost):
			s.setState(StateReconnecting)
		default:
			s.setState(StateIdle)
		}
		fields := logrus.Fields{
			"packets":   stats.Packets,
			"records":   stats.Records,
			"batches":   stats.Batches,
			"malformed": stats.Malformed,
		}
		if err != nil {
			s.logger.WithFields(fields).WithError(err).Warn("History sync stopped")
		} else {
			s.logger.WithFields(fields).Info("History sync complete")
		}
		return stats, err
	}

	if err := s.Command(ctx, protocol.CmdSendHistoricalData, []byte{0}); err != nil {
		if !s.IsConnected() {
			return finish(fmt.Errorf("%w: %v", ErrConnectionLost, err))
		}
		return finish(fmt.Errorf("request history: %w", err))
	}

	idle := time.NewTimer(s.opts.SyncIdleTimeout)
	defer idle.Stop()

	// process drains the data pipe; it reports true once HistoryComplete is seen.
	// Frames drained after HistoryComplete are still persisted.
	process := func() (bool, error) {
		frames := s.dataAcc.Write(s.data.Drain())
		for i, raw := range frames {
			done, err := s.handleFrame(ctx, decoder, raw, &stats)
			if err != nil || !done {
				if err != nil {
					return false, err
				}
				continue
			}
			for _, rest := range frames[i+1:] {
				if _, err := s.store.InsertPacket(ctx, s.id, rest); err != nil {
					return true, fmt.Errorf("persist packet: %w", err)
				}
				stats.Packets++
			}
			return true, nil
		}
		return false, nil
	}

	for {
		select {
		case <-ctx.Done():
			return finish(ctx.Err())

		case <-link.Done():
			done, err := process()
			if err != nil {
				return finish(err)
			}
			if done {
				stats.Complete = true
				return finish(nil)
			}
			return finish(fmt.Errorf("%w: %v", ErrConnectionLost, context.Cause(link)))

		case <-idle.C:
			return finish(ErrSyncTimeout)

		case <-s.responses.Ready():
			s.drainResponses()

		case <-s.data.Ready():
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.opts.SyncIdleTimeout)

			done, err := process()
			if err != nil {
				if !s.IsConnected() {
					return finish(fmt.Errorf("%w: %v", ErrConnectionLost, err))
				}
				return finish(err)
			}
			if done {
				stats.Complete = true
				return finish(nil)
			}
		}
	}
}

// handleFrame persists and decodes one frame. It reports true on HistoryComplete.
func (s *Session) handleFrame(ctx context.Context, decoder *ingest.Decoder, raw []byte, stats *SyncStats) (bool, error) {
	if _, err := s.store.InsertPacket(ctx, s.id, raw); err != nil {
		return false, fmt.Errorf("persist packet: %w", err)
	}
	stats.Packets++

	res := decoder.Decode(raw)
	switch {
	case res.Record != nil:
		reading := ingest.Reading(*res.Record)
		if err := s.store.InsertHeartRateReading(ctx, reading); err != nil {
			return false, fmt.Errorf("persist reading: %w", err)
		}
		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, reading); err != nil {
				s.logger.WithError(err).Warn("Failed to publish reading")
			}
		}

	case res.Metadata != nil:
		md := res.Metadata
		switch md.Type {
		case protocol.MetadataHistoryStart:
			s.logger.WithField("unix", md.Unix).Debug("History batch started")
		case protocol.MetadataHistoryEnd:
			stats.Batches++
			s.logger.WithFields(logrus.Fields{
				"unix": md.Unix,
				"trim": md.Trim,
			}).Debug("History batch ended, acknowledging")
			if err := s.Command(ctx, protocol.CmdHistoricalDataResult, protocol.HistoryAckData(md.Trim)); err != nil {
				return false, fmt.Errorf("acknowledge history batch: %w", err)
			}
		case protocol.MetadataHistoryComplete:
			return true, nil
		}
	}
	return false, nil
}

// drainResponses logs command responses; nothing in the sync waits on them.
func (s *Session) drainResponses() {
	for _, raw := range s.respAcc.Write(s.responses.Drain()) {
		f, err := protocol.Parse(raw)
		if err != nil {
			s.logger.WithError(err).Warn("Skipping malformed command response")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"type": f.Type,
			"cmd":  protocol.CommandNumber(f.Cmd),
			"seq":  f.Seq,
		}).Debug("Command response")
	}
}

// SendCommand writes an encoded frame to the command characteristic.
// It is the only write path of the session.
func (s *Session) SendCommand(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.peripheral.Write(protocol.ServiceUUID, protocol.CmdToStrapUUID, frame, false); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// Command builds a command frame with the next sequence number and sends it.
func (s *Session) Command(ctx context.Context, cmd protocol.CommandNumber, data []byte) error {
	s.sendMu.Lock()
	s.seq++
	seq := s.seq
	s.sendMu.Unlock()

	frame, err := protocol.NewCommand(seq, cmd, data).Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", cmd, err)
	}
	s.logger.WithFields(logrus.Fields{
		"cmd": cmd,
		"seq": seq,
	}).Debug("Sending command")
	return s.SendCommand(ctx, frame)
}

// EnsureConnected retries Connect with a fixed backoff until it succeeds or ctx ends.
func (s *Session) EnsureConnected(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		if s.IsConnected() {
			return nil
		}
		err := s.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.setState(StateReconnecting)
		s.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": s.opts.ReconnectBackoff,
		}).WithError(err).Warn("Reconnect failed")

		if err := sleep(ctx, s.opts.ReconnectBackoff); err != nil {
			return err
		}
	}
}

// ExitHighFreqSync sends the exit command, reconnecting as needed until it is delivered.
func (s *Session) ExitHighFreqSync(ctx context.Context) error {
	for {
		if s.IsConnected() {
			err := s.Command(ctx, protocol.CmdExitHighFreqSync, nil)
			if err == nil {
				s.logger.Info("Left high-frequency sync")
				return nil
			}
			s.logger.WithError(err).Warn("Failed to send exit command")
		} else if err := s.Connect(ctx); err != nil {
			s.logger.WithError(err).Debug("Reconnect for exit command failed")
		} else {
			continue
		}

		if err := sleep(ctx, s.opts.ReconnectBackoff); err != nil {
			return err
		}
	}
}

// Close disconnects the peripheral.
func (s *Session) Close() error {
	s.setState(StateDisconnected)
	if err := s.peripheral.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
