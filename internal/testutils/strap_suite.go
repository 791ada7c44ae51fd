//go:build test

package testutils

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/devicefactory"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/stretchr/testify/suite"
)

// StrapSuite provides a simulated strap wired into devicefactory, plus an
// in-memory store, for session and command tests.
//
// Records are configured before the parent SetupTest runs:
//
//	func (s *SyncSuite) SetupTest() {
//	    s.Records = testutils.SampleRecords(12, 1700000000)
//	    s.StrapSuite.SetupTest()
//	    s.Strap.BatchSize = 5
//	}
type StrapSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Records seed the simulator created by SetupTest.
	Records []protocol.TelemetryRecord

	Strap *StrapSimulator
	Store *MemoryStore

	TestTimeout time.Duration

	originalPeripheralFactory func(string, device.PlatformConfig, *logrus.Logger) device.Peripheral
}

func (s *StrapSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second
}

// SetupTest swaps the peripheral factory for the simulator.
func (s *StrapSuite) SetupTest() {
	s.Helper.Hook.Reset()
	s.Strap = NewStrapSimulator(s.Records)
	s.Store = NewMemoryStore()

	s.originalPeripheralFactory = devicefactory.PeripheralFactory
	devicefactory.PeripheralFactory = func(string, device.PlatformConfig, *logrus.Logger) device.Peripheral {
		return s.Strap
	}
}

// TearDownTest restores the factory so later suites get the real transport.
func (s *StrapSuite) TearDownTest() {
	if s.originalPeripheralFactory != nil {
		devicefactory.PeripheralFactory = s.originalPeripheralFactory
	}
	s.Records = nil
}

// SampleRecords builds n one-second-apart records starting at unix with two RR
// values each. Heart rate oscillates so HRV windows are non-trivial.
func SampleRecords(n int, unix uint32) []protocol.TelemetryRecord {
	out := make([]protocol.TelemetryRecord, 0, n)
	for i := 0; i < n; i++ {
		bpm := uint8(60 + i%7)
		rr := uint16(60000 / int(bpm))
		out = append(out, protocol.TelemetryRecord{
			Timestamp: unix + uint32(i),
			HeartRate: bpm,
			RR:        []uint16{rr, rr + uint16(i%3)*5},
			RRCount:   2,
		})
	}
	return out
}
