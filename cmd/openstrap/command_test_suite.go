//go:build test

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/devicefactory"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/srg/openstrap/internal/store"
	"github.com/srg/openstrap/internal/testutils"
)

// TestStrapAddress is the address reported by the strap simulator.
const TestStrapAddress = "AA:BB:CC:DD:EE:FF"

// CommandTestSuite extends StrapSuite with a temporary database, a fake scanner
// and command execution helpers. All cmd/openstrap suites embed it.
type CommandTestSuite struct {
	testutils.StrapSuite

	DatabasePath string
	ConfigPath   string
	Scanner      *testutils.FakeScanningDevice
	Stderr       *bytes.Buffer

	originalScanningFactory func(device.PlatformConfig) (device.ScanningDevice, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.StrapSuite.SetupTest()

	dir := s.T().TempDir()
	s.DatabasePath = filepath.Join(dir, "openstrap.db")
	s.ConfigPath = filepath.Join(dir, "openstrap.yaml")
	s.Require().NoError(os.WriteFile(s.ConfigPath, []byte(strings.Join([]string{
		"log_level: warn",
		"ble:",
		"  scan_timeout: 200ms",
		"session:",
		"  connect_timeout: 1s",
		"  sync_idle_timeout: 1s",
		"  reconnect_backoff: 5ms",
		"",
	}, "\n")), 0o644))

	for _, env := range []string{"DATABASE_URL", "BLE_INTERFACE", "STRAP_ADDR", "STRAP_NAME", "MQTT_BROKER", "OPENSTRAP_LOG_LEVEL"} {
		s.T().Setenv(env, "")
	}

	s.Scanner = &testutils.FakeScanningDevice{
		Advertisements: []device.Advertisement{
			testutils.NewAdvertisementBuilder().
				WithName("WHOOP 4A0000001").
				WithAddress(TestStrapAddress).
				WithRSSI(-52).
				WithServices(protocol.ServiceUUID).
				Build(),
			testutils.NewAdvertisementBuilder().
				WithName("Kitchen Speaker").
				WithAddress("11:22:33:44:55:66").
				WithRSSI(-80).
				Build(),
		},
	}
	s.originalScanningFactory = devicefactory.ScanningDeviceFactory
	devicefactory.ScanningDeviceFactory = func(device.PlatformConfig) (device.ScanningDevice, error) {
		return s.Scanner, nil
	}
}

func (s *CommandTestSuite) TearDownTest() {
	if s.originalScanningFactory != nil {
		devicefactory.ScanningDeviceFactory = s.originalScanningFactory
	}
	s.StrapSuite.TearDownTest()
}

// ExecuteCommand runs the root command with args plus the test database and
// config, returning stdout. Stderr is kept in s.Stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	cmd := newRootCmd()
	stdout := new(bytes.Buffer)
	s.Stderr = new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(s.Stderr)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append(args, "--database-url", s.DatabasePath, "--config", s.ConfigPath))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

// OpenDatabase opens the test database for assertions.
func (s *CommandTestSuite) OpenDatabase() store.Store {
	st, err := store.Open(context.Background(), s.DatabasePath, s.Logger)
	s.Require().NoError(err, "test database MUST open")
	s.T().Cleanup(func() { _ = st.Close() })
	return st
}

// DownloadHistory runs download-history against the simulator and requires success.
func (s *CommandTestSuite) DownloadHistory() string {
	out, err := s.ExecuteCommand("download-history", "--address", TestStrapAddress)
	s.Require().NoError(err, "download-history MUST succeed, stderr: %s", s.Stderr)
	return out
}
