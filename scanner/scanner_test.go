//go:build test

package scanner_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/devicefactory"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/srg/openstrap/internal/testutils"
	"github.com/srg/openstrap/scanner"
	suitelib "github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	suitelib.Suite
	helper   *testutils.TestHelper
	fake     *testutils.FakeScanningDevice
	original func(device.PlatformConfig) (device.ScanningDevice, error)
	scanner  *scanner.Scanner
}

func TestScannerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ScannerTestSuite))
}

func (suite *ScannerTestSuite) SetupTest() {
	suite.helper = testutils.NewTestHelper(suite.T())
	suite.fake = &testutils.FakeScanningDevice{
		Advertisements: []device.Advertisement{
			testutils.NewAdvertisementBuilder().WithName("WHOOP 4C1234567").WithAddress("AA:BB:CC:DD:EE:01").
				WithRSSI(-50).WithServices(protocol.ServiceUUID).Build(),
			testutils.NewAdvertisementBuilder().WithName("WHOOP\x00\x01 4C7654321 ").WithAddress("AA:BB:CC:DD:EE:02").
				WithRSSI(-70).WithServices(protocol.ServiceUUID).Build(),
			testutils.NewAdvertisementBuilder().WithName("Heart Monitor").WithAddress("11:22:33:44:55:66").
				WithRSSI(-60).WithServices("180D").Build(),
			// Same placeholder address as the first strap on hosts hiding addresses.
			testutils.NewAdvertisementBuilder().WithName("WHOOP 4C0000000").WithAddress("AA:BB:CC:DD:EE:01").
				WithRSSI(-80).WithServices(protocol.ServiceUUID).Build(),
		},
	}

	suite.original = devicefactory.ScanningDeviceFactory
	devicefactory.ScanningDeviceFactory = func(device.PlatformConfig) (device.ScanningDevice, error) {
		return suite.fake, nil
	}

	s, err := scanner.NewScanner(device.PlatformFor("linux", ""), suite.helper.Logger)
	suite.Require().NoError(err)
	suite.scanner = s
}

func (suite *ScannerTestSuite) TearDownTest() {
	devicefactory.ScanningDeviceFactory = suite.original
}

func (suite *ScannerTestSuite) opts() *scanner.ScanOptions {
	return &scanner.ScanOptions{Duration: 50 * time.Millisecond, DuplicateFilter: true}
}

func (suite *ScannerTestSuite) TestScan() {
	suite.Run("identity key combines name and address", func() {
		// GOAL: Verify devices sharing an address but differing by name are kept apart
		//
		// TEST SCENARIO: Four advertisements, two with the same address → four distinct keys

		devices, err := suite.scanner.Scan(context.Background(), suite.opts(), nil)
		suite.Require().NoError(err)
		suite.Len(devices, 4, "MUST keep devices with equal addresses but different names")
		suite.Contains(devices, scanner.IdentityKey("WHOOP 4C1234567", "aa:bb:cc:dd:ee:01"))
		suite.Contains(devices, scanner.IdentityKey("WHOOP 4C0000000", "aa:bb:cc:dd:ee:01"))
	})

	suite.Run("sanitizes names", func() {
		devices, err := suite.scanner.Scan(context.Background(), suite.opts(), nil)
		suite.Require().NoError(err)
		d, ok := devices[scanner.IdentityKey("WHOOP 4C7654321", "AA:BB:CC:DD:EE:02")]
		suite.Require().True(ok, "sanitized key MUST be present")
		suite.Equal("WHOOP 4C7654321", d.Name)
	})

	suite.Run("service filter", func() {
		opts := suite.opts()
		opts.ServiceUUIDs = []string{protocol.ServiceUUID}
		devices, err := suite.scanner.Scan(context.Background(), opts, nil)
		suite.Require().NoError(err)
		suite.Len(devices, 3, "MUST drop devices without the strap service")
	})

	suite.Run("allow and block lists", func() {
		opts := suite.opts()
		opts.AllowList = []string{"aa:bb:cc:dd:ee:01", "11:22:33:44:55:66"}
		opts.BlockList = []string{"11:22:33:44:55:66"}
		devices, err := suite.scanner.Scan(context.Background(), opts, nil)
		suite.Require().NoError(err)
		suite.Len(devices, 2)
		for _, d := range devices {
			suite.Equal("AA:BB:CC:DD:EE:01", d.Address)
		}
	})

	suite.Run("reports phases", func() {
		var phases []string
		_, err := suite.scanner.Scan(context.Background(), suite.opts(), func(p string) { phases = append(phases, p) })
		suite.Require().NoError(err)
		suite.Equal([]string{"Scanning", "Processing results"}, phases)
	})

	suite.Run("adapter failure", func() {
		suite.fake.Err = errors.New("bluetooth is turned off")
		defer func() { suite.fake.Err = nil }()
		_, err := suite.scanner.Scan(context.Background(), suite.opts(), nil)
		suite.ErrorContains(err, "scan failed")
	})
}

func (suite *ScannerTestSuite) TestFind() {
	suite.Run("address selector stops early", func() {
		// GOAL: Verify an automated selector ends the scan as soon as its device is seen
		//
		// TEST SCENARIO: Long scan duration + address selector → returns well before duration

		opts := suite.opts()
		opts.Duration = 10 * time.Second
		start := time.Now()

		d, err := suite.scanner.Find(context.Background(), opts, scanner.AddressSelector{Address: "11:22:33:44:55:66"})
		suite.Require().NoError(err)
		suite.Equal("Heart Monitor", d.Name)
		suite.Less(time.Since(start), 5*time.Second, "MUST NOT wait for full scan duration")
	})

	suite.Run("name selector matches sanitized names", func() {
		d, err := suite.scanner.Find(context.Background(), suite.opts(), scanner.NameSelector{Name: "whoop 4c7654321"})
		suite.Require().NoError(err)
		suite.Equal("AA:BB:CC:DD:EE:02", d.Address)
	})

	suite.Run("no match", func() {
		_, err := suite.scanner.Find(context.Background(), suite.opts(), scanner.NameSelector{Name: "missing"})
		suite.ErrorIs(err, scanner.ErrNoDevice)
	})

	suite.Run("prompt selector", func() {
		var out bytes.Buffer
		sel := scanner.PromptSelector{In: strings.NewReader("abc\n9\n2\n"), Out: &out}

		opts := suite.opts()
		opts.ServiceUUIDs = []string{protocol.ServiceUUID}
		d, err := suite.scanner.Find(context.Background(), opts, sel)
		suite.Require().NoError(err)

		candidates := []string{"WHOOP 4C0000000", "WHOOP 4C1234567", "WHOOP 4C7654321"}
		suite.Equal(candidates[1], d.Name, "MUST pick the second sorted candidate")
		suite.Contains(out.String(), "Invalid selection.")
	})
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"WHOOP 4C1234567":     "WHOOP 4C1234567",
		"\x00WHOOP\x1f 4C12 ": "WHOOP 4C12",
		"   ":                 "",
	}
	for in, want := range cases {
		if got := scanner.SanitizeName(in); got != want {
			t.Errorf("SanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
