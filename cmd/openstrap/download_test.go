//go:build test

package main

import (
	"context"
	"testing"
	"time"

	"github.com/srg/openstrap/internal/protocol"
	"github.com/srg/openstrap/internal/store"
	"github.com/srg/openstrap/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type DownloadTestSuite struct {
	CommandTestSuite
}

func TestDownloadTestSuite(t *testing.T) {
	suite.Run(t, new(DownloadTestSuite))
}

func (s *DownloadTestSuite) SetupTest() {
	s.Records = testutils.SampleRecords(10, 1700000000)
	s.CommandTestSuite.SetupTest()
}

func (s *DownloadTestSuite) TestDownloadStoresPacketsAndReadings() {
	// GOAL: Verify download-history runs the full session and persists into the configured database
	//
	// TEST SCENARIO: 10 records in batches of 4 → summary reports complete → 17 packets and 10 readings in SQLite

	out := s.DownloadHistory()

	s.Contains(out, "complete", "summary MUST report completion")
	s.Contains(out, "readings:   10")
	s.Contains(out, "batches:    3")

	st := s.OpenDatabase()
	ctx := context.Background()

	packets, err := st.GetPacketsAfter(ctx, 0, 100)
	s.Require().NoError(err)
	s.Len(packets, 17, "every frame MUST be persisted")

	readings, err := st.SearchReadings(ctx, store.SearchOptions{})
	s.Require().NoError(err)
	s.Len(readings, 10, "every record MUST be stored as a reading")

	cmds := s.Strap.Commands()
	s.Require().NotEmpty(cmds)
	s.Equal(protocol.CmdExitHighFreqSync, cmds[len(cmds)-1], "the strap MUST be taken out of high-frequency sync")
}

func (s *DownloadTestSuite) TestDownloadResumesAfterLinkLoss() {
	// GOAL: Verify the command reconnects and finishes after the link drops mid-download

	s.Strap.DropAfterFrames = 5

	out := s.DownloadHistory()
	s.Contains(out, "complete")
	s.Equal(2, s.Strap.Connects(), "the command MUST reconnect once")

	readings, err := s.OpenDatabase().SearchReadings(context.Background(), store.SearchOptions{})
	s.Require().NoError(err)
	s.Len(readings, 10, "resumed download MUST NOT duplicate readings")
}

func (s *DownloadTestSuite) TestDownloadSelectsStrapByName() {
	// GOAL: Verify --name resolves the address by scanning for the strap service

	out, err := s.ExecuteCommand("download-history", "--name", "whoop 4a0000001")
	s.Require().NoError(err, "stderr: %s", s.Stderr)
	s.Contains(out, TestStrapAddress)
	s.EqualValues(1, s.Scanner.Scans.Load(), "a scan MUST be used to resolve the name")
}

func (s *DownloadTestSuite) TestDownloadUnknownNameFails() {
	_, err := s.ExecuteCommand("download-history", "--name", "nobody")
	s.Require().Error(err)
	s.Contains(FormatUserError(err), "no matching device found")
}

func (s *DownloadTestSuite) TestDownloadWithoutTargetNeedsTerminal() {
	// GOAL: Verify a non-interactive run without address or name fails with a hint instead of prompting

	_, err := s.ExecuteCommand("download-history")
	s.Require().ErrorIs(err, ErrNoTerminal)
	s.Contains(FormatUserError(err), "--address")
}

func (s *DownloadTestSuite) TestDownloadWaitScansForAddress() {
	// GOAL: Verify --wait scans until the given address advertises before connecting

	out, err := s.ExecuteCommand("download-history", "--address", TestStrapAddress, "--wait")
	s.Require().NoError(err, "stderr: %s", s.Stderr)
	s.Contains(out, "complete")
	s.EqualValues(1, s.Scanner.Scans.Load(), "--wait MUST scan before connecting")
}

func (s *DownloadTestSuite) TestExitSyncOutlastsConnectTimeout() {
	// GOAL: Verify the exit command keeps retrying past connect_timeout until the strap is reachable again
	//
	// TEST SCENARIO: link drops right after HistoryComplete → 300 reconnects fail at 5ms backoff (longer than
	// the 1s connect_timeout) → command still succeeds and the last command is exit_high_freq_sync

	s.Strap.DropOnComplete = true
	s.Strap.FailReconnects = 300

	start := time.Now()
	out := s.DownloadHistory()

	s.Contains(out, "complete")
	s.Greater(time.Since(start), time.Second, "reconnect attempts MUST outlast connect_timeout")
	s.Equal(302, s.Strap.Connects(), "every failed reconnect MUST be retried")

	cmds := s.Strap.Commands()
	s.Require().NotEmpty(cmds)
	s.Equal(protocol.CmdExitHighFreqSync, cmds[len(cmds)-1], "the strap MUST be taken out of high-frequency sync")
}
