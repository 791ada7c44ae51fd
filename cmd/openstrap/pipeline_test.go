//go:build test

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/srg/openstrap/internal/activity"
	"github.com/srg/openstrap/internal/httpapi"
	"github.com/srg/openstrap/internal/ingest"
	"github.com/srg/openstrap/internal/store"
	"github.com/srg/openstrap/internal/testutils"
	"github.com/stretchr/testify/suite"
	"github.com/xuri/excelize/v2"
)

// PipelineTestSuite covers the commands that work on downloaded data.
type PipelineTestSuite struct {
	CommandTestSuite
}

func TestPipelineTestSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (s *PipelineTestSuite) SetupTest() {
	s.Records = testutils.SampleRecords(12, 1700000000)
	s.CommandTestSuite.SetupTest()
	s.DownloadHistory()
}

// capture concatenates every stored packet, as if dumped from the data characteristic.
func (s *PipelineTestSuite) capture() []byte {
	packets, err := s.OpenDatabase().GetPacketsAfter(context.Background(), 0, 1000)
	s.Require().NoError(err)
	var buf bytes.Buffer
	for _, p := range packets {
		buf.Write(p.Bytes)
	}
	return buf.Bytes()
}

func (s *PipelineTestSuite) TestReprocessReportsProgressAndIsIdempotent() {
	// GOAL: Verify reprocess replays every stored packet, prints the resume cursor and adds no duplicates
	//
	// TEST SCENARIO: 12 records downloaded → reprocess --page-size 10 → progress lines per page → still 12 readings

	out, err := s.ExecuteCommand("reprocess", "--page-size", "10")
	s.Require().NoError(err, "stderr: %s", s.Stderr)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	s.Require().GreaterOrEqual(len(lines), 3)
	s.Contains(lines[0], "last id 10", "first page MUST report its last packet id")
	s.Contains(lines[len(lines)-1], "decoded 12 records")

	readings, err := s.OpenDatabase().SearchReadings(context.Background(), store.SearchOptions{})
	s.Require().NoError(err)
	s.Len(readings, 12, "replay MUST NOT duplicate readings")
}

func (s *PipelineTestSuite) TestReprocessAfterLastIDDecodesNothing() {
	out, err := s.ExecuteCommand("reprocess", "--after", "1000", "--dry-run")
	s.Require().NoError(err)
	s.Contains(out, "decoded 0 records")
}

func (s *PipelineTestSuite) TestReprocessWritesRecordsFile() {
	path := filepath.Join(s.T().TempDir(), "records.json")
	_, err := s.ExecuteCommand("reprocess", "--dry-run", "--out", path)
	s.Require().NoError(err)

	data, err := os.ReadFile(path)
	s.Require().NoError(err)
	var records []ingest.ParsedRecord
	s.Require().NoError(json.Unmarshal(data, &records))
	s.Len(records, 12)
}

func (s *PipelineTestSuite) TestDetectEventsLabelsOnce() {
	// GOAL: Verify detect-events labels every reading and skips them on the next run

	out, err := s.ExecuteCommand("detect-events", "--format", "json")
	s.Require().NoError(err, "stderr: %s", s.Stderr)

	var segments []activity.Segment
	s.Require().NoError(json.Unmarshal([]byte(out), &segments))
	total := 0
	for _, seg := range segments {
		total += seg.Count
	}
	s.Equal(12, total, "segments MUST cover every reading")

	readings, err := s.OpenDatabase().SearchReadings(context.Background(), store.SearchOptions{ActivityAbsent: true})
	s.Require().NoError(err)
	s.Empty(readings, "every reading MUST be labelled")

	out, err = s.ExecuteCommand("detect-events")
	s.Require().NoError(err)
	s.Contains(out, "No unclassified readings")
}

func (s *PipelineTestSuite) TestDetectEventsBuiltinScript() {
	// GOAL: Verify the bundled Lua classifier runs end to end and its print output reaches stderr

	out, err := s.ExecuteCommand("detect-events", "--lua", "builtin")
	s.Require().NoError(err, "stderr: %s", s.Stderr)
	s.Contains(out, "ACTIVITY")
	s.Contains(s.Stderr.String(), "[lua]")
}

func (s *PipelineTestSuite) TestDetectEventsRejectsBadSince() {
	_, err := s.ExecuteCommand("detect-events", "--since", "yesterday-ish")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid time")
}

func (s *PipelineTestSuite) TestParseLocalCapture() {
	// GOAL: Verify parse decodes a raw capture file into JSON records with HRV

	path := filepath.Join(s.T().TempDir(), "capture.bin")
	s.Require().NoError(os.WriteFile(path, s.capture(), 0o644))

	out, err := s.ExecuteCommand("parse", path)
	s.Require().NoError(err, "stderr: %s", s.Stderr)

	var records []ingest.ParsedRecord
	s.Require().NoError(json.Unmarshal([]byte(out), &records))
	s.Require().Len(records, 12)
	s.Equal(uint32(1700000000), records[0].Timestamp)
	s.NotNil(records[len(records)-1].HRVRMSSD, "later records MUST carry HRV")
}

func (s *PipelineTestSuite) TestParseRemoteMatchesLocal() {
	// GOAL: Verify --remote uploads to the HTTP API and yields the same records as a local parse

	srv := httptest.NewServer(httpapi.NewServer(httpapi.ServerOptions{}, s.Logger).Handler())
	defer srv.Close()

	path := filepath.Join(s.T().TempDir(), "capture.bin")
	s.Require().NoError(os.WriteFile(path, s.capture(), 0o644))

	local, err := s.ExecuteCommand("parse", path)
	s.Require().NoError(err)
	remote, err := s.ExecuteCommand("parse", path, "--remote", srv.URL)
	s.Require().NoError(err, "stderr: %s", s.Stderr)

	s.JSONEq(local, remote)
}

func (s *PipelineTestSuite) TestExportXLSX() {
	// GOAL: Verify export writes a workbook with readings and, after detection, a segments sheet

	_, err := s.ExecuteCommand("detect-events")
	s.Require().NoError(err)

	path := filepath.Join(s.T().TempDir(), "readings.xlsx")
	out, err := s.ExecuteCommand("export", "--out", path)
	s.Require().NoError(err, "stderr: %s", s.Stderr)
	s.Contains(out, "exported 12 readings")

	f, err := excelize.OpenFile(path)
	s.Require().NoError(err)
	defer f.Close()
	s.Equal([]string{"Readings", "Segments"}, f.GetSheetList())

	rows, err := f.GetRows("Readings")
	s.Require().NoError(err)
	s.Len(rows, 13, "header plus one row per reading")
}

func (s *PipelineTestSuite) TestExportJSONToStdout() {
	out, err := s.ExecuteCommand("export", "--since", "1700000005")
	s.Require().NoError(err)

	var rows []map[string]any
	s.Require().NoError(json.Unmarshal([]byte(out), &rows))
	s.Len(rows, 6, "--since MUST be an exclusive lower bound")
}

func (s *PipelineTestSuite) TestExportRejectsXLSXWithoutOut() {
	_, err := s.ExecuteCommand("export", "--format", "xlsx")
	s.Require().Error(err)
	s.Contains(err.Error(), "--out")
}
