// Package export writes stored readings to XLSX workbooks and JSON.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/srg/openstrap/internal/activity"
	"github.com/srg/openstrap/internal/metrics"
	"github.com/srg/openstrap/internal/store"
	"github.com/xuri/excelize/v2"
)

const (
	readingsSheet = "Readings"
	segmentsSheet = "Segments"
)

var (
	readingsHeader = []string{"Time (UTC)", "Unix", "Heart Rate", "RR Intervals", "HRV RMSSD", "Activity"}
	segmentsHeader = []string{"Start (UTC)", "End (UTC)", "Minutes", "Activity", "Readings"}
)

// Row is one exported reading.
type Row struct {
	Time        time.Time `json:"time"`
	Timestamp   int64     `json:"timestamp"`
	HeartRate   uint8     `json:"heart_rate"`
	RRIntervals []uint16  `json:"rr_intervals"`
	HRVRMSSD    *float64  `json:"hrv_rmssd"`
	Activity    string    `json:"activity,omitempty"`
}

// Rows converts readings and attaches windowed RMSSD.
func Rows(readings []store.HeartRateReading, window int) []Row {
	rrs := make([][]uint16, len(readings))
	for i, r := range readings {
		rrs[i] = r.RR
	}
	hrv := metrics.WindowedRMSSD(rrs, window)

	rows := make([]Row, len(readings))
	for i, r := range readings {
		rr := r.RR
		if rr == nil {
			rr = []uint16{}
		}
		row := Row{
			Time:        r.Time.UTC(),
			Timestamp:   r.Time.Unix(),
			HeartRate:   r.BPM,
			RRIntervals: rr,
			HRVRMSSD:    hrv[i],
		}
		if r.Activity != nil {
			row.Activity = r.Activity.String()
		}
		rows[i] = row
	}
	return rows
}

// JSON writes rows as an indented JSON array.
func JSON(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	return nil
}

// XLSX writes a workbook with a readings sheet and, when segments is non-empty,
// a segments sheet.
func XLSX(w io.Writer, rows []Row, segments []activity.Segment) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(readingsSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, readingsSheet, readingsHeader, headerStyle); err != nil {
		return err
	}
	for i, r := range rows {
		var rmssd any
		if r.HRVRMSSD != nil {
			rmssd = *r.HRVRMSSD
		}
		values := []any{
			r.Time.Format(time.RFC3339),
			r.Timestamp,
			int(r.HeartRate),
			store.FormatRR(r.RRIntervals),
			rmssd,
			r.Activity,
		}
		if err := writeRow(f, readingsSheet, i+2, values); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(readingsSheet, "A", "A", 22); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if len(segments) > 0 {
		if _, err := f.NewSheet(segmentsSheet); err != nil {
			return fmt.Errorf("failed to create sheet: %w", err)
		}
		if err := writeHeader(f, segmentsSheet, segmentsHeader, headerStyle); err != nil {
			return err
		}
		for i, s := range segments {
			values := []any{
				s.Start.UTC().Format(time.RFC3339),
				s.End.UTC().Format(time.RFC3339),
				s.Duration().Minutes(),
				s.Activity.String(),
				s.Count,
			}
			if err := writeRow(f, segmentsSheet, i+2, values); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeHeader(f *excelize.File, sheet string, header []string, style int) error {
	values := make([]any, len(header))
	for i, h := range header {
		values[i] = h
	}
	if err := writeRow(f, sheet, 1, values); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}
