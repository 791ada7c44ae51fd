package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/openstrap/internal/activity"
	"github.com/srg/openstrap/internal/export"
	"github.com/srg/openstrap/internal/metrics"
	"github.com/srg/openstrap/internal/store"
)

type exportFlags struct {
	since  string
	format string
	out    string
	window int
}

func newExportCmd() *cobra.Command {
	f := &exportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export readings to XLSX or JSON",
		Long: `Export stored heart-rate readings with windowed HRV and activity labels.
XLSX workbooks get a second sheet with activity segments when readings are labelled.
The format defaults to the --out extension.`,
		Example: `  openstrap export --since 168h --out week.xlsx
  openstrap export --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.since, "since", "", "Only readings after this time (RFC3339, YYYY-MM-DD, unix or a duration like 24h)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "", "Output format (xlsx, json)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Output file (stdout for json when empty)")
	cmd.Flags().IntVar(&f.window, "window", metrics.DefaultWindow, "Readings per HRV window")
	return cmd
}

func runExport(cmd *cobra.Command, f *exportFlags) error {
	format := f.format
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(f.out)), ".")
		if format == "" {
			format = "json"
		}
	}
	if format != "xlsx" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [xlsx json]", format)
	}
	if format == "xlsx" && f.out == "" {
		return fmt.Errorf("xlsx export needs --out")
	}
	if f.window < 1 {
		return fmt.Errorf("--window must be at least 1")
	}
	since, err := parseSince(f.since, time.Now())
	if err != nil {
		return err
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	readings, err := st.SearchReadings(ctx, store.SearchOptions{From: since})
	if err != nil {
		return fmt.Errorf("load readings: %w", err)
	}
	rows := export.Rows(readings, f.window)

	var buf bytes.Buffer
	if format == "json" {
		err = export.JSON(&buf, rows)
	} else {
		err = export.XLSX(&buf, rows, labelledSegments(readings))
	}
	if err != nil {
		return err
	}

	if f.out == "" {
		_, err = cmd.OutOrStdout().Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(f.out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.out, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %d readings to %s\n", len(rows), f.out)
	return nil
}

// labelledSegments builds segments from readings that already carry a label.
func labelledSegments(readings []store.HeartRateReading) []activity.Segment {
	var labelled []store.HeartRateReading
	var labels []store.Activity
	for _, r := range readings {
		if r.Activity != nil {
			labelled = append(labelled, r)
			labels = append(labels, *r.Activity)
		}
	}
	return activity.Segments(labelled, labels)
}
