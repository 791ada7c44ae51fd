package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/openstrap/internal/httpapi"
	"github.com/srg/openstrap/internal/ingest"
)

type parseFlags struct {
	remote  string
	out     string
	timeout time.Duration
}

func newParseCmd() *cobra.Command {
	f := &parseFlags{}
	cmd := &cobra.Command{
		Use:   "parse <capture-file>",
		Short: "Decode a raw history capture into JSON records",
		Long: `Decode a file holding concatenated raw frames (as captured from the data
characteristic) into records with heart rate, RR intervals and windowed HRV.

With --remote the file is uploaded to a running "openstrap serve" instead of being
decoded locally. Use "-" to read the capture from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParse(cmd, args[0], f)
		},
	}

	cmd.Flags().StringVar(&f.remote, "remote", "", "Base URL of an openstrap server, e.g. http://localhost:8080")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Write JSON to this file instead of stdout")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 30*time.Second, "Request timeout for --remote")
	return cmd
}

func runParse(cmd *cobra.Command, path string, f *parseFlags) error {
	capture, err := readCapture(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}

	var records []ingest.ParsedRecord
	if f.remote != "" {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()
		records, err = httpapi.NewClient(f.remote, f.timeout).ParseHistory(ctx, filepath.Base(path), capture)
		if err != nil {
			return err
		}
	} else {
		var stats ingest.BatchStats
		records, stats = ingest.ParseHistory(capture, a.logger)
		a.logger.WithFields(logrus.Fields{
			"frames":          stats.Frames,
			"records":         stats.Records,
			"malformed":       stats.Malformed,
			"discarded_bytes": stats.DiscardedBytes,
		}).Info("Capture decoded")
	}
	if records == nil {
		records = []ingest.ParsedRecord{}
	}

	if f.out != "" {
		return writeJSONFile(f.out, records)
	}
	return writeJSON(cmd.OutOrStdout(), records)
}

func readCapture(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read capture from stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	return data, nil
}
