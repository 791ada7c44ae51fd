package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/openstrap/internal/ingest"
)

type reprocessFlags struct {
	after    int64
	pageSize int
	dryRun   bool
	out      string
}

func newReprocessCmd() *cobra.Command {
	f := &reprocessFlags{}
	cmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Re-decode stored raw packets into readings",
		Long: `Replay raw packets from the database through the decoder in insertion order
and store the resulting heart-rate readings. Readings that already exist are kept,
so running it twice is harmless. The last processed packet id is printed after each
page so an interrupted run can be resumed with --after.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReprocess(cmd, f)
		},
	}

	cmd.Flags().Int64Var(&f.after, "after", 0, "Only replay packets with an id greater than this")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "Packets fetched per query (defaults to the configured page size)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Decode without writing readings")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Also write decoded records as JSON to this file")
	return cmd
}

func runReprocess(cmd *cobra.Command, f *reprocessFlags) error {
	if f.after < 0 {
		return fmt.Errorf("--after must not be negative")
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

	opts := a.cfg.ReplayOptions()
	if f.pageSize > 0 {
		opts.PageSize = f.pageSize
	}
	opts.DryRun = f.dryRun

	out := cmd.OutOrStdout()
	replayer := ingest.NewReplayer(st, a.logger, opts)
	result, err := replayer.Run(ctx, f.after, func(lastID int64, page int) {
		fmt.Fprintf(out, "processed %d packets, last id %d\n", page, lastID)
	})
	if err != nil {
		if result.LastID > f.after {
			color.New(color.FgYellow).Fprintf(out, "interrupted; resume with --after %d\n", result.LastID)
		}
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"last_id":   result.LastID,
		"frames":    result.Stats.Frames,
		"records":   result.Stats.Records,
		"malformed": result.Stats.Malformed,
		"discarded": result.DiscardedBytes,
	}).Info("Reprocess finished")

	if f.out != "" {
		if err := writeJSONFile(f.out, result.Records); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "%s %d records from %d frames (%d malformed), last id %d\n",
		color.New(color.FgGreen).Sprint("decoded"),
		result.Stats.Records, result.Stats.Frames, result.Stats.Malformed, result.LastID)
	return nil
}
