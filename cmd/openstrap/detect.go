package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	openstrap "github.com/srg/openstrap"
	"github.com/srg/openstrap/internal/activity"
)

const builtinScript = "builtin"

type detectFlags struct {
	since  string
	script string
	format string
}

func newDetectEventsCmd() *cobra.Command {
	f := &detectFlags{}
	cmd := &cobra.Command{
		Use:   "detect-events",
		Short: "Label readings as active, inactive or sleep",
		Long: `Classify heart-rate readings that have no activity label yet and print the
resulting segments. Labels are written back, so each reading is classified once.

The default classifier compares a rolling heart-rate mean to a personal resting
baseline. --lua replaces it with a script defining classify(readings); pass
"builtin" to use the bundled script.`,
		Example: `  openstrap detect-events --since 24h
  openstrap detect-events --since 2024-03-01 --lua ./my_policy.lua --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetectEvents(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.since, "since", "", "Only readings after this time (RFC3339, YYYY-MM-DD, unix or a duration like 24h)")
	cmd.Flags().StringVar(&f.script, "lua", "", `Lua classifier script path, or "builtin"`)
	cmd.Flags().StringVarP(&f.format, "format", "f", "table", "Output format (table, json)")
	return cmd
}

func runDetectEvents(cmd *cobra.Command, f *detectFlags) error {
	if !slices.Contains([]string{"table", "json"}, f.format) {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", f.format)
	}
	since, err := parseSince(f.since, time.Now())
	if err != nil {
		return err
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}
	if f.script == "" {
		f.script = a.cfg.Activity.Script
	}

	var classifier activity.Classifier
	var script *activity.LuaClassifier
	if f.script != "" {
		if script, err = loadClassifierScript(f.script, a.logger); err != nil {
			return err
		}
		defer script.Close()
		classifier = script
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	segments, err := activity.NewDetector(st, classifier, a.logger).Run(ctx, since)

	out := cmd.OutOrStdout()
	if script != nil {
		for _, line := range script.Output() {
			fmt.Fprintf(cmd.ErrOrStderr(), "[lua] %s\n", line)
		}
	}
	if err != nil {
		return err
	}

	if f.format == "json" {
		if segments == nil {
			segments = []activity.Segment{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(segments)
	}
	return displaySegmentsTable(out, segments)
}

func loadClassifierScript(script string, logger *logrus.Logger) (*activity.LuaClassifier, error) {
	if script == builtinScript {
		return activity.NewLuaClassifier(openstrap.DefaultClassifierScript, builtinScript, logger)
	}
	return activity.LoadLuaClassifier(script, logger)
}

func displaySegmentsTable(out io.Writer, segments []activity.Segment) error {
	if len(segments) == 0 {
		fmt.Fprintln(out, "No unclassified readings")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tEND\tDURATION\tACTIVITY\tREADINGS")
	for _, s := range segments {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n",
			s.Start.UTC().Format(time.RFC3339), s.End.UTC().Format(time.RFC3339), s.Duration(), s.Label, s.Count)
	}
	return w.Flush()
}
