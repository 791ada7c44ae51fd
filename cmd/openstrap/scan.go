package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/openstrap/internal/device"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/srg/openstrap/scanner"
)

type scanFlags struct {
	duration    time.Duration
	format      string
	services    []string
	allow       []string
	block       []string
	noDuplicate bool
	all         bool
}

func newScanCmd() *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for nearby straps",
		Long: `Scan for Bluetooth Low Energy devices and list them with name, address and signal strength.

By default only devices advertising the strap service are shown; use --all to list everything.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, f)
		},
	}

	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Scan duration (defaults to the configured scan timeout)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVar(&f.allow, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&f.block, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&f.noDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	cmd.Flags().BoolVar(&f.all, "all", false, "Show all BLE devices, not just straps")
	return cmd
}

func runScan(cmd *cobra.Command, f *scanFlags) error {
	if !slices.Contains([]string{"table", "json"}, f.format) {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", f.format)
	}

	services := f.services
	if len(services) > 0 {
		var err error
		if services, err = device.ValidateUUID(services...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	} else if !f.all {
		services = []string{protocol.ServiceUUID}
	}

	a, err := setup(cmd)
	if err != nil {
		return err
	}

	opts := &scanner.ScanOptions{
		Duration:        a.cfg.BLE.ScanTimeout,
		DuplicateFilter: f.noDuplicate,
		ServiceUUIDs:    services,
		AllowList:       f.allow,
		BlockList:       f.block,
	}
	if f.duration > 0 {
		opts.Duration = f.duration
	}

	s, err := scanner.NewScanner(a.platform, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for straps", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	out := cmd.OutOrStdout()
	sorted := scanner.Sorted(devices)
	if f.format == "json" {
		return displayDevicesJSON(out, sorted)
	}
	return displayDevicesTable(out, sorted)
}

func displayDevicesTable(out io.Writer, devices []scanner.DiscoveredDevice) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "Unknown"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(d.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s ago\n",
			name, d.Address, d.RSSI, services, time.Since(d.LastSeen).Truncate(time.Second))
	}
	return w.Flush()
}

func displayDevicesJSON(out io.Writer, devices []scanner.DiscoveredDevice) error {
	if devices == nil {
		devices = []scanner.DiscoveredDevice{}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}
