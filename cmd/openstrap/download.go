package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/openstrap/internal/devicefactory"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/srg/openstrap/internal/publish"
	"github.com/srg/openstrap/internal/session"
	"github.com/srg/openstrap/scanner"
	"golang.org/x/term"
)

type downloadFlags struct {
	address string
	name    string
	wait    bool
	noMQTT  bool
}

func newDownloadHistoryCmd() *cobra.Command {
	f := &downloadFlags{}
	cmd := &cobra.Command{
		Use:   "download-history",
		Short: "Download stored history from a strap",
		Long: `Connect to a strap, run the handshake and download its stored history.

Every raw frame is stored for later reprocessing and every decoded record is stored
as a heart-rate reading. Each batch is acknowledged so the strap can free it.
If the link drops the download resumes after reconnecting.

The strap is chosen by --address, --name, STRAP_ADDR or the config file; otherwise
a scan is run and, on a terminal, you pick from the list.`,
		Example: `  openstrap download-history --address AA:BB:CC:DD:EE:FF
  openstrap download-history --name "WHOOP 4A0123456" --wait
  STRAP_ADDR=AA:BB:CC:DD:EE:FF openstrap download-history --database-url postgres://localhost/strap`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownloadHistory(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.address, "address", "a", "", "Strap address (overrides STRAP_ADDR)")
	cmd.Flags().StringVarP(&f.name, "name", "n", "", "Strap advertised name")
	cmd.Flags().BoolVar(&f.wait, "wait", false, "Keep scanning until the strap shows up")
	cmd.Flags().BoolVar(&f.noMQTT, "no-mqtt", false, "Do not publish readings even if a broker is configured")
	return cmd
}

func runDownloadHistory(cmd *cobra.Command, f *downloadFlags) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	if f.address != "" {
		a.cfg.BLE.Address = f.address
	}
	if f.name != "" {
		a.cfg.BLE.Name = f.name
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	address, err := resolveStrap(ctx, cmd, a, f.wait)
	if err != nil {
		return err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	sess := session.New(devicefactory.PeripheralFactory(address, a.platform, a.logger), st, a.logger, a.cfg.SessionOptions())
	if a.cfg.MQTT.Broker != "" && !f.noMQTT {
		pub, err := publish.NewMQTTPublisher(a.cfg.MQTTOptions(), address, a.logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		sess.WithPublisher(pub)
	}

	a.logger.WithFields(logrus.Fields{
		"address":        address,
		"correlation_id": sess.CorrelationID(),
	}).Info("Starting history download")

	start := time.Now()
	var progress *ProgressPrinter
	if isTerminal(cmd.ErrOrStderr()) {
		progress = NewProgressPrinter(cmd.ErrOrStderr(), "Downloading history", "syncing")
		progress.Start()
	}
	stats, syncErr := downloadHistory(ctx, sess, a.cfg.Session.ReconnectBackoff, a.logger)
	if progress != nil {
		progress.Stop()
	}

	// The strap stays in high-frequency mode until told otherwise, so leave it
	// even when the download was interrupted. Only a further signal stops this.
	exitCtx, exitCancel := signalContext(context.WithoutCancel(ctx))
	defer exitCancel()
	if err := sess.ExitHighFreqSync(exitCtx); err != nil {
		a.logger.WithError(err).Warn("Could not leave high-frequency sync")
	}
	if err := sess.Close(); err != nil {
		a.logger.WithError(err).Debug("Disconnect failed")
	}

	printSyncSummary(cmd.OutOrStdout(), address, stats, time.Since(start))
	return syncErr
}

// downloadHistory runs handshake and sync until the strap reports completion,
// reconnecting after link loss.
func downloadHistory(ctx context.Context, sess *session.Session, backoff time.Duration, logger *logrus.Logger) (session.SyncStats, error) {
	var total session.SyncStats
	for {
		if err := sess.EnsureConnected(ctx); err != nil {
			return total, err
		}
		if err := sess.Initialize(ctx); err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			logger.WithError(err).Warn("Handshake failed, reconnecting")
			_ = sess.Close()
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}

		stats, err := sess.SyncHistory(ctx)
		total.Stats.Add(stats.Stats)
		total.Packets += stats.Packets
		total.Batches += stats.Batches
		total.DroppedBytes += stats.DroppedBytes
		total.Complete = stats.Complete

		if errors.Is(err, session.ErrConnectionLost) {
			logger.WithField("records", total.Records).Warn("Connection lost during download, resuming")
			continue
		}
		return total, err
	}
}

// resolveStrap returns the address to connect to, scanning when the address is
// unknown, the host does not expose stable addresses, or wait asks to see the
// strap advertise first.
func resolveStrap(ctx context.Context, cmd *cobra.Command, a *app, wait bool) (string, error) {
	if a.cfg.BLE.Address != "" && a.platform.StableAddresses && !wait {
		return a.cfg.BLE.Address, nil
	}

	var selector scanner.Selector
	switch {
	case a.cfg.BLE.Address != "":
		selector = scanner.AddressSelector{Address: a.cfg.BLE.Address}
	case a.cfg.BLE.Name != "":
		selector = scanner.NameSelector{Name: a.cfg.BLE.Name}
	case isTerminal(cmd.InOrStdin()):
		selector = scanner.PromptSelector{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
	default:
		return "", ErrNoTerminal
	}

	s, err := scanner.NewScanner(a.platform, a.logger)
	if err != nil {
		return "", fmt.Errorf("failed to create BLE scanner: %w", err)
	}
	opts := &scanner.ScanOptions{
		Duration:        a.cfg.BLE.ScanTimeout,
		DuplicateFilter: true,
		ServiceUUIDs:    []string{protocol.ServiceUUID},
	}

	for {
		found, err := s.Find(ctx, opts, selector)
		if err == nil {
			a.logger.WithFields(logrus.Fields{
				"name":    found.Name,
				"address": found.Address,
				"rssi":    found.RSSI,
			}).Info("Selected strap")
			return found.Address, nil
		}
		if !wait || !errors.Is(err, scanner.ErrNoDevice) {
			return "", err
		}
		a.logger.Info("Strap not found yet, scanning again")
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printSyncSummary(out io.Writer, address string, stats session.SyncStats, elapsed time.Duration) {
	bold := color.New(color.Bold)
	status := color.New(color.FgGreen).Sprint("complete")
	if !stats.Complete {
		status = color.New(color.FgYellow).Sprint("incomplete")
	}

	bold.Fprintf(out, "History download from %s: %s\n", address, status)
	fmt.Fprintf(out, "  packets:    %d\n", stats.Packets)
	fmt.Fprintf(out, "  batches:    %d\n", stats.Batches)
	fmt.Fprintf(out, "  readings:   %d\n", stats.Records)
	if stats.Malformed > 0 || stats.Anomalies > 0 {
		color.New(color.FgYellow).Fprintf(out, "  malformed:  %d (anomalies %d)\n", stats.Malformed, stats.Anomalies)
	}
	fmt.Fprintf(out, "  elapsed:    %s\n", elapsed.Truncate(time.Millisecond))
}
