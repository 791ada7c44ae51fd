package ingest

import (
	"context"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/metrics"
	"github.com/srg/openstrap/internal/protocol"
	"github.com/srg/openstrap/internal/store"
)

// ReplayOptions tunes a Replayer.
type ReplayOptions struct {
	// PageSize is the number of packets fetched per query.
	PageSize int `default:"10000"`
	// Window is the HRV window used for the returned records.
	Window int `default:"10"`
	// DryRun decodes without writing readings.
	DryRun bool
}

// ReplayResult is the outcome of one replay.
type ReplayResult struct {
	LastID  int64
	Records []ParsedRecord
	Stats   Stats
	// DiscardedBytes counts trailing packet bytes that did not form a frame.
	DiscardedBytes int
}

// Replayer re-runs persisted packets through the decode pipeline and
// regenerates heart-rate readings.
type Replayer struct {
	store  store.Store
	logger *logrus.Logger
	opts   ReplayOptions
}

func NewReplayer(st store.Store, logger *logrus.Logger, opts *ReplayOptions) *Replayer {
	if logger == nil {
		logger = logrus.New()
	}
	var o ReplayOptions
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o)
	return &Replayer{store: st, logger: logger, opts: o}
}

// Run replays every packet with ID > after in insertion order. progress, when
// set, is called after each page with the last processed packet id.
func (r *Replayer) Run(ctx context.Context, after int64, progress func(lastID int64, page int)) (ReplayResult, error) {
	decoder := NewDecoder(r.logger)
	result := ReplayResult{LastID: after}
	var recs []protocol.TelemetryRecord

	for {
		if err := ctx.Err(); err != nil {
			result.Stats = decoder.Stats()
			return result, err
		}

		packets, err := r.store.GetPacketsAfter(ctx, result.LastID, r.opts.PageSize)
		if err != nil {
			result.Stats = decoder.Stats()
			return result, fmt.Errorf("load packets after %d: %w", result.LastID, err)
		}
		if len(packets) == 0 {
			break
		}

		for _, p := range packets {
			// A packet may hold several frames, or a partial one.
			frames, discarded := protocol.SplitAll(p.Bytes)
			if discarded > 0 {
				result.DiscardedBytes += discarded
				r.logger.WithFields(logrus.Fields{
					"packet": p.ID,
					"bytes":  discarded,
				}).Warn("Dropping incomplete frame bytes from packet")
			}
			for _, raw := range frames {
				res := decoder.Decode(raw)
				if res.Record == nil {
					continue
				}
				recs = append(recs, *res.Record)
				if r.opts.DryRun {
					continue
				}
				if err := r.store.InsertHeartRateReading(ctx, Reading(*res.Record)); err != nil {
					result.Stats = decoder.Stats()
					return result, fmt.Errorf("store reading from packet %d: %w", p.ID, err)
				}
			}
		}

		result.LastID = packets[len(packets)-1].ID
		r.logger.WithFields(logrus.Fields{
			"last_id": result.LastID,
			"packets": len(packets),
		}).Debug("Replayed packet page")
		if progress != nil {
			progress(result.LastID, len(packets))
		}
	}

	window := r.opts.Window
	if window <= 0 {
		window = metrics.DefaultWindow
	}
	result.Records = WithHRV(recs, window)
	result.Stats = decoder.Stats()
	return result, nil
}
