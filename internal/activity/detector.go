package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/openstrap/internal/store"
)

// Detector runs a Classifier over unlabelled readings and writes labels back.
type Detector struct {
	store      store.Store
	classifier Classifier
	logger     *logrus.Logger
}

// NewDetector uses the threshold classifier when classifier is nil.
func NewDetector(st store.Store, classifier Classifier, logger *logrus.Logger) *Detector {
	if classifier == nil {
		classifier = NewThresholdClassifier()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Detector{store: st, classifier: classifier, logger: logger}
}

// Run labels readings newer than since that have no activity yet and
// returns the resulting segments. Labelled readings are never revisited.
func (d *Detector) Run(ctx context.Context, since time.Time) ([]Segment, error) {
	readings, err := d.store.SearchReadings(ctx, store.SearchOptions{From: since, ActivityAbsent: true})
	if err != nil {
		return nil, fmt.Errorf("load readings: %w", err)
	}
	if len(readings) == 0 {
		d.logger.WithField("since", since).Info("No unclassified readings")
		return nil, nil
	}

	labels, err := d.classifier.Classify(readings)
	if err != nil {
		return nil, fmt.Errorf("classify %d readings: %w", len(readings), err)
	}
	if len(labels) != len(readings) {
		return nil, fmt.Errorf("classifier returned %d labels for %d readings", len(labels), len(readings))
	}

	for i, r := range readings {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.store.UpdateActivity(ctx, r.ID, labels[i]); err != nil {
			return nil, fmt.Errorf("label reading %d: %w", r.ID, err)
		}
	}

	segments := Segments(readings, labels)
	d.logger.WithFields(logrus.Fields{
		"readings": len(readings),
		"segments": len(segments),
		"from":     readings[0].Time,
		"to":       readings[len(readings)-1].Time,
	}).Info("Activity detection complete")
	return segments, nil
}
