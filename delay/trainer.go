package delay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/artifact"
	"github.com/Raas21/delay-prediction-api/features"
	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/regression"
)

// HistoryStore returns labeled positions for routes starting with a prefix.
type HistoryStore interface {
	Fetch(ctx context.Context, routePrefix string) ([]models.HistoricalRecord, error)
}

type TrainerConfig struct {
	RoutePrefix string
	Location    *time.Location
	Lambda      float64
}

// Trainer fits and publishes model artifacts. At most one run is active.
type Trainer struct {
	history HistoryStore
	holder  *artifact.Holder
	store   artifact.Store
	cfg     TrainerConfig
	now     func() time.Time

	mu sync.Mutex
}

// NewTrainer wires a trainer. store may be nil, in which case artifacts are
// only published in memory.
func NewTrainer(history HistoryStore, holder *artifact.Holder, store artifact.Store, cfg TrainerConfig) *Trainer {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Lambda <= 0 {
		cfg.Lambda = regression.DefaultLambda
	}
	return &Trainer{history: history, holder: holder, store: store, cfg: cfg, now: time.Now}
}

// Train fetches history, fits a fresh registry and model, and publishes the
// result. On any error the current artifact is left as it was.
func (t *Trainer) Train(ctx context.Context) (*artifact.ModelArtifact, error) {
	if !t.mu.TryLock() {
		trainingRuns.WithLabelValues(Code(ErrTrainingInProgress)).Inc()
		return nil, ErrTrainingInProgress
	}
	defer t.mu.Unlock()

	start := time.Now()
	a, err := t.train(ctx)
	trainingRuns.WithLabelValues(Code(err)).Inc()
	if err != nil {
		return nil, err
	}
	trainingDuration.Observe(time.Since(start).Seconds())
	trainingSamples.Set(float64(a.SampleCount))

	if t.store != nil {
		if err := t.store.Save(ctx, a); err != nil {
			logrus.WithError(err).WithField("version", a.SchemaVersion).Warn("failed to persist model artifact")
		}
	}
	logrus.WithFields(logrus.Fields{
		"version": a.SchemaVersion,
		"samples": a.SampleCount,
		"elapsed": time.Since(start).String(),
	}).Info("model trained and published")
	return a, nil
}

func (t *Trainer) train(ctx context.Context) (*artifact.ModelArtifact, error) {
	records, err := t.history.Fetch(ctx, t.cfg.RoutePrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}

	events, labels := usable(records)
	if len(events) == 0 {
		logrus.WithField("fetched", len(records)).Warn("no usable training records")
		return nil, ErrTrainingDataEmpty
	}

	enc := features.FitRegistry(events)
	x := make([][]float64, 0, len(events))
	for _, ev := range events {
		row, err := enc.Vector(ev, t.cfg.Location)
		if err != nil {
			return nil, fmt.Errorf("build features for vehicle %s: %w", ev.VehicleID, err)
		}
		x = append(x, row.Values)
	}

	model, err := regression.FitRidge(x, labels, t.cfg.Lambda)
	if err != nil {
		return nil, fmt.Errorf("fit model: %w", err)
	}

	a := artifact.New(t.holder.Version()+1, t.now(), len(x), enc, model)
	t.holder.Publish(a)
	return a, nil
}

// usable keeps records that carry route, stop, position and a finite label.
func usable(records []models.HistoricalRecord) ([]models.PositionEvent, []float64) {
	events := make([]models.PositionEvent, 0, len(records))
	labels := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.RouteID == "" || rec.StopID == "" || rec.Delay == nil {
			continue
		}
		if math.IsNaN(*rec.Delay) || math.IsInf(*rec.Delay, 0) || !rec.HasPosition() {
			continue
		}
		events = append(events, rec.PositionEvent)
		labels = append(labels, *rec.Delay)
	}
	return events, labels
}

// RunPeriodic retrains every interval until ctx is done. A non-positive
// interval returns immediately.
func (t *Trainer) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	logrus.WithField("interval", interval.String()).Info("periodic retraining enabled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, err := t.Train(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrTrainingInProgress):
				logrus.Debug("skipping scheduled retrain, run already in progress")
			default:
				logrus.WithError(err).Warn("scheduled retrain failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
