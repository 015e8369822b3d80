package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/geo/s2"

	"github.com/Raas21/delay-prediction-api/artifact"
	"github.com/Raas21/delay-prediction-api/features"
	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/vehiclestate"
)

type PredictorConfig struct {
	Location *time.Location
	// StaleAfter rejects cached states older than this. Zero disables.
	StaleAfter time.Duration
}

type Predictor struct {
	holder *artifact.Holder
	cache  vehiclestate.Cache
	cfg    PredictorConfig
	now    func() time.Time
}

func NewPredictor(holder *artifact.Holder, cache vehiclestate.Cache, cfg PredictorConfig) *Predictor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Predictor{holder: holder, cache: cache, cfg: cfg, now: time.Now}
}

// Predict estimates the current delay of vehicleID, which must be serving
// routeID. Encoders and model come from a single artifact snapshot.
func (p *Predictor) Predict(ctx context.Context, routeID, vehicleID string) (models.PredictionResult, error) {
	start := time.Now()
	res, err := p.predict(ctx, routeID, vehicleID)
	predictionsTotal.WithLabelValues(Code(err)).Inc()
	predictionDuration.Observe(time.Since(start).Seconds())
	return res, err
}

func (p *Predictor) predict(ctx context.Context, routeID, vehicleID string) (models.PredictionResult, error) {
	current := p.holder.Load()
	if current == nil {
		return models.PredictionResult{}, ErrModelNotTrained
	}

	state, ok, err := p.cache.Get(ctx, vehicleID)
	if err != nil {
		return models.PredictionResult{}, &PredictionError{Cause: fmt.Errorf("read vehicle state: %w", err)}
	}
	if !ok {
		return models.PredictionResult{}, ErrVehicleNotFound
	}
	if p.cfg.StaleAfter > 0 && p.now().Sub(state.CachedAt) > p.cfg.StaleAfter {
		return models.PredictionResult{}, ErrStaleData
	}

	ev := state.Event
	if ev.RouteID != routeID {
		return models.PredictionResult{}, ErrRouteMismatch
	}
	if !ev.HasPosition() {
		return models.PredictionResult{}, &PredictionError{Cause: features.ErrMissingPosition}
	}
	if !s2.LatLngFromDegrees(*ev.Latitude, *ev.Longitude).IsValid() {
		return models.PredictionResult{}, &PredictionError{Cause: ErrInvalidPosition}
	}

	row, err := current.Encoders.Vector(ev, p.cfg.Location)
	if err != nil {
		return models.PredictionResult{}, &PredictionError{Cause: err}
	}
	seconds, err := current.Model.Predict(row.Values)
	if err != nil {
		return models.PredictionResult{}, &PredictionError{Cause: err}
	}

	return models.PredictionResult{
		RouteID:               ev.RouteID,
		VehicleID:             vehicleID,
		Timestamp:             ev.Timestamp,
		PredictedDelay:        seconds,
		PredictedDelayMinutes: seconds / 60,
		FeaturesUsed:          row.Used(),
		ModelVersion:          current.SchemaVersion,
	}, nil
}
