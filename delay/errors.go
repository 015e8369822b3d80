// Package delay trains the delay model and answers predictions against the
// live vehicle cache.
package delay

import (
	"errors"
)

var (
	ErrModelNotTrained    = errors.New("model not trained")
	ErrVehicleNotFound    = errors.New("vehicle not found")
	ErrRouteMismatch      = errors.New("vehicle is not on the requested route")
	ErrStaleData          = errors.New("vehicle position is stale")
	ErrTrainingDataEmpty  = errors.New("no usable training data")
	ErrUpstreamFetch      = errors.New("historical data fetch failed")
	ErrTrainingInProgress = errors.New("training already in progress")
	ErrInvalidPosition    = errors.New("cached position out of range")
)

// PredictionError is a fault while building or scoring one request.
type PredictionError struct {
	Cause error
}

func (e *PredictionError) Error() string {
	return "prediction failed: " + e.Cause.Error()
}

func (e *PredictionError) Unwrap() error { return e.Cause }

// Code returns a stable identifier for err, used in API responses and
// metric labels.
func Code(err error) string {
	var predErr *PredictionError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrModelNotTrained):
		return "model_not_trained"
	case errors.Is(err, ErrVehicleNotFound):
		return "vehicle_not_found"
	case errors.Is(err, ErrRouteMismatch):
		return "route_mismatch"
	case errors.Is(err, ErrStaleData):
		return "stale_data"
	case errors.Is(err, ErrTrainingDataEmpty):
		return "training_data_empty"
	case errors.Is(err, ErrUpstreamFetch):
		return "upstream_fetch_failed"
	case errors.Is(err, ErrTrainingInProgress):
		return "training_in_progress"
	case errors.As(err, &predErr):
		return "prediction_error"
	default:
		return "internal_error"
	}
}
