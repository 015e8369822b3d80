package features

import (
	"errors"
	"fmt"
	"time"

	"github.com/Raas21/delay-prediction-api/models"
)

const (
	RouteFeature = "route_id"
	StopFeature  = "stop_id"
)

// Column order of every feature vector. Training and inference both build
// rows through Registry.Vector, so this order is the only one in use.
var Columns = []string{"route_code", "stop_code", "hour", "day_of_week", "latitude", "longitude"}

var ErrMissingPosition = errors.New("event has no latitude/longitude")

// Registry holds one frozen encoder per categorical feature.
type Registry map[string]*CategoryEncoder

// FitRegistry fits a fresh encoder for every categorical feature over the
// given events. Codes from an earlier registry are never reused.
func FitRegistry(events []models.PositionEvent) Registry {
	routes := make([]string, 0, len(events))
	stops := make([]string, 0, len(events))
	for _, ev := range events {
		routes = append(routes, ev.RouteID)
		stops = append(stops, ev.StopID)
	}
	return Registry{
		RouteFeature: Fit(RouteFeature, routes),
		StopFeature:  Fit(StopFeature, stops),
	}
}

// Validate checks that every categorical feature has an encoder.
func (r Registry) Validate() error {
	for _, name := range []string{RouteFeature, StopFeature} {
		if r[name] == nil {
			return fmt.Errorf("encoder for %s not found", name)
		}
	}
	return nil
}

// Derive returns hour-of-day and day-of-week (Monday = 0) of ts in loc.
func Derive(ts time.Time, loc *time.Location) (hour, dayOfWeek int) {
	if loc != nil {
		ts = ts.In(loc)
	}
	return ts.Hour(), (int(ts.Weekday()) + 6) % 7
}

// Row is a feature vector together with the categorical values it encodes.
type Row struct {
	RouteID string
	StopID  string
	Values  []float64
}

// Used reports the features exactly as they appear in Values.
func (r Row) Used() models.FeaturesUsed {
	return models.FeaturesUsed{
		RouteID:   r.RouteID,
		StopID:    r.StopID,
		RouteCode: int(r.Values[0]),
		StopCode:  int(r.Values[1]),
		Hour:      int(r.Values[2]),
		DayOfWeek: int(r.Values[3]),
		Latitude:  r.Values[4],
		Longitude: r.Values[5],
	}
}

// Vector encodes ev into a row ordered as Columns. Unknown categories become
// Sentinel; only a missing position is an error.
func (r Registry) Vector(ev models.PositionEvent, loc *time.Location) (Row, error) {
	if err := r.Validate(); err != nil {
		return Row{}, err
	}
	if !ev.HasPosition() {
		return Row{}, ErrMissingPosition
	}
	hour, dow := Derive(ev.Timestamp, loc)
	return Row{
		RouteID: ev.RouteID,
		StopID:  ev.StopID,
		Values: []float64{
			float64(r[RouteFeature].Encode(ev.RouteID)),
			float64(r[StopFeature].Encode(ev.StopID)),
			float64(hour),
			float64(dow),
			*ev.Latitude,
			*ev.Longitude,
		},
	}, nil
}
