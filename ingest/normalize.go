package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang/geo/s2"

	"github.com/Raas21/delay-prediction-api/models"
)

var (
	ErrMalformed        = errors.New("malformed message")
	ErrMissingVehicleID = errors.New("missing vehicle id")
	ErrBadTimestamp     = errors.New("unparseable timestamp")
	ErrBadPosition      = errors.New("invalid coordinates")
)

// Field aliases, tried in order. Dotted paths walk nested objects. The sets
// cover snake_case producers, camelCase producers (vehicleId, routeId) and
// GTFS-Realtime JSON, both as a bare VehiclePosition and wrapped in a
// FeedEntity.
var (
	vehicleIDPaths = []string{"vehicle_id", "vehicleId", "vehicleID", "vehicle.vehicle.id", "vehicle.id"}
	routeIDPaths   = []string{"route_id", "routeId", "trip.routeId", "trip.route_id", "vehicle.trip.routeId"}
	stopIDPaths    = []string{"stop_id", "stopId", "vehicle.stopId"}
	tripIDPaths    = []string{"trip_id", "tripId", "trip.tripId", "trip.trip_id", "vehicle.trip.tripId"}
	latitudePaths  = []string{"latitude", "lat", "position.latitude", "vehicle.position.latitude"}
	longitudePaths = []string{"longitude", "lon", "lng", "position.longitude", "vehicle.position.longitude"}
	timestampPaths = []string{"timestamp", "ts", "vehicle.timestamp"}
	directionPaths = []string{"direction_id", "directionId", "trip.directionId", "vehicle.trip.directionId"}
	sequencePaths  = []string{"stop_sequence", "stopSequence", "current_stop_sequence", "currentStopSequence", "vehicle.currentStopSequence"}
)

// Normalizer turns upstream messages into PositionEvents.
type Normalizer struct {
	// Zone interprets timestamps that carry no offset, such as
	// [year, month, day, hour, minute, second] arrays.
	Zone *time.Location
	// Now stamps messages that carry no timestamp at all.
	Now func() time.Time
}

func NewNormalizer(zone *time.Location) *Normalizer {
	if zone == nil {
		zone = time.UTC
	}
	return &Normalizer{Zone: zone, Now: time.Now}
}

// Normalize decodes one message. Only a missing vehicle id, undecodable
// JSON, an unreadable timestamp or impossible coordinates are errors; every
// other field is optional.
func (n *Normalizer) Normalize(raw []byte) (models.PositionEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return models.PositionEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	ev := models.PositionEvent{
		VehicleID: lookupString(doc, vehicleIDPaths),
		RouteID:   lookupString(doc, routeIDPaths),
		StopID:    lookupString(doc, stopIDPaths),
		TripID:    lookupString(doc, tripIDPaths),
	}
	if ev.VehicleID == "" {
		return models.PositionEvent{}, ErrMissingVehicleID
	}

	lat, latOK, err := lookupFloat(doc, latitudePaths)
	if err != nil {
		return models.PositionEvent{}, fmt.Errorf("%w: latitude: %v", ErrBadPosition, err)
	}
	lon, lonOK, err := lookupFloat(doc, longitudePaths)
	if err != nil {
		return models.PositionEvent{}, fmt.Errorf("%w: longitude: %v", ErrBadPosition, err)
	}
	if latOK && lonOK {
		if !s2.LatLngFromDegrees(lat, lon).IsValid() {
			return models.PositionEvent{}, fmt.Errorf("%w: (%v, %v)", ErrBadPosition, lat, lon)
		}
		ev.Latitude, ev.Longitude = models.Float(lat), models.Float(lon)
	}

	if v, ok := lookup(doc, directionPaths); ok {
		if d, err := toInt(v); err == nil {
			ev.DirectionID = &d
		}
	}
	if v, ok := lookup(doc, sequencePaths); ok {
		if seq, err := toInt(v); err == nil && seq >= 0 {
			ev.StopSequence = &seq
		}
	}

	ts, ok := lookup(doc, timestampPaths)
	if !ok || ts == nil {
		ev.Timestamp = n.Now().UTC()
		return ev, nil
	}
	if ev.Timestamp, err = n.parseTimestamp(ts); err != nil {
		return models.PositionEvent{}, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
	}
	if ev.Timestamp.Before(minEpoch) || !ev.Timestamp.Before(maxEpoch) {
		return models.PositionEvent{}, fmt.Errorf("%w: %s out of range", ErrBadTimestamp, ev.Timestamp.Format(time.RFC3339))
	}
	return ev, nil
}

// parseTimestamp accepts RFC3339 strings, epoch seconds or milliseconds
// (number or numeric string), {"epochSecond", "nano"} and
// {"seconds", "nanos"} objects, and local date-time arrays.
func (n *Normalizer) parseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC(), nil
		}
		if parsed, err := time.ParseInLocation("2006-01-02T15:04:05", t, n.Zone); err == nil {
			return parsed.UTC(), nil
		}
		epoch, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("string %q", t)
		}
		return fromEpoch(float64(epoch))
	case json.Number:
		if epoch, err := t.Int64(); err == nil {
			return fromEpoch(float64(epoch))
		}
		f, err := t.Float64()
		if err != nil {
			return time.Time{}, err
		}
		return fromEpoch(f)
	case map[string]interface{}:
		secKey, nanoKey := "epochSecond", "nano"
		if _, ok := t[secKey]; !ok {
			secKey, nanoKey = "seconds", "nanos"
		}
		sec, err := toInt64(t[secKey])
		if err != nil {
			return time.Time{}, fmt.Errorf("object without %s", secKey)
		}
		var nano int64
		if raw, ok := t[nanoKey]; ok {
			if nano, err = toInt64(raw); err != nil {
				return time.Time{}, fmt.Errorf("%s: %v", nanoKey, err)
			}
		}
		return time.Unix(sec, nano).UTC(), nil
	case []interface{}:
		if len(t) < 5 || len(t) > 7 {
			return time.Time{}, fmt.Errorf("date-time array of length %d", len(t))
		}
		parts := make([]int, 7)
		for i, p := range t {
			part, err := toInt(p)
			if err != nil {
				return time.Time{}, fmt.Errorf("date-time array element %d: %v", i, err)
			}
			parts[i] = part
		}
		return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], parts[6], n.Zone).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unsupported type %T", v)
}

// Epoch values must fall between 1970 and 2100 once read in their unit.
var (
	minEpoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxEpoch = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// fromEpoch treats magnitudes above 1e12 as milliseconds. Fractions are
// kept to the microsecond.
func fromEpoch(v float64) (time.Time, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, fmt.Errorf("epoch %v is not finite", v)
	}
	sec := v
	if math.Abs(v) > 1e12 {
		sec = v / 1e3
	}
	if sec < float64(minEpoch.Unix()) || sec >= float64(maxEpoch.Unix()) {
		return time.Time{}, fmt.Errorf("epoch %v outside %d-%d", v, minEpoch.Year(), maxEpoch.Year())
	}
	whole := math.Floor(sec)
	micros := math.Round((sec - whole) * 1e6)
	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC(), nil
}

func lookup(doc map[string]interface{}, paths []string) (interface{}, bool) {
	for _, path := range paths {
		var cur interface{} = doc
		found := true
		for _, part := range strings.Split(path, ".") {
			m, ok := cur.(map[string]interface{})
			if !ok {
				found = false
				break
			}
			if cur, ok = m[part]; !ok {
				found = false
				break
			}
		}
		if found && cur != nil {
			return cur, true
		}
	}
	return nil, false
}

func lookupString(doc map[string]interface{}, paths []string) string {
	v, ok := lookup(doc, paths)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	}
	return ""
}

func lookupFloat(doc map[string]interface{}, paths []string) (float64, bool, error) {
	v, ok := lookup(doc, paths)
	if !ok {
		return 0, false, nil
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil, err
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil, err
	}
	return 0, false, fmt.Errorf("unsupported type %T", v)
}

func toInt64(v interface{}) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(t, 10, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func toInt(v interface{}) (int, error) {
	n, err := toInt64(v)
	return int(n), err
}

// dropReason labels a normalization failure for metrics.
func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingVehicleID):
		return "missing_vehicle_id"
	case errors.Is(err, ErrBadTimestamp):
		return "bad_timestamp"
	case errors.Is(err, ErrBadPosition):
		return "bad_position"
	default:
		return "malformed"
	}
}
