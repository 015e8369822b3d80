package models

import "time"

// PositionEvent is one normalized observation of a vehicle. Values are
// copied, never mutated after normalization.
type PositionEvent struct {
	VehicleID    string    `json:"vehicle_id"`
	RouteID      string    `json:"route_id"`
	StopID       string    `json:"stop_id"`
	TripID       string    `json:"trip_id,omitempty"`
	StopSequence *int      `json:"stop_sequence,omitempty"`
	Latitude     *float64  `json:"latitude"`
	Longitude    *float64  `json:"longitude"`
	Timestamp    time.Time `json:"timestamp"`
	DirectionID  *int      `json:"direction_id,omitempty"`
}

// HasPosition reports whether both coordinates are present.
func (e PositionEvent) HasPosition() bool {
	return e.Latitude != nil && e.Longitude != nil
}

type CachedVehicleState struct {
	Event    PositionEvent `json:"event"`
	CachedAt time.Time     `json:"cached_at"`
}

// HistoricalRecord is a past position labeled with the observed delay in seconds.
type HistoricalRecord struct {
	PositionEvent
	Delay *float64 `json:"delay"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
