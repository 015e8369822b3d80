// Package schedule labels observed positions with their delay against the
// static timetable.
package schedule

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/models"
)

// Key identifies one scheduled call of a trip at a stop.
type Key struct {
	TripID   string
	StopID   string
	Sequence int
}

// Lookup resolves the scheduled arrival of a call as an offset from the
// start of its service day. ok is false when the call is not scheduled.
type Lookup interface {
	Arrival(ctx context.Context, key Key) (arrival time.Duration, ok bool, err error)
}

// ParseTime reads a GTFS "H:MM:SS" time. Hours may exceed 23 for trips
// running past midnight.
func ParseTime(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("schedule: time %q is not H:MM:SS", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("schedule: time %q is not H:MM:SS", s)
		}
		v[i] = n
	}
	if v[1] > 59 || v[2] > 59 {
		return 0, fmt.Errorf("schedule: time %q out of range", s)
	}
	return time.Duration(v[0])*time.Hour + time.Duration(v[1])*time.Minute + time.Duration(v[2])*time.Second, nil
}

// serviceDayStart is noon minus twelve hours on the local date of day, the
// GTFS reference point that stays correct across DST changes.
func serviceDayStart(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, 12, 0, 0, 0, loc).Add(-12 * time.Hour)
}

// Delay is observed minus the scheduled instant of arrival. The service day
// is whichever of yesterday, today and tomorrow puts the scheduled instant
// nearest to observed, so calls after midnight resolve against the trip's
// own day.
func Delay(observed time.Time, arrival time.Duration, loc *time.Location) time.Duration {
	best := time.Duration(math.MaxInt64)
	for _, offset := range []int{-1, 0, 1} {
		scheduled := serviceDayStart(observed.In(loc).AddDate(0, 0, offset), loc).Add(arrival)
		d := observed.Sub(scheduled)
		if abs(d) < abs(best) {
			best = d
		}
	}
	return best
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Labeler computes delay labels for live positions.
type Labeler struct {
	lookup Lookup
	zone   *time.Location
}

func NewLabeler(lookup Lookup, zone *time.Location) *Labeler {
	if zone == nil {
		zone = time.UTC
	}
	return &Labeler{lookup: lookup, zone: zone}
}

// Label returns the delay of ev in seconds, or nil when ev lacks a trip,
// stop or stop sequence, or the call is not in the timetable.
func (l *Labeler) Label(ctx context.Context, ev models.PositionEvent) (*float64, error) {
	if ev.TripID == "" || ev.StopID == "" || ev.StopSequence == nil {
		return nil, nil
	}
	key := Key{TripID: ev.TripID, StopID: ev.StopID, Sequence: *ev.StopSequence}
	arrival, ok, err := l.lookup.Arrival(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("schedule lookup %+v: %w", key, err)
	}
	if !ok {
		logrus.WithFields(logrus.Fields{
			"trip_id":       key.TripID,
			"stop_id":       key.StopID,
			"stop_sequence": key.Sequence,
		}).Debug("no scheduled arrival")
		return nil, nil
	}
	return models.Float(Delay(ev.Timestamp, arrival, l.zone).Seconds()), nil
}
