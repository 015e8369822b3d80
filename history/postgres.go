// Package history reads labeled vehicle positions from Postgres, archives
// live ones, and resolves scheduled arrivals from the imported timetable.
package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/schedule"
)

const selectRecords = `
	SELECT vehicle_id, route_id, stop_id, latitude, longitude, timestamp, delay::double precision
	FROM vehicle_position
	WHERE route_id LIKE $1 || '%'
`

const insertPosition = `
	INSERT INTO vehicle_position (vehicle_id, trip_id, route_id, stop_id, latitude, longitude, timestamp, delay)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// stop_time holds the static timetable, one row per scheduled call, with
// arrival_time as a time of day.
const selectArrival = `
	SELECT EXTRACT(EPOCH FROM arrival_time)::bigint
	FROM stop_time
	WHERE trip_id = $1 AND stop_id = $2 AND stop_sequence = $3
	LIMIT 1
`

// querier is satisfied by *pgxpool.Pool.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db   querier
	pool *pgxpool.Pool
	// zone gives meaning to the wall clock of "timestamp without time
	// zone" values, which the ingest side writes in agency local time.
	zone *time.Location
}

// NewPostgresStore opens a pool and pings it once.
func NewPostgresStore(ctx context.Context, dsn string, zone *time.Location) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db pool init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	logrus.Info("history store connected")
	return newStore(pool, zone), nil
}

func newStore(db querier, zone *time.Location) *PostgresStore {
	if zone == nil {
		zone = time.UTC
	}
	s := &PostgresStore{db: db, zone: zone}
	if pool, ok := db.(*pgxpool.Pool); ok {
		s.pool = pool
	}
	return s
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Fetch returns every record whose route starts with routePrefix. Nullable
// columns come back as nil fields; filtering is up to the caller.
func (s *PostgresStore) Fetch(ctx context.Context, routePrefix string) ([]models.HistoricalRecord, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx, selectRecords, routePrefix)
	if err != nil {
		return nil, fmt.Errorf("query vehicle_position: %w", err)
	}
	defer rows.Close()

	var out []models.HistoricalRecord
	for rows.Next() {
		rec, err := scanRecord(rows, s.zone)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle_position: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vehicle_position: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"route_prefix": routePrefix,
		"records":      len(out),
		"elapsed":      time.Since(start).String(),
	}).Debug("fetched historical positions")
	return out, nil
}

// Record archives one live position. delay is in seconds and may be nil
// when the position could not be matched to the timetable; it is stored
// rounded to whole seconds.
func (s *PostgresStore) Record(ctx context.Context, ev models.PositionEvent, delay *float64) error {
	var seconds *int64
	if delay != nil && !math.IsNaN(*delay) && !math.IsInf(*delay, 0) {
		v := int64(math.Round(*delay))
		seconds = &v
	}
	_, err := s.db.Exec(ctx, insertPosition,
		ev.VehicleID, nullable(ev.TripID), nullable(ev.RouteID), nullable(ev.StopID),
		ev.Latitude, ev.Longitude, wallClock(ev.Timestamp.In(s.zone)), seconds)
	if err != nil {
		return fmt.Errorf("insert vehicle_position: %w", err)
	}
	return nil
}

// Arrival looks up the scheduled arrival of one call in stop_time.
func (s *PostgresStore) Arrival(ctx context.Context, key schedule.Key) (time.Duration, bool, error) {
	var secs int64
	err := s.db.QueryRow(ctx, selectArrival, key.TripID, key.StopID, key.Sequence).Scan(&secs)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("query stop_time: %w", err)
	}
	return time.Duration(secs) * time.Second, true, nil
}

func scanRecord(row pgx.Row, zone *time.Location) (models.HistoricalRecord, error) {
	var (
		vehicleID, routeID, stopID *string
		ts                         *time.Time
		rec                        models.HistoricalRecord
	)
	if err := row.Scan(&vehicleID, &routeID, &stopID, &rec.Latitude, &rec.Longitude, &ts, &rec.Delay); err != nil {
		return models.HistoricalRecord{}, err
	}
	rec.VehicleID = deref(vehicleID)
	rec.RouteID = deref(routeID)
	rec.StopID = deref(stopID)
	if ts != nil {
		rec.Timestamp = time.Date(ts.Year(), ts.Month(), ts.Day(),
			ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), zone).UTC()
	}
	return rec, nil
}

// wallClock drops the zone of t while keeping its local reading.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
