package schedule

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const stopTimesFile = "stop_times.txt"

// Static is a timetable held in memory. It is read-only after loading.
type Static struct {
	arrivals map[Key]time.Duration
}

// LoadFile reads stop_times.txt from a GTFS feed, given either as an
// unpacked directory or as a .zip archive.
func LoadFile(path string) (*Static, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: %w", err)
	}
	if info.IsDir() {
		f, err := os.Open(filepath.Join(path, stopTimesFile))
		if err != nil {
			return nil, fmt.Errorf("schedule: %w", err)
		}
		defer f.Close()
		st, err := Parse(f)
		return logLoaded(path, st, err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("schedule: open %s: %w", path, err)
	}
	defer zr.Close()
	for _, zf := range zr.File {
		if filepath.Base(zf.Name) != stopTimesFile {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("schedule: %w", err)
		}
		defer rc.Close()
		st, err := Parse(rc)
		return logLoaded(path, st, err)
	}
	return nil, fmt.Errorf("schedule: %s has no %s", path, stopTimesFile)
}

func logLoaded(path string, s *Static, err error) (*Static, error) {
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"path": path, "calls": len(s.arrivals)}).Info("static timetable loaded")
	return s, nil
}

// Parse reads a stop_times.txt stream. Rows without an arrival_time
// (untimed stops) are skipped.
func Parse(r io.Reader) (*Static, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("schedule: read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")] = i
	}
	for _, name := range []string{"trip_id", "arrival_time", "stop_id", "stop_sequence"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("schedule: %s missing column %s", stopTimesFile, name)
		}
	}

	s := &Static{arrivals: make(map[Key]time.Duration)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		if err != nil {
			return nil, fmt.Errorf("schedule: line %d: %w", line, err)
		}
		raw := strings.TrimSpace(rec[col["arrival_time"]])
		if raw == "" {
			continue
		}
		arrival, err := ParseTime(raw)
		if err != nil {
			return nil, fmt.Errorf("schedule: line %d: %w", line, err)
		}
		seq, err := strconv.Atoi(strings.TrimSpace(rec[col["stop_sequence"]]))
		if err != nil {
			return nil, fmt.Errorf("schedule: line %d: stop_sequence: %w", line, err)
		}
		key := Key{
			TripID:   strings.TrimSpace(rec[col["trip_id"]]),
			StopID:   strings.TrimSpace(rec[col["stop_id"]]),
			Sequence: seq,
		}
		s.arrivals[key] = arrival
	}
}

func (s *Static) Arrival(_ context.Context, key Key) (time.Duration, bool, error) {
	arrival, ok := s.arrivals[key]
	return arrival, ok, nil
}

func (s *Static) Len() int { return len(s.arrivals) }
