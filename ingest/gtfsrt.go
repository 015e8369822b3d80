package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const maxFeedBytes = 32 << 20

// GTFSRTSource polls a GTFS-Realtime vehicle positions feed and hands each
// vehicle entity on as protojson.
type GTFSRTSource struct {
	FeedURL  string
	APIKey   string
	Interval time.Duration
	Client   *http.Client
}

func (s *GTFSRTSource) Name() string { return "gtfsrt" }

func (s *GTFSRTSource) Consume(ctx context.Context, handle func([]byte)) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		feed, err := s.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		n := 0
		for _, entity := range feed.GetEntity() {
			if entity.GetVehicle() == nil {
				continue
			}
			raw, err := protojson.Marshal(entity)
			if err != nil {
				logrus.WithError(err).WithField("entity", entity.GetId()).Warn("skipping unencodable entity")
				continue
			}
			handle(raw)
			n++
		}
		logrus.WithField("vehicles", n).Debug("gtfs-rt feed polled")

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *GTFSRTSource) fetch(ctx context.Context) (*gtfsrtpb.FeedMessage, error) {
	u, err := url.Parse(s.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	if s.APIKey != "" {
		q := u.Query()
		q.Set("key", s.APIKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}
	var feed gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return &feed, nil
}
