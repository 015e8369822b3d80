// Package ingest keeps the vehicle state cache fed from an upstream
// position stream.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/vehiclestate"
)

const (
	baseBackoff   = 1 * time.Second
	maxBackoff    = 60 * time.Second
	backoffFactor = 2.0

	upsertTimeout = 5 * time.Second

	// LiveChannel carries every accepted event for live subscribers.
	LiveChannel = "transit:live"
)

var (
	msgsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_ingest_messages_received_total",
		Help: "Total number of upstream position messages received.",
	})
	msgsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_ingest_messages_stored_total",
		Help: "Total number of position events written to the vehicle cache.",
	})
	msgsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transit_ingest_messages_dropped_total",
		Help: "Total number of upstream messages dropped, by reason.",
	}, []string{"reason"})
	msgsFiltered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_ingest_messages_filtered_total",
		Help: "Total number of events skipped by the route prefix filter.",
	})
	msgsLabeled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_ingest_positions_labeled_total",
		Help: "Total number of archived positions labeled with a schedule delay.",
	})
	reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transit_ingest_reconnects_total",
		Help: "Total number of upstream reconnect attempts.",
	})
)

// Source is an upstream feed of serialized position messages.
type Source interface {
	// Consume hands every message to handle until ctx is done or the
	// connection is lost. It returns nil only when ctx is done.
	Consume(ctx context.Context, handle func(raw []byte)) error
	Name() string
}

// Publisher fans accepted events out to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Archiver keeps accepted events for later training. delay is in seconds,
// nil when unknown.
type Archiver interface {
	Record(ctx context.Context, ev models.PositionEvent, delay *float64) error
}

// Labeler derives the delay of an event from the timetable. It returns nil
// when the event cannot be matched.
type Labeler interface {
	Label(ctx context.Context, ev models.PositionEvent) (*float64, error)
}

// Stats counts what one ingestor did.
type Stats struct {
	Received   atomic.Int64
	Stored     atomic.Int64
	Dropped    atomic.Int64
	Filtered   atomic.Int64
	Labeled    atomic.Int64
	Reconnects atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Received   int64 `json:"received"`
	Stored     int64 `json:"stored"`
	Dropped    int64 `json:"dropped"`
	Filtered   int64 `json:"filtered"`
	Labeled    int64 `json:"labeled"`
	Reconnects int64 `json:"reconnects"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Received:   s.Received.Load(),
		Stored:     s.Stored.Load(),
		Dropped:    s.Dropped.Load(),
		Filtered:   s.Filtered.Load(),
		Labeled:    s.Labeled.Load(),
		Reconnects: s.Reconnects.Load(),
	}
}

type Option func(*Ingestor)

// WithRoutePrefix keeps only events whose route starts with prefix.
func WithRoutePrefix(prefix string) Option {
	return func(in *Ingestor) { in.routePrefix = prefix }
}

func WithPublisher(p Publisher) Option {
	return func(in *Ingestor) { in.publisher = p }
}

func WithArchiver(a Archiver) Option {
	return func(in *Ingestor) { in.archiver = a }
}

// WithLabeler labels archived events with their schedule delay. It has no
// effect without an archiver.
func WithLabeler(l Labeler) Option {
	return func(in *Ingestor) { in.labeler = l }
}

func WithBackoff(base, max time.Duration) Option {
	return func(in *Ingestor) { in.baseBackoff, in.maxBackoff = base, max }
}

// Ingestor normalizes upstream messages and upserts them into the cache.
type Ingestor struct {
	source      Source
	cache       vehiclestate.Cache
	normalizer  *Normalizer
	publisher   Publisher
	archiver    Archiver
	labeler     Labeler
	routePrefix string
	baseBackoff time.Duration
	maxBackoff  time.Duration
	stats       Stats
	log         *logrus.Entry

	// handleMu is held for reading by every in-flight message and for
	// writing while shutting down.
	handleMu sync.RWMutex
	stopped  bool

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(source Source, cache vehiclestate.Cache, normalizer *Normalizer, opts ...Option) *Ingestor {
	in := &Ingestor{
		source:      source,
		cache:       cache,
		normalizer:  normalizer,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		log:         logrus.WithField("source", source.Name()),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

func (in *Ingestor) Stats() StatsSnapshot {
	return in.stats.Snapshot()
}

// Start runs the ingestor in the background. Non-blocking.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.running {
		return errors.New("ingestor already running")
	}
	in.running = true
	ctx, in.cancel = context.WithCancel(ctx)
	in.done = make(chan struct{})
	go func() {
		defer close(in.done)
		if err := in.Run(ctx); err != nil {
			in.log.WithError(err).Error("ingestor stopped")
		}
	}()
	return nil
}

// Stop cancels a started ingestor and waits for it to return.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	cancel, done := in.cancel, in.done
	in.running = false
	in.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run consumes the source until ctx is cancelled, reconnecting with
// exponential backoff whenever the source drops. The in-flight message, if
// any, is finished before Run returns.
func (in *Ingestor) Run(ctx context.Context) error {
	in.handleMu.Lock()
	in.stopped = false
	in.handleMu.Unlock()
	defer func() {
		in.handleMu.Lock()
		in.stopped = true
		in.handleMu.Unlock()
	}()

	backoff := in.baseBackoff
	in.log.Info("ingestor running")
	for {
		before := in.stats.Received.Load()
		err := in.source.Consume(ctx, in.handle)
		if ctx.Err() != nil {
			in.log.Info("ingestor shutting down")
			return nil
		}
		if in.stats.Received.Load() > before {
			backoff = in.baseBackoff
		}
		if err == nil {
			err = errors.New("source closed")
		}
		in.log.WithError(err).Warnf("upstream disconnected, reconnecting in %s", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			in.log.Info("ingestor shutting down")
			return nil
		}
		in.stats.Reconnects.Add(1)
		reconnects.Inc()
		backoff = time.Duration(float64(backoff) * backoffFactor)
		if backoff > in.maxBackoff {
			backoff = in.maxBackoff
		}
	}
}

func (in *Ingestor) handle(raw []byte) {
	in.handleMu.RLock()
	defer in.handleMu.RUnlock()
	if in.stopped {
		return
	}
	if err := in.Process(raw); err != nil {
		in.log.WithError(err).Debug("message dropped")
	}
}

// Process normalizes and stores a single message. A returned error means
// the message was dropped; it never stops ingestion.
func (in *Ingestor) Process(raw []byte) error {
	in.stats.Received.Add(1)
	msgsReceived.Inc()

	ev, err := in.normalizer.Normalize(raw)
	if err != nil {
		in.drop(dropReason(err))
		return err
	}
	if in.routePrefix != "" && !strings.HasPrefix(ev.RouteID, in.routePrefix) {
		in.stats.Filtered.Add(1)
		msgsFiltered.Inc()
		return nil
	}

	// The write finishes even if shutdown starts meanwhile.
	ctx, cancel := context.WithTimeout(context.Background(), upsertTimeout)
	defer cancel()
	if err := in.cache.Upsert(ctx, ev.VehicleID, ev); err != nil {
		in.drop("cache_error")
		return fmt.Errorf("upsert vehicle %s: %w", ev.VehicleID, err)
	}
	in.stats.Stored.Add(1)
	msgsStored.Inc()

	if in.archiver != nil {
		in.archive(ctx, ev)
	}
	if in.publisher != nil {
		if err := in.publisher.Publish(ctx, LiveChannel, ev); err != nil {
			in.log.WithError(err).WithField("vehicle_id", ev.VehicleID).Debug("live publish failed")
		}
	}
	return nil
}

func (in *Ingestor) archive(ctx context.Context, ev models.PositionEvent) {
	log := in.log.WithField("vehicle_id", ev.VehicleID)
	var delay *float64
	if in.labeler != nil {
		d, err := in.labeler.Label(ctx, ev)
		if err != nil {
			log.WithError(err).Warn("delay label failed, archiving unlabeled")
		} else if d != nil {
			delay = d
			in.stats.Labeled.Add(1)
			msgsLabeled.Inc()
		}
	}
	if err := in.archiver.Record(ctx, ev, delay); err != nil {
		log.WithError(err).Warn("archive failed")
	}
}

func (in *Ingestor) drop(reason string) {
	in.stats.Dropped.Add(1)
	msgsDropped.WithLabelValues(reason).Inc()
}
