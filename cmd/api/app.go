package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/artifact"
	"github.com/Raas21/delay-prediction-api/config"
	"github.com/Raas21/delay-prediction-api/delay"
	"github.com/Raas21/delay-prediction-api/history"
	"github.com/Raas21/delay-prediction-api/ingest"
	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/schedule"
	"github.com/Raas21/delay-prediction-api/services"
	"github.com/Raas21/delay-prediction-api/vehiclestate"
)

// app holds the long-lived components shared by the serve and train
// commands. redis, history and store are nil when not configured or not
// reachable.
type app struct {
	cfg       *config.Config
	loc       *time.Location
	redis     *services.CacheService
	history   *history.PostgresStore
	store     artifact.Store
	vehicles  vehiclestate.Cache
	holder    *artifact.Holder
	trainer   *delay.Trainer
	predictor *delay.Predictor
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Model.Location()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, loc: loc, holder: artifact.NewHolder()}

	if cfg.Ingest.CacheBackend == "redis" || cfg.Ingest.PublishLive {
		cache, err := services.NewCacheService(ctx, cfg.Redis)
		switch {
		case err == nil:
			a.redis = cache
		case cfg.Ingest.CacheBackend == "redis":
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		default:
			logrus.WithError(err).Warn("Redis unavailable, live publishing disabled")
		}
	}

	ttl := time.Duration(cfg.Ingest.CacheTTLSec) * time.Second
	if cfg.Ingest.CacheBackend == "redis" {
		a.vehicles = vehiclestate.NewRedisCache(a.redis, ttl)
	} else {
		a.vehicles = vehiclestate.NewMemoryCache(ttl)
	}

	if err := a.openArtifactStore(); err != nil {
		a.Close()
		return nil, err
	}
	a.restoreLatest(ctx)

	var hist delay.HistoryStore
	pg, err := history.NewPostgresStore(ctx, cfg.Database.GetDSN(), loc)
	if err != nil {
		logrus.WithError(err).Warn("historical store unavailable, training will fail until restart")
		hist = unavailableHistory{err: err}
	} else {
		a.history = pg
		hist = pg
	}

	a.trainer = delay.NewTrainer(hist, a.holder, a.store, delay.TrainerConfig{
		RoutePrefix: cfg.Ingest.RoutePrefix,
		Location:    loc,
		Lambda:      cfg.Model.Lambda,
	})
	a.predictor = delay.NewPredictor(a.holder, a.vehicles, delay.PredictorConfig{
		Location:   loc,
		StaleAfter: time.Duration(cfg.Model.StaleAfterSec) * time.Second,
	})
	return a, nil
}

func (a *app) openArtifactStore() error {
	switch a.cfg.ArtifactStore.Backend {
	case "postgres":
		store, err := artifact.NewGormStore(a.cfg.Database.GetDSN())
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %w", err)
		}
		a.store = store
	case "sqlite":
		path := a.cfg.ArtifactStore.SQLitePath
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create artifact directory: %w", err)
		}
		store, err := artifact.NewSQLiteStore(path)
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %w", err)
		}
		a.store = store
	}
	return nil
}

func (a *app) restoreLatest(ctx context.Context) {
	if a.store == nil {
		return
	}
	latest, err := a.store.LoadLatest(ctx)
	switch {
	case errors.Is(err, artifact.ErrNotFound):
		logrus.Info("no persisted model artifact")
	case err != nil:
		logrus.WithError(err).Warn("failed to load persisted model artifact")
	default:
		a.holder.Publish(latest)
		logrus.WithField("version", latest.SchemaVersion).Info("restored model artifact")
	}
}

// newIngestor returns nil when the ingest source is "none".
func (a *app) newIngestor() (*ingest.Ingestor, error) {
	var source ingest.Source
	switch a.cfg.Ingest.Source {
	case "mqtt":
		source = &ingest.MQTTSource{
			BrokerURL: a.cfg.MQTT.URL,
			Topic:     a.cfg.MQTT.Topic,
			ClientID:  a.cfg.MQTT.ClientID,
		}
	case "gtfsrt":
		source = &ingest.GTFSRTSource{
			FeedURL:  a.cfg.GTFSRT.FeedURL,
			APIKey:   a.cfg.GTFSRT.APIKey,
			Interval: a.cfg.GTFSRT.PollInterval(),
		}
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown ingest source %q", a.cfg.Ingest.Source)
	}

	opts := []ingest.Option{ingest.WithRoutePrefix(a.cfg.Ingest.RoutePrefix)}
	if a.cfg.Ingest.PublishLive && a.redis != nil {
		opts = append(opts, ingest.WithPublisher(a.redis))
	}
	if a.cfg.Ingest.Archive {
		if a.history == nil {
			logrus.Warn("archiving requested but historical store is unavailable")
		} else {
			opts = append(opts, ingest.WithArchiver(a.history))
			labeler, err := a.newLabeler()
			if err != nil {
				return nil, err
			}
			if labeler != nil {
				opts = append(opts, ingest.WithLabeler(labeler))
			}
		}
	}
	return ingest.New(source, a.vehicles, ingest.NewNormalizer(a.loc), opts...), nil
}

// newLabeler returns nil when archived positions stay unlabeled.
func (a *app) newLabeler() (ingest.Labeler, error) {
	switch a.cfg.Ingest.Schedule {
	case "postgres":
		if a.history == nil {
			return nil, nil
		}
		return schedule.NewLabeler(a.history, a.loc), nil
	case "gtfs":
		static, err := schedule.LoadFile(a.cfg.Ingest.GTFSStaticPath)
		if err != nil {
			return nil, err
		}
		return schedule.NewLabeler(static, a.loc), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown schedule source %q", a.cfg.Ingest.Schedule)
	}
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close artifact store")
		}
	}
	if a.history != nil {
		a.history.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close Redis client")
		}
	}
}

// unavailableHistory fails every fetch with the error seen when connecting
// at startup.
type unavailableHistory struct {
	err error
}

func (u unavailableHistory) Fetch(context.Context, string) ([]models.HistoricalRecord, error) {
	return nil, u.err
}
