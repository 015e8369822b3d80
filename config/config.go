package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	GTFSRT        GTFSRTConfig        `yaml:"gtfsrt"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Model         ModelConfig         `yaml:"model"`
	ArtifactStore ArtifactStoreConfig `yaml:"artifact_store"`
	JWT           JWTConfig           `yaml:"jwt"`
	CORS          CORSConfig          `yaml:"cors"`
	Log           LogConfig           `yaml:"log"`
}

type ServerConfig struct {
	Port        int    `yaml:"port" validate:"gt=0,lt=65536"`
	MetricsPath string `yaml:"metrics_path" validate:"required,startswith=/"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"gt=0"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

type MQTTConfig struct {
	URL      string `yaml:"url"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
}

type GTFSRTConfig struct {
	FeedURL         string `yaml:"feed_url" validate:"omitempty,url"`
	APIKey          string `yaml:"api_key"`
	PollIntervalSec int    `yaml:"poll_interval_sec" validate:"gte=0"`
}

func (g GTFSRTConfig) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalSec) * time.Second
}

type IngestConfig struct {
	// Source selects the upstream feed: mqtt, gtfsrt or none.
	Source       string `yaml:"source" validate:"oneof=mqtt gtfsrt none"`
	CacheBackend string `yaml:"cache_backend" validate:"oneof=memory redis"`
	CacheTTLSec  int    `yaml:"cache_ttl_sec" validate:"gte=0"`
	RoutePrefix  string `yaml:"route_prefix"`
	PublishLive  bool   `yaml:"publish_live"`
	// Archive appends every accepted event to the vehicle_position table.
	Archive bool `yaml:"archive"`
	// Schedule labels archived events with their delay, looking arrivals
	// up in the stop_time table (postgres) or a static GTFS feed (gtfs).
	Schedule       string `yaml:"schedule" validate:"oneof=postgres gtfs none"`
	GTFSStaticPath string `yaml:"gtfs_static_path" validate:"required_if=Schedule gtfs"`
}

type ModelConfig struct {
	TimeZone           string  `yaml:"time_zone" validate:"required"`
	Lambda             float64 `yaml:"lambda" validate:"gt=0"`
	StaleAfterSec      int     `yaml:"stale_after_sec" validate:"gte=0"`
	RetrainIntervalSec int     `yaml:"retrain_interval_sec" validate:"gte=0"`
	TrainOnStartup     bool    `yaml:"train_on_startup"`
}

func (m ModelConfig) Location() (*time.Location, error) {
	return time.LoadLocation(m.TimeZone)
}

type ArtifactStoreConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=postgres sqlite none"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
}

type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiryHours int    `yaml:"expiry_hours" validate:"gt=0"`
}

type CORSConfig struct {
	AllowedOrigins string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, MetricsPath: "/metrics"},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "password",
			Name:     "postgres",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		MQTT: MQTTConfig{
			URL:   "tcp://localhost:1883",
			Topic: "transit/vehicle_positions/+",
		},
		GTFSRT: GTFSRTConfig{
			FeedURL:         "http://gtfsrt.prod.obanyc.com/vehiclePositions",
			PollIntervalSec: 30,
		},
		Ingest: IngestConfig{
			Source:       "mqtt",
			CacheBackend: "memory",
			CacheTTLSec:  300,
			RoutePrefix:  "B",
			Schedule:     "postgres",
		},
		Model: ModelConfig{
			TimeZone:       "America/New_York",
			Lambda:         1.0,
			StaleAfterSec:  300,
			TrainOnStartup: true,
		},
		ArtifactStore: ArtifactStoreConfig{Backend: "sqlite", SQLitePath: "models/artifacts.db"},
		JWT:           JWTConfig{ExpiryHours: 24},
		CORS:          CORSConfig{AllowedOrigins: "*"},
		Log:           LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig layers defaults, the optional YAML file at path and the
// environment, then validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Model.Location(); err != nil {
		return nil, fmt.Errorf("invalid MODEL_TIME_ZONE: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error
	ints := []struct {
		key string
		dst *int
	}{
		{"SERVER_PORT", &cfg.Server.Port},
		{"DB_PORT", &cfg.Database.Port},
		{"REDIS_PORT", &cfg.Redis.Port},
		{"REDIS_DB", &cfg.Redis.DB},
		{"GTFSRT_POLL_INTERVAL_SEC", &cfg.GTFSRT.PollIntervalSec},
		{"CACHE_TTL_SEC", &cfg.Ingest.CacheTTLSec},
		{"STALE_AFTER_SEC", &cfg.Model.StaleAfterSec},
		{"RETRAIN_INTERVAL_SEC", &cfg.Model.RetrainIntervalSec},
		{"JWT_EXPIRY_HOURS", &cfg.JWT.ExpiryHours},
	}
	for _, f := range ints {
		if *f.dst, err = getIntEnv(f.key, *f.dst); err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"METRICS_PATH", &cfg.Server.MetricsPath},
		{"DB_HOST", &cfg.Database.Host},
		{"DB_USER", &cfg.Database.User},
		{"DB_PASSWORD", &cfg.Database.Password},
		{"DB_NAME", &cfg.Database.Name},
		{"DB_SSLMODE", &cfg.Database.SSLMode},
		{"REDIS_HOST", &cfg.Redis.Host},
		{"REDIS_PASSWORD", &cfg.Redis.Password},
		{"MQTT_URL", &cfg.MQTT.URL},
		{"MQTT_TOPIC", &cfg.MQTT.Topic},
		{"MQTT_CLIENT_ID", &cfg.MQTT.ClientID},
		{"GTFSRT_FEED_URL", &cfg.GTFSRT.FeedURL},
		{"MTA_BUSTIME_API_KEY", &cfg.GTFSRT.APIKey},
		{"INGEST_SOURCE", &cfg.Ingest.Source},
		{"CACHE_BACKEND", &cfg.Ingest.CacheBackend},
		{"ROUTE_PREFIX", &cfg.Ingest.RoutePrefix},
		{"SCHEDULE_SOURCE", &cfg.Ingest.Schedule},
		{"GTFS_STATIC_PATH", &cfg.Ingest.GTFSStaticPath},
		{"MODEL_TIME_ZONE", &cfg.Model.TimeZone},
		{"ARTIFACT_STORE", &cfg.ArtifactStore.Backend},
		{"ARTIFACT_SQLITE_PATH", &cfg.ArtifactStore.SQLitePath},
		{"JWT_SECRET", &cfg.JWT.Secret},
		{"CORS_ALLOWED_ORIGINS", &cfg.CORS.AllowedOrigins},
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
	}
	for _, f := range strs {
		*f.dst = getEnv(f.key, *f.dst)
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"PUBLISH_LIVE", &cfg.Ingest.PublishLive},
		{"ARCHIVE_POSITIONS", &cfg.Ingest.Archive},
		{"TRAIN_ON_STARTUP", &cfg.Model.TrainOnStartup},
	}
	for _, f := range bools {
		if *f.dst, err = getBoolEnv(f.key, *f.dst); err != nil {
			return fmt.Errorf("invalid %s: %w", f.key, err)
		}
	}

	if v := os.Getenv("MODEL_LAMBDA"); v != "" {
		if cfg.Model.Lambda, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("invalid MODEL_LAMBDA: %w", err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getIntEnv(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}
	return parsed, nil
}

func getBoolEnv(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	return strconv.ParseBool(value)
}
