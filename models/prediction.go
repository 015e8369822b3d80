package models

import "time"

type FeaturesUsed struct {
	RouteID   string  `json:"route_id"`
	StopID    string  `json:"stop_id"`
	RouteCode int     `json:"route_code"`
	StopCode  int     `json:"stop_code"`
	Hour      int     `json:"hour"`
	DayOfWeek int     `json:"day_of_week"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type PredictionResult struct {
	RouteID               string       `json:"route_id"`
	VehicleID             string       `json:"vehicle_id"`
	Timestamp             time.Time    `json:"timestamp"`
	PredictedDelay        float64      `json:"predicted_delay"`
	PredictedDelayMinutes float64      `json:"predicted_delay_minutes"`
	FeaturesUsed          FeaturesUsed `json:"features_used"`
	ModelVersion          int          `json:"model_version"`
}

// ArtifactRecord is the persisted form of a trained model artifact.
type ArtifactRecord struct {
	ID            string    `gorm:"column:id;primaryKey" json:"id"`
	SchemaVersion int       `gorm:"column:schema_version;index" json:"schema_version"`
	TrainedAt     time.Time `gorm:"column:trained_at;index" json:"trained_at"`
	SampleCount   int       `gorm:"column:sample_count" json:"sample_count"`
	Payload       []byte    `gorm:"column:payload" json:"-"`
}

func (ArtifactRecord) TableName() string { return "model_artifacts" }
