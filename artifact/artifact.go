// Package artifact bundles a trained model with the encoders it was trained
// against and publishes it atomically.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Raas21/delay-prediction-api/features"
	"github.com/Raas21/delay-prediction-api/models"
	"github.com/Raas21/delay-prediction-api/regression"
)

var currentVersion = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "transit_model_schema_version",
	Help: "Schema version of the currently published model artifact.",
})

// ModelArtifact is immutable once built. Encoders and Model always come from
// the same training run.
type ModelArtifact struct {
	ID            string
	SchemaVersion int
	TrainedAt     time.Time
	SampleCount   int
	Encoders      features.Registry
	Model         regression.Model
}

// New stamps a fresh artifact.
func New(version int, trainedAt time.Time, samples int, enc features.Registry, model regression.Model) *ModelArtifact {
	return &ModelArtifact{
		ID:            uuid.NewString(),
		SchemaVersion: version,
		TrainedAt:     trainedAt.UTC(),
		SampleCount:   samples,
		Encoders:      enc,
		Model:         model,
	}
}

// Holder owns the reference to the current artifact. Readers Load once and
// keep using that pointer; Publish replaces it in a single atomic store.
type Holder struct {
	current atomic.Pointer[ModelArtifact]
}

func NewHolder() *Holder { return &Holder{} }

// Load returns the current artifact, or nil if none was ever published.
func (h *Holder) Load() *ModelArtifact {
	return h.current.Load()
}

func (h *Holder) Publish(a *ModelArtifact) {
	h.current.Store(a)
	currentVersion.Set(float64(a.SchemaVersion))
}

// Version is the schema version of the current artifact, 0 when none.
func (h *Holder) Version() int {
	if a := h.current.Load(); a != nil {
		return a.SchemaVersion
	}
	return 0
}

type payload struct {
	Encoders features.Registry  `json:"encoders"`
	Model    *regression.Ridge `json:"model"`
}

// ToRecord serializes the artifact for persistence.
func ToRecord(a *ModelArtifact) (models.ArtifactRecord, error) {
	ridge, ok := a.Model.(*regression.Ridge)
	if !ok {
		return models.ArtifactRecord{}, fmt.Errorf("artifact %s: model type %T cannot be persisted", a.ID, a.Model)
	}
	data, err := json.Marshal(payload{Encoders: a.Encoders, Model: ridge})
	if err != nil {
		return models.ArtifactRecord{}, fmt.Errorf("encoding artifact %s: %w", a.ID, err)
	}
	return models.ArtifactRecord{
		ID:            a.ID,
		SchemaVersion: a.SchemaVersion,
		TrainedAt:     a.TrainedAt,
		SampleCount:   a.SampleCount,
		Payload:       data,
	}, nil
}

// FromRecord rebuilds an artifact from its persisted form.
func FromRecord(rec models.ArtifactRecord) (*ModelArtifact, error) {
	var p payload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, fmt.Errorf("decoding artifact %s: %w", rec.ID, err)
	}
	if p.Model == nil {
		return nil, fmt.Errorf("artifact %s: missing model", rec.ID)
	}
	if err := p.Encoders.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", rec.ID, err)
	}
	if err := p.Model.Validate(); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", rec.ID, err)
	}
	if len(p.Model.Coef) != len(features.Columns) {
		return nil, fmt.Errorf("artifact %s: model has %d coefficients, want %d",
			rec.ID, len(p.Model.Coef), len(features.Columns))
	}
	return &ModelArtifact{
		ID:            rec.ID,
		SchemaVersion: rec.SchemaVersion,
		TrainedAt:     rec.TrainedAt.UTC(),
		SampleCount:   rec.SampleCount,
		Encoders:      p.Encoders,
		Model:         p.Model,
	}, nil
}

var ErrNotFound = errors.New("no persisted model artifact")
