package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Raas21/delay-prediction-api/artifact"
)

type Trainer interface {
	Train(ctx context.Context) (*artifact.ModelArtifact, error)
}

// ArtifactSummary describes a model artifact without its weights.
type ArtifactSummary struct {
	ID            string    `json:"id"`
	SchemaVersion int       `json:"schema_version"`
	TrainedAt     time.Time `json:"trained_at"`
	SampleCount   int       `json:"sample_count"`
}

func summarize(a *artifact.ModelArtifact) ArtifactSummary {
	return ArtifactSummary{
		ID:            a.ID,
		SchemaVersion: a.SchemaVersion,
		TrainedAt:     a.TrainedAt,
		SampleCount:   a.SampleCount,
	}
}

type TrainHandler struct {
	trainer Trainer
}

func NewTrainHandler(trainer Trainer) *TrainHandler {
	return &TrainHandler{trainer: trainer}
}

// Train runs one training pass synchronously and returns the new artifact.
// The pass runs to completion even if the client disconnects.
func (h *TrainHandler) Train(c *gin.Context) {
	a, err := h.trainer.Train(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "model trained", "model": summarize(a)})
}
