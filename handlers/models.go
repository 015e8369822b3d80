package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Raas21/delay-prediction-api/artifact"
	"github.com/Raas21/delay-prediction-api/delay"
	"github.com/Raas21/delay-prediction-api/models"
)

// ArtifactLister is the read side of artifact.Store.
type ArtifactLister interface {
	List(ctx context.Context, limit int, before *time.Time) ([]models.ArtifactRecord, error)
}

type ModelsHandler struct {
	holder *artifact.Holder
	store  ArtifactLister
}

// NewModelsHandler serves artifact history from store, which may be nil
// when persistence is disabled.
func NewModelsHandler(holder *artifact.Holder, store ArtifactLister) *ModelsHandler {
	return &ModelsHandler{holder: holder, store: store}
}

func (h *ModelsHandler) GetCurrent(c *gin.Context) {
	a := h.holder.Load()
	if a == nil {
		abortWithError(c, delay.ErrModelNotTrained)
		return
	}
	c.JSON(http.StatusOK, summarize(a))
}

func (h *ModelsHandler) GetModels(c *gin.Context) {
	p, err := ParsePagination(c)
	if err != nil {
		badRequest(c, "invalid_pagination", err.Error())
		return
	}
	if h.store == nil {
		c.JSON(http.StatusOK, CursorResponse{Data: []ArtifactSummary{}})
		return
	}

	rows, err := h.store.List(c.Request.Context(), p.FetchLimit(), p.Before)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, page(p, rows,
		func(r models.ArtifactRecord) time.Time { return r.TrainedAt },
		func(r models.ArtifactRecord) ArtifactSummary {
			return ArtifactSummary{
				ID:            r.ID,
				SchemaVersion: r.SchemaVersion,
				TrainedAt:     r.TrainedAt,
				SampleCount:   r.SampleCount,
			}
		},
	))
}
