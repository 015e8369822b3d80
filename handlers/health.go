package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Raas21/delay-prediction-api/artifact"
	"github.com/Raas21/delay-prediction-api/ingest"
)

type IngestStats interface {
	Stats() ingest.StatsSnapshot
}

// Health reports liveness plus the serving model version. ingestor may be
// nil when no upstream source is configured.
func Health(holder *artifact.Holder, ingestor IngestStats) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":        "UP",
			"message":       "Delay Prediction API is running",
			"model_loaded":  holder.Load() != nil,
			"model_version": holder.Version(),
		}
		if ingestor != nil {
			body["ingest"] = ingestor.Stats()
		}
		c.JSON(http.StatusOK, body)
	}
}
