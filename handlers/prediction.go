package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Raas21/delay-prediction-api/models"
)

type Predictor interface {
	Predict(ctx context.Context, routeID, vehicleID string) (models.PredictionResult, error)
}

type PredictionHandler struct {
	predictor   Predictor
	routePrefix string
}

// NewPredictionHandler rejects routes outside routePrefix when it is set.
func NewPredictionHandler(predictor Predictor, routePrefix string) *PredictionHandler {
	return &PredictionHandler{predictor: predictor, routePrefix: routePrefix}
}

func (h *PredictionHandler) GetPrediction(c *gin.Context) {
	routeID := strings.TrimSpace(c.Param("route_id"))
	vehicleID := strings.TrimSpace(c.Param("vehicle_id"))
	if routeID == "" || vehicleID == "" {
		badRequest(c, "invalid_request", "route_id and vehicle_id are required")
		return
	}
	if h.routePrefix != "" && !strings.HasPrefix(routeID, h.routePrefix) {
		badRequest(c, "invalid_route", fmt.Sprintf("route_id must start with %q", h.routePrefix))
		return
	}

	res, err := h.predictor.Predict(c.Request.Context(), routeID, vehicleID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
