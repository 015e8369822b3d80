package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Raas21/delay-prediction-api/vehiclestate"
)

type VehiclesHandler struct {
	cache vehiclestate.Cache
}

func NewVehiclesHandler(cache vehiclestate.Cache) *VehiclesHandler {
	return &VehiclesHandler{cache: cache}
}

// GetVehicles lists cached vehicle states, optionally for one ?route_id=.
func (h *VehiclesHandler) GetVehicles(c *gin.Context) {
	states, err := h.cache.List(c.Request.Context(), c.Query("route_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": states, "count": len(states)})
}

func (h *VehiclesHandler) GetVehicle(c *gin.Context) {
	state, ok, err := h.cache.Get(c.Request.Context(), c.Param("vehicle_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "vehicle not found", "code": "vehicle_not_found"})
		return
	}
	c.JSON(http.StatusOK, state)
}
