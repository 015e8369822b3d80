package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Raas21/delay-prediction-api/delay"
)

// statusFor maps a delay error onto its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, delay.ErrModelNotTrained):
		return http.StatusServiceUnavailable
	case errors.Is(err, delay.ErrVehicleNotFound), errors.Is(err, delay.ErrStaleData):
		return http.StatusNotFound
	case errors.Is(err, delay.ErrRouteMismatch), errors.Is(err, delay.ErrTrainingInProgress):
		return http.StatusConflict
	case errors.Is(err, delay.ErrTrainingDataEmpty):
		return http.StatusUnprocessableEntity
	case errors.Is(err, delay.ErrUpstreamFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": delay.Code(err)})
}

func badRequest(c *gin.Context, code, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": code})
}
