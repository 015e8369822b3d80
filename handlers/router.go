package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Raas21/delay-prediction-api/artifact"
	"github.com/Raas21/delay-prediction-api/config"
	"github.com/Raas21/delay-prediction-api/ingest"
	"github.com/Raas21/delay-prediction-api/middleware"
	"github.com/Raas21/delay-prediction-api/services"
	"github.com/Raas21/delay-prediction-api/vehiclestate"
)

// Deps are the collaborators behind the HTTP API. Artifacts, Feed and
// Ingest are optional.
type Deps struct {
	Predictor   Predictor
	Trainer     Trainer
	Holder      *artifact.Holder
	Artifacts   ArtifactLister
	Vehicles    vehiclestate.Cache
	Feed        LiveFeed
	Ingest      IngestStats
	Auth        *services.AuthService
	CORS        config.CORSConfig
	RoutePrefix string
	MetricsPath string
}

func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(), middleware.SetupCORS(d.CORS))

	router.GET("/health", Health(d.Holder, d.Ingest))
	if d.MetricsPath != "" {
		router.GET(d.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	prediction := NewPredictionHandler(d.Predictor, d.RoutePrefix)
	router.GET("/predict/:route_id/:vehicle_id", prediction.GetPrediction)

	train := NewTrainHandler(d.Trainer)
	router.POST("/train", middleware.RequireRole(d.Auth, services.RoleOperator), train.Train)

	modelsHandler := NewModelsHandler(d.Holder, d.Artifacts)
	router.GET("/models", modelsHandler.GetModels)
	router.GET("/models/current", modelsHandler.GetCurrent)

	vehicles := NewVehiclesHandler(d.Vehicles)
	router.GET("/vehicles", vehicles.GetVehicles)
	router.GET("/vehicles/:vehicle_id", vehicles.GetVehicle)

	if d.Feed != nil {
		router.GET("/ws/live", LiveWebSocket(d.Feed, ingest.LiveChannel, d.Auth))
	}
	return router
}
