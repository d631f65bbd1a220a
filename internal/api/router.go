package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/autograde/internal/api/handler"
	"github.com/timmy/autograde/internal/api/middleware"
	"github.com/timmy/autograde/internal/config"
	"github.com/timmy/autograde/internal/logger"
	"github.com/timmy/autograde/internal/service"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Pipeline *service.Pipeline
	Admin    *handler.AdminHandler
	Metrics  http.Handler // nil leaves /metrics unregistered
	Config   *config.Config
	Logger   *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps) *gin.Engine {
	switch deps.Config.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger, "/health", "/metrics"))
	r.Use(middleware.CORS(deps.Config.Server.CORS))

	store := deps.Pipeline.Store()
	healthHandler := handler.NewHealthHandler(store)
	progressHandler := handler.NewProgressHandler(store)
	resultsHandler := handler.NewResultsHandler(deps.Pipeline, deps.Config.Similarity.Threshold)

	r.GET("/health", healthHandler.Health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/progress", progressHandler.ListProgress)
		v1.GET("/progress/:id", progressHandler.GetProgress)

		v1.GET("/results", resultsHandler.GetResults)
		v1.GET("/similarity", resultsHandler.GetSimilarity)

		if deps.Admin != nil {
			admin := v1.Group("/admin")
			admin.POST("/runs", deps.Admin.TriggerRun)
			admin.GET("/runs/status", deps.Admin.GetRunStatus)
		}
	}

	return r
}
