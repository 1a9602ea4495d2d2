package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/devpath/devpath-backend/internal/handlers"
	"github.com/devpath/devpath-backend/internal/platform/envutil"
)

type RouterConfig struct {
	JobsHandler    *handlers.JobsHandler
	ThreadsHandler *handlers.ThreadsHandler
	StreamHandler  *handlers.StreamHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(otelgin.Middleware(envutil.String("SERVICE_NAME", "devpath-backend")))
	router.Use(RequestTrace())

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Jobs
		api.POST("/jobs", cfg.JobsHandler.CreateJob)
		api.GET("/jobs", cfg.JobsHandler.ListJobs)
		api.GET("/jobs/latest", cfg.JobsHandler.GetLatestJob)
		api.GET("/jobs/:id", cfg.JobsHandler.GetJobByID)
		api.DELETE("/jobs/:id", cfg.JobsHandler.DeleteJob)
		// Threads + chat
		api.POST("/threads", cfg.ThreadsHandler.CreateThread)
		api.GET("/threads/:id", cfg.ThreadsHandler.GetThread)
		api.POST("/threads/:id/messages", cfg.ThreadsHandler.SendMessage)
		api.GET("/streams/:jobId", cfg.ThreadsHandler.GetActiveStream)
		// Push stream
		api.GET("/stream", cfg.StreamHandler.Events)
	}

	return router
}
