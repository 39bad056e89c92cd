package router

import (
	"github.com/cuongbtq/e2e-report-worker/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// ServiceName is reported by the health endpoint
const ServiceName = "job-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.NewHealthHandler(ServiceName, deps).Health)

	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/jobs/:job_type - Enqueue a job, the body is its payload
		v1.POST("/jobs/:job_type", jobHandler.EnqueueJob)

		// GET /api/v1/dead-letters/:job_type - Inspect dead letters
		v1.GET("/dead-letters/:job_type", jobHandler.ListDeadLetters)

		queues := v1.Group("/queues")
		{
			// GET /api/v1/queues - Depth of every queue
			queues.GET("", jobHandler.ListQueueDepths)

			// GET /api/v1/queues/:job_type/depth - Depth of one queue
			queues.GET("/:job_type/depth", jobHandler.GetQueueDepth)
		}
	}

	return r
}
