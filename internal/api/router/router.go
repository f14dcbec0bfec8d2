package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/courseloom/videogen-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "up"
		mqStatus := "up"

		if deps.DBClient != nil {
			if err := deps.DBClient.HealthCheck(c.Request.Context()); err != nil {
				dbStatus = "down"
				status = http.StatusServiceUnavailable
			}
		}
		if deps.RabbitClient != nil && !deps.RabbitClient.IsConnected() {
			mqStatus = "down"
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"service":  "videogen-api",
			"database": dbStatus,
			"rabbitmq": mqStatus,
		})
	})

	jobHandler := handler.NewJobHandler(deps)
	webhookHandler := handler.NewWebhookHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Create a generation job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/events - Get the job audit trail
			jobs.GET("/:job_id/events", jobHandler.ListEvents)

			// GET /api/v1/jobs/:job_id/stream - Stream status updates (SSE)
			jobs.GET("/:job_id/stream", jobHandler.StreamJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		webhooks := v1.Group("/webhooks")
		{
			// POST /api/v1/webhooks/provider - Provider status callback
			webhooks.POST("/provider", webhookHandler.ProviderWebhook)
		}
	}

	return r
}
