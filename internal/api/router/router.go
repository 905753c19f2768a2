package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inkpress/docflow-be/internal/api/handler"
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
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "docflow-api-service",
		})
	})

	h := handler.New(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		deliveries := v1.Group("/deliveries")
		{
			// POST /api/v1/deliveries - Create and dispatch one delivery
			deliveries.POST("", h.CreateDelivery)
		}

		batches := v1.Group("/batches")
		{
			// POST /api/v1/batches - Submit a spreadsheet batch
			batches.POST("", h.CreateBatch)
		}

		jobs := v1.Group("/jobs")
		{
			// GET /api/v1/jobs/:job_id - Get batch job status and result
			jobs.GET("/:job_id", h.GetJob)
		}

		sign := v1.Group("/sign")
		{
			// GET /api/v1/sign/:token - Validate a signing token
			sign.GET("/:token", h.GetSignPage)

			// POST /api/v1/sign/:token - Submit a signature
			sign.POST("/:token", h.SubmitSignature)
		}

		templates := v1.Group("/templates")
		{
			// DELETE /api/v1/templates/:template_id - Soft-delete a template
			templates.DELETE("/:template_id", h.DeleteTemplate)
		}
	}

	return r
}
