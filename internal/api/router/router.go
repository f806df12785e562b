package router

import (
	"context"
	"net/http"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/api/handler"
	"github.com/cuongbtq/doc-analyzer/internal/metrics"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))

	if deps.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = deps.MaxUploadBytes
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Health.HealthCheck(ctx); err != nil {
				_ = c.Error(err)
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": "doc-analyzer-api",
		})
	})

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	analysisHandler := handler.NewAnalysisHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		analyses := v1.Group("/analyses")
		{
			// POST /api/v1/analyses - Submit a document for analysis
			analyses.POST("", analysisHandler.SubmitAnalysis)

			// GET /api/v1/analyses - Analysis history, newest first
			analyses.GET("", analysisHandler.ListAnalyses)

			// GET /api/v1/analyses/:analysis_id - Status and result of one analysis
			analyses.GET("/:analysis_id", analysisHandler.GetAnalysis)
		}

		// GET /api/v1/tasks/:task_id - Probe a delivery attempt
		v1.GET("/tasks/:task_id", analysisHandler.GetTask)
	}

	return r
}
