package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/doc-analyzer/internal/api/dto"
	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/internal/service"
	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a backing dependency is usable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Service        *service.Service
	Health         HealthChecker
	MaxUploadBytes int64
}

// AnalysisHandler handles analysis-related HTTP requests
type AnalysisHandler struct {
	logger         *slog.Logger
	service        *service.Service
	maxUploadBytes int64
}

// NewAnalysisHandler creates a new AnalysisHandler instance
func NewAnalysisHandler(deps *Dependencies) *AnalysisHandler {
	return &AnalysisHandler{
		logger:         deps.Logger,
		service:        deps.Service,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// writeError maps the error taxonomy onto HTTP statuses
func (h *AnalysisHandler) writeError(c *gin.Context, err error) {
	var validationErr *domain.ValidationError

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: validationErr.Error(), Field: validationErr.Field})

	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Analysis not found"})

	case errors.Is(err, domain.ErrQueueUnavailable):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Job queue unavailable, please retry later"})

	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal server error"})
	}
}
