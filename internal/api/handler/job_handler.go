package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/api/dto"
	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/cuongbtq/doc-analyzer/internal/service"
	"github.com/cuongbtq/doc-analyzer/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const submitMessage = "Analysis queued. Poll GET /api/v1/analyses/{analysis_id} for the result."

// SubmitAnalysis handles POST /api/v1/analyses
// Accepts a multipart upload (file, query) or a JSON body referencing a stored document
func (h *AnalysisHandler) SubmitAnalysis(c *gin.Context) {
	var (
		handle domain.Handle
		err    error
	)

	if c.ContentType() == "multipart/form-data" {
		handle, err = h.submitUpload(c)
	} else {
		var req dto.SubmitAnalysisRequest
		if bindErr := c.ShouldBindJSON(&req); bindErr != nil {
			h.logger.Warn("Invalid request body", slog.String("error", bindErr.Error()))
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body: source_reference is required"})
			return
		}
		handle, err = h.service.Submit(c.Request.Context(), service.SubmitRequest{
			SourceReference: req.SourceReference,
			Query:           req.Query,
		})
	}

	if err != nil {
		h.logger.Error("Failed to submit analysis",
			slog.String("analysis_id", handle.JobID),
			slog.String("error", err.Error()),
		)
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitAnalysisResponse{
		Status:     domain.JobStatusProcessing,
		AnalysisID: handle.JobID,
		TaskID:     handle.TaskToken,
		Message:    submitMessage,
	})
}

func (h *AnalysisHandler) submitUpload(c *gin.Context) (domain.Handle, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return domain.Handle{}, domain.NewValidationError("file", "a document upload is required")
	}

	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		return domain.Handle{}, domain.NewValidationError("file", fmt.Sprintf("exceeds the %d byte limit", h.maxUploadBytes))
	}

	file, err := header.Open()
	if err != nil {
		return domain.Handle{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer file.Close()

	return h.service.SubmitUpload(c.Request.Context(), header.Filename, file, header.Size, c.PostForm("query"))
}

// GetAnalysis handles GET /api/v1/analyses/:analysis_id
func (h *AnalysisHandler) GetAnalysis(c *gin.Context) {
	analysisID := c.Param("analysis_id")

	if _, err := uuid.Parse(analysisID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "analysis_id must be a valid UUID", Field: "analysis_id"})
		return
	}

	job, err := h.service.Get(c.Request.Context(), analysisID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewAnalysisDTO(job, true))
}

// ListAnalyses handles GET /api/v1/analyses
// Returns the history newest first; without page_size every job is returned
func (h *AnalysisHandler) ListAnalyses(c *gin.Context) {
	var req dto.ListAnalysesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	cursor, err := storage.DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor", Field: "cursor"})
		return
	}
	if cursor != nil && req.PageSize == 0 {
		req.PageSize = service.DefaultPageSize
	}

	page, err := h.service.History(c.Request.Context(), service.HistoryRequest{
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	analyses := make([]dto.AnalysisDTO, len(page.Jobs))
	for i := range page.Jobs {
		analyses[i] = dto.NewAnalysisDTO(&page.Jobs[i], false)
	}

	resp := dto.ListAnalysesResponse{Analyses: analyses}
	if page.Next != nil {
		resp.NextCursor = storage.EncodeJobCursor(page.Next)
	}

	c.JSON(http.StatusOK, resp)
}

// GetTask handles GET /api/v1/tasks/:task_id
// Reports the delivery attempt behind a task token; the analysis record stays authoritative
func (h *AnalysisHandler) GetTask(c *gin.Context) {
	status, err := h.service.Probe(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := dto.TaskStatusResponse{
		TaskID: status.TaskID,
		State:  string(status.State),
	}
	if len(status.Payload) > 0 {
		var payload interface{}
		if err := json.Unmarshal(status.Payload, &payload); err == nil {
			resp.Payload = payload
		} else {
			resp.Payload = string(status.Payload)
		}
	}
	if !status.UpdatedAt.IsZero() {
		resp.UpdatedAt = status.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	c.JSON(http.StatusOK, resp)
}
