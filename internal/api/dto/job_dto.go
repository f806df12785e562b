package dto

import (
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
)

type SubmitAnalysisRequest struct {
	SourceReference string `json:"source_reference" binding:"required"`
	Query           string `json:"query"`
}

type SubmitAnalysisResponse struct {
	Status     string `json:"status"`
	AnalysisID string `json:"analysis_id"`
	TaskID     string `json:"task_id"`
	Message    string `json:"message"`
}

type ListAnalysesRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListAnalysesResponse struct {
	Analyses   []AnalysisDTO `json:"analyses"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type AnalysisDTO struct {
	ID              string  `json:"id"`
	Filename        string  `json:"filename"`
	SourceReference string  `json:"source_reference"`
	Query           string  `json:"query"`
	Status          string  `json:"status"`
	Result          *string `json:"result,omitempty"`
	CreatedAt       string  `json:"created_at"`
	CompletedAt     *string `json:"completed_at"`
}

type TaskStatusResponse struct {
	TaskID    string      `json:"task_id"`
	State     string      `json:"state"`
	Payload   interface{} `json:"payload,omitempty"`
	UpdatedAt string      `json:"updated_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// NewAnalysisDTO renders a job snapshot. The result is dropped when withResult is false.
func NewAnalysisDTO(job *domain.Job, withResult bool) AnalysisDTO {
	out := AnalysisDTO{
		ID:              job.ID,
		Filename:        job.Filename,
		SourceReference: job.SourceReference,
		Query:           job.Query,
		Status:          job.Status,
		CreatedAt:       job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if withResult {
		out.Result = job.Result
	}
	if job.CompletedAt != nil {
		completed := job.CompletedAt.UTC().Format(time.RFC3339Nano)
		out.CompletedAt = &completed
	}
	return out
}
