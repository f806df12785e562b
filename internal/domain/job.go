package domain

import "time"

// Job status constants
const (
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// DefaultQuery is stored when a submission arrives without a query
const DefaultQuery = "Analyze this financial document for investment insights"

// Job is the lifecycle record of one submitted (document, query) pair
type Job struct {
	ID              string     `db:"id"`
	SourceReference string     `db:"source_reference"`
	Filename        string     `db:"filename"`
	Query           string     `db:"query_text"`
	Status          string     `db:"status"`
	Result          *string    `db:"result"`
	CreatedAt       time.Time  `db:"created_at"`
	CompletedAt     *time.Time `db:"completed_at"`
}

// IsTerminal reports whether the job has left the processing state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Handle is returned to the submitter. JobID is authoritative; TaskToken only
// probes the delivery attempt.
type Handle struct {
	JobID     string `json:"analysis_id"`
	TaskToken string `json:"task_id"`
}

// TaskResult is the payload a worker records for a finished delivery attempt
type TaskResult struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
	Result     string `json:"result"`
}
