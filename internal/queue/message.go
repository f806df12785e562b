package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuongbtq/doc-analyzer/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ContentType of encoded task messages
const ContentType = "application/json"

// TaskMessage is the wire format of a queued task
type TaskMessage struct {
	TaskID          string    `json:"task_id"`
	JobID           string    `json:"job_id"`
	SourceReference string    `json:"source_reference"`
	Query           string    `json:"query"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}

const taskMessageSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["task_id", "job_id", "source_reference", "query"],
	"properties": {
		"task_id": {"type": "string", "pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"},
		"job_id": {"type": "string", "pattern": "^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$"},
		"source_reference": {"type": "string", "minLength": 1},
		"query": {"type": "string", "minLength": 1},
		"enqueued_at": {"type": "string"}
	}
}`

var messageSchema = jsonschema.MustCompileString("task_message.json", taskMessageSchema)

// EncodeMessage serializes a task message
func EncodeMessage(msg TaskMessage) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task message: %w", err)
	}
	return body, nil
}

// DecodeMessage validates a raw body against the task schema and decodes it.
// Any failure wraps domain.ErrInvalidPayload.
func DecodeMessage(body []byte) (TaskMessage, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return TaskMessage{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	if err := messageSchema.Validate(raw); err != nil {
		return TaskMessage{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	var msg TaskMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return TaskMessage{}, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	return msg, nil
}
