package runner

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/wehubfusion/dfdlrecord/pkg/config"
	sdkerrors "github.com/wehubfusion/dfdlrecord/pkg/errors"
	"github.com/wehubfusion/dfdlrecord/pkg/storage"
)

// Operation selects what a job does with its payload
type Operation string

const (
	OpParse   Operation = "parse"
	OpUnparse Operation = "unparse"
)

// Job is a parse or unparse request received from the job subject
type Job struct {
	ID        string          `json:"id"`
	Operation Operation       `json:"operation"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   storage.Payload `json:"payload"`

	// Properties are merged over the runner's base properties
	Properties config.Properties `json:"properties,omitempty"`

	// Variables are bound for this job only
	Variables map[string]string `json:"variables,omitempty"`
}

// Result is published to the result subject once a job is done
type Result struct {
	ID          string           `json:"id"`
	JobID       string           `json:"job_id"`
	Operation   Operation        `json:"operation"`
	Route       string           `json:"route"`
	Payload     *storage.Payload `json:"payload,omitempty"`
	Records     int              `json:"records"`
	Failed      int              `json:"failed,omitempty"`
	Error       string           `json:"error,omitempty"`
	ErrorCode   string           `json:"error_code,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// ResultMsgID is the JetStream message ID of a job's result. It is stable
// across redeliveries so the stream drops duplicate results.
func ResultMsgID(jobID string) string {
	return jobID + ":result"
}

// DecodeJob decodes and checks a job message
func DecodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w: %w", sdkerrors.ErrInvalidMessage, err)
	}
	switch job.Operation {
	case OpParse, OpUnparse:
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", sdkerrors.ErrInvalidMessage, job.Operation)
	}
	if job.Payload.Ref == "" && job.Payload.Data == nil {
		return nil, fmt.Errorf("%w: job %s has no payload", sdkerrors.ErrInvalidMessage, job.ID)
	}
	return &job, nil
}

// ToBytes encodes the job
func (j *Job) ToBytes() ([]byte, error) {
	return json.Marshal(j)
}

// ToBytes encodes the result
func (r *Result) ToBytes() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeResult decodes a result message
func DecodeResult(data []byte) (*Result, error) {
	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("%w: %w", sdkerrors.ErrInvalidMessage, err)
	}
	return &res, nil
}
