package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"convertd/internal/formats"
	"convertd/internal/settings"
)

// Status is the raw lifecycle token a backend reports for a job.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarted  Status = "started"
	StatusProgress Status = "progress"
	StatusSuccess  Status = "success"
	StatusFailure  Status = "failure"
)

// StopReason is recorded when a worker shuts down mid-job.
const StopReason = "worker stopped before conversion finished"

// Ready reports whether the token is terminal.
func (s Status) Ready() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Active reports whether a worker holds the job.
func (s Status) Active() bool {
	return s == StatusStarted || s == StatusProgress
}

// ErrNotActive is returned when a worker reports on a job it no longer holds.
var ErrNotActive = errors.New("job is not active")

// Job is one requested conversion.
type Job struct {
	ID             string           `json:"id"`
	Filename       string           `json:"filename"`
	SourceCategory formats.Category `json:"source_category"`
	TargetFormat   string           `json:"target_format"`
	Settings       []byte           `json:"settings"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	Payload        []byte           `json:"payload"`
}

// NewJob builds a job with a fresh id and the bundle encoded for transport.
func NewJob(filename string, category formats.Category, target string, bundle settings.Bundle, payload []byte) (Job, error) {
	encoded, err := settings.Marshal(bundle)
	if err != nil {
		return Job{}, err
	}
	return Job{
		ID:             uuid.NewString(),
		Filename:       filename,
		SourceCategory: category,
		TargetFormat:   formats.NormalizeExtension(target),
		Settings:       encoded,
		SubmittedAt:    time.Now().UTC(),
		Payload:        payload,
	}, nil
}

// Bundle decodes the job's settings.
func (j Job) Bundle() (settings.Bundle, error) {
	return settings.Unmarshal(j.Settings)
}

func (j Job) validate() error {
	switch {
	case strings.TrimSpace(j.ID) == "":
		return errors.New("job id is required")
	case strings.TrimSpace(j.Filename) == "":
		return errors.New("job filename is required")
	case strings.TrimSpace(j.TargetFormat) == "":
		return errors.New("job target format is required")
	case len(j.Settings) == 0:
		return errors.New("job settings are required")
	}
	return nil
}

// Result outcome values.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

// Result is the structured outcome a worker records for a job.
type Result struct {
	Status       string `json:"status"`
	FileID       string `json:"file_id,omitempty"`
	Filename     string `json:"filename,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
	Error        string `json:"error,omitempty"`
}

// CompletedResult describes a stored artifact.
func CompletedResult(jobID, storedName, originalName string) Result {
	return Result{Status: ResultCompleted, FileID: jobID, Filename: storedName, OriginalName: originalName}
}

// FailedResult carries a conversion failure message.
func FailedResult(format string, args ...any) Result {
	return Result{Status: ResultFailed, Error: fmt.Sprintf(format, args...)}
}

// State is the queue's view of a job.
type State struct {
	Token      Status
	Ready      bool
	Successful bool
	Percent    int
	Message    string
	Result     *Result
	Error      string
}

func pendingState() State {
	return State{Token: StatusPending}
}
