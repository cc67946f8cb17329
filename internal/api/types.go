package api

// ConvertResponse acknowledges a queued upload.
type ConvertResponse struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// StatusMeta carries checkpoint progress for queued and processing jobs.
type StatusMeta struct {
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}

// StatusResponse is the body of GET /status/{job_id}. Which fields are set
// depends on Status.
type StatusResponse struct {
	Status       string      `json:"status"`
	FileID       string      `json:"file_id,omitempty"`
	Filename     string      `json:"filename,omitempty"`
	OriginalName string      `json:"original_name,omitempty"`
	Error        string      `json:"error,omitempty"`
	Meta         *StatusMeta `json:"meta,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	messageConversionStarting = "Conversion starting"
	messageResultMissing      = "file not found or expired"
)
