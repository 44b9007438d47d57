package backend

import "encoding/json"

// QueryRequest is the prompt sent to the agent endpoint.
type QueryRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

// QueryResponse is the agent's feasibility verdict for a prompt.
type QueryResponse struct {
	Content    string  `json:"content"`
	IsFeasible bool    `json:"is_feasible"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason,omitempty"`
	WorkflowID string  `json:"workflow_id,omitempty"`
}

// WorkflowSummary is one entry of the workflow listing.
type WorkflowSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	StepCount int    `json:"step_count"`
}

// WorkflowDetail is a single workflow. Steps is kept raw because the backend
// emits several inconsistent shapes for it.
type WorkflowDetail struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    string          `json:"status"`
	CreatedAt string          `json:"created_at"`
	Steps     json.RawMessage `json:"steps"`
}

// RunHandle is returned when a run is started.
type RunHandle struct {
	JobID string `json:"job_id"`
}

const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunStatus is the polled state of a workflow run.
type RunStatus struct {
	Status   string       `json:"status"`
	Progress int          `json:"progress"`
	Tasks    []TaskStatus `json:"tasks"`
	Error    string       `json:"error,omitempty"`
}

// Terminal reports whether polling can stop.
func (s RunStatus) Terminal() bool {
	return s.Status == RunCompleted || s.Status == RunFailed
}

// TaskStatus is the result of one task inside a run.
type TaskStatus struct {
	TaskID      string `json:"task_id"`
	Status      string `json:"status"`
	Output      string `json:"output"`
	ReturnValue any    `json:"return_value,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// CSVJobHandle is returned when a CSV upload is accepted for processing.
type CSVJobHandle struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

// CSVJobStatus tracks a background CSV ingestion job. The backend reports
// "error" rather than "failed" for failed jobs.
type CSVJobStatus struct {
	ID        string         `json:"id"`
	Type      string         `json:"type,omitempty"`
	Status    string         `json:"status"`
	Progress  int            `json:"progress"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

// Terminal reports whether the job has finished either way.
func (s CSVJobStatus) Terminal() bool {
	return s.Status == RunCompleted || s.Status == RunFailed || s.Status == "error"
}

// APIRecord is an entry of the API catalog. The backend passes the JSON
// columns through unparsed when they are not valid JSON, so they stay untyped.
type APIRecord struct {
	ID           string `json:"id"`
	SystemName   string `json:"system_name"`
	APIName      string `json:"api_name"`
	ParamsValues any    `json:"params_values"`
	ReturnValues any    `json:"return_values"`
	Description  string `json:"description"`
}
