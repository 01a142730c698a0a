package mcp

// ListLogsInput represents input for the list_logs tool
type ListLogsInput struct {
	Window       string `json:"window,omitempty" jsonschema:"time window: all, session, 24h, 48h or 72h (default: all)"`
	HideUploaded bool   `json:"hide_uploaded,omitempty" jsonschema:"hide logs that were already uploaded"`
	Limit        int    `json:"limit,omitempty" jsonschema:"maximum number of logs to return (newest first)"`
}

// ListLogsOutput represents output from the list_logs tool
type ListLogsOutput struct {
	Logs  []LogInfo `json:"logs"`
	Total int       `json:"total"`
}

// LogInfo represents a single combat log
type LogInfo struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	ModifiedAt  string `json:"modified_at"`
	Age         string `json:"age"`
	Size        int64  `json:"size"`
	Uploaded    bool   `json:"uploaded"`
}

// StartUploadInput represents input for the start_upload tool
type StartUploadInput struct {
	Paths  []string `json:"paths,omitempty" jsonschema:"paths of logs to upload; when empty, every log in the window is uploaded"`
	Window string   `json:"window,omitempty" jsonschema:"time window used when paths is empty (default: session)"`
	Limit  int      `json:"limit,omitempty" jsonschema:"concurrent uploads (default from settings)"`
}

// StartUploadOutput represents output from the start_upload tool
type StartUploadOutput struct {
	SessionID string `json:"session_id"`
	Total     int    `json:"total"`
	Limit     int    `json:"limit"`
}

// UploadStatusInput represents input for the upload_status tool
type UploadStatusInput struct {
	IncludeTasks bool `json:"include_tasks,omitempty" jsonschema:"include per-file task details"`
}

// UploadStatusOutput represents output from the upload_status tool
type UploadStatusOutput struct {
	SessionID string     `json:"session_id,omitempty"`
	State     string     `json:"state"`
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	InFlight  int        `json:"in_flight"`
	Pending   int        `json:"pending"`
	Tasks     []TaskInfo `json:"tasks,omitempty"`
}

// TaskInfo represents one file within an upload session
type TaskInfo struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
	Link     string `json:"link,omitempty"`
}

// CancelUploadInput represents input for the cancel_upload tool
type CancelUploadInput struct{}

// CancelUploadOutput represents output from the cancel_upload tool
type CancelUploadOutput struct {
	Cancelled bool   `json:"cancelled"`
	SessionID string `json:"session_id,omitempty"`
}

// CleanupInput represents input for the cleanup tool
type CleanupInput struct {
	Days   int  `json:"days,omitempty" jsonschema:"move logs older than this many days (default from settings)"`
	DryRun bool `json:"dry_run,omitempty" jsonschema:"only list the logs that would be moved"`
}

// CleanupOutput represents output from the cleanup tool
type CleanupOutput struct {
	ThresholdDays int            `json:"threshold_days"`
	FilesMoved    int            `json:"files_moved"`
	BytesFreed    int64          `json:"bytes_freed"`
	Candidates    []string       `json:"candidates,omitempty"`
	Errors        []CleanupError `json:"errors,omitempty"`
	DryRun        bool           `json:"dry_run"`
}

// CleanupError represents a log that could not be moved
type CleanupError struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// ListTokensInput represents input for the list_tokens tool
type ListTokensInput struct{}

// ListTokensOutput represents output from the list_tokens tool
type ListTokensOutput struct {
	Tokens []TokenInfo `json:"tokens"`
	Active string      `json:"active,omitempty"`
}

// TokenInfo represents a saved token with its secret masked
type TokenInfo struct {
	Name   string `json:"name"`
	Masked string `json:"masked"`
	Active bool   `json:"active"`
}

// SetActiveTokenInput represents input for the set_active_token tool
type SetActiveTokenInput struct {
	Name string `json:"name" jsonschema:"name of the saved token to activate"`
}

// SetActiveTokenOutput represents output from the set_active_token tool
type SetActiveTokenOutput struct {
	Success bool   `json:"success"`
	Active  string `json:"active"`
}

// ListReportsInput represents input for the list_reports tool
type ListReportsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of reports to return (newest first)"`
}

// ListReportsOutput represents output from the list_reports tool
type ListReportsOutput struct {
	Reports []ReportInfo `json:"reports"`
	Total   int          `json:"total"`
}

// ReportInfo represents one uploaded report
type ReportInfo struct {
	TaskID     string `json:"task_id"`
	Name       string `json:"name"`
	Link       string `json:"link"`
	UploadedAt string `json:"uploaded_at"`
	Age        string `json:"age"`
}
