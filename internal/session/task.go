package session

import (
	"time"

	"github.com/wvw-insights/cbtup/internal/catalog"
)

// TaskStatus is the lifecycle of one file within a session.
type TaskStatus int

const (
	Pending TaskStatus = iota
	InFlight
	Succeeded
	Failed
)

func (s TaskStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in-flight"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == Succeeded || s == Failed
}

// State is the lifecycle of a session. It only moves forward.
type State int

const (
	Idle State = iota
	Running
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Task is one selected log within a session.
type Task struct {
	ID         string           `json:"id"`
	Entry      catalog.LogEntry `json:"entry"`
	Status     TaskStatus       `json:"status"`
	Attempts   int              `json:"attempts"`
	LastError  string           `json:"last_error,omitempty"`
	ResultLink string           `json:"result_link,omitempty"`
	ReportID   string           `json:"report_id,omitempty"`
}

// Snapshot is a consistent point-in-time view of a session.
// Succeeded+Failed+InFlight+Pending always equals Total.
type Snapshot struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Total     int       `json:"total"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	InFlight  int       `json:"in_flight"`
	Pending   int       `json:"pending"`

	// Unrecorded counts successful uploads whose history record failed to save.
	Unrecorded int `json:"unrecorded,omitempty"`
}

// Done is the number of terminal tasks.
func (s Snapshot) Done() int {
	return s.Succeeded + s.Failed
}
