package state

// TaskStatus is the live scheduling status of a task.
type TaskStatus string

const (
	TaskTodo             TaskStatus = "Todo"             // Waiting to be dispatched
	TaskInProgress       TaskStatus = "InProgress"       // Dispatched, job running
	TaskCompletedSuccess TaskStatus = "CompletedSuccess" // Terminal success
	TaskCompletedFailure TaskStatus = "CompletedFailure" // Terminal failure for this attempt
)

// Outcome is the processed result of a dispatched task's job.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// TaskDefinition is one planned unit of work. Definitions are produced by
// the planning phase and frozen once the plan is approved.
type TaskDefinition struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
	ExecuteAlone bool     `json:"execute_alone"`
	MaxRetries   int      `json:"max_retries"`
}

// LiveTask is the mutable scheduling view of a TaskDefinition, created
// once per run after tracker sync and mutated only by the orchestrator.
type LiveTask struct {
	TaskDefinition
	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	TrackerID   string     `json:"tracker_id,omitempty"`
	Branch      string     `json:"branch,omitempty"`
	LastFailure string     `json:"last_failure,omitempty"`
}

// JobStatus is the classified state of an external code-generation job.
type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobSucceeded JobStatus = "Succeeded"
	JobFailed    JobStatus = "Failed"
)

// Terminal reports whether the job has reached a final state.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// PollState tracks the polling loop for the currently dispatched task's
// job. It is created on dispatch and discarded once the dispatch reaches a
// terminal outcome.
type PollState struct {
	JobID           string    `json:"job_id"`
	Status          JobStatus `json:"status"`
	Attempts        int       `json:"attempts"`
	TransientErrors int       `json:"transient_errors"`
	LastError       string    `json:"last_error,omitempty"`
	Result          string    `json:"result,omitempty"`
}

// EscalatedFailure carries a permanently failed task back to the planning
// phase as re-planning input.
type EscalatedFailure struct {
	Task   TaskDefinition `json:"task"`
	Reason string         `json:"reason"`
}
