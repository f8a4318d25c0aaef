// Package state defines the shared document threaded through every
// workflow step. The engine owns exactly one State per run; whichever step
// is currently executing is the only mutator.
package state

// Message is one record in the run's conversation history.
type Message struct {
	Role   string `json:"role"` // "user", "assistant", "system"
	Author string `json:"author,omitempty"`
	Text   string `json:"text"`
}

// State is the single mutable document for one workflow run. It is
// JSON-serializable so checkpoints can capture it wholesale.
type State struct {
	Request string    `json:"request"` // The original user request
	History []Message `json:"history"` // Append-only

	// Context phase
	ContextSummary    string `json:"context_summary,omitempty"`
	ContextApproved   bool   `json:"context_approved"`
	ContextIterations int    `json:"context_iterations"`
	ContextFeedback   string `json:"context_feedback,omitempty"`
	BackgroundResults string `json:"background_results,omitempty"`

	// Requirements phase
	RequirementsDoc        string `json:"requirements_doc,omitempty"`
	RequirementsApproved   bool   `json:"requirements_approved"`
	RequirementsIterations int    `json:"requirements_iterations"`
	RequirementsFeedback   string `json:"requirements_feedback,omitempty"`

	// Planning phase
	PlanIterations  int              `json:"plan_iterations"`
	PlanApproved    bool             `json:"plan_approved"`
	PlanFeedback    string           `json:"plan_feedback,omitempty"`
	TaskDefinitions []TaskDefinition `json:"task_definitions,omitempty"`
	Escalated       *EscalatedFailure `json:"escalated,omitempty"`

	// Orchestration
	LiveTasks        []LiveTask `json:"live_tasks,omitempty"`
	TrackerProjectID string     `json:"tracker_project_id,omitempty"`
	ActiveTaskID     string     `json:"active_task_id,omitempty"`
	Poll             *PollState `json:"poll,omitempty"`

	// Outcome of the most recently finished dispatch, absorbed by the
	// orchestrator on its next tick.
	ProcessedTaskID  string  `json:"processed_task_id,omitempty"`
	ProcessedOutcome Outcome `json:"processed_outcome,omitempty"`
	ProcessedFailure string  `json:"processed_failure,omitempty"`

	// Human review. PendingReview non-empty means the run is suspended;
	// PendingAnswer is filled in by the resume channel.
	PendingReview string `json:"pending_review,omitempty"`
	PendingAnswer string `json:"pending_answer,omitempty"`
}

// New returns a State initialized with the user's request as the first
// history entry.
func New(request string) *State {
	return &State{
		Request: request,
		History: []Message{{Role: "user", Text: request}},
	}
}

// Append adds a message to the history.
func (s *State) Append(role, author, text string) {
	s.History = append(s.History, Message{Role: role, Author: author, Text: text})
}

// Task returns a pointer to the live task with the given id, or nil.
func (s *State) Task(id string) *LiveTask {
	for i := range s.LiveTasks {
		if s.LiveTasks[i].ID == id {
			return &s.LiveTasks[i]
		}
	}
	return nil
}

// ClearDispatch discards per-dispatch fields once a dispatch has reached a
// terminal outcome.
func (s *State) ClearDispatch() {
	s.ActiveTaskID = ""
	s.Poll = nil
}

// ClearProcessed discards the pending-outcome fields after the
// orchestrator has absorbed them.
func (s *State) ClearProcessed() {
	s.ProcessedTaskID = ""
	s.ProcessedOutcome = ""
	s.ProcessedFailure = ""
}
