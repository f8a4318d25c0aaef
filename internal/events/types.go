package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	RunID() string
}

// Topic constants
const (
	TopicRun  = "run"
	TopicTask = "task"
)

// Event type constants
const (
	EventTypeStepStarted    = "run.step_started"
	EventTypeRunSuspended   = "run.suspended"
	EventTypeRunFinished    = "run.finished"
	EventTypeRunFailed      = "run.failed"
	EventTypeTaskDispatched = "task.dispatched"
	EventTypePollTick       = "task.poll_tick"
	EventTypeTaskFinished   = "task.finished"
)

// StepStartedEvent is published when the engine enters a step.
type StepStartedEvent struct {
	Run       string
	Step      string
	Timestamp time.Time
}

func (e StepStartedEvent) EventType() string { return EventTypeStepStarted }
func (e StepStartedEvent) RunID() string     { return e.Run }

// RunSuspendedEvent is published when a run suspends for human input.
type RunSuspendedEvent struct {
	Run       string
	Step      string
	Question  string
	Timestamp time.Time
}

func (e RunSuspendedEvent) EventType() string { return EventTypeRunSuspended }
func (e RunSuspendedEvent) RunID() string     { return e.Run }

// RunFinishedEvent is published when a run terminates cleanly.
type RunFinishedEvent struct {
	Run       string
	Steps     int
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) RunID() string     { return e.Run }

// RunFailedEvent is published when a run terminates with an error.
type RunFailedEvent struct {
	Run       string
	Step      string
	Err       error
	Timestamp time.Time
}

func (e RunFailedEvent) EventType() string { return EventTypeRunFailed }
func (e RunFailedEvent) RunID() string     { return e.Run }

// TaskDispatchedEvent is published when the orchestrator dispatches a task.
type TaskDispatchedEvent struct {
	Run       string
	Task      string
	Name      string
	Attempt   int
	Timestamp time.Time
}

func (e TaskDispatchedEvent) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatchedEvent) RunID() string     { return e.Run }

// PollTickEvent is published on each poll of an external job.
type PollTickEvent struct {
	Run       string
	Job       string
	Attempt   int
	Status    string
	Timestamp time.Time
}

func (e PollTickEvent) EventType() string { return EventTypePollTick }
func (e PollTickEvent) RunID() string     { return e.Run }

// TaskFinishedEvent is published when a dispatched task reaches a terminal
// outcome.
type TaskFinishedEvent struct {
	Run       string
	Task      string
	Outcome   string
	Detail    string
	Timestamp time.Time
}

func (e TaskFinishedEvent) EventType() string { return EventTypeTaskFinished }
func (e TaskFinishedEvent) RunID() string     { return e.Run }
