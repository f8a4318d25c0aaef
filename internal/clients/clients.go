// Package clients defines the external collaborators the workflow engine
// consumes and their concrete bindings. The registry is constructed once
// at process start and passed into the workflow builder; nothing in this
// package holds process-global state.
package clients

import (
	"context"

	"github.com/aristath/devflow/internal/state"
)

// LLM generates text from a message sequence. Failures are terminal for
// the calling drafting attempt; the engine never retries them silently.
type LLM interface {
	Generate(ctx context.Context, messages []state.Message) (string, error)
}

// JobStatus is the raw answer from one job poll.
type JobStatus struct {
	Raw    string // Provider status string, e.g. "running"
	Result string // Payload on terminal states, or failure reason
}

// Codegen starts and polls asynchronous code-generation jobs.
type Codegen interface {
	StartJob(ctx context.Context, description string) (string, error)
	PollJob(ctx context.Context, jobID string) (JobStatus, error)
}

// TrackerTask identifies a created issue-tracker task.
type TrackerTask struct {
	ID  string
	URL string
}

// Tracker mirrors tasks into an external issue tracker.
type Tracker interface {
	CreateProject(ctx context.Context, name, description string) (string, error)
	CreateTask(ctx context.Context, title, description, projectID string) (TrackerTask, error)
	UpdateTask(ctx context.Context, taskID string, fields map[string]string) error
}

// SourceControl manages branches for dispatched tasks.
type SourceControl interface {
	CreateBranch(ctx context.Context, name, fromRef string) error
	MergeBranch(ctx context.Context, head, base, message string) (bool, error)
}

// Registry bundles all collaborators for dependency injection. Optional
// collaborators (Tracker, SourceControl) may be nil; callers degrade to
// local behavior when they are.
type Registry struct {
	LLM           LLM
	Codegen       Codegen
	Tracker       Tracker
	SourceControl SourceControl
}
