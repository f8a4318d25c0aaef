// Package engine executes a workflow as a directed graph of named steps
// over a single shared state. Execution is single-threaded and
// cooperative: one step runs to completion (or to a suspension point)
// before the engine advances. Suspension checkpoints the whole state so a
// run can resume in a separate process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/events"
	"github.com/aristath/devflow/internal/state"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning    Status = "running"
	StatusSuspended  Status = "suspended"
	StatusTerminated Status = "terminated"
	StatusFailed     Status = "failed"
)

// Checkpoint is the durable snapshot of one run: the full shared state
// plus the name of the step to resume into.
type Checkpoint struct {
	RunID     string       `json:"run_id"`
	Step      string       `json:"step"`
	Status    Status       `json:"status"`
	State     *state.State `json:"state"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Store persists checkpoints keyed by run id.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, runID string) (*Checkpoint, error)
}

var (
	// ErrRunNotFound is returned by stores when no checkpoint exists for
	// a run id.
	ErrRunNotFound = errors.New("run not found")

	// ErrNotSuspended is returned by Resume when the target run is not
	// waiting for input.
	ErrNotSuspended = errors.New("run is not suspended")

	// ErrMaxSteps is returned when a run exceeds its step budget, which
	// indicates a routing loop.
	ErrMaxSteps = errors.New("maximum step count exceeded")
)

const defaultMaxSteps = 500

// Engine drives runs of a validated graph.
type Engine struct {
	graph    *Graph
	store    Store
	log      *zap.Logger
	bus      *events.Bus
	maxSteps int
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus makes the engine publish progress events.
func WithBus(bus *events.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithMaxSteps overrides the per-run step budget.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// New validates the graph and returns an engine over it.
func New(graph *Graph, store Store, log *zap.Logger, opts ...Option) (*Engine, error) {
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	e := &Engine{
		graph:    graph,
		store:    store,
		log:      log,
		maxSteps: defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run starts a new run from the entry step. It returns the final
// checkpoint: suspended (waiting for an answer), terminated, or failed.
func (e *Engine) Run(ctx context.Context, runID string, st *state.State) (*Checkpoint, error) {
	return e.loop(ctx, runID, e.graph.Entry(), st)
}

// Resume loads a suspended run, hands it the human's answer, and
// continues from the checkpointed step.
func (e *Engine) Resume(ctx context.Context, runID, answer string) (*Checkpoint, error) {
	cp, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint for run %s: %w", runID, err)
	}
	if cp.Status != StatusSuspended {
		return nil, fmt.Errorf("run %s has status %s: %w", runID, cp.Status, ErrNotSuspended)
	}

	cp.State.PendingAnswer = answer
	return e.loop(ctx, runID, cp.Step, cp.State)
}

// loop advances the run until it suspends, ends, or fails. Steps execute
// strictly in graph order; there is no reordering and no mid-step
// cancellation beyond the context each step receives.
func (e *Engine) loop(ctx context.Context, runID, current string, st *state.State) (*Checkpoint, error) {
	for steps := 0; ; steps++ {
		if steps >= e.maxSteps {
			st.Append("assistant", "engine", fmt.Sprintf(
				"The run was stopped after %d steps without completing. This indicates a routing loop; please inspect the run and restart.", e.maxSteps))
			cp := e.save(ctx, runID, current, StatusFailed, st)
			e.bus.Publish(events.TopicRun, events.RunFailedEvent{Run: runID, Step: current, Err: ErrMaxSteps, Timestamp: time.Now()})
			return cp, ErrMaxSteps
		}

		step, ok := e.graph.Step(current)
		if !ok {
			return nil, fmt.Errorf("run %s reached unknown step %q", runID, current)
		}

		e.log.Debug("executing step", zap.String("run", runID), zap.String("step", current))
		e.bus.Publish(events.TopicRun, events.StepStartedEvent{Run: runID, Step: current, Timestamp: time.Now()})

		res := step.Run(ctx, st)

		switch res.kind {
		case kindGoto:
			if !step.allowed(res.next) {
				return nil, fmt.Errorf("step %q returned undeclared successor %q", current, res.next)
			}
			current = res.next

		case kindSuspend:
			cp := &Checkpoint{RunID: runID, Step: current, Status: StatusSuspended, State: st, UpdatedAt: time.Now()}
			if err := e.store.Save(ctx, cp); err != nil {
				return nil, fmt.Errorf("checkpointing run %s before suspension: %w", runID, err)
			}
			e.log.Info("run suspended", zap.String("run", runID), zap.String("step", current))
			e.bus.Publish(events.TopicRun, events.RunSuspendedEvent{Run: runID, Step: current, Question: st.PendingReview, Timestamp: time.Now()})
			return cp, nil

		case kindEnd:
			cp := e.save(ctx, runID, current, StatusTerminated, st)
			e.log.Info("run finished", zap.String("run", runID), zap.Int("steps", steps+1))
			e.bus.Publish(events.TopicRun, events.RunFinishedEvent{Run: runID, Steps: steps + 1, Timestamp: time.Now()})
			return cp, nil

		case kindFail:
			st.Append("assistant", "engine", fmt.Sprintf("The run ended with an unrecoverable error: %v", res.err))
			cp := e.save(ctx, runID, current, StatusFailed, st)
			e.log.Error("run failed", zap.String("run", runID), zap.String("step", current), zap.Error(res.err))
			e.bus.Publish(events.TopicRun, events.RunFailedEvent{Run: runID, Step: current, Err: res.err, Timestamp: time.Now()})
			return cp, res.err
		}
	}
}

// save writes a terminal or failure checkpoint. Save errors at this point
// are logged, not returned: the run outcome matters more than the record.
func (e *Engine) save(ctx context.Context, runID, step string, status Status, st *state.State) *Checkpoint {
	cp := &Checkpoint{RunID: runID, Step: step, Status: status, State: st, UpdatedAt: time.Now()}
	if err := e.store.Save(ctx, cp); err != nil {
		e.log.Warn("failed to save checkpoint", zap.String("run", runID), zap.Error(err))
	}
	return cp
}
