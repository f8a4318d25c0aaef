// Package orchestrate schedules the approved task plan: one dispatch at a
// time, dependency-ordered, with bounded retries and escalation back to
// planning for tasks that exhaust their budget.
package orchestrate

import (
	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/state"
)

// DecisionKind classifies one orchestrator tick's outcome.
type DecisionKind int

const (
	// DecisionDispatch selected a task; it is now InProgress.
	DecisionDispatch DecisionKind = iota
	// DecisionRetry re-queued a failed task with budget left; tick again.
	DecisionRetry
	// DecisionAllComplete means every task is CompletedSuccess.
	DecisionAllComplete
	// DecisionEscalate carries a permanently failed task back to planning.
	DecisionEscalate
	// DecisionStalled means no task is dispatchable, not all are complete,
	// and no failure is retryable. Fatal: the dependency graph cannot
	// self-resolve.
	DecisionStalled
)

// Decision is the outcome of one orchestrator tick.
type Decision struct {
	Kind       DecisionKind
	TaskID     string                  // set for Dispatch and Retry
	Escalation *state.EscalatedFailure // set for Escalate
}

// Orchestrator is the per-tick scheduler over the run's live tasks. It
// holds no state of its own; everything lives in the shared state so the
// scheduler survives checkpointing.
type Orchestrator struct {
	log *zap.Logger
}

func NewOrchestrator(log *zap.Logger) *Orchestrator {
	return &Orchestrator{log: log.Named("orchestrator")}
}

// Tick runs one scheduling pass: absorb the previous dispatch's outcome,
// then resolve dependencies and decide what happens next.
func (o *Orchestrator) Tick(st *state.State) Decision {
	o.absorb(st)

	if task := o.selectNext(st); task != nil {
		task.Status = state.TaskInProgress
		st.ActiveTaskID = task.ID
		o.log.Info("dispatching task",
			zap.String("task", task.ID),
			zap.Int("attempt", task.Attempts+1))
		return Decision{Kind: DecisionDispatch, TaskID: task.ID}
	}

	if allComplete(st.LiveTasks) {
		o.log.Info("all tasks complete", zap.Int("tasks", len(st.LiveTasks)))
		return Decision{Kind: DecisionAllComplete}
	}

	for i := range st.LiveTasks {
		t := &st.LiveTasks[i]
		if t.Status != state.TaskCompletedFailure {
			continue
		}
		if t.Attempts < t.MaxRetries {
			t.Status = state.TaskTodo
			t.Attempts++
			o.log.Info("retrying failed task",
				zap.String("task", t.ID),
				zap.Int("attempt", t.Attempts))
			return Decision{Kind: DecisionRetry, TaskID: t.ID}
		}
		o.log.Warn("escalating task to planning",
			zap.String("task", t.ID),
			zap.String("reason", t.LastFailure))
		return Decision{Kind: DecisionEscalate, Escalation: &state.EscalatedFailure{
			Task:   t.TaskDefinition,
			Reason: t.LastFailure,
		}}
	}

	o.log.Error("task graph stalled: no dispatchable task and no retryable failure")
	return Decision{Kind: DecisionStalled}
}

// absorb applies the processed outcome of the previously dispatched task,
// if one is pending.
func (o *Orchestrator) absorb(st *state.State) {
	if st.ProcessedTaskID == "" {
		return
	}
	task := st.Task(st.ProcessedTaskID)
	if task == nil {
		o.log.Warn("processed outcome for unknown task", zap.String("task", st.ProcessedTaskID))
		st.ClearProcessed()
		return
	}

	switch st.ProcessedOutcome {
	case state.OutcomeSuccess:
		task.Status = state.TaskCompletedSuccess
		task.LastFailure = ""
	case state.OutcomeFailure:
		task.Status = state.TaskCompletedFailure
		task.LastFailure = st.ProcessedFailure
	}
	o.log.Info("absorbed task outcome",
		zap.String("task", task.ID),
		zap.String("outcome", string(st.ProcessedOutcome)))
	st.ClearProcessed()
	st.ClearDispatch()
}

// selectNext returns the first task in definition order that is Todo with
// every dependency CompletedSuccess. executeAlone tasks additionally
// require that nothing else is InProgress, and nothing may start while an
// executeAlone task is running.
func (o *Orchestrator) selectNext(st *state.State) *state.LiveTask {
	anyInProgress := false
	exclusiveInProgress := false
	for i := range st.LiveTasks {
		if st.LiveTasks[i].Status == state.TaskInProgress {
			anyInProgress = true
			if st.LiveTasks[i].ExecuteAlone {
				exclusiveInProgress = true
			}
		}
	}
	if exclusiveInProgress {
		return nil
	}

	for i := range st.LiveTasks {
		t := &st.LiveTasks[i]
		if t.Status != state.TaskTodo {
			continue
		}
		if !depsSatisfied(st, t) {
			continue
		}
		if t.ExecuteAlone && anyInProgress {
			continue
		}
		return t
	}
	return nil
}

func depsSatisfied(st *state.State, t *state.LiveTask) bool {
	for _, dep := range t.Dependencies {
		d := st.Task(dep)
		if d == nil || d.Status != state.TaskCompletedSuccess {
			return false
		}
	}
	return true
}

func allComplete(tasks []state.LiveTask) bool {
	for i := range tasks {
		if tasks[i].Status != state.TaskCompletedSuccess {
			return false
		}
	}
	return true
}
