// Package workflow assembles the delivery pipeline: context gathering,
// requirements drafting, task planning, tracker sync, and task
// orchestration with external code-generation jobs, each review point
// suspending for a human decision.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/clients"
	"github.com/aristath/devflow/internal/engine"
	"github.com/aristath/devflow/internal/events"
	"github.com/aristath/devflow/internal/gate"
	"github.com/aristath/devflow/internal/orchestrate"
	"github.com/aristath/devflow/internal/phase"
	"github.com/aristath/devflow/internal/state"
)

// Step names. The graph is static; every successor below is declared.
const (
	StepGatherContext      = "gather_context"
	StepReviewContext      = "review_context"
	StepDraftRequirements  = "draft_requirements"
	StepReviewRequirements = "review_requirements"
	StepPlanTasks          = "plan_tasks"
	StepReviewPlan         = "review_plan"
	StepSyncTracker        = "sync_tracker"
	StepOrchestrate        = "orchestrate"
	StepDispatchJob        = "dispatch_job"
	StepPollJob            = "poll_job"
	StepJobSucceeded       = "job_succeeded"
	StepJobFailed          = "job_failed"
	StepFinish             = "finish"
)

// Limits carries the iteration and polling budgets read once at run start.
type Limits struct {
	ContextIterations      int
	RequirementsIterations int
	PlanIterations         int
	PollAttempts           int
	TransientErrors        int
	PollInterval           time.Duration
	BackgroundInvestigate  bool
	BaseBranch             string
}

// Builder wires the controllers, gates, and schedulers into a graph for
// one run.
type Builder struct {
	reg    *clients.Registry
	log    *zap.Logger
	bus    *events.Bus
	limits Limits

	contextCtl      *phase.ContextController
	requirementsCtl *phase.RequirementsController
	planningCtl     *phase.PlanningController
	orch            *orchestrate.Orchestrator
	poller          *orchestrate.Poller

	contextGate      *gate.Gate
	requirementsGate *gate.Gate
	planGate         *gate.Gate
}

// New creates a builder over the given collaborators. Tracker and
// SourceControl in the registry may be nil; the pipeline degrades to
// local-only bookkeeping for those concerns.
func New(reg *clients.Registry, log *zap.Logger, bus *events.Bus, limits Limits) *Builder {
	if limits.BaseBranch == "" {
		limits.BaseBranch = "main"
	}
	return &Builder{
		reg:    reg,
		log:    log,
		bus:    bus,
		limits: limits,

		contextCtl:      phase.NewContextController(reg.LLM, log, limits.ContextIterations, limits.BackgroundInvestigate),
		requirementsCtl: phase.NewRequirementsController(reg.LLM, log, limits.RequirementsIterations),
		planningCtl:     phase.NewPlanningController(reg.LLM, log, limits.PlanIterations),
		orch:            orchestrate.NewOrchestrator(log),
		poller:          orchestrate.NewPoller(reg.Codegen, log, limits.PollAttempts, limits.TransientErrors, limits.PollInterval),

		contextGate:      gate.New("context-review"),
		requirementsGate: gate.New("requirements-review"),
		planGate:         gate.New("plan-review"),
	}
}

// Build returns the validated-shape graph for one run. runID labels the
// task events this run's steps publish.
func (b *Builder) Build(runID string) *engine.Graph {
	g := engine.NewGraph(StepGatherContext)

	g.MustAdd(StepGatherContext, b.gatherContext, StepReviewContext)
	g.MustAdd(StepReviewContext, b.reviewContext, StepGatherContext, StepDraftRequirements)
	g.MustAdd(StepDraftRequirements, b.draftRequirements, StepReviewRequirements)
	g.MustAdd(StepReviewRequirements, b.reviewRequirements, StepDraftRequirements, StepPlanTasks)
	g.MustAdd(StepPlanTasks, b.planTasks, StepPlanTasks, StepReviewPlan)
	g.MustAdd(StepReviewPlan, b.reviewPlan, StepPlanTasks, StepSyncTracker)
	g.MustAdd(StepSyncTracker, b.syncTracker, StepOrchestrate)
	g.MustAdd(StepOrchestrate, b.orchestrateTick(runID), StepOrchestrate, StepDispatchJob, StepPlanTasks, StepFinish)
	g.MustAdd(StepDispatchJob, b.dispatchJob(runID), StepPollJob)
	g.MustAdd(StepPollJob, b.pollJob(runID), StepPollJob, StepJobSucceeded, StepJobFailed)
	g.MustAdd(StepJobSucceeded, b.jobSucceeded(runID), StepOrchestrate)
	g.MustAdd(StepJobFailed, b.jobFailed(runID), StepOrchestrate)
	g.MustAdd(StepFinish, b.finish)

	return g
}

func (b *Builder) gatherContext(ctx context.Context, st *state.State) engine.Result {
	if err := b.contextCtl.Draft(ctx, st); err != nil {
		return engine.Fail(err)
	}
	return engine.Goto(StepReviewContext)
}

func (b *Builder) reviewContext(ctx context.Context, st *state.State) engine.Result {
	prompt := fmt.Sprintf("Please review the project context summary:\n\n%s\n\nReply \"approve\" to continue or describe what to change.", st.ContextSummary)
	switch res := b.contextGate.Review(st, prompt); res.Decision {
	case gate.AwaitingInput:
		return engine.Suspend()
	case gate.Approved:
		st.ContextApproved = true
		return engine.Goto(StepDraftRequirements)
	default:
		st.ContextFeedback = res.Feedback
		return engine.Goto(StepGatherContext)
	}
}

func (b *Builder) draftRequirements(ctx context.Context, st *state.State) engine.Result {
	if err := b.requirementsCtl.Draft(ctx, st); err != nil {
		return engine.Fail(err)
	}
	return engine.Goto(StepReviewRequirements)
}

func (b *Builder) reviewRequirements(ctx context.Context, st *state.State) engine.Result {
	prompt := fmt.Sprintf("Please review the requirements document:\n\n%s\n\nReply \"approve\" to continue or describe what to change.", st.RequirementsDoc)
	switch res := b.requirementsGate.Review(st, prompt); res.Decision {
	case gate.AwaitingInput:
		return engine.Suspend()
	case gate.Approved:
		st.RequirementsApproved = true
		return engine.Goto(StepPlanTasks)
	default:
		st.RequirementsFeedback = res.Feedback
		return engine.Goto(StepDraftRequirements)
	}
}

func (b *Builder) planTasks(ctx context.Context, st *state.State) engine.Result {
	err := b.planningCtl.Draft(ctx, st)
	switch {
	case errors.Is(err, phase.ErrInvalidPlan):
		// Validation feedback is already in the state; draft again. The
		// iteration budget bounds this loop.
		return engine.Goto(StepPlanTasks)
	case err != nil:
		return engine.Fail(err)
	}
	return engine.Goto(StepReviewPlan)
}

func (b *Builder) reviewPlan(ctx context.Context, st *state.State) engine.Result {
	prompt := fmt.Sprintf("Please review the task plan:\n\n%s\nReply \"approve\" to start execution or describe what to change.", planSummary(st))
	switch res := b.planGate.Review(st, prompt); res.Decision {
	case gate.AwaitingInput:
		return engine.Suspend()
	case gate.Approved:
		st.PlanApproved = true
		return engine.Goto(StepSyncTracker)
	default:
		st.PlanFeedback = res.Feedback
		return engine.Goto(StepPlanTasks)
	}
}

// syncTracker derives the live scheduling view from the approved plan and
// mirrors it into the issue tracker. Tracker failures degrade to local
// ids; they never block execution.
func (b *Builder) syncTracker(ctx context.Context, st *state.State) engine.Result {
	st.LiveTasks = make([]state.LiveTask, 0, len(st.TaskDefinitions))
	for _, td := range st.TaskDefinitions {
		st.LiveTasks = append(st.LiveTasks, state.LiveTask{
			TaskDefinition: td,
			Status:         state.TaskTodo,
		})
	}

	if b.reg.Tracker == nil {
		b.log.Info("no tracker configured, using local task ids")
		for i := range st.LiveTasks {
			st.LiveTasks[i].TrackerID = "local-" + st.LiveTasks[i].ID
		}
		return engine.Goto(StepOrchestrate)
	}

	if st.TrackerProjectID == "" {
		projectID, err := b.reg.Tracker.CreateProject(ctx, projectName(st), st.RequirementsDoc)
		if err != nil {
			b.log.Warn("tracker project creation failed, degrading to local ids", zap.Error(err))
		} else {
			st.TrackerProjectID = projectID
		}
	}

	for i := range st.LiveTasks {
		t := &st.LiveTasks[i]
		if t.TrackerID != "" {
			continue
		}
		created, err := b.reg.Tracker.CreateTask(ctx, t.Name, t.Description, st.TrackerProjectID)
		if err != nil {
			b.log.Warn("tracker task creation failed, using local id",
				zap.String("task", t.ID), zap.Error(err))
			t.TrackerID = "local-" + t.ID
			continue
		}
		t.TrackerID = created.ID
	}
	return engine.Goto(StepOrchestrate)
}

func (b *Builder) orchestrateTick(runID string) engine.StepFunc {
	return func(ctx context.Context, st *state.State) engine.Result {
		decision := b.orch.Tick(st)
		switch decision.Kind {
		case orchestrate.DecisionDispatch:
			return engine.Goto(StepDispatchJob)

		case orchestrate.DecisionRetry:
			return engine.Goto(StepOrchestrate)

		case orchestrate.DecisionAllComplete:
			return engine.Goto(StepFinish)

		case orchestrate.DecisionEscalate:
			st.Escalated = decision.Escalation
			st.PlanApproved = false
			st.LiveTasks = nil
			st.Append("assistant", "orchestrator", fmt.Sprintf(
				"Task %q failed permanently (%s) and is being sent back to planning.",
				decision.Escalation.Task.Name, decision.Escalation.Reason))
			return engine.Goto(StepPlanTasks)

		default:
			st.Append("assistant", "orchestrator",
				"Task execution stalled: no task can be dispatched and not all tasks are complete. The dependency graph needs manual inspection.")
			return engine.Failf("task graph stalled for run %s", runID)
		}
	}
}

func (b *Builder) dispatchJob(runID string) engine.StepFunc {
	return func(ctx context.Context, st *state.State) engine.Result {
		task := st.Task(st.ActiveTaskID)
		if task == nil {
			return engine.Failf("dispatch without an active task")
		}

		if b.reg.SourceControl != nil && task.Branch == "" {
			branch := "devflow/" + task.ID
			if err := b.reg.SourceControl.CreateBranch(ctx, branch, b.limits.BaseBranch); err != nil {
				b.log.Warn("branch creation failed, job runs without a dedicated branch",
					zap.String("task", task.ID), zap.Error(err))
			} else {
				task.Branch = branch
			}
		}

		b.updateTracker(ctx, task, map[string]string{"stateId": "started"})
		b.poller.Dispatch(ctx, st, task)
		b.bus.Publish(events.TopicTask, events.TaskDispatchedEvent{
			Run: runID, Task: task.ID, Name: task.Name, Attempt: task.Attempts + 1, Timestamp: time.Now(),
		})
		return engine.Goto(StepPollJob)
	}
}

func (b *Builder) pollJob(runID string) engine.StepFunc {
	return func(ctx context.Context, st *state.State) engine.Result {
		if st.Poll == nil {
			return engine.Failf("poll without a dispatched job")
		}

		if !st.Poll.Status.Terminal() {
			if err := b.poller.Poll(ctx, st); err != nil {
				return engine.Fail(err)
			}
			b.bus.Publish(events.TopicTask, events.PollTickEvent{
				Run: runID, Job: st.Poll.JobID, Attempt: st.Poll.Attempts,
				Status: string(st.Poll.Status), Timestamp: time.Now(),
			})
		}

		switch st.Poll.Status {
		case state.JobSucceeded:
			return engine.Goto(StepJobSucceeded)
		case state.JobFailed:
			return engine.Goto(StepJobFailed)
		default:
			return engine.Goto(StepPollJob)
		}
	}
}

func (b *Builder) jobSucceeded(runID string) engine.StepFunc {
	return func(ctx context.Context, st *state.State) engine.Result {
		task := st.Task(st.ActiveTaskID)
		if task == nil {
			return engine.Failf("job outcome without an active task")
		}

		if b.reg.SourceControl != nil && task.Branch != "" {
			merged, err := b.reg.SourceControl.MergeBranch(ctx, task.Branch, b.limits.BaseBranch,
				fmt.Sprintf("Merge %s: %s", task.Branch, task.Name))
			if err != nil {
				b.log.Warn("merge failed", zap.String("task", task.ID), zap.Error(err))
			} else if !merged {
				b.log.Warn("branch has conflicts and was left unmerged",
					zap.String("task", task.ID), zap.String("branch", task.Branch))
			}
		}
		b.updateTracker(ctx, task, map[string]string{"stateId": "completed"})

		st.ProcessedTaskID = task.ID
		st.ProcessedOutcome = state.OutcomeSuccess
		st.Append("assistant", "orchestrator", fmt.Sprintf("Task %q completed successfully.", task.Name))
		b.bus.Publish(events.TopicTask, events.TaskFinishedEvent{
			Run: runID, Task: task.ID, Outcome: string(state.OutcomeSuccess),
			Detail: st.Poll.Result, Timestamp: time.Now(),
		})
		return engine.Goto(StepOrchestrate)
	}
}

func (b *Builder) jobFailed(runID string) engine.StepFunc {
	return func(ctx context.Context, st *state.State) engine.Result {
		task := st.Task(st.ActiveTaskID)
		if task == nil {
			return engine.Failf("job outcome without an active task")
		}

		reason := st.Poll.LastError
		if reason == "" {
			reason = "job failed without a reported reason"
		}
		b.updateTracker(ctx, task, map[string]string{"stateId": "failed"})

		st.ProcessedTaskID = task.ID
		st.ProcessedOutcome = state.OutcomeFailure
		st.ProcessedFailure = reason
		st.Append("assistant", "orchestrator", fmt.Sprintf("Task %q failed: %s", task.Name, reason))
		b.bus.Publish(events.TopicTask, events.TaskFinishedEvent{
			Run: runID, Task: task.ID, Outcome: string(state.OutcomeFailure),
			Detail: reason, Timestamp: time.Now(),
		})
		return engine.Goto(StepOrchestrate)
	}
}

func (b *Builder) finish(ctx context.Context, st *state.State) engine.Result {
	st.Append("assistant", "engine", fmt.Sprintf(
		"All %d tasks completed successfully. The run is finished.", len(st.LiveTasks)))
	return engine.End()
}

// updateTracker pushes a status change for a task's tracker issue.
// Failures are logged only; the tracker mirror is best-effort.
func (b *Builder) updateTracker(ctx context.Context, task *state.LiveTask, fields map[string]string) {
	if b.reg.Tracker == nil || task.TrackerID == "" || isLocalID(task.TrackerID) {
		return
	}
	if err := b.reg.Tracker.UpdateTask(ctx, task.TrackerID, fields); err != nil {
		b.log.Warn("tracker update failed",
			zap.String("task", task.ID), zap.Error(err))
	}
}

func isLocalID(id string) bool {
	return len(id) > 6 && id[:6] == "local-"
}

func projectName(st *state.State) string {
	runes := []rune(st.Request)
	if len(runes) > 60 {
		return string(runes[:60])
	}
	return st.Request
}

func planSummary(st *state.State) string {
	var b []byte
	for _, t := range st.TaskDefinitions {
		b = append(b, fmt.Sprintf("- %s: %s\n", t.ID, t.Name)...)
	}
	return string(b)
}
