package phase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/clients"
	"github.com/aristath/devflow/internal/jsonrepair"
	"github.com/aristath/devflow/internal/state"
)

const plannerSystemPrompt = `You are a technical planner. Break the approved
requirements document into an ordered list of implementation tasks. Respond
with a JSON array only. Each element is an object with fields:
  "id": string (optional; stable identifier),
  "name": string (short title),
  "description": string (what to implement, self-contained),
  "dependencies": array of task ids this task depends on,
  "execute_alone": bool (true if the task must not overlap any other),
  "max_retries": integer (attempts allowed beyond the first).
Order tasks so that dependencies come first. Keep each task small enough
for a single automated coding job.`

// PlanningController drafts the task plan, repairs and normalizes the
// model's JSON output, and validates the dependency graph.
type PlanningController struct {
	llm           clients.LLM
	log           *zap.Logger
	maxIterations int
}

func NewPlanningController(llm clients.LLM, log *zap.Logger, maxIterations int) *PlanningController {
	return &PlanningController{
		llm:           llm,
		log:           log.Named("planning"),
		maxIterations: maxIterations,
	}
}

// Draft produces the next task plan. A structurally invalid plan (cycle
// or unknown dependency id) writes the validation detail into the plan
// feedback and returns ErrInvalidPlan so the caller can loop back into
// another draft; the iteration budget bounds that loop.
func (p *PlanningController) Draft(ctx context.Context, st *state.State) error {
	st.PlanIterations++
	if st.PlanIterations > p.maxIterations {
		return maxIterationsError("planning", p.maxIterations)
	}

	var extras []string
	if st.RequirementsDoc != "" {
		extras = append(extras, "Approved requirements document:\n"+st.RequirementsDoc)
	}
	if st.ContextSummary != "" {
		extras = append(extras, "Project context:\n"+st.ContextSummary)
	}
	if st.Escalated != nil {
		extras = append(extras, fmt.Sprintf(
			"Task %q failed permanently and needs re-planning.\nDescription: %s\nFailure: %s\nProduce a revised plan that accounts for this failure.",
			st.Escalated.Task.Name, st.Escalated.Task.Description, st.Escalated.Reason))
	}
	if st.PlanFeedback != "" {
		extras = append(extras, "Reviewer feedback to address:\n"+st.PlanFeedback)
	}

	p.log.Info("drafting task plan", zap.Int("iteration", st.PlanIterations))
	raw, err := p.llm.Generate(ctx, promptMessages(plannerSystemPrompt, st, extras...))
	if err != nil {
		return fmt.Errorf("drafting task plan: %w", err)
	}

	tasks, err := p.parsePlan(raw, st.PlanIterations)
	if err != nil {
		return err
	}

	if err := validateDependencies(tasks); err != nil {
		p.log.Warn("plan failed dependency validation", zap.Error(err))
		st.PlanFeedback = fmt.Sprintf("The previous plan was structurally invalid: %v. Fix the dependency graph.", err)
		st.Append("assistant", "planning", st.PlanFeedback)
		return ErrInvalidPlan
	}

	st.TaskDefinitions = tasks
	st.PlanFeedback = ""
	st.Escalated = nil
	st.Append("assistant", "planning", describePlan(tasks))
	return nil
}

// rawTask is the lenient decoding shape for one planned task. The model
// sometimes uses "title" for the name; both are accepted.
type rawTask struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Dependencies []string `json:"dependencies"`
	ExecuteAlone bool     `json:"execute_alone"`
	MaxRetries   *int     `json:"max_retries"`
}

// parsePlan repairs the model output into valid JSON, decodes the task
// array, and normalizes each entry. Entries that are not objects with a
// description are logged and skipped.
func (p *PlanningController) parsePlan(content string, iteration int) ([]state.TaskDefinition, error) {
	repaired, err := jsonrepair.Repair(content)
	if err != nil {
		return nil, fmt.Errorf("parsing task plan: %w", err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(repaired), &entries); err != nil {
		// A single object instead of an array is treated as a one-task plan.
		var single json.RawMessage
		if err2 := json.Unmarshal([]byte(repaired), &single); err2 != nil || !strings.HasPrefix(strings.TrimSpace(repaired), "{") {
			return nil, fmt.Errorf("task plan is not a JSON array: %w", err)
		}
		entries = []json.RawMessage{single}
	}

	tasks := make([]state.TaskDefinition, 0, len(entries))
	for i, entry := range entries {
		var rt rawTask
		if err := json.Unmarshal(entry, &rt); err != nil {
			p.log.Warn("skipping unparsable plan entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		if rt.Description == "" {
			p.log.Warn("skipping plan entry without description", zap.Int("index", i))
			continue
		}
		tasks = append(tasks, normalizeTask(rt, iteration, i))
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task plan contained no usable tasks")
	}
	return tasks, nil
}

// normalizeTask fills deterministic defaults: a generated id of the form
// task_<iteration>_<index>, an empty dependency list, and one retry.
func normalizeTask(rt rawTask, iteration, index int) state.TaskDefinition {
	td := state.TaskDefinition{
		ID:           rt.ID,
		Name:         rt.Name,
		Description:  rt.Description,
		Dependencies: rt.Dependencies,
		ExecuteAlone: rt.ExecuteAlone,
		MaxRetries:   1,
	}
	if td.ID == "" {
		td.ID = fmt.Sprintf("task_%d_%d", iteration, index)
	}
	if td.Name == "" {
		td.Name = rt.Title
	}
	if td.Name == "" {
		td.Name = td.ID
	}
	if td.Dependencies == nil {
		td.Dependencies = []string{}
	}
	if rt.MaxRetries != nil && *rt.MaxRetries >= 0 {
		td.MaxRetries = *rt.MaxRetries
	}
	return td
}

// validateDependencies rejects unknown dependency ids and cycles. The
// orchestrator treats a stall as fatal, so bad graphs are caught here
// while the plan can still be revised.
func validateDependencies(tasks []state.TaskDefinition) error {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.Dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, dep := range t.Dependencies {
			if !known[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("dependency cycle: %w", err)
	}
	return nil
}

func describePlan(tasks []state.TaskDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Proposed plan with %d tasks:\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s: %s", t.ID, t.Name)
		if len(t.Dependencies) > 0 {
			fmt.Fprintf(&b, " (after %s)", strings.Join(t.Dependencies, ", "))
		}
		if t.ExecuteAlone {
			b.WriteString(" [exclusive]")
		}
		b.WriteString("\n")
	}
	return b.String()
}
