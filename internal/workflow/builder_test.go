package workflow

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/checkpoint"
	"github.com/aristath/devflow/internal/clients"
	"github.com/aristath/devflow/internal/engine"
	"github.com/aristath/devflow/internal/state"
)

type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(ctx context.Context, messages []state.Message) (string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

type scriptedCodegen struct {
	status string
	jobs   int
}

func (s *scriptedCodegen) StartJob(ctx context.Context, description string) (string, error) {
	s.jobs++
	return "job-1", nil
}

func (s *scriptedCodegen) PollJob(ctx context.Context, jobID string) (clients.JobStatus, error) {
	return clients.JobStatus{Raw: s.status, Result: "result payload"}, nil
}

const planJSON = `[
	{"id": "t1", "name": "first", "description": "do first"},
	{"id": "t2", "name": "second", "description": "do second", "dependencies": ["t1"]}
]`

func testLimits() Limits {
	return Limits{
		ContextIterations:      5,
		RequirementsIterations: 5,
		PlanIterations:         5,
		PollAttempts:           10,
		TransientErrors:        3,
		PollInterval:           time.Microsecond,
	}
}

func newTestEngine(t *testing.T, llm clients.LLM, cg clients.Codegen) (*engine.Engine, *checkpoint.SQLiteStore) {
	t.Helper()
	store, err := checkpoint.NewSQLiteStore(context.Background(), t.TempDir()+"/runs.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := &clients.Registry{LLM: llm, Codegen: cg}
	builder := New(reg, zap.NewNop(), nil, testLimits())
	eng, err := engine.New(builder.Build("run-1"), store, zap.NewNop())
	require.NoError(t, err)
	return eng, store
}

func approveUntil(t *testing.T, eng *engine.Engine, cp *engine.Checkpoint, stopStatus engine.Status) *engine.Checkpoint {
	t.Helper()
	for i := 0; i < 10 && cp.Status == engine.StatusSuspended; i++ {
		var err error
		cp, err = eng.Resume(context.Background(), cp.RunID, "approve")
		require.NoError(t, err)
		if cp.Status == stopStatus {
			return cp
		}
	}
	return cp
}

func TestFullPipelineToTermination(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"the context summary",
		"the requirements document",
		planJSON,
	}}
	cg := &scriptedCodegen{status: "completed"}
	eng, _ := newTestEngine(t, llm, cg)

	cp, err := eng.Run(context.Background(), "run-1", state.New("add a login page"))
	require.NoError(t, err)
	require.Equal(t, engine.StatusSuspended, cp.Status)
	assert.Equal(t, StepReviewContext, cp.Step)
	assert.Contains(t, cp.State.PendingReview, "the context summary")

	cp = approveUntil(t, eng, cp, engine.StatusTerminated)
	require.Equal(t, engine.StatusTerminated, cp.Status)

	// Both tasks ran, in dependency order, through the external service.
	assert.Equal(t, 2, cg.jobs)
	require.Len(t, cp.State.LiveTasks, 2)
	for _, task := range cp.State.LiveTasks {
		assert.Equal(t, state.TaskCompletedSuccess, task.Status)
		assert.Contains(t, task.TrackerID, "local-")
	}
	assert.True(t, cp.State.ContextApproved)
	assert.True(t, cp.State.RequirementsApproved)
	assert.True(t, cp.State.PlanApproved)
}

func TestRevisionLoopsBackToDrafting(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"first summary",
		"revised summary",
	}}
	eng, _ := newTestEngine(t, llm, &scriptedCodegen{status: "completed"})

	cp, err := eng.Run(context.Background(), "run-1", state.New("req"))
	require.NoError(t, err)
	require.Equal(t, StepReviewContext, cp.Step)

	cp, err = eng.Resume(context.Background(), "run-1", "please mention the admin panel")
	require.NoError(t, err)
	require.Equal(t, engine.StatusSuspended, cp.Status)
	assert.Equal(t, StepReviewContext, cp.Step)
	assert.Contains(t, cp.State.PendingReview, "revised summary")
	assert.Equal(t, 2, cp.State.ContextIterations)
}

func TestFailedTaskRetriesThenEscalates(t *testing.T) {
	singleTaskPlan := `[{"id": "t1", "name": "only", "description": "do it"}]`
	replacementPlan := `[{"id": "t1b", "name": "replacement", "description": "try differently"}]`
	llm := &scriptedLLM{responses: []string{
		"summary",
		"requirements",
		singleTaskPlan,
		replacementPlan,
	}}
	cg := &scriptedCodegen{status: "failed"}
	eng, _ := newTestEngine(t, llm, cg)

	cp, err := eng.Run(context.Background(), "run-1", state.New("req"))
	require.NoError(t, err)

	// Approve context, requirements, and the plan. The third resume runs
	// orchestration: the only task fails, retries once, fails again, and
	// escalates into a re-plan whose review suspends the run again.
	for i := 0; i < 3; i++ {
		cp, err = eng.Resume(context.Background(), "run-1", "approve")
		require.NoError(t, err)
	}
	require.Equal(t, engine.StatusSuspended, cp.Status)
	assert.Equal(t, StepReviewPlan, cp.Step)
	assert.Contains(t, cp.State.PendingReview, "t1b")

	// Default retry budget is 1: two dispatches total.
	assert.Equal(t, 2, cg.jobs)
	assert.Equal(t, 4, llm.calls)

	var sawEscalation bool
	for _, m := range cp.State.History {
		if m.Author == "orchestrator" && strings.Contains(m.Text, "sent back to planning") {
			sawEscalation = true
		}
	}
	assert.True(t, sawEscalation)
}

func TestProjectNameTruncatesOnRunes(t *testing.T) {
	long := strings.Repeat("ü", 80)
	st := state.New(long)

	name := projectName(st)
	assert.Equal(t, strings.Repeat("ü", 60), name)
	assert.True(t, utf8.ValidString(name))

	short := state.New("add a login page")
	assert.Equal(t, "add a login page", projectName(short))
}

func TestResumeSurvivesProcessRestart(t *testing.T) {
	llm := &scriptedLLM{responses: []string{"summary", "requirements", planJSON}}
	cg := &scriptedCodegen{status: "completed"}

	store, err := checkpoint.NewSQLiteStore(context.Background(), t.TempDir()+"/runs.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := &clients.Registry{LLM: llm, Codegen: cg}
	eng1, err := engine.New(New(reg, zap.NewNop(), nil, testLimits()).Build("run-1"), store, zap.NewNop())
	require.NoError(t, err)

	cp, err := eng1.Run(context.Background(), "run-1", state.New("req"))
	require.NoError(t, err)
	require.Equal(t, engine.StatusSuspended, cp.Status)

	// A fresh builder and engine over the same store stand in for a new
	// process invocation.
	eng2, err := engine.New(New(reg, zap.NewNop(), nil, testLimits()).Build("run-1"), store, zap.NewNop())
	require.NoError(t, err)

	cp, err = eng2.Resume(context.Background(), "run-1", "approve")
	require.NoError(t, err)
	assert.Equal(t, StepReviewRequirements, cp.Step)
	assert.Equal(t, "summary", cp.State.ContextSummary)
}
