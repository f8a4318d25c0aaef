package orchestrate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/clients"
	"github.com/aristath/devflow/internal/state"
)

// fakeCodegen scripts the job service: statuses are returned in order,
// and errs at matching indexes replace the response.
type fakeCodegen struct {
	startErr error
	statuses []string
	errs     []error
	polls    int
}

func (f *fakeCodegen) StartJob(ctx context.Context, description string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return "job-1", nil
}

func (f *fakeCodegen) PollJob(ctx context.Context, jobID string) (clients.JobStatus, error) {
	i := f.polls
	f.polls++
	if i < len(f.errs) && f.errs[i] != nil {
		return clients.JobStatus{}, f.errs[i]
	}
	status := "running"
	if i < len(f.statuses) {
		status = f.statuses[i]
	}
	return clients.JobStatus{Raw: status, Result: "diff applied"}, nil
}

func newTestPoller(cg clients.Codegen) *Poller {
	return NewPoller(cg, zap.NewNop(), 0, 0, time.Microsecond)
}

func dispatched(t *testing.T, p *Poller, cg *fakeCodegen) *state.State {
	t.Helper()
	st := state.New("req")
	st.LiveTasks = []state.LiveTask{liveTask("T1", nil, false, 1)}
	st.ActiveTaskID = "T1"
	p.Dispatch(context.Background(), st, st.Task("T1"))
	require.NotNil(t, st.Poll)
	return st
}

func TestDispatchSeedsPollState(t *testing.T) {
	cg := &fakeCodegen{}
	p := newTestPoller(cg)
	st := dispatched(t, p, cg)

	assert.Equal(t, "job-1", st.Poll.JobID)
	assert.Equal(t, state.JobPending, st.Poll.Status)
	assert.Zero(t, st.Poll.Attempts)
}

func TestFailedInitiationIsTerminalImmediately(t *testing.T) {
	cg := &fakeCodegen{startErr: errors.New("quota exceeded")}
	p := newTestPoller(cg)
	st := dispatched(t, p, cg)

	assert.Equal(t, state.JobFailed, st.Poll.Status)
	assert.Contains(t, st.Poll.LastError, "quota exceeded")
	assert.Zero(t, cg.polls)
}

func TestPollCompletesWithResult(t *testing.T) {
	cg := &fakeCodegen{statuses: []string{"running", "completed"}}
	p := newTestPoller(cg)
	st := dispatched(t, p, cg)
	ctx := context.Background()

	require.NoError(t, p.Poll(ctx, st))
	assert.Equal(t, state.JobRunning, st.Poll.Status)
	assert.Equal(t, 1, st.Poll.Attempts)

	require.NoError(t, p.Poll(ctx, st))
	assert.Equal(t, state.JobSucceeded, st.Poll.Status)
	assert.Equal(t, "diff applied", st.Poll.Result)
}

func TestPollAttemptCeiling(t *testing.T) {
	// Scenario: a job that never leaves running forces Failed on attempt
	// 10, not attempt 11.
	cg := &fakeCodegen{}
	p := newTestPoller(cg)
	st := dispatched(t, p, cg)
	ctx := context.Background()

	for !st.Poll.Status.Terminal() {
		require.NoError(t, p.Poll(ctx, st))
		require.LessOrEqual(t, st.Poll.Attempts, MaxPollAttempts)
	}
	assert.Equal(t, state.JobFailed, st.Poll.Status)
	assert.Equal(t, MaxPollAttempts, st.Poll.Attempts)
	assert.Contains(t, st.Poll.LastError, "still in progress")
}

func TestTransientErrorCeiling(t *testing.T) {
	boom := errors.New("connection refused")
	cg := &fakeCodegen{errs: []error{boom, boom, boom, boom}}
	p := newTestPoller(cg)
	st := dispatched(t, p, cg)
	ctx := context.Background()

	for !st.Poll.Status.Terminal() {
		require.NoError(t, p.Poll(ctx, st))
		require.LessOrEqual(t, st.Poll.TransientErrors, MaxTransientErrorAttempts)
	}
	assert.Equal(t, state.JobFailed, st.Poll.Status)
	assert.Equal(t, MaxTransientErrorAttempts, st.Poll.TransientErrors)
	assert.Contains(t, st.Poll.LastError, "status unavailable")
}

func TestTransientErrorCountResetsOnSuccess(t *testing.T) {
	boom := errors.New("timeout")
	cg := &fakeCodegen{
		errs:     []error{boom, boom, nil, boom, boom},
		statuses: []string{"", "", "running", "", ""},
	}
	p := newTestPoller(cg)
	st := dispatched(t, p, cg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Poll(ctx, st))
	}
	// Two errors, a clean poll, two more errors: never three in a row.
	assert.False(t, st.Poll.Status.Terminal())
	assert.Equal(t, 2, st.Poll.TransientErrors)
}

func TestStatusClassification(t *testing.T) {
	p := newTestPoller(&fakeCodegen{})
	tests := []struct {
		raw  string
		want state.JobStatus
	}{
		{"completed", state.JobSucceeded},
		{"COMPLETE", state.JobSucceeded},
		{"failed", state.JobFailed},
		{"cancelled", state.JobFailed},
		{"pending", state.JobPending},
		{"queued", state.JobPending},
		{"running", state.JobRunning},
		{"processing", state.JobRunning},
		{"in_progress", state.JobRunning},
		{"something-new", state.JobRunning}, // unrecognized defaults to in progress
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.classify(tt.raw), "raw status %q", tt.raw)
	}
}

func TestPollHonorsCancellation(t *testing.T) {
	cg := &fakeCodegen{}
	p := NewPoller(cg, zap.NewNop(), 0, 0, time.Hour)
	st := dispatched(t, p, cg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Poll(ctx, st)
	assert.ErrorIs(t, err, context.Canceled)
}
