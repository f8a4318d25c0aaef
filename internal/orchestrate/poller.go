package orchestrate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/clients"
	"github.com/aristath/devflow/internal/state"
)

const (
	// MaxPollAttempts bounds how many status polls one dispatch gets
	// before the job is declared Failed.
	MaxPollAttempts = 10
	// MaxTransientErrorAttempts bounds consecutive status-channel errors.
	// This distinguishes "job is slow" from "we cannot talk to the job
	// service".
	MaxTransientErrorAttempts = 3
)

// Poller drives the bounded polling loop for one dispatched task's
// external code-generation job.
type Poller struct {
	codegen      clients.Codegen
	log          *zap.Logger
	maxAttempts  int
	maxTransient int
	pace         backoff.BackOff
}

// NewPoller creates a poller. Zero limits and a zero interval fall back
// to the defaults; the interval seeds the exponential pacing between
// polls.
func NewPoller(codegen clients.Codegen, log *zap.Logger, maxAttempts, maxTransient int, interval time.Duration) *Poller {
	if maxAttempts <= 0 {
		maxAttempts = MaxPollAttempts
	}
	if maxTransient <= 0 {
		maxTransient = MaxTransientErrorAttempts
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = 15 * interval
	b.MaxElapsedTime = 0
	return &Poller{
		codegen:      codegen,
		log:          log.Named("poller"),
		maxAttempts:  maxAttempts,
		maxTransient: maxTransient,
		pace:         b,
	}
}

// Dispatch starts the external job for the active task and seeds the poll
// state. A failed initiation is terminal Failed immediately, not retried.
func (p *Poller) Dispatch(ctx context.Context, st *state.State, task *state.LiveTask) {
	p.pace.Reset()

	jobID, err := p.codegen.StartJob(ctx, jobDescription(task))
	if err != nil {
		p.log.Error("job initiation failed", zap.String("task", task.ID), zap.Error(err))
		st.Poll = &state.PollState{
			Status:    state.JobFailed,
			LastError: fmt.Sprintf("job initiation failed: %v", err),
		}
		return
	}

	p.log.Info("job started", zap.String("task", task.ID), zap.String("job", jobID))
	st.Poll = &state.PollState{JobID: jobID, Status: state.JobPending}
}

// Poll runs one poll tick against the active job, waiting out the pacing
// interval first. The poll state is updated in place; callers check
// st.Poll.Status.Terminal() afterwards.
func (p *Poller) Poll(ctx context.Context, st *state.State) error {
	poll := st.Poll
	if poll == nil || poll.Status.Terminal() {
		return nil
	}

	if err := p.wait(ctx); err != nil {
		return err
	}
	poll.Attempts++

	status, err := p.codegen.PollJob(ctx, poll.JobID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		poll.TransientErrors++
		poll.LastError = err.Error()
		p.log.Warn("poll channel error",
			zap.String("job", poll.JobID),
			zap.Int("consecutive", poll.TransientErrors),
			zap.Error(err))
		if poll.TransientErrors >= p.maxTransient {
			poll.Status = state.JobFailed
			poll.LastError = fmt.Sprintf("job status unavailable after %d consecutive errors: %v", poll.TransientErrors, err)
		}
		return nil
	}
	poll.TransientErrors = 0

	classified := p.classify(status.Raw)
	p.log.Debug("poll tick",
		zap.String("job", poll.JobID),
		zap.Int("attempt", poll.Attempts),
		zap.String("status", string(classified)))

	switch classified {
	case state.JobSucceeded:
		poll.Status = state.JobSucceeded
		poll.Result = status.Result
	case state.JobFailed:
		poll.Status = state.JobFailed
		poll.LastError = failureReason(status)
	default:
		poll.Status = classified
		if poll.Attempts >= p.maxAttempts {
			poll.Status = state.JobFailed
			poll.LastError = fmt.Sprintf("job still in progress after %d polls", poll.Attempts)
		}
	}
	return nil
}

// wait sleeps out the next pacing interval, honoring cancellation.
func (p *Poller) wait(ctx context.Context) error {
	d := p.pace.NextBackOff()
	if d == backoff.Stop || d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classify buckets the provider's raw status string. Unrecognized values
// default to in-progress with a warning rather than failing the job.
func (p *Poller) classify(raw string) state.JobStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "finished", "success", "succeeded":
		return state.JobSucceeded
	case "failed", "error", "errored", "cancelled", "canceled":
		return state.JobFailed
	case "pending", "queued":
		return state.JobPending
	case "running", "processing", "in_progress", "active":
		return state.JobRunning
	default:
		p.log.Warn("unrecognized job status, treating as in progress", zap.String("status", raw))
		return state.JobRunning
	}
}

func failureReason(status clients.JobStatus) string {
	if status.Result != "" {
		return status.Result
	}
	return fmt.Sprintf("job reported status %q", status.Raw)
}

func jobDescription(task *state.LiveTask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s", task.Name, task.Description)
	if task.Branch != "" {
		fmt.Fprintf(&b, "\n\nWork on branch %s.", task.Branch)
	}
	return b.String()
}
