package phase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/clients"
	"github.com/aristath/devflow/internal/state"
)

const contextSystemPrompt = `You are a software project analyst. Summarize the
project context relevant to the user's request: the problem being solved, the
affected systems, known constraints, and open unknowns. Incorporate any
research results and reviewer feedback provided. Respond with the summary
text only.`

const investigatorSystemPrompt = `You are a research assistant. Given a
software change request, list the background facts, prior art, and technical
considerations an engineer should know before writing requirements. Be
concise and factual.`

// ContextController drafts and revises the project context summary.
type ContextController struct {
	llm           clients.LLM
	log           *zap.Logger
	maxIterations int
	investigate   bool
}

// NewContextController creates the controller. When investigate is true,
// a one-time background research call runs before the first draft.
func NewContextController(llm clients.LLM, log *zap.Logger, maxIterations int, investigate bool) *ContextController {
	return &ContextController{
		llm:           llm,
		log:           log.Named("context"),
		maxIterations: maxIterations,
		investigate:   investigate,
	}
}

// Draft produces the next context summary. Increments the iteration
// counter first and fails with ErrMaxIterations once the budget is spent.
func (c *ContextController) Draft(ctx context.Context, st *state.State) error {
	st.ContextIterations++
	if st.ContextIterations > c.maxIterations {
		return maxIterationsError("context", c.maxIterations)
	}

	if c.investigate && st.BackgroundResults == "" && st.ContextIterations == 1 {
		if err := c.runInvestigation(ctx, st); err != nil {
			// Research is best-effort; drafting proceeds without it.
			c.log.Warn("background investigation failed", zap.Error(err))
		}
	}

	var extras []string
	if st.BackgroundResults != "" {
		extras = append(extras, "Background research results:\n"+st.BackgroundResults)
	}
	if st.ContextSummary != "" {
		extras = append(extras, "Previous context summary:\n"+st.ContextSummary)
	}
	if st.ContextFeedback != "" {
		extras = append(extras, "Reviewer feedback to address:\n"+st.ContextFeedback)
	}

	c.log.Info("drafting context summary", zap.Int("iteration", st.ContextIterations))
	summary, err := c.llm.Generate(ctx, promptMessages(contextSystemPrompt, st, extras...))
	if err != nil {
		return fmt.Errorf("drafting context summary: %w", err)
	}

	st.ContextSummary = summary
	st.ContextFeedback = ""
	st.Append("assistant", "context", summary)
	return nil
}

func (c *ContextController) runInvestigation(ctx context.Context, st *state.State) error {
	c.log.Info("running background investigation")
	results, err := c.llm.Generate(ctx, []state.Message{
		{Role: "system", Text: investigatorSystemPrompt},
		{Role: "user", Text: st.Request},
	})
	if err != nil {
		return err
	}
	st.BackgroundResults = results
	return nil
}
