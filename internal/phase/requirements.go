package phase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/aristath/devflow/internal/clients"
	"github.com/aristath/devflow/internal/state"
)

const requirementsSystemPrompt = `You are a product engineer writing a
requirements document for a software change. Using the approved project
context, write a complete requirements document: goals, functional
requirements, acceptance criteria, and explicit non-goals. Revise the
previous version where reviewer feedback is provided instead of starting
over. Respond with the document text only.`

// RequirementsController drafts and revises the requirements document.
type RequirementsController struct {
	llm           clients.LLM
	log           *zap.Logger
	maxIterations int
}

func NewRequirementsController(llm clients.LLM, log *zap.Logger, maxIterations int) *RequirementsController {
	return &RequirementsController{
		llm:           llm,
		log:           log.Named("requirements"),
		maxIterations: maxIterations,
	}
}

// Draft produces the next requirements document revision.
func (r *RequirementsController) Draft(ctx context.Context, st *state.State) error {
	st.RequirementsIterations++
	if st.RequirementsIterations > r.maxIterations {
		return maxIterationsError("requirements", r.maxIterations)
	}

	var extras []string
	if st.ContextSummary != "" {
		extras = append(extras, "Approved project context:\n"+st.ContextSummary)
	}
	if st.RequirementsDoc != "" {
		extras = append(extras, "Previous requirements document:\n"+st.RequirementsDoc)
	}
	if st.RequirementsFeedback != "" {
		extras = append(extras, "Reviewer feedback to address:\n"+st.RequirementsFeedback)
	}

	r.log.Info("drafting requirements", zap.Int("iteration", st.RequirementsIterations))
	doc, err := r.llm.Generate(ctx, promptMessages(requirementsSystemPrompt, st, extras...))
	if err != nil {
		return fmt.Errorf("drafting requirements: %w", err)
	}

	st.RequirementsDoc = doc
	st.RequirementsFeedback = ""
	st.Append("assistant", "requirements", doc)
	return nil
}
