// Package phase implements the LLM-backed drafting controllers for the
// context, requirements, and planning stages. Each controller drives one
// draft/revise loop; the review gates between drafts live in the workflow
// graph, not here.
package phase

import (
	"errors"
	"fmt"

	"github.com/aristath/devflow/internal/state"
)

// ErrMaxIterations signals that a drafting loop exceeded its configured
// iteration budget. The run terminates rather than looping forever.
var ErrMaxIterations = errors.New("maximum drafting iterations reached")

// ErrInvalidPlan signals that a generated task plan failed structural
// validation (cycle or unknown dependency). The validation detail has
// been written into the state as revision feedback for the next draft.
var ErrInvalidPlan = errors.New("generated plan failed validation")

func maxIterationsError(phase string, limit int) error {
	return fmt.Errorf("%s phase: %w (limit %d)", phase, ErrMaxIterations, limit)
}

// promptMessages assembles a system prompt followed by the run's
// conversation history and any extra context blocks.
func promptMessages(system string, st *state.State, extras ...string) []state.Message {
	msgs := make([]state.Message, 0, len(st.History)+len(extras)+1)
	msgs = append(msgs, state.Message{Role: "system", Text: system})
	msgs = append(msgs, st.History...)
	for _, extra := range extras {
		if extra != "" {
			msgs = append(msgs, state.Message{Role: "user", Text: extra})
		}
	}
	return msgs
}
