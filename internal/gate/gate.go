// Package gate implements the human-approval primitive shared by every
// review point in the workflow. A gate either has an answer to classify or
// it parks a question in the shared state and lets the engine suspend.
package gate

import (
	"strings"

	"github.com/aristath/devflow/internal/state"
)

// Decision is the outcome of one review call.
type Decision int

const (
	AwaitingInput Decision = iota // No answer yet; the run must suspend
	Approved                      // Reviewer accepted the artifact
	Revise                        // Reviewer wants changes; see Feedback
)

// Result carries the decision plus the reviewer's verbatim feedback when
// revisions were requested.
type Result struct {
	Decision Decision
	Feedback string
}

var approvalKeywords = []string{"approve", "accept", "good", "yes"}

// Gate is one named review point. The name labels history entries so a
// reader can tell which review a message belongs to.
type Gate struct {
	name string
}

// New returns a gate with the given name.
func New(name string) *Gate {
	return &Gate{name: name}
}

// Review drives one review interaction. With no answer available it
// records prompt into PendingReview (only if no question is already
// pending, so repeated calls are idempotent) and reports AwaitingInput.
// With an answer available it clears the pending fields, appends the
// answer to history, and classifies it.
func (g *Gate) Review(st *state.State, prompt string) Result {
	if st.PendingAnswer == "" {
		if st.PendingReview == "" {
			st.PendingReview = prompt
			st.Append("assistant", g.name, prompt)
		}
		return Result{Decision: AwaitingInput}
	}

	answer := st.PendingAnswer
	st.PendingReview = ""
	st.PendingAnswer = ""
	st.Append("user", g.name, answer)

	if isApproval(answer) {
		return Result{Decision: Approved}
	}
	return Result{Decision: Revise, Feedback: answer}
}

// isApproval reports whether the answer starts with or contains one of the
// approval keywords as a standalone word.
func isApproval(answer string) bool {
	t := strings.ToLower(strings.TrimSpace(answer))
	for _, kw := range approvalKeywords {
		if t == kw || strings.HasPrefix(t, kw+" ") {
			return true
		}
	}
	for _, field := range strings.Fields(t) {
		field = strings.Trim(field, ".,!?")
		for _, kw := range approvalKeywords {
			if field == kw {
				return true
			}
		}
	}
	return false
}
