package engine

import (
	"context"
	"fmt"

	"github.com/aristath/devflow/internal/state"
)

// StepFunc executes one step against the shared state and returns where
// to go next.
type StepFunc func(ctx context.Context, st *state.State) Result

// Step is one named node of the workflow graph with its declared
// successor set. At runtime a step may only goto a declared successor.
type Step struct {
	Name       string
	Run        StepFunc
	Successors []string
}

// Graph is a static table of named steps with exactly one entry step.
// It is built once at construction time and validated before any run.
type Graph struct {
	entry string
	steps map[string]*Step
}

// NewGraph creates an empty graph whose execution starts at entry.
func NewGraph(entry string) *Graph {
	return &Graph{
		entry: entry,
		steps: make(map[string]*Step),
	}
}

// Add registers a step and its declared successors. Returns an error if
// the name is already taken.
func (g *Graph) Add(name string, fn StepFunc, successors ...string) error {
	if _, exists := g.steps[name]; exists {
		return fmt.Errorf("step %q already registered", name)
	}
	g.steps[name] = &Step{Name: name, Run: fn, Successors: successors}
	return nil
}

// MustAdd is Add that panics on error, for use in builders where a
// duplicate name is a programming mistake.
func (g *Graph) MustAdd(name string, fn StepFunc, successors ...string) {
	if err := g.Add(name, fn, successors...); err != nil {
		panic(err)
	}
}

// Validate checks that the entry step exists and every declared successor
// names a registered step.
func (g *Graph) Validate() error {
	if _, ok := g.steps[g.entry]; !ok {
		return fmt.Errorf("entry step %q not registered", g.entry)
	}
	for name, step := range g.steps {
		for _, succ := range step.Successors {
			if _, ok := g.steps[succ]; !ok {
				return fmt.Errorf("step %q declares unknown successor %q", name, succ)
			}
		}
	}
	return nil
}

// Entry returns the entry step name.
func (g *Graph) Entry() string {
	return g.entry
}

// Step returns the step with the given name.
func (g *Graph) Step(name string) (*Step, bool) {
	s, ok := g.steps[name]
	return s, ok
}

// allowed reports whether step may transition to next.
func (s *Step) allowed(next string) bool {
	for _, succ := range s.Successors {
		if succ == next {
			return true
		}
	}
	return false
}
