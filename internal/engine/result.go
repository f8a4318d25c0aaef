package engine

import "fmt"

type resultKind int

const (
	kindGoto resultKind = iota
	kindSuspend
	kindEnd
	kindFail
)

// Result is the tagged outcome of one step execution. A step either names
// its successor, suspends the run for human input, ends the run, or fails
// it. Suspension is an ordinary return value, not an error: it is an
// expected, frequent outcome.
type Result struct {
	kind resultKind
	next string
	err  error
}

// Goto continues execution at the named step.
func Goto(step string) Result {
	return Result{kind: kindGoto, next: step}
}

// Suspend checkpoints the run and yields control to the caller. The run
// resumes into the same step once an answer arrives.
func Suspend() Result {
	return Result{kind: kindSuspend}
}

// End terminates the run successfully.
func End() Result {
	return Result{kind: kindEnd}
}

// Fail terminates the run with an unrecoverable error.
func Fail(err error) Result {
	return Result{kind: kindFail, err: err}
}

// Failf is Fail with formatting.
func Failf(format string, args ...any) Result {
	return Fail(fmt.Errorf(format, args...))
}
