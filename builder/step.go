package builder

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Policy defines what happens to the build when a Step fails.
type Policy int

//go:generate go tool enumer -type=Policy -trimprefix=Policy step.go

const (
	// PolicyFatal steps abort the build on failure.
	PolicyFatal Policy = iota

	// PolicyBestEffort steps are allowed to fail: a warning is logged and the build continues.
	PolicyBestEffort
)

// Action is the work done by a Step, usually running one command.
type Action func(ctx context.Context, r Runner) error

// RunCommand returns an Action that runs cmd.
func RunCommand(cmd Command) Action {
	return func(ctx context.Context, r Runner) error {
		return r.Run(ctx, cmd)
	}
}

// Step of a Pipeline.
type Step struct {
	// Name identifies the step in errors and logs.
	Name string

	// Title is printed before the step runs.
	Title string

	Policy Policy
	Action Action
}

// StepError is returned by Pipeline.Run when a fatal step fails.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed: %v", e.Step, e.Err)
}

// Unwrap returns the error returned by the step.
func (e *StepError) Unwrap() error { return e.Err }

// Cause implements github.com/pkg/errors causer.
func (e *StepError) Cause() error { return e.Err }

// ExitCode returns the exit code of the child process that caused err, or 1 if there isn't one.
// It returns 0 if err is nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitCoder interface{ ExitCode() int }
	if errors.As(err, &exitCoder) {
		if code := exitCoder.ExitCode(); code > 0 {
			return code
		}
	}
	return 1
}

// Pipeline runs steps strictly in sequence.
type Pipeline struct {
	Runner Runner
	Steps  []Step

	// Out receives the progress lines. Defaults to os.Stdout.
	Out io.Writer
}

// Run executes the steps in order. It stops at the first failing PolicyFatal step, returning a *StepError.
// Failures of PolicyBestEffort steps are logged and ignored.
func (p *Pipeline) Run(ctx context.Context) error {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	for _, step := range p.Steps {
		if step.Title != "" {
			fmt.Fprintf(out, "\n%s...\n", step.Title)
		}
		err := step.Action(ctx, p.Runner)
		if err == nil {
			klog.V(1).Infof("Step %q done", step.Name)
			continue
		}
		if step.Policy == PolicyBestEffort {
			klog.Warningf("Step %q failed (%s), continuing: %v", step.Name, step.Policy, err)
			continue
		}
		return &StepError{Step: step.Name, Err: err}
	}
	return nil
}
