// Package builder drives the vLLM build: it resolves the build environment, and runs the sequence of
// install/build/verify steps as child processes, each either fatal or best-effort.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/rocmbuild/buildenv"
)

// Command to be executed as a child process.
type Command struct {
	// Path of the executable, looked up in $PATH if it has no separator.
	Path string
	Args []string

	// Dir is the working directory. If empty, it uses the current directory.
	Dir string

	// Env are the overrides applied on top of the current process environment. If nil the environment is inherited.
	Env *buildenv.Env
}

// String returns the command line, with arguments quoted when needed.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, c.Path)
	for _, arg := range c.Args {
		if arg == "" || strings.ContainsAny(arg, " \t\n\"'$;&|<>*?") {
			arg = fmt.Sprintf("%q", arg)
		}
		parts = append(parts, arg)
	}
	return strings.Join(parts, " ")
}

// Runner executes commands, blocking until they finish.
//
// Errors returned for commands that exited with a non-zero status should implement `ExitCode() int`,
// as *exec.ExitError does.
type Runner interface {
	// Run the command with its output connected to the runner's output.
	Run(ctx context.Context, cmd Command) error

	// Output runs the command and returns its standard output.
	Output(ctx context.Context, cmd Command) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Stdout, Stderr io.Writer
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner returns an ExecRunner connected to the process standard output and error.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

func (r *ExecRunner) command(ctx context.Context, cmd Command) *exec.Cmd {
	execCmd := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	execCmd.Dir = cmd.Dir
	if cmd.Env != nil {
		execCmd.Env = cmd.Env.Environ(os.Environ())
	}
	execCmd.Stderr = r.Stderr
	klog.V(1).Infof("Running (dir=%q) %s", cmd.Dir, cmd)
	return execCmd
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	execCmd := r.command(ctx, cmd)
	execCmd.Stdout = r.Stdout
	if err := execCmd.Run(); err != nil {
		return errors.Wrapf(err, "failed to run %s", cmd)
	}
	return nil
}

// Output implements Runner.
func (r *ExecRunner) Output(ctx context.Context, cmd Command) (string, error) {
	execCmd := r.command(ctx, cmd)
	var stdout bytes.Buffer
	execCmd.Stdout = &stdout
	if err := execCmd.Run(); err != nil {
		return "", errors.Wrapf(err, "failed to run %s", cmd)
	}
	return stdout.String(), nil
}

// DryRunner prints the commands instead of executing them.
type DryRunner struct {
	Out io.Writer
}

var _ Runner = (*DryRunner)(nil)

// Run implements Runner, printing the command with its directory and environment overrides.
func (r *DryRunner) Run(_ context.Context, cmd Command) error {
	if cmd.Dir != "" {
		fmt.Fprintf(r.Out, "- (cd %s)\n", cmd.Dir)
	}
	if cmd.Env != nil && cmd.Env.Len() > 0 {
		for _, key := range cmd.Env.Keys() {
			value, _ := cmd.Env.Get(key)
			fmt.Fprintf(r.Out, "- export %s=%q\n", key, value)
		}
	}
	fmt.Fprintf(r.Out, "- %s\n", cmd)
	return nil
}

// Output implements Runner. It prints the command and returns an empty output.
func (r *DryRunner) Output(ctx context.Context, cmd Command) (string, error) {
	return "", r.Run(ctx, cmd)
}
