package setup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
)

// CommandRunner executes external commands. The default implementation uses
// os/exec, tests swap in a scripted fake.
type CommandRunner interface {
	// Run executes the command to completion and returns its combined
	// stdout and stderr.
	Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

	// Stream starts the command with stdout and stderr copied to w. The
	// returned function blocks until the command exits.
	Stream(ctx context.Context, env []string, w io.Writer, name string, args ...string) (wait func() error, err error)
}

type execRunner struct{}

// NewExecRunner returns a CommandRunner backed by os/exec
func NewExecRunner() CommandRunner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err != nil {
		return out.Bytes(), newCommandError(name, args, out.Bytes(), err)
	}

	return out.Bytes(), nil
}

func (execRunner) Stream(ctx context.Context, env []string, w io.Writer, name string, args ...string) (func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		return nil, newCommandError(name, args, nil, err)
	}

	return cmd.Wait, nil
}

func newCommandError(name string, args []string, out []byte, err error) *CommandError {
	code := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}

	return &CommandError{
		Command:  strings.Join(append([]string{name}, args...), " "),
		Output:   string(out),
		ExitCode: code,
		Err:      err,
	}
}
