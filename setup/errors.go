package setup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTimeOut            error = errors.New("error waiting for container to become ready, timed out")
	ErrInvalidService     error = errors.New("invalid service name")
	ErrCommandFailed      error = errors.New("command failed")
	ErrEnvironmentStopped error = errors.New("environment has been torn down")
)

// InvalidServiceError is returned when a service name isn't declared in the
// compose file
type InvalidServiceError struct {
	Name     string
	Services []string
}

func (e *InvalidServiceError) Error() string {
	return fmt.Sprintf("invalid service name: %q, must be one of %v", e.Name, e.Services)
}

func (e *InvalidServiceError) Is(target error) bool {
	return target == ErrInvalidService
}

// CommandError wraps a failed compose or docker invocation along with
// everything it wrote to stdout and stderr.
type CommandError struct {
	Command  string
	Output   string
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if out == "" {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}
