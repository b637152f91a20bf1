// pkg/installer/runner.go - running native installers as child processes.

package installer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// Output is what a finished child process produced.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Combined returns stdout followed by stderr.
func (o Output) Combined() string {
	if o.Stderr == "" {
		return o.Stdout
	}
	return o.Stdout + o.Stderr
}

// Runner starts a process and waits for it. A non-zero exit code is not an error;
// only a failure to start (or to wait) is.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// StartError means the process could not be launched.
type StartError struct {
	Name string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("cannot start %s: %v", e.Name, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// IsNotInstalled reports whether err means the executable does not exist.
func IsNotInstalled(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
}

// ExecRunner runs commands with os/exec, hiding console windows on Windows.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	hideConsoleWindow(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, &StartError{Name: name, Err: err}
}
