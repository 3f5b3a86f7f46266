package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// LocalCommandRunner is the default CommandRunner, running the command
// tool via os/exec. Grounded on the teacher's internal/tools/exec/manager.go
// runSync (timeout-bounded exec.Cmd with captured stdout/stderr and exit
// code extraction).
type LocalCommandRunner struct {
	// Timeout bounds a single command invocation. Zero means no timeout.
	Timeout time.Duration
}

func (r LocalCommandRunner) Run(ctx context.Context, workingDir, cmd string, args []string) (stdout, stderr string, exitCode int, err error) {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, cmd, args...)
	c.Dir = workingDir

	var outBuf, errBuf bytes.Buffer
	c.Stdout = &outBuf
	c.Stderr = &errBuf

	runErr := c.Run()
	return outBuf.String(), errBuf.String(), exitCodeOf(runErr), ignoreExitError(runErr)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// ignoreExitError treats a non-zero exit code as a successful tool
// invocation (the caller inspects ExitCode/stderr), matching the
// teacher's runSync which never fails ExecResult on a non-zero exit.
func ignoreExitError(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

var _ CommandRunner = LocalCommandRunner{}
