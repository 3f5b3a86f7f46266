package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/conductorhq/conductor/internal/tools/sandbox"
)

// SandboxedCommandRunner runs the "command" tool inside the Docker or
// Daytona sandbox pool of internal/tools/sandbox instead of the host.
// Nothing in this repository constructs it: the Runtime always wires
// the host runner, and the `providers.<name>.sandboxed` config flag is
// parsed but not read. Grounded on
// internal/tools/sandbox/executor.go's Executor, whose Execute takes a
// {language, code} pair rather than {cmd, args} — shell commands are
// adapted into a single bash invocation to reuse that executor as-is.
type SandboxedCommandRunner struct {
	Executor *sandbox.Executor
}

func (r SandboxedCommandRunner) Run(ctx context.Context, workingDir, cmd string, args []string) (stdout, stderr string, exitCode int, err error) {
	line := cmd
	if len(args) > 0 {
		line += " " + strings.Join(args, " ")
	}
	params, err := json.Marshal(sandbox.ExecuteParams{
		Language:        "bash",
		Code:            line,
		WorkspaceAccess: sandbox.WorkspaceReadWrite,
	})
	if err != nil {
		return "", "", -1, err
	}

	result, err := r.Executor.Execute(ctx, params)
	if err != nil {
		return "", "", -1, err
	}
	if result.IsError {
		return "", result.Content, 1, nil
	}
	return result.Content, "", 0, nil
}

var _ CommandRunner = SandboxedCommandRunner{}
