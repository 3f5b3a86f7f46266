// Package tools implements the Tool Executor: the
// closed tool set, capability gate, approval gate, JSON Schema
// validation, and alias resolution. Grounded on the teacher's
// internal/agent/approval.go (ApprovalChecker/ApprovalStore adapted
// wholesale) and internal/agent/loop.go's executeToolsPhase (per-stage
// event emission sequence).
package tools

import (
	"context"
	"time"

	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/events"
)

// Call is one tool invocation as decoded from a provider's native
// toolCalls or a "tool_call" JSON line (the two accepted sources).
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is what the Node Runner folds back into the node's transcript.
type Result struct {
	OK         bool
	Output     any
	Error      string
	ApprovalID string // non-empty when the call suspended pending approval
}

// Dependencies are the capabilities the executor needs but does not
// own; the Runtime wires them when it builds a node's runner.
type Dependencies struct {
	Emitter  *events.Emitter
	Approval ApprovalStore
	Refs     RefResolver
	Files    FileOps
	Commands CommandRunner
	Spawner  NodeSpawner
	Edges    EdgeCreator
	Handoffs HandoffSender
}

// Executor dispatches tool calls for a single node.
type Executor struct {
	deps Dependencies
}

func NewExecutor(deps Dependencies) *Executor {
	return &Executor{deps: deps}
}

// Execute runs one tool call against node, in a fixed gate order:
// schema validation (fails fast as a ValidationError), capability gate,
// approval gate, then dispatch.
func (x *Executor) Execute(ctx context.Context, run domain.Run, node domain.Node, call Call, resumeIndex int) (Result, error) {
	if err := ValidateArgs(call.Name, call.Args); err != nil {
		return Result{}, err
	}

	if call.Name == "create_edge" {
		if err := resolveEdgeRefs(x.deps.Refs, run.ID, call.Args); err != nil {
			return Result{}, err
		}
	}
	selfEndpoint := call.Name == "create_edge" && isSelfEndpoint(node.ID, call.Args)
	if err := CheckCapability(call.Name, node.Capabilities, run.GlobalMode, selfEndpoint); err != nil {
		return Result{}, err
	}

	if RequiresApproval(call.Name, node.Permissions) {
		var deadline *time.Time
		req, err := CreateApprovalRequest(ctx, x.deps.Approval, run.ID, node.ID, call.Name, call.Args, deadline, resumeIndex)
		if err != nil {
			return Result{}, err
		}
		if x.deps.Emitter != nil {
			x.deps.Emitter.Emit(node.ID, events.TypeApprovalRequested, map[string]any{
				"approvalId": req.ApprovalID,
				"tool":       call.Name,
				"args":       call.Args,
			})
		}
		return Result{ApprovalID: req.ApprovalID}, nil
	}

	return x.dispatch(ctx, run, node, call), nil
}

// Resume re-enters dispatch after an approval resolves, applying the
// resolution (denied/modified/approved) before continuing.
func (x *Executor) Resume(ctx context.Context, run domain.Run, node domain.Node, call Call, resolution domain.ApprovalRequest) Result {
	switch resolution.Status {
	case domain.ApprovalDenied:
		return Result{OK: false, Error: "denied: " + resolution.Feedback}
	case domain.ApprovalModified:
		call.Args = resolution.ModifiedArgs
	}
	return x.dispatch(ctx, run, node, call)
}

func (x *Executor) dispatch(ctx context.Context, run domain.Run, node domain.Node, call Call) Result {
	if x.deps.Emitter != nil {
		x.deps.Emitter.Emit(node.ID, events.TypeToolStarted, map[string]any{"toolCallId": call.ID, "tool": call.Name, "args": call.Args})
	}

	output, err := x.run(ctx, run, node, call)

	fields := map[string]any{"toolCallId": call.ID, "tool": call.Name, "ok": err == nil}
	if err != nil {
		fields["error"] = err.Error()
	} else {
		fields["output"] = output
	}
	if x.deps.Emitter != nil {
		x.deps.Emitter.Emit(node.ID, events.TypeToolCompleted, fields)
	}

	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	return Result{OK: true, Output: output}
}

func (x *Executor) run(ctx context.Context, run domain.Run, node domain.Node, call Call) (any, error) {
	switch call.Name {
	case "command":
		return execCommand(ctx, x.deps.Commands, node, call.Args)
	case "read_file":
		return execReadFile(x.deps.Files, node, call.Args)
	case "write_file":
		return execWriteFile(x.deps.Files, node, call.Args)
	case "list_files":
		return execListFiles(x.deps.Files, node, call.Args)
	case "delete_file":
		return execDeleteFile(x.deps.Files, node, call.Args)
	case "spawn_node":
		return execSpawnNode(ctx, x.deps.Spawner, run, call.Args)
	case "create_edge":
		return execCreateEdge(ctx, x.deps.Edges, x.deps.Refs, run, call.Args)
	case "send_handoff":
		return execSendHandoff(ctx, x.deps.Handoffs, x.deps.Refs, run, node, call.Args)
	default:
		return nil, domain.NewValidationError("unknown tool %q", call.Name)
	}
}

func isSelfEndpoint(nodeID string, args map[string]any) bool {
	from, _ := args["from"].(string)
	to, _ := args["to"].(string)
	return from == nodeID || to == nodeID
}
