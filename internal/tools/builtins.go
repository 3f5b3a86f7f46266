package tools

import (
	"context"
	"encoding/json"

	"github.com/conductorhq/conductor/internal/domain"
)

// FileOps scopes the read/write/list/delete tools to a node's working
// directory; implementations are responsible for refusing any path that
// escapes it.
type FileOps interface {
	Read(workingDir, path string) (string, error)
	Write(workingDir, path, content string) error
	List(workingDir, path string) ([]string, error)
	Delete(workingDir, path string) error
}

// CommandRunner executes the "command" tool. The Runtime always wires
// LocalCommandRunner (os/exec on the host); SandboxedCommandRunner
// (internal/tools/sandbox) also implements it, but nothing selects it.
type CommandRunner interface {
	Run(ctx context.Context, workingDir, cmd string, args []string) (stdout string, stderr string, exitCode int, err error)
}

// NodeSpawner creates a new node within a run; the Runtime wires it to
// the Run Store.
type NodeSpawner interface {
	SpawnNode(ctx context.Context, runID string, label, roleTemplate, provider, alias string) (domain.Node, error)
}

// EdgeCreator creates an authorizing edge between two resolved node IDs.
type EdgeCreator interface {
	CreateEdge(ctx context.Context, runID, from, to string, bidirectional bool, label string) (domain.Edge, error)
}

// HandoffSender delivers an Envelope into the target node's inbox
// (delegates to the handoff router, internal/handoff).
type HandoffSender interface {
	SendHandoff(ctx context.Context, runID, fromNodeID, toNodeID, message string) (domain.Envelope, error)
}

func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	if err := remarshal(args, &out); err != nil {
		return out, domain.NewValidationError("decoding args: %v", err)
	}
	return out, nil
}

func execReadFile(files FileOps, node domain.Node, args map[string]any) (any, error) {
	a, err := decodeArgs[ReadFileArgs](args)
	if err != nil {
		return nil, err
	}
	content, err := files.Read(node.WorkingDir, a.Path)
	if err != nil {
		return nil, domain.NewToolExecutionError("read_file", err)
	}
	return map[string]any{"content": content}, nil
}

func execWriteFile(files FileOps, node domain.Node, args map[string]any) (any, error) {
	a, err := decodeArgs[WriteFileArgs](args)
	if err != nil {
		return nil, err
	}
	if err := files.Write(node.WorkingDir, a.Path, a.Content); err != nil {
		return nil, domain.NewToolExecutionError("write_file", err)
	}
	return map[string]any{"path": a.Path}, nil
}

func execListFiles(files FileOps, node domain.Node, args map[string]any) (any, error) {
	a, err := decodeArgs[ListFilesArgs](args)
	if err != nil {
		return nil, err
	}
	entries, err := files.List(node.WorkingDir, a.Path)
	if err != nil {
		return nil, domain.NewToolExecutionError("list_files", err)
	}
	return map[string]any{"entries": entries}, nil
}

func execDeleteFile(files FileOps, node domain.Node, args map[string]any) (any, error) {
	a, err := decodeArgs[DeleteFileArgs](args)
	if err != nil {
		return nil, err
	}
	if err := files.Delete(node.WorkingDir, a.Path); err != nil {
		return nil, domain.NewToolExecutionError("delete_file", err)
	}
	return map[string]any{"path": a.Path}, nil
}

func execCommand(ctx context.Context, runner CommandRunner, node domain.Node, args map[string]any) (any, error) {
	a, err := decodeArgs[CommandArgs](args)
	if err != nil {
		return nil, err
	}
	workingDir := node.WorkingDir
	if a.Cwd != "" {
		workingDir = a.Cwd
	}
	stdout, stderr, exitCode, err := runner.Run(ctx, workingDir, a.Cmd, a.Args)
	if err != nil {
		return nil, domain.NewToolExecutionError("command", err)
	}
	return map[string]any{"stdout": stdout, "stderr": stderr, "exitCode": exitCode}, nil
}

func execSpawnNode(ctx context.Context, spawner NodeSpawner, run domain.Run, args map[string]any) (any, error) {
	a, err := decodeArgs[SpawnNodeArgs](args)
	if err != nil {
		return nil, err
	}
	node, err := spawner.SpawnNode(ctx, run.ID, a.Label, a.RoleTemplate, a.Provider, a.Alias)
	if err != nil {
		return nil, domain.NewToolExecutionError("spawn_node", err)
	}
	return map[string]any{"nodeId": node.ID}, nil
}

func resolveEdgeRefs(resolver RefResolver, runID string, args map[string]any) error {
	from, _ := args["from"].(string)
	to, _ := args["to"].(string)
	if resolver == nil {
		return nil
	}
	resolved, err := ResolveRefs(resolver, runID, []string{from, to})
	if err != nil {
		return domain.NewValidationError("create_edge: %v", err)
	}
	args["from"] = resolved[from]
	args["to"] = resolved[to]
	return nil
}

func execCreateEdge(ctx context.Context, edges EdgeCreator, resolver RefResolver, run domain.Run, args map[string]any) (any, error) {
	a, err := decodeArgs[CreateEdgeArgs](args)
	if err != nil {
		return nil, err
	}
	edge, err := edges.CreateEdge(ctx, run.ID, a.From, a.To, a.Bidirectional, a.Label)
	if err != nil {
		return nil, domain.NewToolExecutionError("create_edge", err)
	}
	return map[string]any{"edgeId": edge.ID}, nil
}

func execSendHandoff(ctx context.Context, handoffs HandoffSender, resolver RefResolver, run domain.Run, node domain.Node, args map[string]any) (any, error) {
	a, err := decodeArgs[SendHandoffArgs](args)
	if err != nil {
		return nil, err
	}
	resolved, err := ResolveRefs(resolver, run.ID, []string{a.To})
	if err != nil {
		return nil, domain.NewValidationError("send_handoff: %v", err)
	}
	envelope, err := handoffs.SendHandoff(ctx, run.ID, node.ID, resolved[a.To], a.Message)
	if err != nil {
		return nil, domain.NewToolExecutionError("send_handoff", err)
	}
	return map[string]any{"envelopeId": envelope.ID}, nil
}

// remarshal round-trips args through JSON into out rather than writing a
// bespoke map-to-struct decoder per tool.
func remarshal(args map[string]any, out any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
