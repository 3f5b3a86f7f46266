package runtime

import (
	"context"
	"testing"

	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/provider"
	"github.com/conductorhq/conductor/internal/runstore"
)

func newTestRuntime(t *testing.T, factory ProviderFactory) *Runtime {
	t.Helper()
	dataDir := t.TempDir()
	rt, err := New(Config{DataDir: dataDir}, nil, factory)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

func echoFactory(text string) ProviderFactory {
	return func(node domain.Node) (provider.Adapter, error) {
		return provider.NewMock("mock", func(prompt string) string { return text }), nil
	}
}

func TestRunTurnEchoesAndReturnsNodeToIdle(t *testing.T) {
	rt := newTestRuntime(t, echoFactory("hi there"))
	ctx := context.Background()

	run, err := rt.CreateRun(ctx, runstore.CreateRunOptions{OrchestrationMode: domain.OrchestrationInteractive, MaxIterations: 10})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	node, err := rt.CreateNode(ctx, run.ID, runstore.CreateNodeOptions{
		Label:       "worker",
		Permissions: domain.Permissions{CLIPermissionsMode: domain.CLIPermissionsSkip},
	})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := rt.PostMessage(ctx, run.ID, node.ID, "hello", false); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	if err := rt.RunTurn(ctx, run.ID, node.ID); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	got, err := rt.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	_ = got

	n, err := rt.store.GetNode(ctx, run.ID, node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Status != domain.NodeStatusIdle {
		t.Fatalf("expected node idle after a tool-free turn, got %q", n.Status)
	}
	if n.Summary != "hi there" {
		t.Fatalf("expected summary to capture the assistant's reply, got %q", n.Summary)
	}
	if n.CompletedTurns != 1 {
		t.Fatalf("expected 1 completed turn, got %d", n.CompletedTurns)
	}
}

func TestRunTurnBlocksOnGatedToolAndResolveApprovalResumes(t *testing.T) {
	toolCallOnce := true
	factory := func(node domain.Node) (provider.Adapter, error) {
		return provider.NewMock("mock", func(prompt string) string {
			if toolCallOnce {
				toolCallOnce = false
				return `{"tool_call":{"id":"c1","name":"command","args":{"cmd":"echo","args":["hi"]}}}`
			}
			return "done"
		}), nil
	}
	rt := newTestRuntime(t, factory)
	ctx := context.Background()

	run, err := rt.CreateRun(ctx, runstore.CreateRunOptions{OrchestrationMode: domain.OrchestrationInteractive, MaxIterations: 10})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	node, err := rt.CreateNode(ctx, run.ID, runstore.CreateNodeOptions{
		Label:        "worker",
		Capabilities: domain.Capabilities{RunCommands: true},
		Permissions:  domain.Permissions{CLIPermissionsMode: domain.CLIPermissionsGated},
	})
	if err != nil {
		t.Fatalf("CreateNode: %v", err)
	}
	if err := rt.PostMessage(ctx, run.ID, node.ID, "run a command", false); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}

	if err := rt.RunTurn(ctx, run.ID, node.ID); err != nil {
		t.Fatalf("RunTurn: %v", err)
	}

	n, err := rt.store.GetNode(ctx, run.ID, node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Status != domain.NodeStatusBlocked {
		t.Fatalf("expected node blocked awaiting approval, got %q", n.Status)
	}

	pending, err := rt.ListApprovals(ctx, run.ID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending approval, got %+v, err=%v", pending, err)
	}

	if _, err := rt.ResolveApproval(ctx, run.ID, node.ID, pending[0].ApprovalID, domain.ApprovalApproved, "", nil); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}

	n, err = rt.store.GetNode(ctx, run.ID, node.ID)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Status != domain.NodeStatusIdle {
		t.Fatalf("expected node idle after resolving approval, got %q", n.Status)
	}
}
