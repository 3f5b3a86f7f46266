package tools

import (
	"context"
	"testing"

	"github.com/conductorhq/conductor/internal/domain"
)

type fakeFiles struct{ files map[string]string }

func (f *fakeFiles) Read(workingDir, path string) (string, error) {
	content, ok := f.files[path]
	if !ok {
		return "", domain.NewNotFoundError("file", path)
	}
	return content, nil
}
func (f *fakeFiles) Write(workingDir, path, content string) error {
	if f.files == nil {
		f.files = map[string]string{}
	}
	f.files[path] = content
	return nil
}
func (f *fakeFiles) List(workingDir, path string) ([]string, error) { return nil, nil }
func (f *fakeFiles) Delete(workingDir, path string) error {
	delete(f.files, path)
	return nil
}

func baseNode() domain.Node {
	return domain.Node{
		ID:           "node-1",
		Capabilities: domain.Capabilities{WriteCode: true, WriteDocs: true, RunCommands: true, EdgeManagement: domain.EdgeManagementAll},
		Permissions:  domain.Permissions{CLIPermissionsMode: domain.CLIPermissionsSkip},
	}
}

func TestExecuteWriteFileSucceedsWithoutApproval(t *testing.T) {
	files := &fakeFiles{}
	x := NewExecutor(Dependencies{Files: files})
	run := domain.Run{ID: "run-1", GlobalMode: domain.GlobalModeImplementation}

	result, err := x.Execute(context.Background(), run, baseNode(), Call{
		ID: "call-1", Name: "write_file",
		Args: map[string]any{"path": "notes.md", "content": "hello"},
	}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.OK {
		t.Fatalf("expected OK result, got %+v", result)
	}
	if files.files["notes.md"] != "hello" {
		t.Fatalf("expected file written, got %v", files.files)
	}
}

func TestExecuteRejectsInvalidArgsBeforeCapabilityCheck(t *testing.T) {
	x := NewExecutor(Dependencies{})
	run := domain.Run{ID: "run-1"}
	node := baseNode()
	node.Capabilities.RunCommands = false

	_, err := x.Execute(context.Background(), run, node, Call{Name: "command", Args: map[string]any{}}, 0)
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected a validation error (missing cmd) to win over capability denial, got %v", err)
	}
}

func TestExecuteDeniesWhenCapabilityMissing(t *testing.T) {
	x := NewExecutor(Dependencies{})
	run := domain.Run{ID: "run-1"}
	node := baseNode()
	node.Capabilities.RunCommands = false

	_, err := x.Execute(context.Background(), run, node, Call{Name: "command", Args: map[string]any{"cmd": "ls"}}, 0)
	if !domain.IsKind(err, domain.KindCapabilityDenied) {
		t.Fatalf("expected capability denied, got %v", err)
	}
}

func TestExecuteSuspendsForApprovalWhenGated(t *testing.T) {
	store := NewMemoryApprovalStore()
	x := NewExecutor(Dependencies{Approval: store, Files: &fakeFiles{}})
	run := domain.Run{ID: "run-1"}
	node := baseNode()
	node.Permissions.CLIPermissionsMode = domain.CLIPermissionsGated

	result, err := x.Execute(context.Background(), run, node, Call{
		Name: "write_file", Args: map[string]any{"path": "a.txt", "content": "x"},
	}, 3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.ApprovalID == "" {
		t.Fatal("expected the call to suspend with a non-empty approval id")
	}

	pending, err := store.ListPending(context.Background(), run.ID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending request, got %v, err %v", pending, err)
	}
	if pending[0].ResumeIndex != 3 {
		t.Fatalf("expected resume index to be preserved, got %d", pending[0].ResumeIndex)
	}
}

func TestResumeDeniedSkipsDispatch(t *testing.T) {
	files := &fakeFiles{}
	x := NewExecutor(Dependencies{Files: files})
	run := domain.Run{ID: "run-1"}
	node := baseNode()

	result := x.Resume(context.Background(), run, node, Call{
		Name: "write_file", Args: map[string]any{"path": "a.txt", "content": "x"},
	}, domain.ApprovalRequest{Status: domain.ApprovalDenied, Feedback: "not now"})

	if result.OK {
		t.Fatal("expected denied resolution to skip dispatch")
	}
	if len(files.files) != 0 {
		t.Fatal("expected no file write for a denied approval")
	}
}

func TestResumeModifiedAppliesModifiedArgs(t *testing.T) {
	files := &fakeFiles{}
	x := NewExecutor(Dependencies{Files: files})
	run := domain.Run{ID: "run-1"}
	node := baseNode()

	result := x.Resume(context.Background(), run, node, Call{
		Name: "write_file", Args: map[string]any{"path": "a.txt", "content": "original"},
	}, domain.ApprovalRequest{
		Status:       domain.ApprovalModified,
		ModifiedArgs: map[string]any{"path": "a.txt", "content": "modified"},
	})

	if !result.OK {
		t.Fatalf("expected modified approval to dispatch, got %+v", result)
	}
	if files.files["a.txt"] != "modified" {
		t.Fatalf("expected modified content to be written, got %v", files.files)
	}
}

func TestResolveRefsReportsAllMissing(t *testing.T) {
	_, err := ResolveRefs(stubResolver{}, "run-1", []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error for unresolvable refs")
	}
}

type stubResolver struct{}

func (stubResolver) ResolveRef(runID, ref string) (string, bool) { return "", false }
