package tools

import (
	"context"
	"testing"
	"time"
)

func TestLocalCommandRunnerCapturesOutput(t *testing.T) {
	r := LocalCommandRunner{Timeout: 2 * time.Second}
	stdout, _, exitCode, err := r.Run(context.Background(), t.TempDir(), "echo", []string{"hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", exitCode)
	}
	if stdout != "hi\n" {
		t.Fatalf("got stdout %q", stdout)
	}
}

func TestLocalCommandRunnerReportsNonZeroExitWithoutError(t *testing.T) {
	r := LocalCommandRunner{}
	_, _, exitCode, err := r.Run(context.Background(), t.TempDir(), "sh", []string{"-c", "exit 3"})
	if err != nil {
		t.Fatalf("expected a non-zero exit to not be a Go error, got %v", err)
	}
	if exitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", exitCode)
	}
}
