package events

import (
	"path/filepath"
	"testing"
)

func TestLogAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.ndjson")

	log, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}

	em := NewEmitter("run-1", nil, log)
	for i := 0; i < 5; i++ {
		em.Emit("node-a", TypeAssistantDelta, map[string]any{"i": i})
	}
	if err := log.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 events, got %d", len(got))
	}
	for i, ev := range got {
		if ev.Sequence != uint64(i+1) {
			t.Errorf("event %d: sequence = %d, want %d", i, ev.Sequence, i+1)
		}
		if ev.RunID != "run-1" || ev.NodeID != "node-a" {
			t.Errorf("event %d: unexpected run/node id: %+v", i, ev)
		}
	}
}

func TestReadPagePagination(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.ndjson")
	log, err := OpenLog(path)
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	em := NewEmitter("run-1", nil, log)
	for i := 0; i < 10; i++ {
		em.Emit("node-a", TypeAssistantFinal, nil)
	}
	log.Close()

	page, err := ReadPage(path, -1, 4)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(page.Events) != 4 {
		t.Fatalf("expected 4 events in last page, got %d", len(page.Events))
	}
	if !page.HasMore {
		t.Fatalf("expected HasMore=true")
	}
	if page.Events[len(page.Events)-1].Sequence != 10 {
		t.Fatalf("expected last event sequence=10, got %d", page.Events[len(page.Events)-1].Sequence)
	}

	page2, err := ReadPage(path, 6, 4)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if len(page2.Events) != 4 {
		t.Fatalf("expected 4 events in page2, got %d", len(page2.Events))
	}
	if !page2.HasMore {
		t.Fatalf("expected HasMore=true: the events at positions 0 and 1 are older than page2")
	}
}

func TestReadAllMissingFile(t *testing.T) {
	got, err := ReadAll(filepath.Join(t.TempDir(), "missing.ndjson"))
	if err != nil {
		t.Fatalf("ReadAll on missing file should not error, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil events, got %v", got)
	}
}
