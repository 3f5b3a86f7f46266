package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `dataDir: /tmp/conductor-data`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4317 {
		t.Errorf("expected default port 4317, got %d", cfg.Server.Port)
	}
	if cfg.Scheduler.MaxConcurrency != 3 {
		t.Errorf("expected default maxConcurrency 3, got %d", cfg.Scheduler.MaxConcurrency)
	}
	if cfg.StallDetection.Threshold != 20 {
		t.Errorf("expected default stall threshold 20, got %d", cfg.StallDetection.Threshold)
	}
	if cfg.Orchestration.DefaultRunMode != "interactive" {
		t.Errorf("expected default run mode interactive, got %q", cfg.Orchestration.DefaultRunMode)
	}
	if cfg.Workspace.Mode != "shared" {
		t.Errorf("expected default workspace mode shared, got %q", cfg.Workspace.Mode)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\nbogusField: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an unknown top-level field")
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte("scheduler:\n  maxConcurrency: 5\n"), 0o644); err != nil {
		t.Fatalf("writing base fixture: %v", err)
	}
	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: base.yaml\ndataDir: /tmp\n"), 0o644); err != nil {
		t.Fatalf("writing main fixture: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxConcurrency != 5 {
		t.Fatalf("expected included maxConcurrency 5, got %d", cfg.Scheduler.MaxConcurrency)
	}
}

func TestLoadValidatesWorkspaceMode(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\nworkspace:\n  mode: bogus\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid workspace.mode")
	}
}

func TestLoadValidatesStallThreshold(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\nstallDetection:\n  threshold: 1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a stallDetection.threshold below 2")
	}
}

func TestLoadValidatesProviderTransport(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\nproviders:\n  claude:\n    transport: bogus\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid provider transport")
	}
}

func TestLoadValidatesNotificationSink(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\nnotifications:\n  ops:\n    sink: bogus\n    target: \"123\"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid notification sink")
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\n")
	t.Setenv("CONDUCTOR_DATA_DIR", "/override")
	t.Setenv("CONDUCTOR_PORT", "9999")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/override" {
		t.Errorf("expected CONDUCTOR_DATA_DIR override, got %q", cfg.DataDir)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected CONDUCTOR_PORT override, got %d", cfg.Server.Port)
	}
}

func TestLoadProviderAPIKeyFallsBackToEnv(t *testing.T) {
	path := writeConfig(t, "dataDir: /tmp\nproviders:\n  anthropic:\n    transport: api\n")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers["anthropic"].APIKey != "sk-test-123" {
		t.Fatalf("expected ANTHROPIC_API_KEY to populate providers.anthropic.apiKey, got %q", cfg.Providers["anthropic"].APIKey)
	}
}

func TestJSONSchemaReflectsConfig(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty schema")
	}
}
