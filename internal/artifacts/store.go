// Package artifacts implements the Artifact Store:
// content-addressed, immutable file writes under
// <dataDir>/runs/<runId>/artifacts/<id>-<sanitized-name>.
package artifacts

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor/internal/domain"
)

// Store writes and reads artifacts for a single data directory, rooted
// the way the teacher's LocalStore does (atomic temp-file-then-rename),
// but using a deterministic path instead of a content-type/date tree
// plus side index — the artifact id already disambiguates.
type Store struct {
	dataDir string
}

// New creates a Store rooted at dataDir, the configurable data
// directory.
func New(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeName(name string) string {
	name = filepath.Base(name)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "artifact"
	}
	return name
}

// Dir returns the artifacts directory for a run.
func (s *Store) Dir(runID string) string {
	return filepath.Join(s.dataDir, "runs", runID, "artifacts")
}

// Path returns the path an artifact with the given id and name would be
// written to — <dataDir>/runs/<runId>/artifacts/<id>-<sanitized-name>.
func (s *Store) Path(runID, id, name string) string {
	return filepath.Join(s.Dir(runID), fmt.Sprintf("%s-%s", id, sanitizeName(name)))
}

// Put writes content for a new artifact of the given kind/name under
// nodeID's run, returning the created Artifact record. Content is never
// mutated after creation: writes go to a temp file then an atomic
// rename, matching internal/artifacts/local_store.go in the teacher.
func (s *Store) Put(runID, nodeID string, kind domain.ArtifactKind, name string, content io.Reader, metadata map[string]any) (domain.Artifact, error) {
	id := uuid.NewString()
	dir := s.Dir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Artifact{}, fmt.Errorf("create artifact dir: %w", err)
	}

	finalPath := s.Path(runID, id, name)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return domain.Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return domain.Artifact{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return domain.Artifact{}, fmt.Errorf("rename artifact: %w", err)
	}

	art := domain.Artifact{
		ID:       id,
		RunID:    runID,
		NodeID:   nodeID,
		Kind:     kind,
		Name:     sanitizeName(name),
		Path:     finalPath,
		Metadata: metadata,
	}
	return art, nil
}

// PutString is a convenience wrapper around Put for in-memory content.
func (s *Store) PutString(runID, nodeID string, kind domain.ArtifactKind, name, content string, metadata map[string]any) (domain.Artifact, error) {
	return s.Put(runID, nodeID, kind, name, strings.NewReader(content), metadata)
}

// Get streams an artifact's content back by its stored path. The
// Artifact record (with Path) must come from the Run Store; the Store
// itself does not index artifacts by id, relying on the deterministic
// path design instead (no lookup table needed).
func (s *Store) Get(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}
