package runstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/conductorhq/conductor/internal/domain"
)

// snapshot is the serializable projection of one run's authoritative
// state, written whenever the run has been quiet for the debounce
// period.
type snapshot struct {
	Run     domain.Run                    `json:"run"`
	Nodes   map[string]domain.Node        `json:"nodes"`
	Aliases map[string]string             `json:"aliases"`
	Edges   []domain.Edge                 `json:"edges"`
	Inbox   map[string][]domain.InboxItem `json:"inbox"`
}

// SnapshotStore persists and retrieves a run's latest snapshot, keyed by
// run id. FileSnapshotStore is the only implementation in this
// repository; there is no SQL-backed store.
type SnapshotStore interface {
	Save(runID string, data []byte) error
	Load(runID string) ([]byte, bool, error)
	Delete(runID string) error
	ListRunIDs() ([]string, error)
}

// FileSnapshotStore writes one JSON file per run under dir, matching
// the teacher's internal/agent/session_store.go atomic
// write-to-temp-then-rename pattern (reused verbatim here rather than
// reimplemented, since internal/artifacts.Store already owns that same
// idiom for artifact writes).
type FileSnapshotStore struct {
	dir string
}

// NewFileSnapshotStore creates a FileSnapshotStore rooted at dir,
// creating it if necessary.
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("runstore: creating snapshot dir: %w", err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (f *FileSnapshotStore) path(runID string) string {
	return filepath.Join(f.dir, runID+".json")
}

// Save atomically writes data for runID (write to a temp file in the
// same directory, then rename, so a crash mid-write never leaves a
// truncated snapshot behind).
func (f *FileSnapshotStore) Save(runID string, data []byte) error {
	tmp, err := os.CreateTemp(f.dir, runID+".tmp-*")
	if err != nil {
		return fmt.Errorf("runstore: creating temp snapshot file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("runstore: writing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("runstore: closing snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, f.path(runID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("runstore: renaming snapshot into place: %w", err)
	}
	return nil
}

func (f *FileSnapshotStore) Load(runID string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(runID))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("runstore: reading snapshot: %w", err)
	}
	return data, true, nil
}

func (f *FileSnapshotStore) Delete(runID string) error {
	err := os.Remove(f.path(runID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("runstore: deleting snapshot: %w", err)
	}
	return nil
}

func (f *FileSnapshotStore) ListRunIDs() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("runstore: listing snapshot dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}

// snapshotOf builds the serializable projection of r. Caller must hold
// r.mu (read lock suffices).
func snapshotOf(r *run) snapshot {
	nodes := make(map[string]domain.Node, len(r.nodes))
	for id, n := range r.nodes {
		nodes[id] = *n
	}
	aliases := make(map[string]string, len(r.aliases))
	for k, v := range r.aliases {
		aliases[k] = v
	}
	inbox := make(map[string][]domain.InboxItem, len(r.inbox))
	for k, v := range r.inbox {
		cp := make([]domain.InboxItem, len(v))
		copy(cp, v)
		inbox[k] = cp
	}
	edges := make([]domain.Edge, len(r.edges))
	copy(edges, r.edges)

	return snapshot{Run: r.data, Nodes: nodes, Aliases: aliases, Edges: edges, Inbox: inbox}
}

// flush serializes r's current state and saves it via s.snapshots,
// clearing the dirty flag on success. Caller must not hold r.mu.
func (s *Store) flush(r *run) error {
	if s.snapshots == nil {
		return nil
	}
	r.mu.RLock()
	snap := snapshotOf(r)
	runID := r.data.ID
	r.mu.RUnlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("runstore: marshaling snapshot for %s: %w", runID, err)
	}
	if err := s.snapshots.Save(runID, data); err != nil {
		return err
	}

	r.mu.Lock()
	r.dirty = false
	r.mu.Unlock()
	return nil
}
