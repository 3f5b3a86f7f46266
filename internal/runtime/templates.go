package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/conductorhq/conductor/internal/domain"
)

// TemplateSet implements role-template CRUD: two
// directories (system defaults, user overrides) where a user template
// of the same name shadows the system one. Grounded on the teacher's
// internal/templates/discovery.go layered-source model (LocalSource +
// SourcePriority conflict resolution), collapsed here from the
// teacher's full marketplace/variable-substitution template format down
// to a plain "<name>.md holds a role's system prompt" shape —
// live-reloaded with fsnotify rather than discovery.go's polling scan,
// since both directories are local and small.
type TemplateSet struct {
	systemDir string
	userDir   string

	mu      sync.RWMutex
	content map[string]string // name -> content, user shadowing system
	sources map[string]string // name -> "system" | "user", for ListRoleTemplates

	watcher *fsnotify.Watcher
}

// NewTemplateSet loads every ".md" file from systemDir and userDir
// (either may be empty/nonexistent) and starts watching both for
// changes. userDir entries shadow systemDir entries of the same name.
func NewTemplateSet(systemDir, userDir string) (*TemplateSet, error) {
	ts := &TemplateSet{
		systemDir: systemDir,
		userDir:   userDir,
		content:   make(map[string]string),
		sources:   make(map[string]string),
	}
	if err := ts.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// Live reload is a convenience, not a correctness requirement —
		// degrade to load-once rather than fail Runtime construction.
		return ts, nil
	}
	for _, dir := range []string{systemDir, userDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err == nil {
			_ = watcher.Add(dir)
		}
	}
	ts.watcher = watcher
	go ts.watch()
	return ts, nil
}

func (ts *TemplateSet) watch() {
	for {
		select {
		case ev, ok := <-ts.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(ev.Name) != ".md" {
				continue
			}
			_ = ts.reload()
		case _, ok := <-ts.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (ts *TemplateSet) reload() error {
	content := make(map[string]string)
	sources := make(map[string]string)

	if err := loadDir(ts.systemDir, "system", content, sources); err != nil {
		return err
	}
	// userDir loads second so its entries shadow systemDir's.
	if err := loadDir(ts.userDir, "user", content, sources); err != nil {
		return err
	}

	ts.mu.Lock()
	ts.content = content
	ts.sources = sources
	ts.mu.Unlock()
	return nil
}

func loadDir(dir, source string, content, sources map[string]string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("runtime: reading template dir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("runtime: reading template %s: %w", e.Name(), err)
		}
		content[name] = string(data)
		sources[name] = source
	}
	return nil
}

// Get returns a role template's content by name.
func (ts *TemplateSet) Get(name string) (string, error) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	c, ok := ts.content[name]
	if !ok {
		return "", domain.NewNotFoundError("role template", name)
	}
	return c, nil
}

// RoleTemplateInfo is one entry in ListRoleTemplates.
type RoleTemplateInfo struct {
	Name   string
	Source string // "system" or "user"
}

// ListRoleTemplates returns every known template, user overrides
// already shadowing system defaults of the same name.
func (ts *TemplateSet) ListRoleTemplates() []RoleTemplateInfo {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]RoleTemplateInfo, 0, len(ts.content))
	for name, source := range ts.sources {
		out = append(out, RoleTemplateInfo{Name: name, Source: source})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PutRoleTemplate writes name's content as a user override. System
// templates are read-only from the Runtime's perspective — a user
// override is the only way to change what a node sees for name.
func (ts *TemplateSet) PutRoleTemplate(name, content string) error {
	if ts.userDir == "" {
		return domain.NewValidationError("no user template directory configured")
	}
	if err := os.MkdirAll(ts.userDir, 0o755); err != nil {
		return fmt.Errorf("runtime: creating user template dir: %w", err)
	}
	path := filepath.Join(ts.userDir, name+".md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("runtime: writing template %s: %w", name, err)
	}
	return ts.reload()
}

// DeleteRoleTemplate removes a user override, reverting name to its
// system default (if one exists) or removing it entirely.
func (ts *TemplateSet) DeleteRoleTemplate(name string) error {
	if ts.userDir == "" {
		return domain.NewValidationError("no user template directory configured")
	}
	path := filepath.Join(ts.userDir, name+".md")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("runtime: deleting template %s: %w", name, err)
	}
	return ts.reload()
}

// Close stops the file watcher, if one was started.
func (ts *TemplateSet) Close() error {
	if ts.watcher == nil {
		return nil
	}
	return ts.watcher.Close()
}
