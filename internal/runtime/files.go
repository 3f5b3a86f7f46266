package runtime

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/conductorhq/conductor/internal/domain"
)

// DirEntry is one non-hidden entry returned by ListDirectory.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  int64
}

// ListDirectory lists non-hidden entries of path, sandboxed to workingDir:
// any path that escapes workingDir after cleaning is rejected. The
// boundary check is this function's own prefix test on the cleaned
// paths, separate from the one in internal/tools/localfiles.go.
func ListDirectory(workingDir, relPath string) ([]DirEntry, error) {
	target := filepath.Join(workingDir, relPath)
	cleanedRoot := filepath.Clean(workingDir)
	cleanedTarget := filepath.Clean(target)
	if cleanedTarget != cleanedRoot && !strings.HasPrefix(cleanedTarget, cleanedRoot+string(filepath.Separator)) {
		return nil, domain.NewValidationError("path %q escapes the working directory", relPath)
	}

	entries, err := os.ReadDir(cleanedTarget)
	if err != nil {
		return nil, domain.NewToolExecutionError("list_directory", err)
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		var size int64
		if err == nil {
			size = info.Size()
		}
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir(), Size: size})
	}
	return out, nil
}
