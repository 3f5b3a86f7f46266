package tools

import (
	"fmt"
	"sort"
	"strings"
)

// RefResolver looks up a node's id+alias namespace for a run, used to
// resolve the free-text node refs that spawn_node/create_edge/send_handoff
// accept in their arguments.
type RefResolver interface {
	// ResolveRef returns the node ID matching ref (an id or an alias),
	// or false if it does not uniquely resolve.
	ResolveRef(runID, ref string) (nodeID string, ok bool)
}

// ResolveRefs resolves every ref in refs against resolver, collecting
// every ref that failed to resolve into a single explicit error message
// so the caller never has to guess which one was the problem.
func ResolveRefs(resolver RefResolver, runID string, refs []string) (map[string]string, error) {
	resolved := make(map[string]string, len(refs))
	var missing []string
	for _, ref := range refs {
		if nodeID, ok := resolver.ResolveRef(runID, ref); ok {
			resolved[ref] = nodeID
		} else {
			missing = append(missing, ref)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("unresolved node ref(s): %s", strings.Join(missing, ", "))
	}
	return resolved, nil
}
