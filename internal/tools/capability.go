package tools

import (
	"github.com/conductorhq/conductor/internal/domain"
)

// CheckCapability is the first dispatch gate: reject before
// any schema validation or approval check runs. Mode-aware per the
// GlobalMode rule — planning mode treats writeCode as false regardless
// of the node's own capability flag.
func CheckCapability(tool string, caps domain.Capabilities, mode domain.GlobalMode, selfEndpoint bool) error {
	switch tool {
	case "spawn_node":
		if caps.EdgeManagement != domain.EdgeManagementAll {
			return domain.NewCapabilityDeniedError(tool, "requires edgeManagement=all")
		}
	case "create_edge":
		switch caps.EdgeManagement {
		case domain.EdgeManagementAll:
		case domain.EdgeManagementSelf:
			if !selfEndpoint {
				return domain.NewCapabilityDeniedError(tool, "edgeManagement=self requires the caller be one endpoint")
			}
		default:
			return domain.NewCapabilityDeniedError(tool, "requires edgeManagement=self or all")
		}
	case "write_file", "delete_file":
		writeCode := caps.WriteCode
		if mode == domain.GlobalModePlanning {
			writeCode = false
		}
		if !writeCode && !caps.WriteDocs {
			return domain.NewCapabilityDeniedError(tool, "requires writeCode or writeDocs")
		}
	case "command":
		if !caps.RunCommands {
			return domain.NewCapabilityDeniedError(tool, "requires runCommands")
		}
	case "read_file", "list_files", "send_handoff":
		// No capability gate; always permitted.
	}
	return nil
}
