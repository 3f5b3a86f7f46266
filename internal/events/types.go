// Package events implements the Event Log (durable NDJSON journal) and
// Event Bus (fan-out to subscribers).
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names the canonical event variants. Providers and internal
// components normalize into exactly these names.
type Type string

const (
	TypeRunPatch    Type = "run.patch"
	TypeNodePatch   Type = "node.patch"
	TypeNodeProgress Type = "node.progress"

	TypeMessageUser            Type = "message.user"
	TypeAssistantDelta         Type = "message.assistant.delta"
	TypeAssistantFinal         Type = "message.assistant.final"
	TypeThinkingDelta          Type = "message.assistant.thinking.delta"
	TypeThinkingFinal          Type = "message.assistant.thinking.final"

	TypeToolProposed  Type = "tool.proposed"
	TypeToolStarted   Type = "tool.started"
	TypeToolCompleted Type = "tool.completed"

	TypeEdgeCreated  Type = "edge.created"
	TypeEdgeDeleted  Type = "edge.deleted"
	TypeHandoffSent  Type = "handoff.sent"

	TypeArtifactCreated Type = "artifact.created"

	TypeApprovalRequested Type = "approval.requested"
	TypeApprovalResolved  Type = "approval.resolved"

	TypeRunStalled Type = "run.stalled"

	TypeTelemetryUsage Type = "telemetry.usage"
	TypeConsoleChunk   Type = "console.chunk"
)

// droppable classifies high-volume streaming events that the Event Bus
// may drop under backpressure; the Event Log never drops anything. This
// mirrors internal/agent/event_sink.go's isDroppableEvent in the teacher.
var droppable = map[Type]bool{
	TypeAssistantDelta: true,
	TypeThinkingDelta:  true,
	TypeConsoleChunk:   true,
	TypeNodeProgress:   true,
}

// IsDroppable reports whether t may be dropped by a backpressured subscriber.
func IsDroppable(t Type) bool { return droppable[t] }

// Event is the tagged-union envelope every event carries.
// Variant-specific data lives in Fields to keep the envelope itself
// small and uniformly serializable.
type Event struct {
	ID       string         `json:"id"`
	RunID    string         `json:"runId"`
	NodeID   string         `json:"nodeId,omitempty"`
	Type     Type           `json:"type"`
	Sequence uint64         `json:"sequence"`
	Ts       time.Time      `json:"ts"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// New builds an Event with a fresh id and the given timestamp. Sequence
// is assigned by the per-run Emitter, not here, since it must be
// monotonic per run.
func New(runID, nodeID string, typ Type, fields map[string]any) Event {
	return Event{
		ID:     uuid.NewString(),
		RunID:  runID,
		NodeID: nodeID,
		Type:   typ,
		Ts:     time.Now().UTC(),
		Fields: fields,
	}
}
