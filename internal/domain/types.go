// Package domain holds the core entities of the orchestration runtime:
// runs, nodes, edges, envelopes, inbox items, artifacts, and approval
// requests. Types here are pure data — behavior lives in the packages
// that own each entity (runstore, noderunner, handoff, tools).
package domain

import "time"

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// OrchestrationMode governs whether the Scheduler synthesizes turns on
// its own (auto) or only reacts to external input (interactive).
type OrchestrationMode string

const (
	OrchestrationAuto        OrchestrationMode = "auto"
	OrchestrationInteractive OrchestrationMode = "interactive"
)

// GlobalMode restricts write capabilities across every node in a run.
type GlobalMode string

const (
	GlobalModePlanning       GlobalMode = "planning"
	GlobalModeImplementation GlobalMode = "implementation"
)

// Usage accumulates token/cost counters for a run or node.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	ToolCalls    int64 `json:"toolCalls"`
	Turns        int64 `json:"turns"`
}

// Add accumulates o into u in place.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.ToolCalls += o.ToolCalls
	u.Turns += o.Turns
}

// LayoutMetadata is opaque graph-UI position data the Runtime stores but
// never interprets.
type LayoutMetadata map[string]any

// Run is a container with a graph of nodes, edges, and their shared
// artifacts, inboxes, and approvals.
type Run struct {
	ID                string            `json:"id"`
	Status            RunStatus         `json:"status"`
	OrchestrationMode OrchestrationMode `json:"orchestrationMode"`
	GlobalMode        GlobalMode        `json:"globalMode"`
	WorkingDir        string            `json:"workingDir"`
	Usage             Usage             `json:"usage"`
	Layout            LayoutMetadata    `json:"layout,omitempty"`
	MaxIterations     int               `json:"maxIterations"`
	IterationsUsed    int               `json:"iterationsUsed"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// EdgeManagement controls whether a node may create edges/nodes.
type EdgeManagement string

const (
	EdgeManagementNone EdgeManagement = "none"
	EdgeManagementSelf EdgeManagement = "self"
	EdgeManagementAll  EdgeManagement = "all"
)

// Capabilities are the boolean/enum permissions gating tool dispatch.
type Capabilities struct {
	WriteCode      bool           `json:"writeCode"`
	WriteDocs      bool           `json:"writeDocs"`
	RunCommands    bool           `json:"runCommands"`
	EdgeManagement EdgeManagement `json:"edgeManagement"`
}

// CLIPermissionsMode controls whether tool calls require approval.
type CLIPermissionsMode string

const (
	CLIPermissionsSkip  CLIPermissionsMode = "skip"
	CLIPermissionsGated CLIPermissionsMode = "gated"
)

// Permissions bundles the approval-gating knobs for a node.
type Permissions struct {
	CLIPermissionsMode              CLIPermissionsMode `json:"cliPermissionsMode"`
	AgentManagementRequiresApproval bool               `json:"agentManagementRequiresApproval"`
}

// NodeStatus is the observable status of a node's turn loop.
type NodeStatus string

const (
	NodeStatusIdle    NodeStatus = "idle"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusBlocked NodeStatus = "blocked"
	NodeStatusFailed  NodeStatus = "failed"
)

// ConnectionStatus reflects the Provider Adapter session's liveness.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionIdle         ConnectionStatus = "idle"
	ConnectionStreaming    ConnectionStatus = "streaming"
)

// Connection tracks a node's Provider Adapter session liveness.
type Connection struct {
	Status        ConnectionStatus `json:"status"`
	LastHeartbeat time.Time        `json:"lastHeartbeat,omitempty"`
}

// Session is the opaque adapter-owned state tying successive turns
// together.
type Session struct {
	ID            string   `json:"id,omitempty"`
	ResumeCommand []string `json:"resumeCommand,omitempty"`
	PromptSent    bool     `json:"promptSent"`
	HeaderHash    string   `json:"headerHash,omitempty"`
}

// Node is a single turn-executing agent endpoint.
type Node struct {
	ID                string       `json:"id"`
	RunID             string       `json:"runId"`
	Label             string       `json:"label"`
	Alias             string       `json:"alias,omitempty"`
	RoleTemplate      string       `json:"roleTemplate"`
	Provider          string       `json:"provider"`
	CustomSystem      string       `json:"customSystemPrompt,omitempty"`
	Status            NodeStatus   `json:"status"`
	Summary           string       `json:"summary,omitempty"`
	Usage             Usage        `json:"usage"`
	Capabilities      Capabilities `json:"capabilities"`
	Permissions       Permissions  `json:"permissions"`
	Session           Session      `json:"session"`
	Connection        Connection   `json:"connection"`
	InboxCount        int          `json:"inboxCount"`
	WorkingDir        string       `json:"workingDir,omitempty"`
	CompletedTurns    int          `json:"completedTurns"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// TrimSummary truncates s to the ≤140-char summary budget.
func TrimSummary(s string) string {
	const max = 140
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// EdgeType is metadata-only (router does not branch on it).
type EdgeType string

const (
	EdgeTypeHandoff EdgeType = "handoff"
	EdgeTypeReport  EdgeType = "report"
)

// Edge is a directed, purely-authorizing connection between two nodes.
type Edge struct {
	ID            string    `json:"id"`
	RunID         string    `json:"runId"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Bidirectional bool      `json:"bidirectional"`
	Type          EdgeType  `json:"type"`
	Label         string    `json:"label,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Allows reports whether this edge authorizes delivery from "from" to "to".
func (e Edge) Allows(from, to string) bool {
	if e.From == from && e.To == to {
		return true
	}
	if e.Bidirectional && e.From == to && e.To == from {
		return true
	}
	return false
}

// EnvelopePayload is the body of a handoff message.
type EnvelopePayload struct {
	Message    string         `json:"message"`
	Structured map[string]any `json:"structured,omitempty"`
	Artifacts  []string       `json:"artifacts,omitempty"`
	Status     string         `json:"status,omitempty"`
	Response   string         `json:"response,omitempty"`
}

// Envelope is an immutable handoff payload delivered exactly once.
type Envelope struct {
	ID         string          `json:"id"`
	FromNodeID string          `json:"fromNodeId"`
	ToNodeID   string          `json:"toNodeId"`
	CreatedAt  time.Time       `json:"createdAt"`
	Payload    EnvelopePayload `json:"payload"`
	ContextRef string          `json:"contextRef,omitempty"`
}

// InboxItemKind distinguishes the two kinds of inbox input.
type InboxItemKind string

const (
	InboxItemUserMessage InboxItemKind = "user_message"
	InboxItemEnvelope    InboxItemKind = "envelope"
)

// InboxItem is a FIFO entry in a node's inbox: either a user message or
// a delivered Envelope.
type InboxItem struct {
	ID          string        `json:"id"`
	Kind        InboxItemKind `json:"kind"`
	NodeID      string        `json:"nodeId"`
	Content     string        `json:"content,omitempty"`
	Envelope    *Envelope     `json:"envelope,omitempty"`
	Interrupt   bool          `json:"interrupt"`
	ReceivedAt  time.Time     `json:"receivedAt"`
}

// ArtifactKind enumerates the immutable on-disk record types.
type ArtifactKind string

const (
	ArtifactPrompt     ArtifactKind = "prompt"
	ArtifactDiff       ArtifactKind = "diff"
	ArtifactTranscript ArtifactKind = "transcript"
	ArtifactLog        ArtifactKind = "log"
	ArtifactReport     ArtifactKind = "report"
)

// Artifact is an immutable on-disk record produced by a turn.
type Artifact struct {
	ID        string         `json:"id"`
	RunID     string         `json:"runId"`
	NodeID    string         `json:"nodeId"`
	Kind      ArtifactKind   `json:"kind"`
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ApprovalStatus is the resolution state of an Approval Request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalModified ApprovalStatus = "modified"
)

// ApprovalRequest blocks a node's turn until resolved.
type ApprovalRequest struct {
	ApprovalID    string         `json:"approvalId"`
	RunID         string         `json:"runId"`
	NodeID        string         `json:"nodeId"`
	Tool          string         `json:"tool"`
	Context       map[string]any `json:"context,omitempty"`
	Status        ApprovalStatus `json:"status"`
	Feedback      string         `json:"feedback,omitempty"`
	ModifiedArgs  map[string]any `json:"modifiedArgs,omitempty"`
	Deadline      *time.Time     `json:"deadline,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty"`
	ResumeIndex   int            `json:"resumeIndex"`
}
