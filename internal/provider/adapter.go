// Package provider implements the Provider Adapter capability:
// lifecycle + streaming I/O for one child coding
// assistant, normalizing its output into canonical events.
package provider

import (
	"context"

	"github.com/conductorhq/conductor/internal/events"
)

// Transport names the three adapter variants
type Transport string

const (
	TransportCLIStateful            Transport = "cli-stateful"
	TransportCLIStatelessStreamJSON Transport = "cli-stateless-stream-json"
	TransportAPI                    Transport = "api"
)

// PromptKind selects whether Send carries the full assembled prompt or
// just the incremental inbox/instruction block.
type PromptKind string

const (
	PromptKindFull  PromptKind = "full"
	PromptKindDelta PromptKind = "delta"
)

// SendRequest is one turn's input to an adapter.
type SendRequest struct {
	Prompt     string
	PromptKind PromptKind
	TurnID     string
}

// ApprovalResolution is forwarded to providers that surface their own
// native approval prompts (e.g. a CLI asking to confirm a shell command).
type ApprovalResolution struct {
	ApprovalID string
	Status     string // approved | denied | modified
	Feedback   string
	ModifiedArgs map[string]any
}

// Adapter is the polymorphic capability wrapping one external assistant
// program. Implementations MUST normalize their
// provider's output into the canonical event types in package events
// (message.assistant.delta/final, thinking.delta/final, tool.*,
// approval.*, telemetry.usage, node.patch, console.chunk) and deliver
// them on the channel returned by Events.
type Adapter interface {
	// Name identifies the provider, e.g. "anthropic", "mock".
	Name() string
	// Transport reports which of the three variants this adapter is.
	Transport() Transport

	// Start begins the adapter's session (spawns a subprocess, opens an
	// HTTP client, etc). Must be idempotent if already started.
	Start(ctx context.Context) error
	// Close tears the session down, releasing any subprocess/connection.
	Close(ctx context.Context) error

	// Send enqueues one turn's input. Streamed output is delivered on
	// the Events channel; Send does not block for the full response.
	Send(ctx context.Context, req SendRequest) error
	// Interrupt aborts the current turn; already-emitted deltas are
	// retained (not retracted).
	Interrupt(ctx context.Context) error
	// ResolveApproval forwards a provider-native approval reply.
	ResolveApproval(ctx context.Context, res ApprovalResolution) error
	// ResetSession clears provider-side state (e.g. on provider switch).
	ResetSession(ctx context.Context) error
	// SessionID returns the opaque provider session identifier, or ""
	// if none has been established yet.
	SessionID() string
	// SupportsResume reports whether this adapter's protocol preserves
	// state between invocations; stateless protocols force resume=false
	// regardless of configuration.
	SupportsResume() bool

	// Events delivers normalized canonical events for the current (or
	// most recent) turn.
	Events() <-chan events.Event
	// Errors delivers adapter-level errors (ProviderTransportError
	// candidates); the Node Runner fails the current turn on receipt.
	Errors() <-chan error
}
