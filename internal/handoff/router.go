// Package handoff implements the handoff router (join
// semantics): edge authorization, alias resolution,
// and envelope delivery into a target node's inbox. Grounded on the
// teacher's internal/multiagent/orchestrator.go handleHandoff/
// buildHandoffMessage — the same "validate target, build a message,
// hand off control" shape, adapted from nexus's single in-process
// agent swap to delivering an immutable Envelope into an inbox queue
// that the target node consumes on its own next turn.
package handoff

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/events"
)

// EdgeLookup returns the edges connecting two nodes in either
// direction; the Router itself checks direction and the bidirectional
// flag. The Run Store owns edge
// storage; this is the narrow read it exposes to the router.
type EdgeLookup interface {
	EdgesBetween(ctx context.Context, runID, fromNodeID, toNodeID string) ([]domain.Edge, error)
}

// RefResolver resolves a node alias or id to a canonical node id,
// shared with the Tool Executor's alias resolution.
type RefResolver interface {
	ResolveRef(runID, ref string) (nodeID string, ok bool)
}

// InboxAppender delivers an Envelope into the target node's inbox,
// owned by the Run Store (which also recomputes inboxCount).
type InboxAppender interface {
	AppendEnvelope(ctx context.Context, runID string, env domain.Envelope) error
}

// Router delivers handoffs for one run.
type Router struct {
	edges   EdgeLookup
	refs    RefResolver
	inboxes InboxAppender
	emitter *events.Emitter
}

func New(edges EdgeLookup, refs RefResolver, inboxes InboxAppender, emitter *events.Emitter) *Router {
	return &Router{edges: edges, refs: refs, inboxes: inboxes, emitter: emitter}
}

// Deliver routes message from fromNodeID to toRef (an alias or node
// id), matching the send_handoff tool's contract: the
// edge must exist, authorize direction, and honor bidirectional.
func (r *Router) Deliver(ctx context.Context, runID, fromNodeID, toRef, message string) (domain.Envelope, error) {
	toNodeID, ok := r.refs.ResolveRef(runID, toRef)
	if !ok {
		return domain.Envelope{}, domain.NewValidationError("unresolved node ref %q", toRef)
	}

	authorized, err := r.authorized(ctx, runID, fromNodeID, toNodeID)
	if err != nil {
		return domain.Envelope{}, err
	}
	if !authorized {
		return domain.Envelope{}, domain.NewCapabilityDeniedError("send_handoff", "no authorizing edge between "+fromNodeID+" and "+toNodeID)
	}

	env := domain.Envelope{
		ID:         uuid.NewString(),
		FromNodeID: fromNodeID,
		ToNodeID:   toNodeID,
		CreatedAt:  time.Now().UTC(),
		Payload:    domain.EnvelopePayload{Message: message},
	}

	if err := r.inboxes.AppendEnvelope(ctx, runID, env); err != nil {
		return domain.Envelope{}, err
	}

	if r.emitter != nil {
		r.emitter.Emit(toNodeID, events.TypeHandoffSent, map[string]any{
			"envelopeId": env.ID,
			"fromNodeId": fromNodeID,
			"toNodeId":   toNodeID,
		})
	}

	return env, nil
}

// SendHandoff satisfies tools.HandoffSender, letting the Tool Executor
// dispatch the send_handoff tool straight into this Router.
func (r *Router) SendHandoff(ctx context.Context, runID, fromNodeID, toNodeID, message string) (domain.Envelope, error) {
	return r.Deliver(ctx, runID, fromNodeID, toNodeID, message)
}

// authorized: an edge a→b authorizes the handoff; an
// edge b→a only authorizes it when bidirectional. Edge.Type is never
// branched on (metadata-only, per domain.EdgeType's doc comment).
func (r *Router) authorized(ctx context.Context, runID, fromNodeID, toNodeID string) (bool, error) {
	edges, err := r.edges.EdgesBetween(ctx, runID, fromNodeID, toNodeID)
	if err != nil {
		return false, err
	}
	for _, e := range edges {
		if e.From == fromNodeID && e.To == toNodeID {
			return true, nil
		}
		if e.Bidirectional && e.From == toNodeID && e.To == fromNodeID {
			return true, nil
		}
	}
	return false, nil
}
