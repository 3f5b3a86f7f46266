package noderunner

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/events"
	"github.com/conductorhq/conductor/internal/prompt"
	"github.com/conductorhq/conductor/internal/provider"
	"github.com/conductorhq/conductor/internal/telemetry"
	"github.com/conductorhq/conductor/internal/tools"
)

// TurnInput is what drives one Preparing→...→Idle pass. The caller
// (Runtime.RunTurn, invoked by the Scheduler) assembles it from the
// Run Store's current node/run/inbox state; the Runner itself owns none
// of that state so it can be driven in isolation by tests.
type TurnInput struct {
	RoleTemplate string
	RepoFacts    string
	Inbox        []domain.InboxItem
	ChatHistory  string
}

// TurnResult reports what happened to a turn, including whether it
// suspended mid-flight awaiting an approval.
type TurnResult struct {
	State         State
	AssistantText string
	ToolResults   []tools.Result
	ApprovalIDs   []string
	Warnings      []string
}

// pendingCall pairs a tool call with the Result it produced (or nil
// pending one) so RunningTools can resume after a Blocked suspension
// without re-dispatching already-completed calls.
type pendingCall struct {
	call   tools.Call
	result *tools.Result
}

// Runner drives one Node through its turn state machine, grounded on
// the teacher's internal/agent/loop.go AgenticLoop: the same "stream,
// extract calls, run tools, continue" shape, generalized to one Node
// rather than one global session and split into a named State so a
// turn can suspend Blocked awaiting approval.
type Runner struct {
	Run      domain.Run
	Node     *domain.Node
	Adapter  provider.Adapter
	Executor *tools.Executor
	Emitter  *events.Emitter
	Tracer   *telemetry.Tracer
	Metrics  *telemetry.Metrics

	state   State
	pending []pendingCall
	cursor  int // index into pending of the next call to dispatch/resume
}

// NewRunner builds a Runner for node, starting Idle.
func NewRunner(run domain.Run, node *domain.Node, adapter provider.Adapter, executor *tools.Executor, emitter *events.Emitter) *Runner {
	return &Runner{
		Run:      run,
		Node:     node,
		Adapter:  adapter,
		Executor: executor,
		Emitter:  emitter,
		state:    StateIdle,
	}
}

// State reports the Runner's current position.
func (r *Runner) State() State { return r.state }

func (r *Runner) emit(typ events.Type, fields map[string]any) {
	if r.Emitter != nil {
		r.Emitter.Emit(r.Node.ID, typ, fields)
	}
}

func (r *Runner) setState(s State) {
	r.state = s
	r.emit(events.TypeNodePatch, map[string]any{"status": string(s)})
}

func (r *Runner) recordToolOutcome(tool string, res tools.Result, err error) {
	switch {
	case err != nil, !res.OK && res.ApprovalID == "":
		r.Metrics.ToolCallRecorded(tool, "error")
	case res.ApprovalID != "":
		r.Metrics.ToolCallRecorded(tool, "blocked")
	default:
		r.Metrics.ToolCallRecorded(tool, "ok")
	}
}

// Turn drives the node through one full cycle. If the prior turn left
// the node Blocked on an approval, call Resume instead.
func (r *Runner) Turn(ctx context.Context, in TurnInput) (TurnResult, error) {
	if r.state == StateBlocked {
		return TurnResult{}, fmt.Errorf("noderunner: node %s is blocked awaiting approval; call Resume", r.Node.ID)
	}

	ctx, span := r.Tracer.TraceTurn(ctx, r.Run.ID, r.Node.ID)
	r.Metrics.TurnStarted()
	defer r.Metrics.TurnEnded()
	result, err := r.turn(ctx, in)
	r.Tracer.RecordError(span, err)
	span.End()
	return result, err
}

func (r *Runner) turn(ctx context.Context, in TurnInput) (TurnResult, error) {
	r.setState(StatePreparing)
	artifacts := prompt.Build(prompt.Input{
		RoleTemplate: in.RoleTemplate,
		RepoFacts:    in.RepoFacts,
		Inbox:        in.Inbox,
		ChatHistory:  in.ChatHistory,
		GlobalMode:   r.Run.GlobalMode,
	})

	promptKind := r.choosePromptKind(artifacts.HeaderHash)
	promptText := artifacts.Full
	if promptKind == provider.PromptKindDelta {
		promptText = artifacts.Delta
	}

	if err := r.Adapter.Start(ctx); err != nil {
		return TurnResult{}, fmt.Errorf("noderunner: starting adapter: %w", err)
	}

	r.setState(StateSending)
	turnID := fmt.Sprintf("%s-%d", r.Node.ID, r.Node.CompletedTurns+1)
	if err := r.Adapter.Send(ctx, provider.SendRequest{Prompt: promptText, PromptKind: promptKind, TurnID: turnID}); err != nil {
		return TurnResult{}, fmt.Errorf("noderunner: sending turn: %w", err)
	}

	r.Node.Session.PromptSent = true
	r.Node.Session.HeaderHash = artifacts.HeaderHash
	r.Node.Session.ID = r.Adapter.SessionID()

	r.setState(StateStreaming)
	finalText, native, usage, err := r.consume(ctx)
	if err != nil {
		return TurnResult{}, err
	}

	r.setState(StateAwaitingFinal)
	calls, warnings := ExtractToolCalls(finalText, native)

	result := TurnResult{AssistantText: finalText, Warnings: warnings}
	if usage != nil {
		r.Node.Usage.InputTokens += usage.InputTokens
		r.Node.Usage.OutputTokens += usage.OutputTokens
	}

	if len(calls) == 0 {
		return r.complete(result)
	}

	r.pending = make([]pendingCall, len(calls))
	for i, c := range calls {
		r.pending[i] = pendingCall{call: c}
	}
	r.cursor = 0

	r.setState(StateRunningTools)
	return r.runPendingTools(ctx, result)
}

// Resume re-enters RunningTools after an external approval decision,
// picking up at the call that suspended.
func (r *Runner) Resume(ctx context.Context, resolution domain.ApprovalRequest) (TurnResult, error) {
	if r.state != StateBlocked {
		return TurnResult{}, fmt.Errorf("noderunner: node %s is not blocked", r.Node.ID)
	}
	if r.cursor >= len(r.pending) {
		return TurnResult{}, fmt.Errorf("noderunner: no pending call at resume index %d", r.cursor)
	}

	call := r.pending[r.cursor].call
	callCtx, span := r.Tracer.TraceToolCall(ctx, call.Name, attribute.Bool("resumed", true))
	res := r.Executor.Resume(callCtx, r.Run, *r.Node, call, resolution)
	span.End()
	r.recordToolOutcome(call.Name, res, nil)
	r.pending[r.cursor].result = &res
	r.cursor++

	r.setState(StateRunningTools)
	return r.runPendingTools(ctx, TurnResult{ToolResults: []tools.Result{res}})
}

// runPendingTools dispatches calls starting at r.cursor until either all
// complete, or one suspends pending approval (transitioning to Blocked).
func (r *Runner) runPendingTools(ctx context.Context, result TurnResult) (TurnResult, error) {
	for ; r.cursor < len(r.pending); r.cursor++ {
		call := r.pending[r.cursor].call

		callCtx, span := r.Tracer.TraceToolCall(ctx, call.Name)
		res, err := r.Executor.Execute(callCtx, r.Run, *r.Node, call, r.cursor)
		if err != nil {
			res = tools.Result{OK: false, Error: err.Error()}
		}
		r.Tracer.RecordError(span, err)
		span.End()
		r.recordToolOutcome(call.Name, res, err)
		r.pending[r.cursor].result = &res

		if res.ApprovalID != "" {
			result.ApprovalIDs = append(result.ApprovalIDs, res.ApprovalID)
			r.setState(StateBlocked)
			result.State = StateBlocked
			return result, nil
		}

		result.ToolResults = append(result.ToolResults, res)
	}

	return r.complete(result)
}

func (r *Runner) complete(result TurnResult) (TurnResult, error) {
	r.setState(StateCompleting)

	r.Node.CompletedTurns++
	r.pending = nil
	r.cursor = 0

	r.setState(StateIdle)
	result.State = StateIdle
	return result, nil
}

// choosePromptKind decides between a full and delta prompt: send the full prompt
// unless the provider supports resume, a prior turn has already sent
// the header (system+role) once, and that header is unchanged.
func (r *Runner) choosePromptKind(headerHash string) provider.PromptKind {
	if !r.Adapter.SupportsResume() {
		return provider.PromptKindFull
	}
	if !r.Node.Session.PromptSent {
		return provider.PromptKindFull
	}
	if r.Node.Session.HeaderHash != headerHash {
		return provider.PromptKindFull
	}
	return provider.PromptKindDelta
}

type usageDelta struct {
	InputTokens  int64
	OutputTokens int64
}

// consume drains the adapter's event channel for one turn, republishing
// deltas onto the Event Bus as they arrive and returning once a
// message.assistant.final (or an adapter error) ends the turn.
func (r *Runner) consume(ctx context.Context) (finalText string, native []tools.Call, usage *usageDelta, err error) {
	for {
		select {
		case <-ctx.Done():
			return "", nil, nil, ctx.Err()
		case adapterErr, ok := <-r.Adapter.Errors():
			if ok && adapterErr != nil {
				return "", nil, nil, fmt.Errorf("noderunner: provider error: %w", adapterErr)
			}
		case ev, ok := <-r.Adapter.Events():
			if !ok {
				return finalText, native, usage, nil
			}
			r.emit(ev.Type, ev.Fields)

			switch ev.Type {
			case events.TypeAssistantFinal:
				if text, _ := ev.Fields["text"].(string); text != "" {
					finalText = text
				}
				native = nativeToolCalls(ev.Fields)
				return finalText, native, usage, nil
			case events.TypeTelemetryUsage:
				usage = mergeUsage(usage, ev.Fields)
			}
		}
	}
}

func mergeUsage(existing *usageDelta, fields map[string]any) *usageDelta {
	u := existing
	if u == nil {
		u = &usageDelta{}
	}
	if v, ok := fields["inputTokens"].(int64); ok {
		u.InputTokens += v
	}
	if v, ok := fields["outputTokens"].(int64); ok {
		u.OutputTokens += v
	}
	return u
}

// nativeToolCalls decodes a provider's structured "toolCalls" field, if
// present on the final event.
func nativeToolCalls(fields map[string]any) []tools.Call {
	raw, ok := fields["toolCalls"].([]any)
	if !ok {
		return nil
	}
	var calls []tools.Call
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		name, _ := m["name"].(string)
		args, _ := m["args"].(map[string]any)
		calls = append(calls, tools.Call{ID: id, Name: name, Args: args})
	}
	return calls
}
