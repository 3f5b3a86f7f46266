// Package runtime implements the Runtime Façade: the
// single public operation surface aggregating the Run Store, Scheduler,
// Node Runner, Tool Executor, Provider Adapters, Stall Detector, Handoff
// router, Artifact Store, and Event Log/Bus. Grounded on the teacher's
// internal/multiagent/orchestrator.go Orchestrator — one struct holding
// every subsystem, exposing the CRUD/lifecycle surface plus an event
// callback — generalized from one in-process agent to many nodes across
// many runs.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/conductorhq/conductor/internal/artifacts"
	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/events"
	"github.com/conductorhq/conductor/internal/handoff"
	"github.com/conductorhq/conductor/internal/noderunner"
	"github.com/conductorhq/conductor/internal/provider"
	"github.com/conductorhq/conductor/internal/runstore"
	"github.com/conductorhq/conductor/internal/scheduler"
	"github.com/conductorhq/conductor/internal/stall"
	"github.com/conductorhq/conductor/internal/telemetry"
	"github.com/conductorhq/conductor/internal/tools"
)

// ProviderFactory constructs a fresh Adapter for one node, selected by
// node.Provider. The Runtime owns none of the per-provider construction
// details (subprocess paths, API keys) — those come from runtime.Config
// by way of the caller supplying this factory (cmd/conductord wires it
// from the loaded config.Config).
type ProviderFactory func(node domain.Node) (provider.Adapter, error)

// Config tunes a Runtime instance.
type Config struct {
	DataDir            string
	MaxConcurrency     int64
	StallThreshold     int
	SystemTemplatesDir string
	UserTemplatesDir   string
	Log                *slog.Logger
	Tracer             *telemetry.Tracer
	Metrics            *telemetry.Metrics
}

// Runtime is the façade: every exported method here is a spec operation.
type Runtime struct {
	cfg       Config
	store     *runstore.Store
	artifacts *artifacts.Store
	providers ProviderFactory
	templates *TemplateSet
	log       *slog.Logger

	mu         sync.Mutex
	schedulers map[string]*scheduler.Scheduler
	stalls     map[string]*stall.Detector
	runners    map[string]map[string]*noderunner.Runner
	cancels    map[string]context.CancelFunc
}

// New builds a Runtime backed by snapshots persisted under cfg.DataDir.
func New(cfg Config, snapshots runstore.SnapshotStore, providers ProviderFactory) (*Runtime, error) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	templates, err := NewTemplateSet(cfg.SystemTemplatesDir, cfg.UserTemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("runtime: loading role templates: %w", err)
	}

	rt := &Runtime{
		cfg:        cfg,
		store:      runstore.New(snapshots),
		artifacts:  artifacts.New(cfg.DataDir),
		providers:  providers,
		templates:  templates,
		log:        log,
		schedulers: make(map[string]*scheduler.Scheduler),
		stalls:     make(map[string]*stall.Detector),
		runners:    make(map[string]map[string]*noderunner.Runner),
		cancels:    make(map[string]context.CancelFunc),
	}
	return rt, nil
}

// Recover reloads every persisted run and restarts its Scheduler,
// demoting any run left mid-turn at crash time before resuming.
func (rt *Runtime) Recover(ctx context.Context) (int, error) {
	eventLogDir := filepath.Join(rt.cfg.DataDir, "runs")
	count, err := rt.store.Recover(ctx, eventLogDir)
	if err != nil {
		return 0, err
	}
	runs, err := rt.store.ListRuns(ctx)
	if err != nil {
		return count, err
	}
	for _, run := range runs {
		if run.Status == domain.RunStatusRunning || run.Status == domain.RunStatusPaused {
			rt.ensureScheduler(run.ID)
		}
	}
	return count, nil
}

// Close flushes every run's snapshot, stops its scheduler, and stops the
// template set's file watcher. Intended for graceful shutdown.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(rt.cancels))
	for _, c := range rt.cancels {
		cancels = append(cancels, c)
	}
	rt.mu.Unlock()

	for _, c := range cancels {
		c()
	}

	var templateErr error
	if rt.templates != nil {
		templateErr = rt.templates.Close()
	}
	if err := rt.store.FlushAll(ctx); err != nil {
		return err
	}
	return templateErr
}

func (rt *Runtime) eventLogPath(runID string) string {
	return filepath.Join(rt.cfg.DataDir, "runs", runID+".ndjson")
}

// CreateRun starts a new run and its Scheduler pump.
func (rt *Runtime) CreateRun(ctx context.Context, opts runstore.CreateRunOptions) (domain.Run, error) {
	if opts.EventLogDir == "" {
		opts.EventLogDir = filepath.Join(rt.cfg.DataDir, "runs")
	}
	run, err := rt.store.CreateRun(ctx, opts)
	if err != nil {
		return domain.Run{}, err
	}
	rt.ensureScheduler(run.ID)
	return run, nil
}

func (rt *Runtime) ensureScheduler(runID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, ok := rt.schedulers[runID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sched := scheduler.New(runID, rt.store, turnRunnerFunc(rt.RunTurn), scheduler.Config{MaxConcurrency: rt.cfg.MaxConcurrency}, rt.log)
	rt.schedulers[runID] = sched
	rt.stalls[runID] = stall.New(rt.cfg.StallThreshold)
	rt.cancels[runID] = cancel

	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			rt.log.Error("runtime: scheduler exited", "runId", runID, "error", err)
		}
	}()
}

type turnRunnerFunc func(ctx context.Context, runID, nodeID string) error

func (f turnRunnerFunc) RunTurn(ctx context.Context, runID, nodeID string) error { return f(ctx, runID, nodeID) }

// GetRun, ListRuns, UpdateRun, DeleteRun delegate straight to the Run Store.

func (rt *Runtime) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	return rt.store.GetRun(ctx, runID)
}

func (rt *Runtime) ListRuns(ctx context.Context) ([]domain.Run, error) {
	return rt.store.ListRuns(ctx)
}

func (rt *Runtime) UpdateRun(ctx context.Context, runID string, fn func(r *domain.Run)) (domain.Run, error) {
	return rt.store.UpdateRun(ctx, runID, fn)
}

func (rt *Runtime) DeleteRun(ctx context.Context, runID string) error {
	rt.mu.Lock()
	if cancel, ok := rt.cancels[runID]; ok {
		cancel()
		delete(rt.cancels, runID)
	}
	delete(rt.schedulers, runID)
	delete(rt.stalls, runID)
	delete(rt.runners, runID)
	rt.mu.Unlock()
	return rt.store.DeleteRun(ctx, runID)
}

// StopRun interrupts every node, then marks the run stopped.
func (rt *Runtime) StopRun(ctx context.Context, runID string) error {
	nodes, err := rt.store.ListNodes(ctx, runID)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		_ = rt.InterruptNodeProcess(ctx, runID, n.ID)
	}
	_, err = rt.store.UpdateRun(ctx, runID, func(r *domain.Run) { r.Status = domain.RunStatusStopped })
	return err
}

// CreateNode adds a node to the run. Its Node Runner is built later, by
// RunTurn, on the node's first turn.
func (rt *Runtime) CreateNode(ctx context.Context, runID string, opts runstore.CreateNodeOptions) (domain.Node, error) {
	return rt.store.CreateNode(ctx, runID, opts)
}

func (rt *Runtime) UpdateNode(ctx context.Context, runID, nodeID string, fn func(n *domain.Node)) (domain.Node, error) {
	return rt.store.UpdateNode(ctx, runID, nodeID, fn)
}

func (rt *Runtime) DeleteNode(ctx context.Context, runID, nodeID string) error {
	rt.mu.Lock()
	if byNode, ok := rt.runners[runID]; ok {
		delete(byNode, nodeID)
	}
	if d, ok := rt.stalls[runID]; ok {
		d.Reset(nodeID)
	}
	rt.mu.Unlock()
	return rt.store.DeleteNode(ctx, runID, nodeID)
}

// ResetNode restores a node to idle and clears its Node Runner so the
// next turn starts a fresh session.
func (rt *Runtime) ResetNode(ctx context.Context, runID, nodeID string) (domain.Node, error) {
	rt.mu.Lock()
	if byNode, ok := rt.runners[runID]; ok {
		delete(byNode, nodeID)
	}
	if d, ok := rt.stalls[runID]; ok {
		d.Reset(nodeID)
	}
	rt.mu.Unlock()
	return rt.store.ResetNode(ctx, runID, nodeID)
}

// InterruptNodeProcess cooperatively aborts the node's in-flight turn.
func (rt *Runtime) InterruptNodeProcess(ctx context.Context, runID, nodeID string) error {
	r, ok := rt.runnerFor(runID, nodeID)
	if !ok || r.Adapter == nil {
		return nil
	}
	return r.Adapter.Interrupt(ctx)
}

// StopNodeProcess terminates the node's adapter session unconditionally.
func (rt *Runtime) StopNodeProcess(ctx context.Context, runID, nodeID string) error {
	rt.mu.Lock()
	var r *noderunner.Runner
	if byNode, ok := rt.runners[runID]; ok {
		r = byNode[nodeID]
		delete(byNode, nodeID)
	}
	rt.mu.Unlock()
	if r != nil && r.Adapter != nil {
		if err := r.Adapter.Close(ctx); err != nil {
			return err
		}
	}
	_, err := rt.store.ResetNode(ctx, runID, nodeID)
	return err
}

// StartNodeProcess is a no-op beyond ensuring the run's Scheduler is
// running — the Node Runner is constructed lazily on first turn, and a
// freshly created node is already idle and ready once its inbox holds a
// message.
func (rt *Runtime) StartNodeProcess(ctx context.Context, runID, nodeID string) error {
	rt.ensureScheduler(runID)
	return nil
}

func (rt *Runtime) CreateEdge(ctx context.Context, runID, from, to string, bidirectional bool, label string) (domain.Edge, error) {
	return rt.store.CreateEdge(ctx, runID, from, to, bidirectional, label)
}

func (rt *Runtime) DeleteEdge(ctx context.Context, runID, edgeID string) error {
	return rt.store.DeleteEdge(ctx, runID, edgeID)
}

func (rt *Runtime) PostMessage(ctx context.Context, runID, nodeID, content string, interrupt bool) error {
	return rt.store.PostMessage(ctx, runID, nodeID, content, interrupt)
}

func (rt *Runtime) DeliverEnvelope(ctx context.Context, runID string, env domain.Envelope) error {
	return rt.store.AppendEnvelope(ctx, runID, env)
}

func (rt *Runtime) ListApprovals(ctx context.Context, runID string) ([]domain.ApprovalRequest, error) {
	store, err := rt.store.Approvals(runID)
	if err != nil {
		return nil, err
	}
	return store.ListPending(ctx, runID)
}

// ResolveApproval resolves a pending Approval Request and resumes the
// node's Node Runner at its preserved cursor.
func (rt *Runtime) ResolveApproval(ctx context.Context, runID, nodeID, approvalID string, status domain.ApprovalStatus, feedback string, modifiedArgs map[string]any) (noderunner.TurnResult, error) {
	approvals, err := rt.store.Approvals(runID)
	if err != nil {
		return noderunner.TurnResult{}, err
	}
	resolved, err := tools.Resolve(ctx, approvals, approvalID, status, feedback, modifiedArgs)
	if err != nil {
		return noderunner.TurnResult{}, err
	}

	r, ok := rt.runnerFor(runID, nodeID)
	if !ok {
		return noderunner.TurnResult{}, domain.NewNotFoundError("node runner", nodeID)
	}
	result, err := r.Resume(ctx, resolved)
	if err != nil {
		return result, err
	}
	rt.syncNodeFromRunner(ctx, runID, nodeID, r, result)
	return result, nil
}

func (rt *Runtime) RecordArtifact(ctx context.Context, runID, nodeID string, kind domain.ArtifactKind, name string, content []byte) (domain.Artifact, error) {
	return rt.artifacts.PutString(runID, nodeID, kind, name, string(content), nil)
}

func (rt *Runtime) GetEvents(runID string, before, pageSize int) (events.Page, error) {
	return events.ReadPage(rt.eventLogPath(runID), before, pageSize)
}

func (rt *Runtime) OnEvent(runID string, sub events.Subscriber) (func(), error) {
	return rt.store.Subscribe(runID, sub)
}

// Templates exposes the layered role-template set's list/get/create/
// update/delete surface for a caller — cmd/conductord's `template`
// command group — to drive directly.
func (rt *Runtime) Templates() *TemplateSet {
	return rt.templates
}

// roleTemplateInput resolves a node's role template content, falling
// back to its CustomSystem override when set.
func (rt *Runtime) roleTemplateContent(node domain.Node) (string, error) {
	if node.CustomSystem != "" {
		return node.CustomSystem, nil
	}
	return rt.templates.Get(node.RoleTemplate)
}

func (rt *Runtime) runnerFor(runID, nodeID string) (*noderunner.Runner, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	byNode, ok := rt.runners[runID]
	if !ok {
		return nil, false
	}
	r, ok := byNode[nodeID]
	return r, ok
}

func (rt *Runtime) setRunner(runID, nodeID string, r *noderunner.Runner) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	byNode, ok := rt.runners[runID]
	if !ok {
		byNode = make(map[string]*noderunner.Runner)
		rt.runners[runID] = byNode
	}
	byNode[nodeID] = r
}

// RunTurn satisfies scheduler.TurnRunner: it assembles TurnInput from
// the Run Store's current inbox, drives one Node Runner turn, folds the
// outcome back into node state, and feeds the Stall Detector.
func (rt *Runtime) RunTurn(ctx context.Context, runID, nodeID string) error {
	run, err := rt.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	node, err := rt.store.GetNode(ctx, runID, nodeID)
	if err != nil {
		return err
	}

	r, ok := rt.runnerFor(runID, nodeID)
	if !ok {
		r, err = rt.newRunner(run, &node)
		if err != nil {
			return err
		}
		rt.setRunner(runID, nodeID, r)
	}

	inbox, err := rt.store.ConsumeInbox(ctx, runID, nodeID)
	if err != nil {
		return err
	}
	roleTemplate, err := rt.roleTemplateContent(node)
	if err != nil {
		return err
	}

	if _, err := rt.store.UpdateNode(ctx, runID, nodeID, func(n *domain.Node) { n.Status = domain.NodeStatusRunning }); err != nil {
		return err
	}

	result, err := r.Turn(ctx, noderunner.TurnInput{
		RoleTemplate: roleTemplate,
		Inbox:        inbox,
		ChatHistory:  node.Summary,
	})
	if err != nil {
		_, _ = rt.store.UpdateNode(ctx, runID, nodeID, func(n *domain.Node) { n.Status = domain.NodeStatusFailed })
		return err
	}

	rt.syncNodeFromRunner(ctx, runID, nodeID, r, result)
	return nil
}

// syncNodeFromRunner folds a TurnResult's outcome back into the Run
// Store's node state: status, usage, and the Stall Detector's verdict.
func (rt *Runtime) syncNodeFromRunner(ctx context.Context, runID, nodeID string, r *noderunner.Runner, result noderunner.TurnResult) {
	status := domain.NodeStatusIdle
	switch result.State {
	case noderunner.StateBlocked:
		status = domain.NodeStatusBlocked
	}

	summary := domain.TrimSummary(result.AssistantText)
	_, _ = rt.store.UpdateNode(ctx, runID, nodeID, func(n *domain.Node) {
		n.Status = status
		n.Usage = r.Node.Usage
		n.Session = r.Node.Session
		n.CompletedTurns = r.Node.CompletedTurns
		if summary != "" {
			n.Summary = summary
		}
	})

	if status == domain.NodeStatusBlocked {
		return
	}

	rt.mu.Lock()
	detector := rt.stalls[runID]
	rt.mu.Unlock()
	if detector == nil {
		return
	}
	verdict := detector.Observe(nodeID, stall.Signal{
		OutputHash: hashText(result.AssistantText),
		Summary:    summary,
	})
	if verdict.Stalled {
		emitter, err := rt.store.Emitter(runID)
		if err == nil {
			emitter.Emit(nodeID, events.TypeRunStalled, map[string]any{
				"trippedBy":       verdict.TrippedBy,
				"recentSummaries": verdict.RecentSummaries,
			})
		}
		_, _ = rt.store.UpdateRun(ctx, runID, func(run *domain.Run) { run.Status = domain.RunStatusPaused })
	}
}

func (rt *Runtime) newRunner(run domain.Run, node *domain.Node) (*noderunner.Runner, error) {
	adapter, err := rt.providers(*node)
	if err != nil {
		return nil, fmt.Errorf("runtime: constructing provider adapter for node %s: %w", node.ID, err)
	}
	emitter, err := rt.store.Emitter(run.ID)
	if err != nil {
		return nil, err
	}
	approvals, err := rt.store.Approvals(run.ID)
	if err != nil {
		return nil, err
	}
	router := handoff.New(rt.store, rt.store, rt.store, emitter)
	executor := tools.NewExecutor(tools.Dependencies{
		Emitter:  emitter,
		Approval: approvals,
		Refs:     rt.store,
		Files:    tools.LocalFiles{},
		Commands: tools.LocalCommandRunner{},
		Spawner:  rt.store,
		Edges:    rt.store,
		Handoffs: router,
	})
	runner := noderunner.NewRunner(run, node, adapter, executor, emitter)
	runner.Tracer = rt.cfg.Tracer
	runner.Metrics = rt.cfg.Metrics
	return runner, nil
}
