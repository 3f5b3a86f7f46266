// Package runstore implements the Run Store + Persistence capability:
// authoritative in-memory run/node/edge/inbox/
// approval state, one Event Bus + Event Log + debounced snapshot per
// run, and crash recovery. Grounded on the teacher's
// internal/multiagent/orchestrator.go Sessions map
// (getSessionMetadata/updateSessionMetadata), generalized from one flat
// session map to a per-run aggregate guarded by its own RWMutex so runs
// never contend with each other.
package runstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/events"
	"github.com/conductorhq/conductor/internal/scheduler"
	"github.com/conductorhq/conductor/internal/tools"
)

// run aggregates everything the Store authoritatively owns for one Run,
// guarded by its own lock so concurrent runs never contend.
type run struct {
	mu sync.RWMutex

	data    domain.Run
	nodes   map[string]*domain.Node
	aliases map[string]string // alias -> node id
	edges   []domain.Edge
	inbox   map[string][]domain.InboxItem

	approvals *tools.MemoryApprovalStore

	bus     *events.Bus
	log     *events.Log
	emitter *events.Emitter

	dirty        bool
	lastMutation time.Time
}

// Store is the Runtime's single authoritative state holder.
type Store struct {
	snapshots SnapshotStore

	mu   sync.RWMutex
	runs map[string]*run
}

// New creates an empty Store. snapshots may be nil to disable
// persistence (e.g. in unit tests).
func New(snapshots SnapshotStore) *Store {
	return &Store{snapshots: snapshots, runs: make(map[string]*run)}
}

func (s *Store) getRun(runID string) (*run, error) {
	s.mu.RLock()
	r, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.NewNotFoundError("run", runID)
	}
	return r, nil
}

// CreateRunOptions configure a newly created Run.
type CreateRunOptions struct {
	OrchestrationMode domain.OrchestrationMode
	GlobalMode        domain.GlobalMode
	WorkingDir        string
	MaxIterations     int
	EventLogDir       string // "" disables the durable Event Log (tests); else "<dir>/<id>.ndjson" is opened
}

// CreateRun registers a new Run and its per-run Event Bus/Log.
func (s *Store) CreateRun(ctx context.Context, opts CreateRunOptions) (domain.Run, error) {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 500
	}
	id := uuid.NewString()
	now := time.Now().UTC()

	var log *events.Log
	if opts.EventLogDir != "" {
		l, err := events.OpenLog(filepath.Join(opts.EventLogDir, id+".ndjson"))
		if err != nil {
			return domain.Run{}, fmt.Errorf("runstore: opening event log: %w", err)
		}
		log = l
	}
	bus := events.NewBus()

	r := &run{
		data: domain.Run{
			ID:                id,
			Status:            domain.RunStatusRunning,
			OrchestrationMode: opts.OrchestrationMode,
			GlobalMode:        opts.GlobalMode,
			WorkingDir:        opts.WorkingDir,
			MaxIterations:     opts.MaxIterations,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		nodes:     make(map[string]*domain.Node),
		aliases:   make(map[string]string),
		inbox:     make(map[string][]domain.InboxItem),
		approvals: tools.NewMemoryApprovalStore(),
		bus:       bus,
		log:       log,
	}
	r.emitter = events.NewEmitter(id, bus, log)

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	s.markDirty(r)
	return r.data, nil
}

// GetRun returns the current run state.
func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return domain.Run{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data, nil
}

// ListRuns returns every known run, ordered by CreatedAt.
func (s *Store) ListRuns(ctx context.Context) ([]domain.Run, error) {
	s.mu.RLock()
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	out := make([]domain.Run, len(runs))
	for i, r := range runs {
		r.mu.RLock()
		out[i] = r.data
		r.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateRun applies fn to the run's mutable status/mode fields and
// persists the result. fn must not retain r beyond the call.
func (s *Store) UpdateRun(ctx context.Context, runID string, fn func(r *domain.Run)) (domain.Run, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return domain.Run{}, err
	}
	r.mu.Lock()
	fn(&r.data)
	r.data.UpdatedAt = time.Now().UTC()
	updated := r.data
	r.mu.Unlock()

	r.emitter.Emit("", events.TypeRunPatch, map[string]any{"status": string(updated.Status)})
	s.markDirty(r)
	return updated, nil
}

// DeleteRun removes a run and closes its Event Log.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	r, ok := s.runs[runID]
	if ok {
		delete(s.runs, runID)
	}
	s.mu.Unlock()
	if !ok {
		return domain.NewNotFoundError("run", runID)
	}
	if r.log != nil {
		return r.log.Close()
	}
	return nil
}

// CreateNodeOptions configure a newly created Node.
type CreateNodeOptions struct {
	Label        string
	Alias        string
	RoleTemplate string
	Provider     string
	CustomSystem string
	Capabilities domain.Capabilities
	Permissions  domain.Permissions
	WorkingDir   string
}

// CreateNode adds a node to a run, rejecting id/alias collisions.
func (s *Store) CreateNode(ctx context.Context, runID string, opts CreateNodeOptions) (domain.Node, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return domain.Node{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	if opts.Alias != "" {
		if err := checkAliasAvailable(r, opts.Alias, id); err != nil {
			return domain.Node{}, err
		}
	}

	now := time.Now().UTC()
	node := domain.Node{
		ID:           id,
		RunID:        runID,
		Label:        opts.Label,
		Alias:        opts.Alias,
		RoleTemplate: opts.RoleTemplate,
		Provider:     opts.Provider,
		CustomSystem: opts.CustomSystem,
		Status:       domain.NodeStatusIdle,
		Capabilities: opts.Capabilities,
		Permissions:  opts.Permissions,
		WorkingDir:   opts.WorkingDir,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.nodes[id] = &node
	if opts.Alias != "" {
		r.aliases[opts.Alias] = id
	}

	r.emitter.Emit(id, events.TypeNodePatch, map[string]any{"status": string(node.Status), "created": true})
	s.markDirtyLocked(r)
	return node, nil
}

// checkAliasAvailable ensures an alias must not collide with any
// existing node id or alias in the run. Caller must hold r.mu.
func checkAliasAvailable(r *run, alias, newNodeID string) error {
	if alias == newNodeID {
		return domain.NewValidationError("alias %q collides with its own node id", alias)
	}
	if _, exists := r.nodes[alias]; exists {
		return domain.NewValidationError("alias %q collides with an existing node id", alias)
	}
	if _, exists := r.aliases[alias]; exists {
		return domain.NewValidationError("alias %q is already in use", alias)
	}
	return nil
}

// GetNode returns one node by id (not alias — use ResolveRef first).
func (s *Store) GetNode(ctx context.Context, runID, nodeID string) (domain.Node, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return domain.Node{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[nodeID]
	if !ok {
		return domain.Node{}, domain.NewNotFoundError("node", nodeID)
	}
	return *n, nil
}

// ListNodes returns every node in a run.
func (s *Store) ListNodes(ctx context.Context, runID string) ([]domain.Node, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateNode applies fn to a node's mutable fields.
func (s *Store) UpdateNode(ctx context.Context, runID, nodeID string, fn func(n *domain.Node)) (domain.Node, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return domain.Node{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return domain.Node{}, domain.NewNotFoundError("node", nodeID)
	}
	fn(n)
	n.UpdatedAt = time.Now().UTC()
	updated := *n

	r.emitter.Emit(nodeID, events.TypeNodePatch, map[string]any{"status": string(updated.Status)})
	s.markDirtyLocked(r)
	return updated, nil
}

// DeleteNode removes a node and its alias.
func (s *Store) DeleteNode(ctx context.Context, runID, nodeID string) error {
	r, err := s.getRun(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return domain.NewNotFoundError("node", nodeID)
	}
	if n.Alias != "" {
		delete(r.aliases, n.Alias)
	}
	delete(r.nodes, nodeID)
	delete(r.inbox, nodeID)
	s.markDirtyLocked(r)
	return nil
}

// ResetNode restores a node to idle with a fresh (disconnected)
// connection, clearing its session — used both for explicit
// ResetNodeProcess and crash recovery.
func (s *Store) ResetNode(ctx context.Context, runID, nodeID string) (domain.Node, error) {
	return s.UpdateNode(ctx, runID, nodeID, func(n *domain.Node) {
		n.Status = domain.NodeStatusIdle
		n.Session = domain.Session{}
		n.Connection = domain.Connection{Status: domain.ConnectionDisconnected}
	})
}

// CreateEdge adds an edge between two already-resolved node ids,
// satisfying tools.EdgeCreator.
func (s *Store) CreateEdge(ctx context.Context, runID, from, to string, bidirectional bool, label string) (domain.Edge, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return domain.Edge{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[from]; !ok {
		return domain.Edge{}, domain.NewNotFoundError("node", from)
	}
	if _, ok := r.nodes[to]; !ok {
		return domain.Edge{}, domain.NewNotFoundError("node", to)
	}

	edge := domain.Edge{
		ID:            uuid.NewString(),
		RunID:         runID,
		From:          from,
		To:            to,
		Bidirectional: bidirectional,
		Type:          domain.EdgeTypeHandoff,
		Label:         label,
		CreatedAt:     time.Now().UTC(),
	}
	r.edges = append(r.edges, edge)

	r.emitter.Emit("", events.TypeEdgeCreated, map[string]any{"edgeId": edge.ID, "from": from, "to": to})
	s.markDirtyLocked(r)
	return edge, nil
}

// DeleteEdge removes an edge by id.
func (s *Store) DeleteEdge(ctx context.Context, runID, edgeID string) error {
	r, err := s.getRun(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.edges {
		if e.ID == edgeID {
			r.edges = append(r.edges[:i], r.edges[i+1:]...)
			r.emitter.Emit("", events.TypeEdgeDeleted, map[string]any{"edgeId": edgeID})
			s.markDirtyLocked(r)
			return nil
		}
	}
	return domain.NewNotFoundError("edge", edgeID)
}

// EdgesBetween satisfies handoff.EdgeLookup.
func (s *Store) EdgesBetween(ctx context.Context, runID, from, to string) ([]domain.Edge, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Edge
	for _, e := range r.edges {
		if (e.From == from && e.To == to) || (e.From == to && e.To == from) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ResolveRef satisfies both tools.RefResolver and handoff.RefResolver:
// ref is either a node id or an alias.
func (s *Store) ResolveRef(runID, ref string) (string, bool) {
	r, err := s.getRun(runID)
	if err != nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.nodes[ref]; ok {
		return ref, true
	}
	if id, ok := r.aliases[ref]; ok {
		return id, true
	}
	return "", false
}

// SpawnNode satisfies tools.NodeSpawner by delegating to CreateNode
// with capabilities/permissions inherited from nothing (a spawned
// node starts with the run's default, most-restrictive posture; the
// Runtime Façade is expected to apply any role-template-driven
// overrides before the node's first turn).
func (s *Store) SpawnNode(ctx context.Context, runID string, label, roleTemplate, provider, alias string) (domain.Node, error) {
	return s.CreateNode(ctx, runID, CreateNodeOptions{
		Label:        label,
		Alias:        alias,
		RoleTemplate: roleTemplate,
		Provider:     provider,
	})
}

// PostMessage appends a user message to a node's inbox.
func (s *Store) PostMessage(ctx context.Context, runID, nodeID, content string, interrupt bool) error {
	r, err := s.getRun(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return domain.NewNotFoundError("node", nodeID)
	}

	item := domain.InboxItem{
		ID:         uuid.NewString(),
		Kind:       domain.InboxItemUserMessage,
		NodeID:     nodeID,
		Content:    content,
		Interrupt:  interrupt,
		ReceivedAt: time.Now().UTC(),
	}
	r.inbox[nodeID] = append(r.inbox[nodeID], item)
	n.InboxCount = len(r.inbox[nodeID])

	r.emitter.Emit(nodeID, events.TypeMessageUser, map[string]any{"content": content, "interrupt": interrupt})
	s.markDirtyLocked(r)
	return nil
}

// AppendEnvelope satisfies handoff.InboxAppender.
func (s *Store) AppendEnvelope(ctx context.Context, runID string, env domain.Envelope) error {
	r, err := s.getRun(runID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[env.ToNodeID]
	if !ok {
		return domain.NewNotFoundError("node", env.ToNodeID)
	}

	item := domain.InboxItem{
		ID:         uuid.NewString(),
		Kind:       domain.InboxItemEnvelope,
		NodeID:     env.ToNodeID,
		Envelope:   &env,
		ReceivedAt: time.Now().UTC(),
	}
	r.inbox[env.ToNodeID] = append(r.inbox[env.ToNodeID], item)
	n.InboxCount = len(r.inbox[env.ToNodeID])

	s.markDirtyLocked(r)
	return nil
}

// ConsumeInbox drains and returns every pending inbox item for a node
// (inboxCount tracks the inbox length, so it is zeroed here),
// feeding the Node Runner's TurnInput for its next Preparing phase.
func (s *Store) ConsumeInbox(ctx context.Context, runID, nodeID string) ([]domain.InboxItem, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	items := r.inbox[nodeID]
	delete(r.inbox, nodeID)
	if n, ok := r.nodes[nodeID]; ok {
		n.InboxCount = 0
	}
	s.markDirtyLocked(r)
	return items, nil
}

// ReadyNodes satisfies scheduler.Source: idle nodes with a nonempty
// inbox are ready, minus the "pendingTurn" flag which the Scheduler's
// continue-tick synthesis covers separately.
func (s *Store) ReadyNodes(ctx context.Context, runID string) ([]scheduler.Candidate, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []scheduler.Candidate
	for id, n := range r.nodes {
		if n.Status != domain.NodeStatusIdle {
			continue
		}
		if len(r.inbox[id]) == 0 {
			continue
		}
		out = append(out, scheduler.Candidate{Node: *n, LastActivityAt: n.UpdatedAt})
	}
	return out, nil
}

// SynthesizeContinueTick satisfies scheduler.Source: in auto mode, pick
// the least-recently-active idle node with an empty inbox to receive a
// default continue turn.
func (s *Store) SynthesizeContinueTick(ctx context.Context, runID string) (scheduler.Candidate, bool, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return scheduler.Candidate{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *domain.Node
	for _, n := range r.nodes {
		if n.Status != domain.NodeStatusIdle {
			continue
		}
		if len(r.inbox[n.ID]) > 0 {
			continue
		}
		if best == nil || n.UpdatedAt.Before(best.UpdatedAt) {
			best = n
		}
	}
	if best == nil {
		return scheduler.Candidate{}, false, nil
	}
	return scheduler.Candidate{Node: *best, LastActivityAt: best.UpdatedAt}, true, nil
}

// MarkIterationUsed satisfies scheduler.Source.
func (s *Store) MarkIterationUsed(ctx context.Context, runID string) (bool, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	r.data.IterationsUsed++
	exhausted := r.data.IterationsUsed >= r.data.MaxIterations
	r.data.UpdatedAt = time.Now().UTC()
	r.mu.Unlock()

	s.markDirty(r)
	return exhausted, nil
}

// CompleteRun satisfies scheduler.Source.
func (s *Store) CompleteRun(ctx context.Context, runID string) error {
	_, err := s.UpdateRun(ctx, runID, func(r *domain.Run) { r.Status = domain.RunStatusCompleted })
	return err
}

// Approvals returns the run's ApprovalStore (tools.ApprovalStore).
func (s *Store) Approvals(runID string) (tools.ApprovalStore, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	return r.approvals, nil
}

// Emitter returns the run's Event Emitter, for components (Node
// Runner, handoff Router) constructed per-run by the Runtime Façade.
func (s *Store) Emitter(runID string) (*events.Emitter, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	return r.emitter, nil
}

// Subscribe registers sub on the run's Event Bus.
func (s *Store) Subscribe(runID string, sub events.Subscriber) (func(), error) {
	r, err := s.getRun(runID)
	if err != nil {
		return nil, err
	}
	return r.bus.Subscribe(sub), nil
}

func (s *Store) markDirty(r *run) {
	r.mu.Lock()
	s.markDirtyLocked(r)
	r.mu.Unlock()
}

// markDirtyLocked flags r for the next debounced snapshot sweep.
// Caller must hold r.mu.
func (s *Store) markDirtyLocked(r *run) {
	r.dirty = true
	r.lastMutation = time.Now()
}
