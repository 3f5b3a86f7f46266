package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conductorhq/conductor/internal/domain"
	"github.com/conductorhq/conductor/internal/events"
	"github.com/conductorhq/conductor/internal/tools"
)

// debounceWindow is how long a run must go unmutated before its
// snapshot is flushed. A short per-second cron sweep (rather than a
// timer per mutation) keeps the flush decision in one place.
const debounceWindow = 2 * time.Second

// StartSnapshotSweep registers a per-second cron job that flushes every
// dirty run whose last mutation is older than debounceWindow. Returns a
// stop function. log receives flush failures — a failed snapshot write
// does not interrupt the run, but is surfaced so an operator can act on
// persistent disk trouble.
func (s *Store) StartSnapshotSweep(log *slog.Logger) (stop func(), err error) {
	if s.snapshots == nil {
		return func() {}, nil
	}
	c := cron.New(cron.WithSeconds())
	_, err = c.AddFunc("@every 1s", func() { s.sweepOnce(log) })
	if err != nil {
		return nil, fmt.Errorf("runstore: scheduling snapshot sweep: %w", err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func (s *Store) sweepOnce(log *slog.Logger) {
	s.mu.RLock()
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, r := range runs {
		r.mu.RLock()
		due := r.dirty && now.Sub(r.lastMutation) >= debounceWindow
		runID := r.data.ID
		r.mu.RUnlock()
		if !due {
			continue
		}
		if err := s.flush(r); err != nil && log != nil {
			log.Error("runstore: snapshot flush failed", "runId", runID, "error", err)
		}
	}
}

// FlushNow forces an immediate snapshot of runID, bypassing the
// debounce window. Used on graceful shutdown.
func (s *Store) FlushNow(ctx context.Context, runID string) error {
	r, err := s.getRun(runID)
	if err != nil {
		return err
	}
	return s.flush(r)
}

// FlushAll forces an immediate snapshot of every run, used on graceful
// shutdown so no mutation since the last debounced flush is lost.
func (s *Store) FlushAll(ctx context.Context) error {
	s.mu.RLock()
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	s.mu.RUnlock()

	var firstErr error
	for _, r := range runs {
		if err := s.flush(r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Recover reloads every run found in the SnapshotStore, demoting
// crash-interrupted state: a run left "running" at
// process exit had no clean shutdown, so it is demoted to "paused";
// every node left "running" is demoted to "idle" with its connection
// marked disconnected, since the node's adapter process is gone and
// its session must be re-established on the next turn. eventLogDir, if
// non-empty, opens (or creates) a matching "<runID>.ndjson" Event Log
// for each recovered run so post-recovery mutations keep appending to
// the same durable journal.
func (s *Store) Recover(ctx context.Context, eventLogDir string) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	ids, err := s.snapshots.ListRunIDs()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		data, ok, err := s.snapshots.Load(id)
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return recovered, fmt.Errorf("runstore: unmarshaling snapshot for %s: %w", id, err)
		}

		r := rebuildRun(snap, eventLogDir)
		demoteAfterCrash(r)

		s.mu.Lock()
		s.runs[id] = r
		s.mu.Unlock()
		recovered++
	}
	return recovered, nil
}

func rebuildRun(snap snapshot, eventLogDir string) *run {
	r := &run{
		data:      snap.Run,
		nodes:     make(map[string]*domain.Node, len(snap.Nodes)),
		aliases:   snap.Aliases,
		edges:     snap.Edges,
		inbox:     snap.Inbox,
		approvals: tools.NewMemoryApprovalStore(),
	}
	if r.aliases == nil {
		r.aliases = make(map[string]string)
	}
	if r.inbox == nil {
		r.inbox = make(map[string][]domain.InboxItem)
	}
	for id, n := range snap.Nodes {
		node := n
		r.nodes[id] = &node
	}

	var log *events.Log
	if eventLogDir != "" {
		path := filepath.Join(eventLogDir, snap.Run.ID+".ndjson")
		if opened, err := events.OpenLog(path); err == nil {
			log = opened
		}
	}
	bus := events.NewBus()
	r.log = log
	r.bus = bus
	r.emitter = events.NewEmitter(snap.Run.ID, bus, log)
	return r
}

// demoteAfterCrash applies crash-recovery demotion.
// Caller owns r exclusively (not yet registered in the Store).
func demoteAfterCrash(r *run) {
	if r.data.Status == domain.RunStatusRunning {
		r.data.Status = domain.RunStatusPaused
	}
	r.data.UpdatedAt = time.Now().UTC()

	for id, n := range r.nodes {
		if n.Status == domain.NodeStatusRunning {
			n.Status = domain.NodeStatusIdle
		}
		n.Connection = domain.Connection{Status: domain.ConnectionDisconnected}
		n.InboxCount = len(r.inbox[id])
		n.UpdatedAt = time.Now().UTC()
	}
}
