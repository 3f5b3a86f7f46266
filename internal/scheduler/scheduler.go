// Package scheduler implements the Scheduler capability: it maintains a
// ready set, enforces a per-run concurrency cap, and drives turn
// iteration. Grounded on the teacher's
// internal/process/command_queue.go CommandQueue/LaneState/pump — the
// same "drain up to a concurrency limit, keep pumping as capacity
// frees up" shape, generalized from named lanes to one pump per run and
// from a hand-rolled active/mu counter to a
// golang.org/x/sync/semaphore.Weighted admission gate.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/conductorhq/conductor/internal/domain"
)

// Candidate is a node eligible to run, annotated with the scheduling
// bookkeeping (lastActivityAt for FIFO ordering) that the data model
// itself does not carry.
type Candidate struct {
	Node           domain.Node
	LastActivityAt time.Time
}

// Source is everything the Scheduler needs from the Run Store. It is a
// narrow interface so the Scheduler can be driven and tested without a
// real Run Store; the Runtime Façade wires the concrete implementation.
type Source interface {
	// GetRun returns the current run state, including orchestration
	// mode, global mode, and the iteration budget.
	GetRun(ctx context.Context, runID string) (domain.Run, error)
	// ReadyNodes returns idle nodes with unconsumed inbox items (user
	// messages or envelopes). Nodes carry no pendingTurn flag, so
	// nothing else makes a node ready. The Run Store owns the
	// readiness check; the Scheduler only orders and admits.
	ReadyNodes(ctx context.Context, runID string) ([]Candidate, error)
	// SynthesizeContinueTick is called in auto mode when a run has no
	// ready nodes but has not reached a terminal state. It returns the
	// node picked for a default "continue" turn, or ok=false if there
	// is nothing left to continue (e.g. every node is blocked/failed).
	SynthesizeContinueTick(ctx context.Context, runID string) (candidate Candidate, ok bool, err error)
	// MarkIterationUsed increments the run's iterationsUsed counter
	// and reports whether the run has now reached maxIterations.
	MarkIterationUsed(ctx context.Context, runID string) (exhausted bool, err error)
	// CompleteRun transitions the run to completed, e.g. once the
	// iteration budget is exhausted.
	CompleteRun(ctx context.Context, runID string) error
}

// TurnRunner drives one full turn for a single node. The Scheduler
// never inspects turn outcomes beyond the returned error; state
// changes (node status, inbox consumption) are the Node Runner's and
// Run Store's responsibility.
type TurnRunner interface {
	RunTurn(ctx context.Context, runID string, nodeID string) error
}

// Config tunes one Scheduler instance.
type Config struct {
	// MaxConcurrency is the maximum number of simultaneously active
	// turns for a run. Defaults to 3.
	MaxConcurrency int64
	// PollInterval is how often Run is re-checked for newly ready
	// nodes when nothing was runnable on the previous pass.
	PollInterval time.Duration
}

// Scheduler pumps turns for a single run, admitting up to
// Config.MaxConcurrency concurrently and picking the next ready node in
// strict FIFO order of LastActivityAt (tie-break on node id).
type Scheduler struct {
	runID  string
	source Source
	runner TurnRunner
	log    *slog.Logger

	sem          *semaphore.Weighted
	pollInterval time.Duration

	mu      sync.Mutex
	running map[string]struct{} // node ids with an in-flight turn
}

// New creates a Scheduler for one run.
func New(runID string, source Source, runner TurnRunner, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		runID:        runID,
		source:       source,
		runner:       runner,
		log:          log.With("component", "scheduler", "runId", runID),
		sem:          semaphore.NewWeighted(cfg.MaxConcurrency),
		pollInterval: cfg.PollInterval,
		running:      make(map[string]struct{}),
	}
}

// Run pumps the scheduler loop until ctx is canceled or the run
// reaches a terminal state. It is meant to be driven as one goroutine
// per active run.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		done, err := s.tick(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick admits as many ready candidates as the semaphore allows, then
// reports whether the run has reached a terminal state.
func (s *Scheduler) tick(ctx context.Context) (done bool, err error) {
	run, err := s.source.GetRun(ctx, s.runID)
	if err != nil {
		return false, err
	}
	if isTerminal(run.Status) {
		return true, nil
	}
	if run.Status != domain.RunStatusRunning {
		return false, nil
	}

	candidates, err := s.source.ReadyNodes(ctx, s.runID)
	if err != nil {
		return false, err
	}
	candidates = s.excludeInFlight(candidates)

	if len(candidates) == 0 && run.OrchestrationMode == domain.OrchestrationAuto {
		if c, ok, terr := s.source.SynthesizeContinueTick(ctx, s.runID); terr == nil && ok {
			candidates = []Candidate{c}
		} else if terr != nil {
			return false, terr
		}
	}

	sortFIFO(candidates)

	for _, c := range candidates {
		if !s.sem.TryAcquire(1) {
			break
		}
		s.markInFlight(c.Node.ID)
		go s.runOne(ctx, run.ID, c.Node.ID)
	}

	return false, nil
}

func (s *Scheduler) runOne(ctx context.Context, runID, nodeID string) {
	defer s.sem.Release(1)
	defer s.clearInFlight(nodeID)

	if err := s.runner.RunTurn(ctx, runID, nodeID); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("turn failed", "nodeId", nodeID, "error", err)
	}

	exhausted, err := s.source.MarkIterationUsed(ctx, runID)
	if err != nil {
		s.log.Error("marking iteration used", "nodeId", nodeID, "error", err)
		return
	}
	if exhausted {
		if err := s.source.CompleteRun(ctx, runID); err != nil {
			s.log.Error("completing run at iteration budget", "error", err)
		}
	}
}

func (s *Scheduler) markInFlight(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[nodeID] = struct{}{}
}

func (s *Scheduler) clearInFlight(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, nodeID)
}

func (s *Scheduler) excludeInFlight(candidates []Candidate) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.running) == 0 {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if _, busy := s.running[c.Node.ID]; !busy {
			out = append(out, c)
		}
	}
	return out
}

func isTerminal(status domain.RunStatus) bool {
	switch status {
	case domain.RunStatusCompleted, domain.RunStatusFailed, domain.RunStatusStopped:
		return true
	default:
		return false
	}
}

func sortFIFO(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].LastActivityAt.Equal(candidates[j].LastActivityAt) {
			return candidates[i].Node.ID < candidates[j].Node.ID
		}
		return candidates[i].LastActivityAt.Before(candidates[j].LastActivityAt)
	})
}
