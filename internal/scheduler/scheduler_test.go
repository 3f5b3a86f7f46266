package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conductorhq/conductor/internal/domain"
)

type fakeSource struct {
	mu             sync.Mutex
	run            domain.Run
	ready          []Candidate
	continueCalls  int
	iterationsUsed int
	completed      bool
}

func (f *fakeSource) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.run, nil
}

func (f *fakeSource) ReadyNodes(ctx context.Context, runID string) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Candidate, len(f.ready))
	copy(out, f.ready)
	f.ready = nil
	return out, nil
}

func (f *fakeSource) SynthesizeContinueTick(ctx context.Context, runID string) (Candidate, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continueCalls++
	if f.run.OrchestrationMode != domain.OrchestrationAuto || f.continueCalls > 1 {
		return Candidate{}, false, nil
	}
	return Candidate{Node: domain.Node{ID: "node-auto"}}, true, nil
}

func (f *fakeSource) MarkIterationUsed(ctx context.Context, runID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.iterationsUsed++
	return f.iterationsUsed >= f.run.MaxIterations, nil
}

func (f *fakeSource) CompleteRun(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = true
	f.run.Status = domain.RunStatusCompleted
	return nil
}

type countingRunner struct {
	mu    sync.Mutex
	calls []string
	delay time.Duration
}

func (r *countingRunner) RunTurn(ctx context.Context, runID, nodeID string) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.calls = append(r.calls, nodeID)
	r.mu.Unlock()
	return nil
}

func TestTickRunsReadyNodeAndReleasesSemaphore(t *testing.T) {
	source := &fakeSource{
		run:   domain.Run{ID: "run-1", Status: domain.RunStatusRunning, MaxIterations: 100},
		ready: []Candidate{{Node: domain.Node{ID: "n1"}, LastActivityAt: time.Unix(1, 0)}},
	}
	runner := &countingRunner{}
	s := New("run-1", source, runner, Config{MaxConcurrency: 2, PollInterval: 10 * time.Millisecond}, nil)

	done, err := s.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if done {
		t.Fatalf("expected not done")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		runner.mu.Lock()
		n := len(runner.calls)
		runner.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 || runner.calls[0] != "n1" {
		t.Fatalf("expected one call to n1, got %v", runner.calls)
	}

	releaseDeadline := time.Now().Add(time.Second)
	for !s.sem.TryAcquire(2) {
		if time.Now().After(releaseDeadline) {
			t.Fatalf("expected the semaphore to be fully released after the turn")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTickReportsDoneForTerminalRun(t *testing.T) {
	source := &fakeSource{run: domain.Run{ID: "run-1", Status: domain.RunStatusCompleted}}
	s := New("run-1", source, &countingRunner{}, Config{}, nil)

	done, err := s.tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !done {
		t.Fatalf("expected done for a completed run")
	}
}

func TestTickSynthesizesContinueTickInAutoModeWhenIdle(t *testing.T) {
	source := &fakeSource{
		run: domain.Run{ID: "run-1", Status: domain.RunStatusRunning, OrchestrationMode: domain.OrchestrationAuto, MaxIterations: 100},
	}
	runner := &countingRunner{}
	s := New("run-1", source, runner, Config{MaxConcurrency: 1}, nil)

	if _, err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		runner.mu.Lock()
		n := len(runner.calls)
		runner.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 1 || runner.calls[0] != "node-auto" {
		t.Fatalf("expected a synthesized continue tick, got %v", runner.calls)
	}
}

func TestTickDoesNotSynthesizeInInteractiveMode(t *testing.T) {
	source := &fakeSource{
		run: domain.Run{ID: "run-1", Status: domain.RunStatusRunning, OrchestrationMode: domain.OrchestrationInteractive, MaxIterations: 100},
	}
	runner := &countingRunner{}
	s := New("run-1", source, runner, Config{}, nil)

	if _, err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.calls) != 0 {
		t.Fatalf("expected no synthesized calls in interactive mode, got %v", runner.calls)
	}
}

func TestConcurrencyCapLimitsInFlightTurns(t *testing.T) {
	source := &fakeSource{
		run: domain.Run{ID: "run-1", Status: domain.RunStatusRunning, MaxIterations: 1000},
		ready: []Candidate{
			{Node: domain.Node{ID: "n1"}, LastActivityAt: time.Unix(1, 0)},
			{Node: domain.Node{ID: "n2"}, LastActivityAt: time.Unix(2, 0)},
			{Node: domain.Node{ID: "n3"}, LastActivityAt: time.Unix(3, 0)},
		},
	}
	var maxConcurrent int32
	var current int32
	runner := slowRunner{maxConcurrent: &maxConcurrent, current: &current}
	s := New("run-1", source, runner, Config{MaxConcurrency: 1}, nil)

	if _, err := s.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt32(&maxConcurrent); got > 1 {
		t.Fatalf("expected at most 1 concurrent turn, observed %d", got)
	}
}

type slowRunner struct {
	maxConcurrent *int32
	current       *int32
}

func (r slowRunner) RunTurn(ctx context.Context, runID, nodeID string) error {
	n := atomic.AddInt32(r.current, 1)
	for {
		old := atomic.LoadInt32(r.maxConcurrent)
		if n <= old || atomic.CompareAndSwapInt32(r.maxConcurrent, old, n) {
			break
		}
	}
	time.Sleep(30 * time.Millisecond)
	atomic.AddInt32(r.current, -1)
	return nil
}
