// Package stall implements the Stall Detector: a
// per-node repeated-value counter that flags a run as stuck when a
// node's output, diff, or verification-failure signature repeats too
// many turns in a row. No teacher analog exists (nexus has no stall
// detection); built fresh in the small struct + mutex-guarded map idiom
// the teacher uses throughout (e.g. internal/agent/event_sink.go's
// counters), not grounded on any single file.
package stall

import "sync"

// DefaultThreshold is the default number of consecutive repeats before
// a node is considered stalled.
const DefaultThreshold = 20

// Signal is one turn's observable fingerprint, fed into the detector
// after each completed turn.
type Signal struct {
	OutputHash          string
	DiffHash            string
	VerificationFailure string
	Summary             string
}

// nodeState tracks the three independent repeat counters plus a
// bounded window of recent summaries for the stall event's payload.
type nodeState struct {
	lastOutputHash string
	outputRepeats  int

	lastDiffHash string
	diffRepeats  int

	lastVerificationFailure string
	verificationRepeats     int

	recentSummaries []string
}

const summaryWindow = 3

// Detector tracks stall counters for every node in a run.
type Detector struct {
	threshold int

	mu    sync.Mutex
	nodes map[string]*nodeState
}

// New creates a Detector. threshold<=0 uses DefaultThreshold.
func New(threshold int) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold, nodes: make(map[string]*nodeState)}
}

// Verdict reports whether a node has crossed the stall threshold, and
// which signal tripped it.
type Verdict struct {
	Stalled             bool
	TrippedBy           string // "output" | "diff" | "verification"
	OutputHash          string
	DiffHash            string
	VerificationFailure string
	RecentSummaries     []string
}

// Observe folds one completed turn's Signal into node's counters and
// reports whether the node has now stalled: if the current hash equals
// the previous, increment its counter; else reset it and remember the
// new value.
func (d *Detector) Observe(nodeID string, sig Signal) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.nodes[nodeID]
	if !ok {
		st = &nodeState{}
		d.nodes[nodeID] = st
	}

	st.outputRepeats = bump(sig.OutputHash, &st.lastOutputHash, st.outputRepeats)
	st.diffRepeats = bump(sig.DiffHash, &st.lastDiffHash, st.diffRepeats)
	st.verificationRepeats = bump(sig.VerificationFailure, &st.lastVerificationFailure, st.verificationRepeats)

	if sig.Summary != "" {
		st.recentSummaries = append(st.recentSummaries, sig.Summary)
		if len(st.recentSummaries) > summaryWindow {
			st.recentSummaries = st.recentSummaries[len(st.recentSummaries)-summaryWindow:]
		}
	}

	v := Verdict{
		OutputHash:          st.lastOutputHash,
		DiffHash:            st.lastDiffHash,
		VerificationFailure: st.lastVerificationFailure,
		RecentSummaries:     append([]string(nil), st.recentSummaries...),
	}

	switch {
	case st.outputRepeats >= d.threshold:
		v.Stalled, v.TrippedBy = true, "output"
	case st.diffRepeats >= d.threshold:
		v.Stalled, v.TrippedBy = true, "diff"
	case st.verificationRepeats >= d.threshold:
		v.Stalled, v.TrippedBy = true, "verification"
	}
	return v
}

// bump implements the "same as last time → increment; else reset and
// remember" rule for one signal dimension. An empty value never
// participates in stall detection (e.g. a node with no diff yet).
func bump(value string, last *string, repeats int) int {
	if value == "" {
		return repeats
	}
	if value == *last {
		return repeats + 1
	}
	*last = value
	return 1
}

// Reset clears a node's counters, as happens on an external user
// resume: resolution is external, so a resume clears the counters
// rather than the detector resolving the stall itself.
func (d *Detector) Reset(nodeID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.nodes, nodeID)
}

// ResetRun clears counters for every node, e.g. when a whole run resumes.
func (d *Detector) ResetRun(nodeIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, id := range nodeIDs {
		delete(d.nodes, id)
	}
}
