package events

import "sync/atomic"

// Emitter assigns monotonically increasing sequence numbers to events
// for a single run and publishes them to a Bus and a Log together,
// matching the teacher's EventEmitter (internal/agent/event_emitter.go):
// one atomic counter, one base() constructor, one emit() fan-out point.
type Emitter struct {
	runID    string
	sequence uint64
	bus      *Bus
	log      *Log
}

// NewEmitter creates an Emitter that publishes to both bus and log. log
// may be nil (no durable journal, e.g. in unit tests); bus may be nil
// (no subscribers).
func NewEmitter(runID string, bus *Bus, log *Log) *Emitter {
	return &Emitter{runID: runID, bus: bus, log: log}
}

func (e *Emitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

// Emit assigns sequence, appends to the log (durable, never dropped),
// and publishes to the bus (may be dropped under backpressure for
// droppable types).
func (e *Emitter) Emit(nodeID string, typ Type, fields map[string]any) Event {
	ev := New(e.runID, nodeID, typ, fields)
	ev.Sequence = e.nextSeq()

	if e.log != nil {
		// The Log retries a failed write once; a failure that persists
		// is recorded in LastWriteError. It is not logged here, and the
		// run's status is left unchanged.
		_ = e.log.Append(ev)
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	return ev
}
