package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Log is a per-run append-only NDJSON journal. Writes
// are serialized per run and retried once on failure; a persistent
// failure is kept in LastWriteError and does not change the owning
// run's status.
type Log struct {
	mu            sync.Mutex
	path          string
	file          *os.File
	writer        *bufio.Writer
	lastWriteErr  error
	writeFailures int
}

// OpenLog opens (creating if necessary) the NDJSON file at path for
// appending.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return &Log{path: path, file: f, writer: bufio.NewWriter(f)}, nil
}

// Append writes one event as a single JSON line, retrying once on
// failure, per the propagation policy.
func (l *Log) Append(ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.writeOnce(ev)
	if err != nil {
		// retry once
		err = l.writeOnce(ev)
	}
	if err != nil {
		l.writeFailures++
		l.lastWriteErr = err
		return err
	}
	l.lastWriteErr = nil
	return nil
}

func (l *Log) writeOnce(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := l.writer.Write(data); err != nil {
		return err
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return err
	}
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Sync()
}

// LastWriteError returns the error of the most recent append, or nil if
// that append succeeded. The Run Store does not read it.
func (l *Log) LastWriteError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastWriteErr
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Page is one paginated slice of history, oldest-to-newest within the
// page "paginate by before cursor".
type Page struct {
	Events  []Event
	HasMore bool
}

// ReadPage replays the full log (it is expected to be modest in size
// per run; very large runs would want an index, noted as a future
// optimization, not required by any invariant) and returns the page of
// at most pageSize events strictly before the given cursor position.
// before <= 0 (or past the end) means "start from the newest entry".
func ReadPage(path string, before int, pageSize int) (Page, error) {
	all, err := ReadAll(path)
	if err != nil {
		return Page{}, err
	}
	if before <= 0 || before > len(all) {
		before = len(all)
	}
	start := before - pageSize
	hasMore := start > 0
	if start < 0 {
		start = 0
	}
	return Page{Events: all[start:before], HasMore: hasMore}, nil
}

// ReadAll replays every event in the log, in file order (which is
// append order, hence monotonic).
func ReadAll(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parse event log %s: %w", path, err)
		}
		out = append(out, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan event log %s: %w", path, err)
	}
	return out, nil
}
