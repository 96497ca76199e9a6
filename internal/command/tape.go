package command

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// TapeSchema tags every tape line. The reader refuses anything else.
const TapeSchema = "tape.v2"

// TapeEntry is one recorded Submit. Accepted and Reason are audit fields;
// replay ignores them and re-runs admission from scratch.
type TapeEntry struct {
	Schema        string         `json:"schema"`
	Tick          int64          `json:"tick"`
	RunID         string         `json:"run_id"`
	Source        string         `json:"source"`
	Action        string         `json:"action"`
	Args          map[string]any `json:"args,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Accepted      bool           `json:"accepted"`
	Reason        string         `json:"reason"`
}

// Cmd reconstructs the submitted command.
func (e TapeEntry) Cmd() Command {
	return Command{
		RunID:         e.RunID,
		Source:        e.Source,
		Action:        e.Action,
		Args:          e.Args,
		CorrelationID: e.CorrelationID,
	}
}

// TapeWriter appends JSONL tape entries. It is called under the controller's
// mutex, so it needs no locking of its own.
type TapeWriter struct {
	f  *os.File
	bw *bufio.Writer
}

// NewTapeWriter opens (creating directories as needed) a tape for appending.
func NewTapeWriter(path string) (*TapeWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("command tape: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("command tape: %w", err)
	}
	return &TapeWriter{f: f, bw: bufio.NewWriter(f)}, nil
}

// Record appends one submission. Encoding errors are swallowed after closing
// the writer; the tape is an audit artifact and must not abort the run.
func (w *TapeWriter) Record(tick int64, cmd Command, dec Decision) {
	if w.bw == nil {
		return
	}
	entry := TapeEntry{
		Schema:        TapeSchema,
		Tick:          tick,
		RunID:         cmd.RunID,
		Source:        cmd.Source,
		Action:        cmd.Action,
		Args:          cmd.Args,
		CorrelationID: cmd.CorrelationID,
		Accepted:      dec.Accepted,
		Reason:        dec.Reason,
	}
	line, err := json.Marshal(entry)
	if err != nil {
		w.bw = nil
		return
	}
	w.bw.Write(line)
	w.bw.WriteByte('\n')
}

// Close flushes and closes the tape file.
func (w *TapeWriter) Close() error {
	if w.bw != nil {
		if err := w.bw.Flush(); err != nil {
			w.f.Close()
			return fmt.Errorf("command tape: %w", err)
		}
	}
	return w.f.Close()
}

// Tape is a fully loaded command tape grouped by tick.
type Tape struct {
	entries []TapeEntry
	byTick  map[int64][]TapeEntry
}

// ReadTape loads a tape file. Entries keep file order within a tick.
func ReadTape(path string) (*Tape, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("command tape: %w", err)
	}
	defer f.Close()
	return readTape(f)
}

func readTape(r io.Reader) (*Tape, error) {
	tape := &Tape{byTick: map[int64][]TapeEntry{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry TapeEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("command tape line %d: %w", lineNo, err)
		}
		if entry.Schema != TapeSchema {
			return nil, fmt.Errorf("command tape line %d: schema %q, want %q", lineNo, entry.Schema, TapeSchema)
		}
		tape.entries = append(tape.entries, entry)
		tape.byTick[entry.Tick] = append(tape.byTick[entry.Tick], entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("command tape: %w", err)
	}
	return tape, nil
}

// AtTick returns the submissions recorded at a tick, in submission order.
func (t *Tape) AtTick(tick int64) []TapeEntry {
	return t.byTick[tick]
}

// Ticks returns the distinct ticks on the tape, ascending.
func (t *Tape) Ticks() []int64 {
	ticks := make([]int64, 0, len(t.byTick))
	for tick := range t.byTick {
		ticks = append(ticks, tick)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	return ticks
}

// Len reports the total number of recorded submissions.
func (t *Tape) Len() int {
	return len(t.entries)
}

// RunID returns the run identifier the tape was recorded under, "" for an
// empty tape.
func (t *Tape) RunID() string {
	if len(t.entries) == 0 {
		return ""
	}
	return t.entries[0].RunID
}
