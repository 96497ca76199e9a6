// Package journal is the append-only decision journal. Every decision the
// control plane makes lands here as exactly one record with a gapless,
// strictly increasing sequence number. An append failure is fatal to the
// run; the journal is the audit surface and must never silently drop.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nova-rey/crapssim-control/internal/envelope"
)

//go:embed schema.sql
var schemaSQL string

// Record is one journaled decision.
type Record struct {
	Seq             int64
	Tick            int64
	Timestamp       float64 // logical seconds
	Origin          string  // rule:<id> | external:<source> | policy:<name>
	RuleID          string
	CorrelationID   string
	Verb            string
	Args            map[string]any
	TimingLegal     bool
	Executed        bool
	RejectionReason string
	Effect          *envelope.EffectSummary // nil unless executed
}

// Store is the SQLite-backed journal. It has exactly one writer: the tick
// loop. Reads may happen concurrently thanks to WAL mode.
type Store struct {
	db      *sql.DB
	lastSeq int64
}

// Open creates or opens a journal database.
//
// The database is configured with WAL mode, NORMAL synchronous, a 5-second
// busy timeout, and a single connection: SQLite supports one writer at a
// time and the journal only ever has one.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	s := &Store{db: db}
	row := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM decisions`)
	if err := row.Scan(&s.lastSeq); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: read last seq: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append assigns the next sequence number and persists the record. The
// assigned seq is written back into rec. Any failure leaves the journal
// unchanged and must abort the run.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	argsJSON, err := MarshalCanonical(rec.Args)
	if err != nil {
		return fmt.Errorf("journal append: args: %w", err)
	}
	effectJSON := []byte("")
	if rec.Effect != nil {
		effectJSON, err = MarshalCanonical(effectMap(rec.Effect))
		if err != nil {
			return fmt.Errorf("journal append: effect: %w", err)
		}
	}

	seq := s.lastSeq + 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions
		(seq, tick, ts, origin, rule_id, correlation_id, verb, args,
		 timing_legal, executed, rejection_reason, effect)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		seq,
		rec.Tick,
		rec.Timestamp,
		rec.Origin,
		rec.RuleID,
		rec.CorrelationID,
		rec.Verb,
		string(argsJSON),
		boolInt(rec.TimingLegal),
		boolInt(rec.Executed),
		rec.RejectionReason,
		string(effectJSON),
	)
	if err != nil {
		return fmt.Errorf("journal append: %w", err)
	}
	s.lastSeq = seq
	rec.Seq = seq
	return nil
}

// LastSeq returns the highest assigned sequence number, 0 when empty.
func (s *Store) LastSeq() int64 {
	return s.lastSeq
}

// SetMeta stores one run metadata key, replacing any previous value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("journal meta: %w", err)
	}
	return nil
}

// Meta reads one run metadata key; ok is false when absent.
func (s *Store) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM run_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("journal meta: %w", err)
	}
	return value, true, nil
}

// Records returns every decision in sequence order.
func (s *Store) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tick, ts, origin, rule_id, correlation_id, verb, args,
		       timing_legal, executed, rejection_reason, effect
		FROM decisions ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("journal read: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal read: %w", err)
	}
	return out, nil
}

// RecordsAtTick returns the decisions made at one tick, in sequence order.
func (s *Store) RecordsAtTick(ctx context.Context, tick int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, tick, ts, origin, rule_id, correlation_id, verb, args,
		       timing_legal, executed, rejection_reason, effect
		FROM decisions WHERE tick = ? ORDER BY seq
	`, tick)
	if err != nil {
		return nil, fmt.Errorf("journal read: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal read: %w", err)
	}
	return out, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec         Record
		argsJSON    string
		timingLegal int
		executed    int
		effectJSON  string
	)
	err := rows.Scan(&rec.Seq, &rec.Tick, &rec.Timestamp, &rec.Origin,
		&rec.RuleID, &rec.CorrelationID, &rec.Verb, &argsJSON,
		&timingLegal, &executed, &rec.RejectionReason, &effectJSON)
	if err != nil {
		return Record{}, fmt.Errorf("journal read: %w", err)
	}
	rec.TimingLegal = timingLegal != 0
	rec.Executed = executed != 0
	if rec.Args, err = unmarshalArgs(argsJSON); err != nil {
		return Record{}, fmt.Errorf("journal read seq %d: %w", rec.Seq, err)
	}
	if effectJSON != "" {
		if rec.Effect, err = unmarshalEffect(effectJSON); err != nil {
			return Record{}, fmt.Errorf("journal read seq %d: %w", rec.Seq, err)
		}
	}
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
