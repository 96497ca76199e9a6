package journal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
)

// Export writes the whole journal as canonical JSONL: one line per record,
// every field present, fixed field order. Two runs are replay-equal exactly
// when their exports are byte-equal.
func (s *Store) Export(ctx context.Context, w io.Writer) error {
	records, err := s.Records(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		line, err := rec.CanonicalLine()
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("journal export: %w", err)
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("journal export: %w", err)
		}
	}
	return nil
}

// ExportFile writes the canonical export to a file, replacing it.
func (s *Store) ExportFile(ctx context.Context, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("journal export: %w", err)
	}
	if err := s.Export(ctx, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ExportBytes returns the canonical export in memory, for parity checks.
func (s *Store) ExportBytes(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Export(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CanonicalLine renders one record in the export format. The field order is
// frozen; appending a field is a format break, not an edit.
func (r Record) CanonicalLine() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeField := func(name string, v any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		writeCanonicalString(&buf, name)
		buf.WriteByte(':')
		return writeCanonical(&buf, v)
	}

	args := r.Args
	if args == nil {
		args = map[string]any{}
	}
	fields := []struct {
		name string
		val  any
	}{
		{"seq", r.Seq},
		{"tick", r.Tick},
		{"ts", r.Timestamp},
		{"origin", r.Origin},
		{"rule_id", r.RuleID},
		{"correlation_id", r.CorrelationID},
		{"verb", r.Verb},
		{"args", args},
		{"timing_legal", r.TimingLegal},
		{"executed", r.Executed},
		{"rejection_reason", r.RejectionReason},
	}
	for _, f := range fields {
		if err := writeField(f.name, f.val); err != nil {
			return nil, fmt.Errorf("journal export seq %d: %w", r.Seq, err)
		}
	}
	if r.Effect != nil {
		if err := writeField("effect", effectMap(r.Effect)); err != nil {
			return nil, fmt.Errorf("journal export seq %d: %w", r.Seq, err)
		}
	} else {
		if err := writeField("effect", nil); err != nil {
			return nil, fmt.Errorf("journal export seq %d: %w", r.Seq, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
