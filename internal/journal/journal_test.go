package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-rey/crapssim-control/internal/envelope"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func pressRecord(tick int64) Record {
	return Record{
		Tick:        tick,
		Timestamp:   float64(tick),
		Origin:      "rule:press_six",
		RuleID:      "press_six",
		Verb:        "press",
		Args:        map[string]any{"bet": "6", "amount": 12.0},
		TimingLegal: true,
		Executed:    true,
		Effect: &envelope.EffectSummary{
			Schema:        envelope.SchemaVersion,
			Verb:          "press",
			Bets:          map[string]string{"6": "+6"},
			BankrollDelta: -6.0,
		},
	}
}

func TestAppend_GaplessSeq(t *testing.T) {
	ctx := context.Background()
	s, path := tempStore(t)

	for i := int64(1); i <= 5; i++ {
		rec := pressRecord(i)
		require.NoError(t, s.Append(ctx, &rec))
		assert.Equal(t, i, rec.Seq)
	}
	assert.Equal(t, int64(5), s.LastSeq())

	// Reopen continues the sequence without gaps.
	require.NoError(t, s.Close())
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	rec := pressRecord(6)
	require.NoError(t, s2.Append(ctx, &rec))
	assert.Equal(t, int64(6), rec.Seq)
}

func TestRecords_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := tempStore(t)

	executed := pressRecord(3)
	require.NoError(t, s.Append(ctx, &executed))

	rejected := Record{
		Tick:            3,
		Timestamp:       3,
		Origin:          "external:voice",
		CorrelationID:   "cid-1",
		Verb:            "switch_profile",
		Args:            map[string]any{"target": "aggressive"},
		RejectionReason: "duplicate_roll",
	}
	require.NoError(t, s.Append(ctx, &rejected))

	records, err := s.Records(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	got := records[0]
	assert.Equal(t, "rule:press_six", got.Origin)
	assert.Equal(t, "6", got.Args["bet"])
	assert.Equal(t, 12.0, got.Args["amount"])
	require.NotNil(t, got.Effect)
	assert.Equal(t, -6.0, got.Effect.BankrollDelta)
	assert.Equal(t, map[string]string{"6": "+6"}, got.Effect.Bets)

	got = records[1]
	assert.False(t, got.Executed)
	assert.Nil(t, got.Effect)
	assert.Equal(t, "duplicate_roll", got.RejectionReason)

	atTick, err := s.RecordsAtTick(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, atTick, 2)
}

func TestCanonicalLine_FixedSurface(t *testing.T) {
	rec := pressRecord(3)
	rec.Seq = 1
	line, err := rec.CanonicalLine()
	require.NoError(t, err)

	want := `{"seq":1,"tick":3,"ts":3,"origin":"rule:press_six",` +
		`"rule_id":"press_six","correlation_id":"","verb":"press",` +
		`"args":{"amount":12,"bet":"6"},"timing_legal":true,"executed":true,` +
		`"rejection_reason":"",` +
		`"effect":{"bankroll_delta":-6,"bets":{"6":"+6"},"schema":"1.0","verb":"press"}}`
	assert.Equal(t, want, string(line))
}

func TestExport_ByteStable(t *testing.T) {
	ctx := context.Background()
	s, _ := tempStore(t)

	for i := int64(1); i <= 3; i++ {
		rec := pressRecord(i)
		require.NoError(t, s.Append(ctx, &rec))
	}

	first, err := s.ExportBytes(ctx)
	require.NoError(t, err)
	second, err := s.ExportBytes(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, countLines(first))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"sorted keys", map[string]any{"b": 1, "a": 2}, `{"a":2,"b":1}`},
		{"integral float", 12.0, "12"},
		{"fractional float", 2.5, "2.5"},
		{"no html escaping", "a<b&c>d", `"a<b&c>d"`},
		{"nested", map[string]any{"x": []any{1, "two", true, nil}}, `{"x":[1,"two",true,null]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalCanonical(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMeta(t *testing.T) {
	ctx := context.Background()
	s, _ := tempStore(t)

	_, ok, err := s.Meta(ctx, "run_id")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetMeta(ctx, "run_id", "run-1"))
	require.NoError(t, s.SetMeta(ctx, "run_id", "run-2"))

	val, ok, err := s.Meta(ctx, "run_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "run-2", val)
}
