package journal

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// The export surface is a compatibility contract: replay parity compares
// these bytes across runs and versions. The golden file guards the frozen
// field order and canonical number/string forms.
//
// To regenerate after a deliberate format change:
//
//	go test ./internal/journal -update
func TestExport_Golden(t *testing.T) {
	ctx := context.Background()
	s, _ := tempStore(t)

	for i := int64(1); i <= 2; i++ {
		rec := pressRecord(i)
		require.NoError(t, s.Append(ctx, &rec))
	}
	rejected := Record{
		Tick:            3,
		Timestamp:       3,
		Origin:          "external:voice",
		CorrelationID:   "cid-9",
		Verb:            "press",
		Args:            map[string]any{"bet": "8"},
		RejectionReason: "timing:wrong_scope",
	}
	require.NoError(t, s.Append(ctx, &rejected))

	out, err := s.ExportBytes(ctx)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "export", out)
}
