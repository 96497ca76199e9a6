package timing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-rey/crapssim-control/internal/envelope"
)

func env(verb string) envelope.Envelope {
	return envelope.Envelope{Verb: verb, Schema: envelope.SchemaVersion}
}

var (
	comeout = Phase{OnComeout: true}
	pointOn = Phase{PointOn: true}
)

func TestCheck_ResolvingRejectsEverything(t *testing.T) {
	resolving := Phase{PointOn: true, Resolving: true}
	for _, verb := range envelope.Verbs() {
		err := Check(env(verb), resolving)
		require.Error(t, err, verb)
		var ill *Illegal
		require.ErrorAs(t, err, &ill)
		assert.Equal(t, ReasonMidResolution, ill.Reason)
	}
}

func TestCheck_Windows(t *testing.T) {
	tests := []struct {
		verb  string
		phase Phase
		legal bool
	}{
		{"line_bet", comeout, true},
		{"line_bet", pointOn, false},
		{"press", pointOn, true},
		{"press", comeout, false},
		{"place_bet", comeout, false},
		{"place_bet", pointOn, true},
		{"take_down", pointOn, true},
		{"take_down", comeout, false},
		{"same_bet", comeout, true},
		{"same_bet", pointOn, true},
		{"switch_profile", comeout, true},
		{"switch_profile", pointOn, true},
		{"clear_all", comeout, true},
	}
	for _, tt := range tests {
		err := Check(env(tt.verb), tt.phase)
		if tt.legal {
			assert.NoError(t, err, "%s in %+v", tt.verb, tt.phase)
			continue
		}
		var ill *Illegal
		require.ErrorAs(t, err, &ill, "%s in %+v", tt.verb, tt.phase)
		assert.Equal(t, ReasonWrongScope, ill.Reason)
	}
}

func TestCheck_UnknownVerbOutOfScope(t *testing.T) {
	err := Check(env("martingale"), comeout)
	var ill *Illegal
	require.ErrorAs(t, err, &ill)
	assert.Equal(t, ReasonWrongScope, ill.Reason)
}

func TestPhaseOf(t *testing.T) {
	p := PhaseOf(false, true, false)
	assert.Equal(t, Phase{PointOn: true}, p)
}
