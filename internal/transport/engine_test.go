package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEngine(t *testing.T, seed int64, bankroll float64) *Engine {
	t.Helper()
	e := NewEngine()
	require.NoError(t, e.StartSession(context.Background(), SessionSpec{
		RunID: "run-1", Seed: seed, Bankroll: bankroll,
	}))
	return e
}

func TestEngine_DeterministicForSeed(t *testing.T) {
	ctx := context.Background()
	a := startEngine(t, 42, 300)
	b := startEngine(t, 42, 300)

	for i := 0; i < 50; i++ {
		snapA, err := a.StepRoll(ctx, [2]int{})
		require.NoError(t, err)
		snapB, err := b.StepRoll(ctx, [2]int{})
		require.NoError(t, err)
		assert.Equal(t, snapA, snapB, "roll %d", i)
	}
}

func TestEngine_ComeoutNatural(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, 1, 100)

	_, err := e.ApplyAction(ctx, "line_bet", map[string]any{"amount": 10.0})
	require.NoError(t, err)

	snap, err := e.StepRoll(ctx, [2]int{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 110.0, snap.Bankroll) // stake back plus even money
	assert.True(t, snap.OnComeout)
	assert.False(t, snap.PointOn)
	assert.Empty(t, snap.Exposures)
}

func TestEngine_ComeoutCraps(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, 1, 100)

	_, err := e.ApplyAction(ctx, "line_bet", map[string]any{"amount": 10.0})
	require.NoError(t, err)

	snap, err := e.StepRoll(ctx, [2]int{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 90.0, snap.Bankroll)
	assert.Empty(t, snap.Exposures)
}

func TestEngine_PointCycle(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, 1, 300)

	_, err := e.ApplyAction(ctx, "line_bet", map[string]any{"amount": 10.0})
	require.NoError(t, err)

	snap, err := e.StepRoll(ctx, [2]int{4, 4})
	require.NoError(t, err)
	assert.True(t, snap.PointOn)
	assert.Equal(t, 8, snap.PointValue)
	assert.False(t, snap.OnComeout)

	_, err = e.ApplyAction(ctx, "place_bet", map[string]any{"bet": "6", "amount": 12.0})
	require.NoError(t, err)
	_, err = e.ApplyAction(ctx, "set_odds", map[string]any{"amount": 10.0})
	require.NoError(t, err)

	// Place six hits while the point stays up: 7:6 pays 14, bet stays.
	snap, err = e.StepRoll(ctx, [2]int{3, 3})
	require.NoError(t, err)
	assert.Equal(t, 300.0-10-12-10+14, snap.Bankroll)
	assert.Equal(t, 12, snap.Exposures["place_6"])
	assert.True(t, snap.PointOn)

	// Point made: line pays even, odds pay 6:5 on the eight.
	snap, err = e.StepRoll(ctx, [2]int{4, 4})
	require.NoError(t, err)
	assert.Equal(t, 282.0+20+22, snap.Bankroll)
	assert.False(t, snap.PointOn)
	assert.True(t, snap.OnComeout)
	assert.Equal(t, int64(1), snap.HandID)
	assert.Equal(t, 12, snap.Exposures["place_6"])
}

func TestEngine_SevenOut(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, 1, 300)

	_, err := e.StepRoll(ctx, [2]int{3, 3}) // point 6
	require.NoError(t, err)
	_, err = e.ApplyAction(ctx, "place_bet", map[string]any{"bet": "8", "amount": 12.0})
	require.NoError(t, err)

	snap, err := e.StepRoll(ctx, [2]int{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 288.0, snap.Bankroll) // place bet is gone
	assert.Empty(t, snap.Exposures)
	assert.Equal(t, int64(2), snap.HandID)
	assert.Equal(t, 0, snap.RollInHand)
	assert.True(t, snap.OnComeout)
}

func TestEngine_EffectSummaries(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, 1, 300)
	_, err := e.StepRoll(ctx, [2]int{3, 3}) // point on
	require.NoError(t, err)

	effect, err := e.ApplyAction(ctx, "press", map[string]any{"bet": "6", "amount": 6.0})
	require.NoError(t, err)
	assert.Equal(t, "press", effect.Verb)
	assert.Equal(t, map[string]string{"6": "+6"}, effect.Bets)
	assert.Equal(t, -6.0, effect.BankrollDelta)

	effect, err = e.ApplyAction(ctx, "press", map[string]any{"bet": "6", "amount": 6.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"6": "+6"}, effect.Bets)

	effect, err = e.ApplyAction(ctx, "take_down", map[string]any{"bet": "6"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"6": "-12"}, effect.Bets)
	assert.Equal(t, 12.0, effect.BankrollDelta)

	effect, err = e.ApplyAction(ctx, "switch_profile", map[string]any{"target": "aggressive"})
	require.NoError(t, err)
	assert.Equal(t, "aggressive", effect.Policy)
	assert.Equal(t, 0.0, effect.BankrollDelta)
	assert.Equal(t, "aggressive", e.Profile())
}

func TestEngine_Regress(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, 1, 300)
	_, err := e.StepRoll(ctx, [2]int{3, 3})
	require.NoError(t, err)

	_, err = e.ApplyAction(ctx, "place_bet", map[string]any{"bet": "6", "amount": 12.0})
	require.NoError(t, err)
	_, err = e.ApplyAction(ctx, "place_bet", map[string]any{"bet": "8", "amount": 12.0})
	require.NoError(t, err)

	effect, err := e.ApplyAction(ctx, "regress", nil)
	require.NoError(t, err)
	assert.Equal(t, 12.0, effect.BankrollDelta)
	assert.Equal(t, map[string]string{"6": "-6", "8": "-6"}, effect.Bets)

	snap, err := e.SnapshotState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Exposures["place_6"])
	assert.Equal(t, 6, snap.Exposures["place_8"])
}

func TestEngine_ApplyErrors(t *testing.T) {
	ctx := context.Background()
	e := startEngine(t, 1, 20)

	_, err := e.ApplyAction(ctx, "martingale", nil)
	assert.Error(t, err)

	_, err = e.ApplyAction(ctx, "line_bet", map[string]any{"amount": 50.0})
	assert.Error(t, err, "insufficient bankroll")

	_, err = e.ApplyAction(ctx, "set_odds", map[string]any{"amount": 5.0})
	assert.Error(t, err, "odds without a line bet")

	_, err = e.ApplyAction(ctx, "take_down", map[string]any{"bet": "6"})
	assert.Error(t, err, "nothing placed")

	_, err = e.ApplyAction(ctx, "place_bet", map[string]any{"bet": "7", "amount": 5.0})
	assert.Error(t, err, "seven is not a box number")

	// Failed applies leave the table untouched.
	snap, err := e.SnapshotState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, snap.Bankroll)
	assert.Empty(t, snap.Exposures)
}
