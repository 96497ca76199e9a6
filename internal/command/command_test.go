package command

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-rey/crapssim-control/internal/rules"
)

func limits() rules.ExternalLimits {
	return rules.ExternalLimits{
		QueueDepth:     8,
		PerSourceQuota: 4,
		Rate:           rules.RateLimit{Tokens: 3, RefillSeconds: 10},
		Breaker:        rules.BreakerConfig{Threshold: 3, CoolDownSeconds: 30},
	}
}

func cmd(source, cid string) Command {
	return Command{
		RunID:         "run-1",
		Source:        source,
		Action:        "switch_profile",
		Args:          map[string]any{"target": "aggressive"},
		CorrelationID: cid,
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	c := New("run-1", limits())
	c.Advance(1, 1)

	dec := c.Submit(cmd("voice", "cid-1"))
	assert.Equal(t, Decision{Accepted: true, Reason: ReasonAccepted}, dec)

	envs, rejs := c.Drain(1, 2)
	require.Len(t, envs, 1)
	assert.Empty(t, rejs)
	assert.Equal(t, "external:voice", envs[0].ID)
	assert.Equal(t, "switch_profile", envs[0].Verb)
	assert.Equal(t, "cid-1", envs[0].CorrelationID)
}

func TestSubmit_RunIDMismatch(t *testing.T) {
	c := New("run-1", limits())
	bad := cmd("voice", "cid-1")
	bad.RunID = "stale"
	assert.Equal(t, ReasonRunIDMismatch, c.Submit(bad).Reason)
}

func TestSubmit_UnknownAction(t *testing.T) {
	c := New("run-1", limits())
	bad := cmd("voice", "cid-1")
	bad.Action = "martingale"
	assert.Equal(t, ReasonUnknownAction, c.Submit(bad).Reason)
}

func TestSubmit_MissingFields(t *testing.T) {
	c := New("run-1", limits())

	bad := cmd("voice", " ")
	assert.Equal(t, "missing:correlation_id", c.Submit(bad).Reason)

	bad = cmd("", "")
	assert.Equal(t, "missing:source,correlation_id", c.Submit(bad).Reason)
}

func TestSubmit_QueueDepth(t *testing.T) {
	lim := limits()
	lim.QueueDepth = 2
	c := New("run-1", lim)

	assert.True(t, c.Submit(cmd("a", "cid-1")).Accepted)
	assert.True(t, c.Submit(cmd("b", "cid-2")).Accepted)
	assert.Equal(t, ReasonQueueFull, c.Submit(cmd("c", "cid-3")).Reason)
}

func TestSubmit_PerSourceQuota(t *testing.T) {
	lim := limits()
	lim.PerSourceQuota = 1
	c := New("run-1", lim)

	assert.True(t, c.Submit(cmd("src", "cid-1")).Accepted)
	c.Drain(1, 2)

	// Quota never resets within a run.
	assert.Equal(t, ReasonSourceQuota, c.Submit(cmd("src", "cid-2")).Reason)
	assert.True(t, c.Submit(cmd("other", "cid-3")).Accepted)
}

func TestSubmit_RateLimited(t *testing.T) {
	c := New("run-1", limits()) // 3 tokens, one back every 10s

	for tick := int64(1); tick <= 3; tick++ {
		c.Advance(tick, float64(tick))
		assert.True(t, c.Submit(cmd("src", "cid")).Accepted, "tick %d", tick)
		c.Drain(tick, float64(tick+1))
	}

	c.Advance(4, 4)
	assert.Equal(t, ReasonRateLimited, c.Submit(cmd("src", "cid-4")).Reason)

	// Two minutes of logical time refills the bucket.
	c.Advance(5, 124)
	assert.True(t, c.Submit(cmd("src", "cid-5")).Accepted)
}

func TestSubmit_DuplicateRoll(t *testing.T) {
	c := New("run-1", limits())
	c.Advance(1, 1)

	assert.True(t, c.Submit(cmd("src", "cid-1")).Accepted)
	assert.Equal(t, ReasonDuplicateRoll, c.Submit(cmd("src", "cid-2")).Reason)
	// Different source in the same tick is fine.
	assert.True(t, c.Submit(cmd("other", "cid-3")).Accepted)

	envs, rejs := c.Drain(1, 2)
	assert.Len(t, envs, 2)
	require.Len(t, rejs, 1)
	assert.Equal(t, ReasonDuplicateRoll, rejs[0].Reason)
	assert.Equal(t, int64(1), rejs[0].Tick)

	// Dedupe window resets at drain.
	c.Advance(2, 2)
	assert.True(t, c.Submit(cmd("src", "cid-4")).Accepted)
}

func TestBreaker_TripAndReset(t *testing.T) {
	c := New("run-1", limits()) // trips after 3, cools down 30s
	c.Advance(1, 1)

	bad := cmd("src", " ")
	for i := 0; i < 3; i++ {
		assert.Equal(t, "missing:correlation_id", c.Submit(bad).Reason)
	}

	// Streak reached the threshold, breaker is open even for good commands.
	assert.Equal(t, ReasonCircuitBreaker, c.Submit(cmd("src", "cid-ok")).Reason)

	// Cool-down elapsed on the logical clock, breaker closes clean.
	c.Advance(2, 40)
	assert.True(t, c.Submit(cmd("src", "cid-reset")).Accepted)
}

func TestBreaker_ExecutionFeedback(t *testing.T) {
	c := New("run-1", limits())
	c.Advance(1, 1)

	for i := 0; i < 3; i++ {
		c.NoteExecution(false)
	}
	assert.Equal(t, ReasonCircuitBreaker, c.Submit(cmd("src", "cid-1")).Reason)

	c.Advance(2, 40)
	assert.True(t, c.Submit(cmd("src", "cid-2")).Accepted)
	c.NoteExecution(true)
}

func TestClose_WithdrawsQueued(t *testing.T) {
	c := New("run-1", limits())
	c.Advance(1, 1)
	c.Submit(cmd("a", "cid-1"))
	c.Submit(cmd("b", "cid-2"))

	assert.Equal(t, 2, c.Close())
	assert.Equal(t, ReasonRunIDMismatch, c.Submit(cmd("c", "cid-3")).Reason)

	envs, _ := c.Drain(2, 3)
	assert.Empty(t, envs)
}

func TestTape_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tape", "commands.jsonl")
	w, err := NewTapeWriter(path)
	require.NoError(t, err)

	c := New("run-1", limits())
	c.AttachTape(w)

	c.Advance(1, 1)
	c.Submit(cmd("src", "cid-1"))
	c.Submit(cmd("src", "cid-2")) // duplicate_roll, still on tape
	c.Drain(1, 2)

	c.Advance(2, 2)
	c.Submit(cmd("src", "cid-3"))
	require.NoError(t, w.Close())

	tape, err := ReadTape(path)
	require.NoError(t, err)
	assert.Equal(t, 3, tape.Len())
	assert.Equal(t, []int64{1, 2}, tape.Ticks())

	atOne := tape.AtTick(1)
	require.Len(t, atOne, 2)
	assert.True(t, atOne[0].Accepted)
	assert.False(t, atOne[1].Accepted)
	assert.Equal(t, ReasonDuplicateRoll, atOne[1].Reason)
	assert.Equal(t, cmd("src", "cid-1"), atOne[0].Cmd())
}

func TestDrain_AdvancesClockAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.jsonl")
	w, err := NewTapeWriter(path)
	require.NoError(t, err)

	c := New("run-1", limits())
	c.AttachTape(w)
	c.Advance(1, 1)

	// A submission landing right after the drain returns is already in the
	// next tick's window: the tape stamp and the live drain tick agree, so
	// replay resubmits it where it actually drained.
	c.Drain(1, 2)
	assert.True(t, c.Submit(cmd("src", "cid-1")).Accepted)

	envs, _ := c.Drain(2, 3)
	require.Len(t, envs, 1)
	require.NoError(t, w.Close())

	tape, err := ReadTape(path)
	require.NoError(t, err)
	require.Equal(t, 1, tape.Len())
	assert.Len(t, tape.AtTick(2), 1)
	assert.Empty(t, tape.AtTick(1))
}
