package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliSpec always fires at least one rule per tick so journals are never
// empty.
const cliSpec = `
variables:
  units: 5
run:
  ticks: 12
  seed: 1234
rules:
  - id: line_on_comeout
    on: comeout
    when: "on_comeout AND bankroll >= 10"
    cooldown: 2
    then:
      verb: line_bet
      args: {amount: units}
  - id: hold
    when: "True"
    then: {verb: same_bet}
`

func TestReplayVerifiesParity(t *testing.T) {
	t.Setenv("CSC_ENGINE_URL", "")
	specPath := writeSpec(t, cliSpec)
	dir := t.TempDir()
	liveJournal := filepath.Join(dir, "live.db")
	tapePath := filepath.Join(dir, "commands.tape")

	runCmd := NewRunCommand(&RootOptions{Format: "text"})
	runCmd.SetOut(&bytes.Buffer{})
	runCmd.SetArgs([]string{"--journal", liveJournal, "--tape", tapePath, "--ticks", "12", specPath})
	require.NoError(t, runCmd.Execute())

	replayJournal := filepath.Join(dir, "replay.db")
	exportPath := filepath.Join(dir, "decisions.jsonl")
	buf := &bytes.Buffer{}
	replayCmd := NewReplayCommand(&RootOptions{Format: "text"})
	replayCmd.SetOut(buf)
	replayCmd.SetArgs([]string{
		"--tape", tapePath, "--journal", replayJournal,
		"--verify", liveJournal, "--export", exportPath,
		"--ticks", "12", specPath,
	})
	require.NoError(t, replayCmd.Execute())
	assert.Contains(t, buf.String(), "parity verified")

	info, err := os.Stat(exportPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestReplayRecoversSeedFromLiveJournal(t *testing.T) {
	t.Setenv("CSC_ENGINE_URL", "")
	specPath := writeSpec(t, cliSpec)
	dir := t.TempDir()
	liveJournal := filepath.Join(dir, "live.db")
	tapePath := filepath.Join(dir, "commands.tape")

	// The run overrides the spec's seed; the override lands in the journal
	// metadata and replay must pick it up from --verify.
	runCmd := NewRunCommand(&RootOptions{Format: "text"})
	runCmd.SetOut(&bytes.Buffer{})
	runCmd.SetArgs([]string{"--journal", liveJournal, "--tape", tapePath, "--ticks", "12", "--seed", "77", specPath})
	require.NoError(t, runCmd.Execute())

	buf := &bytes.Buffer{}
	replayCmd := NewReplayCommand(&RootOptions{Format: "text"})
	replayCmd.SetOut(buf)
	replayCmd.SetArgs([]string{
		"--tape", tapePath, "--journal", filepath.Join(dir, "replay.db"),
		"--verify", liveJournal, "--ticks", "12", specPath,
	})
	require.NoError(t, replayCmd.Execute())
	assert.Contains(t, buf.String(), "parity verified")
}

func TestReplayMissingTapeFails(t *testing.T) {
	specPath := writeSpec(t, validSpec)
	dir := t.TempDir()

	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{
		"--tape", filepath.Join(dir, "missing.tape"),
		"--journal", filepath.Join(dir, "replay.db"),
		specPath,
	})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayParityMismatchFails(t *testing.T) {
	t.Setenv("CSC_ENGINE_URL", "")
	specPath := writeSpec(t, cliSpec)
	dir := t.TempDir()
	liveJournal := filepath.Join(dir, "live.db")
	tapePath := filepath.Join(dir, "commands.tape")

	runCmd := NewRunCommand(&RootOptions{Format: "text"})
	runCmd.SetOut(&bytes.Buffer{})
	runCmd.SetArgs([]string{"--journal", liveJournal, "--tape", tapePath, "--ticks", "12", specPath})
	require.NoError(t, runCmd.Execute())

	// A shorter replay is missing the live run's last ticks.
	replayCmd := NewReplayCommand(&RootOptions{Format: "text"})
	replayCmd.SetOut(&bytes.Buffer{})
	replayCmd.SetArgs([]string{
		"--tape", tapePath, "--journal", filepath.Join(dir, "replay.db"),
		"--verify", liveJournal, "--ticks", "10", specPath,
	})

	err := replayCmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "parity")
}
