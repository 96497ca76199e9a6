package control

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/nova-rey/crapssim-control/internal/command"
	"github.com/nova-rey/crapssim-control/internal/game"
)

// Replay rebuilds the pipeline from the same spec and seed, re-submits the
// recorded command tape through the normal admission path, and runs the same
// number of ticks. HTTP intake stays off; the tape is the only source of
// external commands. With an identical seed the journal written here is
// byte-identical to the live run's.
func Replay(ctx context.Context, opts Options, tape *command.Tape, ticks int) (game.Snapshot, error) {
	if opts.Tape != nil {
		return game.Snapshot{}, fmt.Errorf("control: replay does not record a tape")
	}
	if opts.RunID == "" && tape != nil {
		// Admission checks run_id equality, so the replay run must assume
		// the recorded identity.
		opts.RunID = tape.RunID()
	}
	c, err := New(opts)
	if err != nil {
		return game.Snapshot{}, err
	}
	if err := c.Start(ctx); err != nil {
		return game.Snapshot{}, err
	}
	slog.Info("replay starting", "run_id", c.runID, "ticks", ticks, "tape_len", tapeLen(tape))

	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return game.Snapshot{}, err
		}
		if tape != nil {
			for _, entry := range tape.AtTick(c.tick + 1) {
				c.cmds.Submit(entry.Cmd())
			}
		}
		if err := c.Tick(ctx, [2]int{}); err != nil {
			return game.Snapshot{}, err
		}
	}
	return c.Finish(ctx)
}

func tapeLen(tape *command.Tape) int {
	if tape == nil {
		return 0
	}
	return tape.Len()
}

// VerifyParity compares two canonical journal exports. It returns nil when
// they match and a descriptive error naming the first diverging line when
// they do not.
func VerifyParity(live, replayed []byte) error {
	if bytes.Equal(live, replayed) {
		return nil
	}
	liveLines := bytes.Split(live, []byte{'\n'})
	replayLines := bytes.Split(replayed, []byte{'\n'})
	n := len(liveLines)
	if len(replayLines) < n {
		n = len(replayLines)
	}
	for i := 0; i < n; i++ {
		if !bytes.Equal(liveLines[i], replayLines[i]) {
			return fmt.Errorf("replay parity: journals diverge at line %d:\n live:   %s\n replay: %s",
				i+1, liveLines[i], replayLines[i])
		}
	}
	return fmt.Errorf("replay parity: journals differ in length: live %d lines, replay %d lines",
		len(liveLines), len(replayLines))
}
