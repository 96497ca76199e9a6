package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nova-rey/crapssim-control/internal/command"
	"github.com/nova-rey/crapssim-control/internal/control"
	"github.com/nova-rey/crapssim-control/internal/journal"
	"github.com/nova-rey/crapssim-control/internal/rules"
	"github.com/nova-rey/crapssim-control/internal/transport"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	TapePath string
	Journal  string
	Ticks    int
	Seed     int64
	Verify   string
	Export   string
}

// ReplayResult holds the replay outcome.
type ReplayResult struct {
	RunID     string  `json:"run_id"`
	Ticks     int64   `json:"ticks"`
	Decisions int64   `json:"decisions"`
	Bankroll  float64 `json:"bankroll"`
	Verified  bool    `json:"verified"`
}

func (r ReplayResult) String() string {
	s := fmt.Sprintf("replay %s: %d ticks, %d decisions, bankroll %.0f",
		r.RunID, r.Ticks, r.Decisions, r.Bankroll)
	if r.Verified {
		s += ", parity verified"
	}
	return s
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <spec.yaml>",
		Short: "Replay a recorded run from its command tape",
		Long: `Replay a run from the same spec, seed, and command tape.

External commands come from the recorded tape instead of HTTP; every tape
entry is re-submitted through the normal admission path at its recorded
tick. With the same seed the rebuilt journal is byte-identical to the
original, which --verify checks against a live journal.

Example:
  csc replay --tape run.tape --journal replay.db strategy.yaml
  csc replay --tape run.tape --journal replay.db --verify run.db strategy.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TapePath, "tape", "", "command tape recorded by run (required)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path for the rebuilt journal (required)")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "number of rolls (default from spec)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "dice seed of the recorded run (default from spec or --verify journal)")
	cmd.Flags().StringVar(&opts.Verify, "verify", "", "live journal to check parity against")
	cmd.Flags().StringVar(&opts.Export, "export", "", "write the canonical export to this file")
	_ = cmd.MarkFlagRequired("tape")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func runReplay(opts *ReplayOptions, specPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	spec, err := rules.Load(specPath)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid spec", err)
	}
	// The recorded seed wins over the spec file: a run started with --seed
	// must replay with it. Flag first, then the live journal's metadata.
	if cmd.Flags().Changed("seed") {
		spec.Run.Seed = opts.Seed
	} else if opts.Verify != "" {
		seed, found, err := recordedSeed(cmd.Context(), opts.Verify)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read live journal", err)
		}
		if found {
			spec.Run.Seed = seed
		}
	}
	ticks := opts.Ticks
	if ticks <= 0 {
		ticks = spec.Run.Ticks
	}

	tape, err := command.ReadTape(opts.TapePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read tape", err)
	}

	jr, err := journal.Open(opts.Journal)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if closeErr := jr.Close(); closeErr != nil {
			slog.Error("error closing journal", "error", closeErr)
		}
	}()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	snap, err := control.Replay(ctx, control.Options{
		Spec:      spec,
		Transport: transport.NewEngine(),
		Journal:   jr,
	}, tape, ticks)
	if err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	result := ReplayResult{
		RunID:     tape.RunID(),
		Ticks:     int64(ticks),
		Decisions: jr.LastSeq(),
		Bankroll:  snap.Bankroll,
	}

	if opts.Export != "" {
		if err := jr.ExportFile(ctx, opts.Export); err != nil {
			return WrapExitError(ExitCommandError, "failed to export journal", err)
		}
	}

	if opts.Verify != "" {
		if err := verifyParity(ctx, opts.Verify, jr); err != nil {
			return err
		}
		result.Verified = true
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(result)
}

// recordedSeed reads the seed a live run stored in its journal metadata.
func recordedSeed(ctx context.Context, path string) (int64, bool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := os.Stat(path); err != nil {
		return 0, false, err
	}
	live, err := journal.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer live.Close()

	raw, found, err := live.Meta(ctx, "seed")
	if err != nil || !found {
		return 0, false, err
	}
	seed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad seed metadata %q: %w", raw, err)
	}
	return seed, true, nil
}

// verifyParity exports both journals canonically and compares them byte
// for byte. A mismatch is a failed run, not a usage error.
func verifyParity(ctx context.Context, livePath string, replayed *journal.Store) error {
	if _, err := os.Stat(livePath); err != nil {
		return WrapExitError(ExitCommandError, "live journal not found", err)
	}
	live, err := journal.Open(livePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open live journal", err)
	}
	defer live.Close()

	liveBytes, err := live.ExportBytes(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to export live journal", err)
	}
	replayBytes, err := replayed.ExportBytes(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to export replay journal", err)
	}
	if err := control.VerifyParity(liveBytes, replayBytes); err != nil {
		return WrapExitError(ExitFailure, "parity check failed", err)
	}
	slog.Info("parity verified", "bytes", len(liveBytes))
	return nil
}
