package cli

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/nova-rey/crapssim-control/internal/command"
	"github.com/nova-rey/crapssim-control/internal/config"
	"github.com/nova-rey/crapssim-control/internal/control"
	"github.com/nova-rey/crapssim-control/internal/game"
	"github.com/nova-rey/crapssim-control/internal/journal"
	"github.com/nova-rey/crapssim-control/internal/rules"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Journal  string
	Ticks    int
	Seed     int64
	RunID    string
	Bankroll float64
	TapePath string
	Listen   string
	Interval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <spec.yaml>",
		Short: "Run a spec paced by wall clock with the intake always on",
		Long: `Run a strategy spec with one roll per --interval instead of as fast
as possible. The HTTP command intake is always on, so external commands can
arrive between rolls the way they would in a live session. Stops after
--ticks rolls or on SIGINT/SIGTERM.

Example:
  csc serve --journal run.db --interval 2s strategy.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to journal database (required)")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "number of rolls (default from spec)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "override the spec's dice seed")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "fixed run identifier (default random)")
	cmd.Flags().Float64Var(&opts.Bankroll, "bankroll", 0, "starting bankroll (default from spec)")
	cmd.Flags().StringVar(&opts.TapePath, "tape", "", "record external commands to this file")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "intake address (default CSC_LISTEN_ADDR)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", time.Second, "wall-clock time between rolls")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func runServe(opts *ServeOptions, specPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := config.FromEnv()
	if err != nil {
		return WrapExitError(ExitCommandError, "bad environment", err)
	}
	listen := opts.Listen
	if listen == "" {
		listen = cfg.ListenAddr
	}

	spec, err := rules.Load(specPath)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid spec", err)
	}
	if cmd.Flags().Changed("seed") {
		spec.Run.Seed = opts.Seed
	}
	ticks := opts.Ticks
	if ticks <= 0 {
		ticks = spec.Run.Ticks
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

	var tape *command.TapeWriter
	if opts.TapePath != "" {
		tape, err = command.NewTapeWriter(opts.TapePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open tape", err)
		}
		defer func() {
			if closeErr := tape.Close(); closeErr != nil {
				slog.Error("error closing tape", "error", closeErr)
			}
		}()
	}

	ctrl, err := control.New(control.Options{
		Spec:      spec,
		RunID:     opts.RunID,
		Bankroll:  opts.Bankroll,
		Transport: newTransport(cfg),
		Journal:   jr,
		Tape:      tape,
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build controller", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	shutdown, err := serveIntake(listen, ctrl)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start intake", err)
	}
	defer shutdown()

	snap, err := servePaced(ctx, ctrl, ticks, opts.Interval)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("serve interrupted")
			return nil
		}
		return WrapExitError(ExitFailure, "serve failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(RunSummary{
		RunID:     ctrl.RunID(),
		Ticks:     int64(ticks),
		Decisions: jr.LastSeq(),
		Bankroll:  snap.Bankroll,
		HandID:    snap.HandID,
	})
}

// servePaced runs one tick per interval. Cancellation between rolls still
// reaches Finish so queued commands are withdrawn.
func servePaced(ctx context.Context, ctrl *control.Controller, ticks int, interval time.Duration) (game.Snapshot, error) {
	if err := ctrl.Start(ctx); err != nil {
		return game.Snapshot{}, err
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < ticks; i++ {
		select {
		case <-ctx.Done():
			if _, finErr := ctrl.Finish(context.Background()); finErr != nil {
				slog.Error("finish after cancel", "error", finErr)
			}
			return game.Snapshot{}, ctx.Err()
		case <-ticker.C:
		}
		if err := ctrl.Tick(ctx, [2]int{}); err != nil {
			return game.Snapshot{}, err
		}
	}
	return ctrl.Finish(ctx)
}
