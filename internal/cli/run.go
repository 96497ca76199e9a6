package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nova-rey/crapssim-control/internal/command"
	"github.com/nova-rey/crapssim-control/internal/config"
	"github.com/nova-rey/crapssim-control/internal/control"
	"github.com/nova-rey/crapssim-control/internal/httpapi"
	"github.com/nova-rey/crapssim-control/internal/journal"
	"github.com/nova-rey/crapssim-control/internal/rules"
	"github.com/nova-rey/crapssim-control/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal  string
	Ticks    int
	Seed     int64
	RunID    string
	Bankroll float64
	TapePath string
	Listen   string
}

// RunSummary is the result payload printed after a run.
type RunSummary struct {
	RunID     string  `json:"run_id"`
	Ticks     int64   `json:"ticks"`
	Decisions int64   `json:"decisions"`
	Bankroll  float64 `json:"bankroll"`
	HandID    int64   `json:"hand_id"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("run %s: %d ticks, %d decisions, bankroll %.0f",
		s.RunID, s.Ticks, s.Decisions, s.Bankroll)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <spec.yaml>",
		Short: "Run a strategy spec against the engine",
		Long: `Run a strategy spec against the craps engine.

Each tick rolls the dice once, evaluates the WHEN/THEN rules against the
derived event, drains any queued external commands, and appends every
decision to the journal. With --tape, every submitted external command is
recorded for later replay.

Example:
  csc run --journal run.db strategy.yaml
  csc run --journal run.db --tape run.tape --listen 127.0.0.1:8077 strategy.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControl(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to journal database (required)")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "number of rolls (default from spec)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "override the spec's dice seed")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "fixed run identifier (default random)")
	cmd.Flags().Float64Var(&opts.Bankroll, "bankroll", 0, "starting bankroll (default from spec)")
	cmd.Flags().StringVar(&opts.TapePath, "tape", "", "record external commands to this file")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "serve the command intake on this address")
	_ = cmd.MarkFlagRequired("journal")

	return cmd
}

func runControl(opts *RunOptions, specPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := config.FromEnv()
	if err != nil {
		return WrapExitError(ExitCommandError, "bad environment", err)
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

	if opts.Listen != "" {
		shutdown, err := serveIntake(opts.Listen, ctrl)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to start intake", err)
		}
		defer shutdown()
	}

	snap, err := ctrl.Run(ctx, ticks)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("run interrupted")
			return nil
		}
		return WrapExitError(ExitFailure, "run failed", err)
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

// newTransport selects the engine transport: HTTP when CSC_ENGINE_URL is
// set, otherwise the in-process engine.
func newTransport(cfg config.Config) transport.Transport {
	if cfg.EngineURL != "" {
		slog.Info("using http engine", "url", cfg.EngineURL)
		return transport.NewHTTPTransport(cfg.EngineURL, cfg.EngineTimeout)
	}
	return transport.NewEngine()
}

// signalContext derives a context cancelled on SIGINT/SIGTERM. The command's
// own context, when set, stays the parent so tests can cancel runs.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serveIntake starts the HTTP command intake and returns its shutdown func.
func serveIntake(addr string, ctrl *control.Controller) (func(), error) {
	api := httpapi.NewServer(ctrl.RunID(), ctrl.Commands())
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("command intake listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	// Give a bad bind a moment to surface before the run starts.
	select {
	case err := <-errCh:
		return nil, err
	case <-time.After(50 * time.Millisecond):
	}

	return func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("intake shutdown", "error", err)
		}
	}, nil
}
