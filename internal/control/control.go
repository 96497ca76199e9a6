// Package control owns the per-tick pipeline: step the engine, derive the
// canonical event, evaluate rules, drain external commands, gate, validate,
// apply, and journal. Exactly one tick is in flight at a time and the
// journal is written only from here.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nova-rey/crapssim-control/internal/command"
	"github.com/nova-rey/crapssim-control/internal/envelope"
	"github.com/nova-rey/crapssim-control/internal/expr"
	"github.com/nova-rey/crapssim-control/internal/game"
	"github.com/nova-rey/crapssim-control/internal/journal"
	"github.com/nova-rey/crapssim-control/internal/rules"
	"github.com/nova-rey/crapssim-control/internal/timing"
	"github.com/nova-rey/crapssim-control/internal/transport"
)

// Rejection reasons originated by the pipeline itself. Admission and timing
// reasons pass through from their packages verbatim.
const (
	reasonInvalidPrefix   = "invalid:"
	reasonExecutionFailed = "execution_failed"
)

// Options configures a controller. Spec, Transport and Journal are required.
type Options struct {
	Spec      *rules.Spec
	RunID     string // generated when empty
	Bankroll  float64
	Transport transport.Transport
	Journal   *journal.Store
	Tape      *command.TapeWriter // optional submit recorder
}

// Controller drives one run. All methods must be called from one goroutine;
// only the command intake (via Commands().Submit) is safe elsewhere.
type Controller struct {
	spec  *rules.Spec
	runID string
	tr    transport.Transport
	jr    *journal.Store
	cmds  *command.Controller
	state *rules.EngineState

	bankroll float64
	tick     int64
	now      float64
	prev     *game.Snapshot
	started  bool
}

// New wires a controller. The command controller is created here so its
// limits always come from the spec.
func New(opts Options) (*Controller, error) {
	if opts.Spec == nil || opts.Transport == nil || opts.Journal == nil {
		return nil, fmt.Errorf("control: spec, transport and journal are required")
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	bankroll := opts.Bankroll
	if bankroll <= 0 {
		bankroll = defaultBankroll(opts.Spec)
	}
	cmds := command.New(runID, opts.Spec.Run.External)
	if opts.Tape != nil {
		cmds.AttachTape(opts.Tape)
	}
	return &Controller{
		spec:     opts.Spec,
		runID:    runID,
		tr:       opts.Transport,
		jr:       opts.Journal,
		cmds:     cmds,
		state:    rules.NewEngineState(),
		bankroll: bankroll,
	}, nil
}

func defaultBankroll(spec *rules.Spec) float64 {
	if v, ok := spec.Variables["bankroll"]; ok {
		switch n := v.(type) {
		case int:
			return float64(n)
		case float64:
			return n
		}
	}
	return 1000
}

// RunID returns the run identifier external commands must carry.
func (c *Controller) RunID() string {
	return c.runID
}

// Commands exposes the intake for the HTTP channel.
func (c *Controller) Commands() *command.Controller {
	return c.cmds
}

// Start opens the engine session. An unreachable transport here is fatal.
func (c *Controller) Start(ctx context.Context) error {
	if c.started {
		return fmt.Errorf("control: already started")
	}
	err := c.tr.StartSession(ctx, transport.SessionSpec{
		RunID:    c.runID,
		Seed:     c.spec.Run.Seed,
		Bankroll: c.bankroll,
		Table:    c.spec.Table,
	})
	if err != nil {
		return fmt.Errorf("control: start session: %w", err)
	}
	if err := c.jr.SetMeta(ctx, "run_id", c.runID); err != nil {
		return err
	}
	if err := c.jr.SetMeta(ctx, "seed", fmt.Sprintf("%d", c.spec.Run.Seed)); err != nil {
		return err
	}
	c.started = true
	// Commands submitted before the first roll belong to tick 1.
	c.cmds.Advance(1, c.spec.Run.TickSeconds)
	slog.Info("run starting", "run_id", c.runID, "seed", c.spec.Run.Seed)
	return nil
}

// Tick advances the run by one roll. A zero dice pair lets the engine roll;
// replay forces recorded dice. Journal append or transport step failures
// are fatal; everything else is a journaled decision.
func (c *Controller) Tick(ctx context.Context, dice [2]int) error {
	if !c.started {
		return fmt.Errorf("control: not started")
	}
	c.tick++
	c.now = float64(c.tick) * c.spec.Run.TickSeconds

	curr, err := c.tr.StepRoll(ctx, dice)
	if err != nil {
		return fmt.Errorf("control: tick %d: %w", c.tick, err)
	}
	event := game.Derive(c.prev, curr)
	vars := c.tickVars(curr, event)

	envs := rules.EvaluateTick(c.state, c.spec.Rules, event, vars, c.tick, curr.HandID)
	// Drain advances the clock atomically: late submissions land in the
	// next tick's window, live and in replay alike.
	external, rejections := c.cmds.Drain(c.tick, float64(c.tick+1)*c.spec.Run.TickSeconds)

	// Buffered admission rejections first: they happened before any apply.
	for _, rej := range rejections {
		if err := c.journalRejection(ctx, rej); err != nil {
			return err
		}
	}
	phase := timing.PhaseOf(curr.OnComeout, curr.PointOn, false)
	for _, env := range envs {
		if err := c.decide(ctx, env, phase); err != nil {
			return err
		}
	}
	for _, env := range external {
		if err := c.decide(ctx, env, phase); err != nil {
			return err
		}
	}

	c.prev = &curr
	return nil
}

// decide runs one envelope through gate, validator and transport, then
// journals exactly one record. Apply-then-journal is the atomic unit.
func (c *Controller) decide(ctx context.Context, env envelope.Envelope, phase timing.Phase) error {
	rec := journal.Record{
		Tick:          c.tick,
		Timestamp:     c.now,
		Origin:        env.ID,
		RuleID:        strings.TrimPrefix(env.ID, "rule:"),
		CorrelationID: env.CorrelationID,
		Verb:          env.Verb,
		Args:          env.Args,
	}
	if env.Source != envelope.SourceRule {
		rec.RuleID = ""
	}

	if err := timing.Check(env, phase); err != nil {
		var ill *timing.Illegal
		if !errors.As(err, &ill) {
			return err
		}
		rec.RejectionReason = ill.Reason
		c.noteExternal(env, false)
		return c.append(ctx, &rec)
	}
	rec.TimingLegal = true

	if err := envelope.Validate(env); err != nil {
		var ve *envelope.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		rec.RejectionReason = reasonInvalidPrefix + ve.Code
		c.noteExternal(env, false)
		return c.append(ctx, &rec)
	}

	effect, err := c.tr.ApplyAction(ctx, env.Verb, env.Args)
	if err != nil {
		slog.Warn("apply failed", "verb", env.Verb, "origin", env.ID, "error", err)
		rec.RejectionReason = reasonExecutionFailed
		c.noteExternal(env, false)
		return c.append(ctx, &rec)
	}
	rec.Executed = true
	rec.Effect = &effect
	c.noteExternal(env, true)
	return c.append(ctx, &rec)
}

func (c *Controller) journalRejection(ctx context.Context, rej command.Rejection) error {
	return c.append(ctx, &journal.Record{
		Tick:            rej.Tick,
		Timestamp:       c.now,
		Origin:          "external:" + rej.Cmd.Source,
		CorrelationID:   rej.Cmd.CorrelationID,
		Verb:            rej.Cmd.Action,
		Args:            rej.Cmd.Args,
		RejectionReason: rej.Reason,
	})
}

func (c *Controller) append(ctx context.Context, rec *journal.Record) error {
	if err := c.jr.Append(ctx, rec); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	return nil
}

// noteExternal feeds apply outcomes of external envelopes into the breaker.
// Rule envelopes never touch it.
func (c *Controller) noteExternal(env envelope.Envelope, ok bool) {
	if env.Source == envelope.SourceExternal {
		c.cmds.NoteExecution(ok)
	}
}

// tickVars builds the expression context: spec variables, then snapshot
// fields, then the event, later layers shadowing earlier ones.
//
// Point flags come from the pre-roll snapshot: predicates reason about the
// state the dice resolved against. At the point-made tick the engine has
// already cleared the point, so `point_on AND roll == point_value` would
// never match post-resolution state; against pre-roll state it matches
// exactly that tick. Money and roll fields stay current.
func (c *Controller) tickVars(snap game.Snapshot, event game.Event) expr.Context {
	vars := expr.Context{}
	for k, v := range c.spec.Variables {
		vars[k] = v
	}
	for k, v := range snap.Vars() {
		vars[k] = v
	}
	if c.prev != nil {
		vars["point_on"] = c.prev.PointOn
		vars["point_value"] = c.prev.PointValue
		vars["point"] = c.prev.PointValue
		vars["on_comeout"] = c.prev.OnComeout
	} else {
		// First roll of the run is always a comeout roll.
		vars["point_on"] = false
		vars["point_value"] = 0
		vars["point"] = 0
		vars["on_comeout"] = true
	}
	for k, v := range event.Vars() {
		vars[k] = v
	}
	return vars
}

// Run executes ticks rolls and returns the final snapshot. Queued commands
// that never drained are withdrawn at the end.
func (c *Controller) Run(ctx context.Context, ticks int) (game.Snapshot, error) {
	if err := c.Start(ctx); err != nil {
		return game.Snapshot{}, err
	}
	for i := 0; i < ticks; i++ {
		if err := ctx.Err(); err != nil {
			return game.Snapshot{}, err
		}
		if err := c.Tick(ctx, [2]int{}); err != nil {
			return game.Snapshot{}, err
		}
	}
	return c.Finish(ctx)
}

// Finish withdraws undrained commands and returns the final snapshot.
func (c *Controller) Finish(ctx context.Context) (game.Snapshot, error) {
	withdrawn := c.cmds.Close()
	if withdrawn > 0 {
		slog.Info("withdrew undrained commands", "count", withdrawn)
	}
	snap, err := c.tr.SnapshotState(ctx)
	if err != nil {
		return game.Snapshot{}, fmt.Errorf("control: final snapshot: %w", err)
	}
	slog.Info("run finished", "run_id", c.runID, "ticks", c.tick, "decisions", c.jr.LastSeq())
	return snap, nil
}
