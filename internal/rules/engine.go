package rules

import (
	"github.com/nova-rey/crapssim-control/internal/envelope"
	"github.com/nova-rey/crapssim-control/internal/expr"
	"github.com/nova-rey/crapssim-control/internal/game"
)

// EvaluateTick runs every rule against one tick and returns the envelopes of
// the rules that fire, in declaration order. The skip chain per rule:
//
//	event filter -> once -> hand/session scope -> cooldown -> predicate
//
// A predicate or amount evaluation error skips the rule for this tick and
// bumps the rule's diagnostics counter; it never stops the run.
func EvaluateTick(state *EngineState, ruleset []Rule, event game.Event, vars expr.Context, tick, handID int64) []envelope.Envelope {
	var fired []envelope.Envelope
	for i := range ruleset {
		r := &ruleset[i]
		if r.On != "" && r.On != string(event.Type) {
			continue
		}
		c := state.cursor(r.ID)
		if r.Once && c.fireCount > 0 {
			continue
		}
		switch r.Scope {
		case ScopeSession:
			if c.fireCount > 0 {
				continue
			}
		case ScopeHand:
			if _, done := c.firedHands[handID]; done {
				continue
			}
		}
		if r.Cooldown > 0 && c.lastFiredTick >= 0 && tick-c.lastFiredTick < int64(r.Cooldown) {
			continue
		}
		fire, err := r.When.EvalBool(vars)
		if err != nil {
			state.EvalErrors[r.ID]++
			continue
		}
		if !fire {
			continue
		}
		env, err := render(r, vars)
		if err != nil {
			state.EvalErrors[r.ID]++
			continue
		}
		c.lastFiredTick = tick
		c.fireCount++
		if r.Scope == ScopeHand {
			c.firedHands[handID] = struct{}{}
		}
		fired = append(fired, env)
	}
	return fired
}

// render materializes the rule's action template against the tick variables.
func render(r *Rule, vars expr.Context) (envelope.Envelope, error) {
	args := make(map[string]any, len(r.Then.Args))
	for key, arg := range r.Then.Args {
		if arg.Expr == nil {
			args[key] = arg.Literal
			continue
		}
		val, err := arg.Expr.EvalNumber(vars)
		if err != nil {
			return envelope.Envelope{}, err
		}
		args[key] = val
	}
	return envelope.Envelope{
		Source: envelope.SourceRule,
		ID:     "rule:" + r.ID,
		Verb:   r.Then.Verb,
		Args:   args,
		Schema: envelope.SchemaVersion,
	}, nil
}
