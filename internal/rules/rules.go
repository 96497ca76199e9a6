// Package rules drives the declarative strategy layer: WHEN/THEN rules
// evaluated in declaration order against each tick's variable context,
// producing action envelopes. All expressions are compiled at load time;
// evaluation never parses.
package rules

import (
	"fmt"

	"github.com/nova-rey/crapssim-control/internal/expr"
)

// Scope bounds how often a rule may fire.
type Scope string

const (
	// ScopeTick allows firing on any tick, subject only to cooldown.
	ScopeTick Scope = "tick"
	// ScopeHand allows at most one firing per hand.
	ScopeHand Scope = "hand"
	// ScopeSession allows at most one firing per run.
	ScopeSession Scope = "session"
)

func parseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeTick, ScopeHand, ScopeSession:
		return Scope(s), nil
	case "":
		return ScopeTick, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Arg is one templated action argument. Either Literal is set, or Expr is a
// compiled amount expression evaluated at fire time.
type Arg struct {
	Literal any
	Expr    *expr.Compiled
	Source  string // expression text, for diagnostics
}

// Template is the THEN half of a rule: the verb plus its argument template.
type Template struct {
	Verb string
	Args map[string]Arg
}

// Rule is one compiled strategy rule. Rules are immutable after load; all
// per-run bookkeeping lives in EngineState.
type Rule struct {
	ID       string
	On       string // event type filter, "" matches every event
	When     *expr.Compiled
	WhenText string
	Scope    Scope
	Cooldown int // minimum ticks between firings, 0 = none
	Once     bool
	Then     Template
}
