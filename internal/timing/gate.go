// Package timing decides whether an envelope may be applied at the current
// point in the game cycle. The gate is a pure function of the envelope's verb
// and the phase snapshot: no state, no clock.
package timing

import (
	"fmt"

	"github.com/nova-rey/crapssim-control/internal/envelope"
)

// Rejection reasons, stable strings recorded in the journal.
const (
	ReasonMidResolution = "timing:mid_resolution"
	ReasonWrongScope    = "timing:wrong_scope"
)

// Phase is the table state the gate checks against. Resolving means dice have
// landed but settlement has not completed; nothing is legal in that window.
type Phase struct {
	OnComeout bool
	PointOn   bool
	Resolving bool
}

// Illegal explains why an envelope cannot be applied now. The envelope is not
// discarded by the gate; the caller journals it as rejected.
type Illegal struct {
	Reason string
	Verb   string
}

func (e *Illegal) Error() string {
	return fmt.Sprintf("%s: verb %q not legal in current phase", e.Reason, e.Verb)
}

// Check returns nil when env may be applied in the given phase, or *Illegal
// describing the violation. An unknown verb is treated as out of scope; the
// validator should have caught it earlier.
func Check(env envelope.Envelope, phase Phase) error {
	if phase.Resolving {
		return &Illegal{Reason: ReasonMidResolution, Verb: env.Verb}
	}
	spec, ok := envelope.Lookup(env.Verb)
	if !ok {
		return &Illegal{Reason: ReasonWrongScope, Verb: env.Verb}
	}
	switch spec.Window {
	case envelope.WindowComeout:
		if !phase.OnComeout {
			return &Illegal{Reason: ReasonWrongScope, Verb: env.Verb}
		}
	case envelope.WindowPointOn:
		if !phase.PointOn {
			return &Illegal{Reason: ReasonWrongScope, Verb: env.Verb}
		}
	}
	return nil
}

// PhaseOf derives the gate phase from live point flags. Resolving is owned by
// the tick loop, which sets it only inside the settle window.
func PhaseOf(onComeout, pointOn, resolving bool) Phase {
	return Phase{OnComeout: onComeout, PointOn: pointOn, Resolving: resolving}
}
