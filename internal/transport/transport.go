// Package transport connects the control plane to a craps engine. The
// in-process engine is the default and is fully deterministic for a fixed
// seed and dice sequence; the HTTP transport speaks the same contract to a
// remote engine.
package transport

import (
	"context"

	"github.com/nova-rey/crapssim-control/internal/envelope"
	"github.com/nova-rey/crapssim-control/internal/game"
	"github.com/nova-rey/crapssim-control/internal/rules"
)

// SessionSpec is what a transport needs to start a session.
type SessionSpec struct {
	RunID    string
	Seed     int64
	Bankroll float64
	Table    rules.Table
}

// Transport is the engine contract. All methods are synchronous; the tick
// loop owns the call pattern, so implementations need no locking.
//
// StepRoll with a zero dice pair lets the engine roll; a non-zero pair
// forces the outcome (used by tests and replay verification).
type Transport interface {
	StartSession(ctx context.Context, spec SessionSpec) error
	StepRoll(ctx context.Context, dice [2]int) (game.Snapshot, error)
	ApplyAction(ctx context.Context, verb string, args map[string]any) (envelope.EffectSummary, error)
	SnapshotState(ctx context.Context) (game.Snapshot, error)
}
