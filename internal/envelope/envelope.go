// Package envelope defines the validated, normalized description of a single
// state mutation (the Action Envelope), the closed verb registry, and the
// effect-summary contract shared with the engine transport.
package envelope

// Schema versions accepted by the validator.
const SchemaVersion = "1.0"

// Envelope sources.
const (
	SourceRule     = "rule"
	SourceExternal = "external"
	SourcePolicy   = "policy"
)

// Envelope is a single candidate state mutation. It is created per rule
// firing or per admitted external command and is immutable once validated.
type Envelope struct {
	Source        string            `json:"source"` // rule | external | policy
	ID            string            `json:"id"`     // "rule:<name>" | "external:<source>" | "policy:<name>"
	Verb          string            `json:"verb"`
	Args          map[string]any    `json:"args,omitempty"`
	Target        map[string]any    `json:"target,omitempty"`
	Bets          map[string]string `json:"bets,omitempty"` // bet key -> signed delta ("+6", "-12")
	BankrollDelta float64           `json:"bankroll_delta"`
	Notes         string            `json:"notes,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"` // external only
	Schema        string            `json:"schema"`
}

// EffectSummary is what the engine transport reports after applying an
// envelope. Bet values use the same signed-magnitude string convention.
type EffectSummary struct {
	Schema        string            `json:"schema"`
	Verb          string            `json:"verb"`
	Target        map[string]any    `json:"target,omitempty"`
	Bets          map[string]string `json:"bets"`
	BankrollDelta float64           `json:"bankroll_delta"`
	Policy        string            `json:"policy,omitempty"`
}
