// Package game holds the canonical table-state snapshot and the derivation
// of control events from snapshot pairs.
package game

// Snapshot is immutable table/player state at an instant, produced by the
// engine transport after each roll. The controller holds a snapshot only
// long enough to diff it against the prior one.
type Snapshot struct {
	Bankroll   float64        `json:"bankroll"`
	PointOn    bool           `json:"point_on"`
	PointValue int            `json:"point_value"` // 0 when no point is on
	OnComeout  bool           `json:"on_comeout"`
	LastRoll   int            `json:"last_roll"` // dice total of the roll that produced this snapshot
	Dice       [2]int         `json:"dice"`
	RollIndex  int64          `json:"roll_index"`   // monotonic across the whole run
	HandID     int64          `json:"hand_id"`      // increments on seven-out
	RollInHand int            `json:"roll_in_hand"` // resets at the start of each hand
	Exposures  map[string]int `json:"exposures"`    // bet key -> dollars on the table
}

// Vars flattens the snapshot into the evaluator context namespace. Exposure
// keys are already flat ("place_6", "pass") and merge in as-is.
func (s Snapshot) Vars() map[string]any {
	vars := map[string]any{
		"bankroll":     s.Bankroll,
		"point_on":     s.PointOn,
		"point_value":  s.PointValue,
		"point":        s.PointValue,
		"on_comeout":   s.OnComeout,
		"roll":         s.LastRoll,
		"roll_index":   s.RollIndex,
		"hand_id":      s.HandID,
		"roll_in_hand": s.RollInHand,
	}
	for k, v := range s.Exposures {
		vars[k] = v
	}
	return vars
}

// CloneExposures returns a copy of the exposure map so callers can mutate
// their view without aliasing the snapshot.
func (s Snapshot) CloneExposures() map[string]int {
	out := make(map[string]int, len(s.Exposures))
	for k, v := range s.Exposures {
		out[k] = v
	}
	return out
}
