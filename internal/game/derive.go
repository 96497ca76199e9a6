package game

// EventType classifies the single canonical event derived for a tick.
type EventType string

const (
	EventComeout          EventType = "comeout"
	EventPointEstablished EventType = "point_established"
	EventPointMade        EventType = "point_made"
	EventSevenOut         EventType = "seven_out"
	EventRoll             EventType = "roll"
)

// Event is the canonical, immutable per-tick event. The payload is flat and
// merges directly into the rule evaluation context.
type Event struct {
	Type    EventType      `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Derive classifies the transition from prev to curr as exactly one event.
//
// Priority order, first match wins:
//
//  1. point_established — point was unset, now set
//  2. comeout           — prev is nil, or both sides of the pair are on comeout
//  3. point_made        — point was on and the roll total equals the point
//  4. seven_out         — point was on and the roll total is 7
//  5. roll              — everything else
//
// The comeout check deliberately requires the PREVIOUS snapshot to be on
// comeout too: an engine that resolves a made point and resets the table in
// one step yields a curr snapshot already back on comeout, and that pair must
// classify as point_made — bankroll attribution downstream depends on it.
func Derive(prev *Snapshot, curr Snapshot) Event {
	if (prev == nil || !prev.PointOn) && curr.PointOn {
		return Event{
			Type: EventPointEstablished,
			Payload: map[string]any{
				"point": curr.PointValue,
				"total": curr.LastRoll,
			},
		}
	}
	if prev == nil || (prev.OnComeout && curr.OnComeout) {
		return Event{
			Type:    EventComeout,
			Payload: map[string]any{"total": curr.LastRoll},
		}
	}
	if prev.PointOn && curr.LastRoll == prev.PointValue {
		return Event{
			Type: EventPointMade,
			Payload: map[string]any{
				"point": prev.PointValue,
				"total": curr.LastRoll,
			},
		}
	}
	if prev.PointOn && curr.LastRoll == 7 {
		return Event{
			Type:    EventSevenOut,
			Payload: map[string]any{"total": curr.LastRoll},
		}
	}
	return Event{
		Type:    EventRoll,
		Payload: map[string]any{"total": curr.LastRoll},
	}
}

// Vars flattens the event for the rule evaluation context. The event type is
// exposed both as "event" and as a boolean flag per type so predicates can
// say either `event == 'seven_out'` or rely on the on-filter.
func (e Event) Vars() map[string]any {
	vars := map[string]any{"event": string(e.Type)}
	for k, v := range e.Payload {
		vars[k] = v
	}
	return vars
}
