package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func snap(pointOn bool, pointValue, lastRoll int, onComeout bool) Snapshot {
	return Snapshot{
		PointOn:    pointOn,
		PointValue: pointValue,
		LastRoll:   lastRoll,
		OnComeout:  onComeout,
	}
}

func TestDerive_PriorityOrder(t *testing.T) {
	cases := []struct {
		name string
		prev *Snapshot
		curr Snapshot
		want EventType
	}{
		{
			name: "nil prev with point set is point_established",
			prev: nil,
			curr: snap(true, 6, 6, false),
			want: EventPointEstablished,
		},
		{
			name: "nil prev on comeout is comeout",
			prev: nil,
			curr: snap(false, 0, 0, true),
			want: EventComeout,
		},
		{
			name: "comeout to point set is point_established",
			prev: ptr(snap(false, 0, 11, true)),
			curr: snap(true, 8, 8, false),
			want: EventPointEstablished,
		},
		{
			name: "comeout natural stays comeout",
			prev: ptr(snap(false, 0, 4, true)),
			curr: snap(false, 0, 11, true),
			want: EventComeout,
		},
		{
			name: "comeout craps stays comeout",
			prev: ptr(snap(false, 0, 11, true)),
			curr: snap(false, 0, 3, true),
			want: EventComeout,
		},
		{
			name: "point on, mid-hand number is roll",
			prev: ptr(snap(true, 6, 8, false)),
			curr: snap(true, 6, 9, false),
			want: EventRoll,
		},
		{
			name: "point on, seven is seven_out",
			prev: ptr(snap(true, 6, 9, false)),
			curr: snap(false, 0, 7, true),
			want: EventSevenOut,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive(tc.prev, tc.curr)
			assert.Equal(t, tc.want, got.Type)
		})
	}
}

// TestDerive_ResolveAndResetIsPointMade pins the load-bearing ambiguity: an
// engine that resolves the point and resets to comeout in the same step must
// classify as point_made — never comeout, never point_established — because
// bankroll attribution downstream keys off the resolution.
func TestDerive_ResolveAndResetIsPointMade(t *testing.T) {
	prev := snap(true, 6, 5, false)
	// point hit: curr is already reset to comeout by the engine
	curr := snap(false, 0, 6, true)

	got := Derive(&prev, curr)
	assert.Equal(t, EventPointMade, got.Type)
	assert.Equal(t, 6, got.Payload["point"])
}

// A made point immediately followed by a new point on the next comeout must
// read as point_established for the second pair, not roll.
func TestDerive_NewPointAfterResolve(t *testing.T) {
	prev := snap(false, 0, 6, true)
	curr := snap(true, 9, 9, false)

	got := Derive(&prev, curr)
	assert.Equal(t, EventPointEstablished, got.Type)
	assert.Equal(t, 9, got.Payload["point"])
}

func TestEventVars(t *testing.T) {
	ev := Derive(nil, snap(true, 6, 6, false))
	vars := ev.Vars()
	assert.Equal(t, "point_established", vars["event"])
	assert.Equal(t, 6, vars["point"])
}

func TestSnapshotVars(t *testing.T) {
	s := Snapshot{
		Bankroll:   950,
		PointOn:    true,
		PointValue: 6,
		LastRoll:   8,
		HandID:     2,
		RollInHand: 3,
		Exposures:  map[string]int{"place_6": 12, "place_8": 12},
	}
	vars := s.Vars()
	assert.Equal(t, true, vars["point_on"])
	assert.Equal(t, 6, vars["point_value"])
	assert.Equal(t, 12, vars["place_6"])
	assert.Equal(t, 950.0, vars["bankroll"])
}

func ptr(s Snapshot) *Snapshot { return &s }
