package envelope

import (
	"fmt"
	"sort"
	"strings"
)

// Window is the legal timing window for a verb. The timing gate combines the
// window with the live phase flags; mid-resolution is illegal for every verb.
type Window int

const (
	// WindowAny allows the verb at comeout and while a point is on.
	WindowAny Window = iota
	// WindowComeout restricts the verb to the comeout phase.
	WindowComeout
	// WindowPointOn restricts the verb to ticks with a point established.
	WindowPointOn
)

func (w Window) String() string {
	switch w {
	case WindowComeout:
		return "comeout"
	case WindowPointOn:
		return "point_on"
	default:
		return "any"
	}
}

// Direction constrains the sign of an envelope's bankroll delta.
type Direction int

const (
	// DirDebit puts money on the table: bankroll delta must be <= 0.
	DirDebit Direction = iota
	// DirCredit returns money to the rail: bankroll delta must be >= 0.
	DirCredit
	// DirNeutral moves no money: bankroll delta must be 0.
	DirNeutral
	// DirAny places no sign constraint (policy verbs).
	DirAny
)

// VerbSpec describes one registered capability. The registry is closed:
// registration happens in this package's init and an unknown verb is a
// load-time-checkable error class, not a runtime reflection failure.
type VerbSpec struct {
	Name      string
	Window    Window
	Direction Direction
	Required  []string // required args, checked at admission/validation
	Doc       string
}

var registry = map[string]VerbSpec{}

func register(spec VerbSpec) {
	if spec.Name == "" {
		panic("verb registration: empty name")
	}
	if _, dup := registry[spec.Name]; dup {
		panic(fmt.Sprintf("verb registration: duplicate %q", spec.Name))
	}
	registry[spec.Name] = spec
}

func init() {
	register(VerbSpec{Name: "line_bet", Window: WindowComeout, Direction: DirDebit,
		Required: []string{"amount"}, Doc: "place a pass or don't-pass line bet"})
	register(VerbSpec{Name: "place_bet", Window: WindowPointOn, Direction: DirDebit,
		Required: []string{"bet", "amount"}, Doc: "place a box number"})
	register(VerbSpec{Name: "set_odds", Window: WindowPointOn, Direction: DirDebit,
		Required: []string{"amount"}, Doc: "put odds behind a line bet"})
	register(VerbSpec{Name: "take_odds", Window: WindowPointOn, Direction: DirCredit,
		Required: []string{"amount"}, Doc: "take odds back off a line bet"})
	register(VerbSpec{Name: "press", Window: WindowPointOn, Direction: DirDebit,
		Required: []string{"bet", "amount"}, Doc: "increase a working bet"})
	register(VerbSpec{Name: "regress", Window: WindowPointOn, Direction: DirCredit,
		Doc: "reduce working bets by a pattern"})
	register(VerbSpec{Name: "same_bet", Window: WindowAny, Direction: DirNeutral,
		Doc: "hold current bets"})
	register(VerbSpec{Name: "take_down", Window: WindowPointOn, Direction: DirCredit,
		Required: []string{"bet"}, Doc: "remove a working bet entirely"})
	register(VerbSpec{Name: "clear_all", Window: WindowAny, Direction: DirCredit,
		Doc: "remove every removable bet"})
	register(VerbSpec{Name: "switch_profile", Window: WindowAny, Direction: DirNeutral,
		Required: []string{"target"}, Doc: "switch the active betting profile"})
	register(VerbSpec{Name: "apply_policy", Window: WindowAny, Direction: DirAny,
		Required: []string{"policy"}, Doc: "apply a named policy"})
}

// Lookup returns the spec for a verb name.
func Lookup(verb string) (VerbSpec, bool) {
	spec, ok := registry[verb]
	return spec, ok
}

// Known reports whether the verb is registered.
func Known(verb string) bool {
	_, ok := registry[verb]
	return ok
}

// Verbs returns all registered verb names, sorted for stable output.
func Verbs() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MissingArg returns the first required arg absent from args, in the spec's
// declaration order, or "" when all are present. Blank string values count
// as missing.
func (s VerbSpec) MissingArg(args map[string]any) string {
	for _, key := range s.Required {
		v, ok := args[key]
		if !ok || v == nil {
			return key
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			return key
		}
	}
	return ""
}
