package transport

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/nova-rey/crapssim-control/internal/envelope"
	"github.com/nova-rey/crapssim-control/internal/game"
)

// Engine is the in-process craps engine: point cycle, pass-line, odds and
// place settlement. Dice come from a seeded source, so identical seeds and
// forced dice produce identical snapshots.
type Engine struct {
	rng     *rand.Rand
	started bool

	bankroll   float64
	pointOn    bool
	pointValue int
	onComeout  bool
	lastRoll   int
	dice       [2]int
	rollIndex  int64
	handID     int64
	rollInHand int

	passLine float64
	odds     float64
	place    map[int]float64 // box number -> working amount
	profile  string
}

// NewEngine returns an engine that is not yet in a session.
func NewEngine() *Engine {
	return &Engine{place: map[int]float64{}}
}

// StartSession resets all table state and seeds the dice.
func (e *Engine) StartSession(_ context.Context, spec SessionSpec) error {
	e.rng = rand.New(rand.NewSource(spec.Seed))
	e.bankroll = spec.Bankroll
	e.pointOn = false
	e.pointValue = 0
	e.onComeout = true
	e.lastRoll = 0
	e.dice = [2]int{}
	e.rollIndex = 0
	e.handID = 1
	e.rollInHand = 0
	e.passLine = 0
	e.odds = 0
	e.place = map[int]float64{}
	e.profile = ""
	e.started = true
	return nil
}

// StepRoll rolls (or accepts forced dice), settles bets, and returns the
// post-settlement snapshot.
func (e *Engine) StepRoll(_ context.Context, dice [2]int) (game.Snapshot, error) {
	if !e.started {
		return game.Snapshot{}, fmt.Errorf("engine: no session")
	}
	if dice == [2]int{} {
		dice = [2]int{e.rng.Intn(6) + 1, e.rng.Intn(6) + 1}
	}
	if dice[0] < 1 || dice[0] > 6 || dice[1] < 1 || dice[1] > 6 {
		return game.Snapshot{}, fmt.Errorf("engine: bad dice %v", dice)
	}
	total := dice[0] + dice[1]
	e.dice = dice
	e.lastRoll = total
	e.rollIndex++
	e.rollInHand++

	if !e.pointOn {
		e.settleComeout(total)
	} else {
		e.settlePoint(total)
	}
	return e.snapshot(), nil
}

func (e *Engine) settleComeout(total int) {
	switch total {
	case 7, 11:
		e.bankroll += e.passLine * 2 // stake back plus even money
		e.passLine = 0
	case 2, 3, 12:
		e.passLine = 0
	default:
		e.pointOn = true
		e.pointValue = total
		e.onComeout = false
	}
}

func (e *Engine) settlePoint(total int) {
	if total == e.pointValue {
		// Point made: line and odds pay, point comes down.
		e.bankroll += e.passLine * 2
		e.passLine = 0
		e.bankroll += e.odds + e.odds*trueOdds(e.pointValue)
		e.odds = 0
		e.payPlace(total)
		e.pointOn = false
		e.pointValue = 0
		e.onComeout = true
		return
	}
	if total == 7 {
		// Seven out: everything working is lost, hand ends.
		e.passLine = 0
		e.odds = 0
		e.place = map[int]float64{}
		e.pointOn = false
		e.pointValue = 0
		e.onComeout = true
		e.handID++
		e.rollInHand = 0
		return
	}
	e.payPlace(total)
}

// payPlace pays a working place bet on the rolled number; the bet stays up.
func (e *Engine) payPlace(total int) {
	amount, working := e.place[total]
	if !working {
		return
	}
	e.bankroll += amount * placeOdds(total)
}

// trueOdds is the odds-bet payout multiple for a point.
func trueOdds(point int) float64 {
	switch point {
	case 4, 10:
		return 2
	case 5, 9:
		return 1.5
	default: // 6, 8
		return 1.2
	}
}

// placeOdds is the place-bet payout multiple: 9:5 on 4/10, 7:5 on 5/9,
// 7:6 on 6/8.
func placeOdds(number int) float64 {
	switch number {
	case 4, 10:
		return 9.0 / 5.0
	case 5, 9:
		return 7.0 / 5.0
	default:
		return 7.0 / 6.0
	}
}

// ApplyAction mutates table state per the verb and reports the money moved.
// Errors are failed executions: state is untouched and the caller journals
// the failure.
func (e *Engine) ApplyAction(_ context.Context, verb string, args map[string]any) (envelope.EffectSummary, error) {
	if !e.started {
		return envelope.EffectSummary{}, fmt.Errorf("engine: no session")
	}
	effect := envelope.EffectSummary{
		Schema: envelope.SchemaVersion,
		Verb:   verb,
		Bets:   map[string]string{},
	}
	switch verb {
	case "line_bet":
		amt, err := e.debitAmount(args)
		if err != nil {
			return effect, err
		}
		e.passLine += amt
		e.bankroll -= amt
		effect.Bets["pass_line"] = signed(amt)
		effect.BankrollDelta = -amt
	case "place_bet", "press":
		amt, err := e.debitAmount(args)
		if err != nil {
			return effect, err
		}
		num, err := boxNumber(args)
		if err != nil {
			return effect, err
		}
		e.place[num] += amt
		e.bankroll -= amt
		effect.Bets[strconv.Itoa(num)] = signed(amt)
		effect.BankrollDelta = -amt
	case "set_odds":
		amt, err := e.debitAmount(args)
		if err != nil {
			return effect, err
		}
		if e.passLine <= 0 {
			return effect, fmt.Errorf("engine: odds require a line bet")
		}
		e.odds += amt
		e.bankroll -= amt
		effect.Bets["odds"] = signed(amt)
		effect.BankrollDelta = -amt
	case "take_odds":
		amt, err := amount(args)
		if err != nil {
			return effect, err
		}
		taken := math.Min(amt, e.odds)
		if taken <= 0 {
			return effect, fmt.Errorf("engine: no odds to take")
		}
		e.odds -= taken
		e.bankroll += taken
		effect.Bets["odds"] = signed(-taken)
		effect.BankrollDelta = taken
	case "regress":
		var returned float64
		for _, num := range boxNumbers(e.place) {
			cut := e.place[num] / 2
			e.place[num] -= cut
			returned += cut
			effect.Bets[strconv.Itoa(num)] = signed(-cut)
		}
		e.bankroll += returned
		effect.BankrollDelta = returned
	case "same_bet":
		// Working bets stay as they are.
	case "take_down":
		num, err := boxNumber(args)
		if err != nil {
			return effect, err
		}
		amt, working := e.place[num]
		if !working {
			return effect, fmt.Errorf("engine: no place bet on %d", num)
		}
		delete(e.place, num)
		e.bankroll += amt
		effect.Bets[strconv.Itoa(num)] = signed(-amt)
		effect.BankrollDelta = amt
	case "clear_all":
		var returned float64
		for _, num := range boxNumbers(e.place) {
			amt := e.place[num]
			returned += amt
			effect.Bets[strconv.Itoa(num)] = signed(-amt)
		}
		e.place = map[int]float64{}
		if e.odds > 0 {
			returned += e.odds
			effect.Bets["odds"] = signed(-e.odds)
			e.odds = 0
		}
		e.bankroll += returned
		effect.BankrollDelta = returned
	case "switch_profile":
		target, _ := args["target"].(string)
		if target == "" {
			return effect, fmt.Errorf("engine: switch_profile needs a target")
		}
		e.profile = target
		effect.Policy = target
	case "apply_policy":
		policy, _ := args["policy"].(string)
		if policy == "" {
			return effect, fmt.Errorf("engine: apply_policy needs a policy")
		}
		effect.Policy = policy
	default:
		return effect, fmt.Errorf("engine: unknown verb %q", verb)
	}
	return effect, nil
}

// SnapshotState returns the current snapshot without rolling.
func (e *Engine) SnapshotState(_ context.Context) (game.Snapshot, error) {
	if !e.started {
		return game.Snapshot{}, fmt.Errorf("engine: no session")
	}
	return e.snapshot(), nil
}

// Profile reports the active betting profile name, "" before any switch.
func (e *Engine) Profile() string {
	return e.profile
}

func (e *Engine) snapshot() game.Snapshot {
	exposures := map[string]int{}
	if e.passLine > 0 {
		exposures["pass_line"] = int(math.Round(e.passLine))
	}
	if e.odds > 0 {
		exposures["odds"] = int(math.Round(e.odds))
	}
	for num, amt := range e.place {
		if amt > 0 {
			exposures["place_"+strconv.Itoa(num)] = int(math.Round(amt))
		}
	}
	return game.Snapshot{
		Bankroll:   e.bankroll,
		PointOn:    e.pointOn,
		PointValue: e.pointValue,
		OnComeout:  e.onComeout,
		LastRoll:   e.lastRoll,
		Dice:       e.dice,
		RollIndex:  e.rollIndex,
		HandID:     e.handID,
		RollInHand: e.rollInHand,
		Exposures:  exposures,
	}
}

func (e *Engine) debitAmount(args map[string]any) (float64, error) {
	amt, err := amount(args)
	if err != nil {
		return 0, err
	}
	if amt > e.bankroll {
		return 0, fmt.Errorf("engine: insufficient bankroll for %g", amt)
	}
	return amt, nil
}

func amount(args map[string]any) (float64, error) {
	raw, ok := args["amount"]
	if !ok {
		return 0, fmt.Errorf("engine: missing amount")
	}
	amt, ok := toFloat(raw)
	if !ok || amt <= 0 {
		return 0, fmt.Errorf("engine: bad amount %v", raw)
	}
	return amt, nil
}

func boxNumber(args map[string]any) (int, error) {
	raw, ok := args["bet"]
	if !ok {
		return 0, fmt.Errorf("engine: missing bet")
	}
	var num int
	switch v := raw.(type) {
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("engine: bad bet %q", v)
		}
		num = n
	default:
		f, ok := toFloat(raw)
		if !ok {
			return 0, fmt.Errorf("engine: bad bet %v", raw)
		}
		num = int(f)
	}
	switch num {
	case 4, 5, 6, 8, 9, 10:
		return num, nil
	}
	return 0, fmt.Errorf("engine: %d is not a box number", num)
}

// boxNumbers iterates working place bets in a stable order.
func boxNumbers(place map[int]float64) []int {
	nums := make([]int, 0, len(place))
	for num := range place {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	return nums
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// signed renders a bet delta in the journal's signed-magnitude form: "+6",
// "-12".
func signed(delta float64) string {
	n := int(math.Round(delta))
	if n >= 0 {
		return "+" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
