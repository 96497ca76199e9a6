package rules

// cursor tracks one rule's firing history within a run.
type cursor struct {
	lastFiredTick int64
	fireCount     int
	firedHands    map[int64]struct{}
}

// EngineState holds the per-run firing cursors and evaluation diagnostics.
// It is owned by the tick loop and never shared across goroutines.
type EngineState struct {
	cursors map[string]*cursor

	// EvalErrors counts predicate or amount evaluation failures per rule.
	// A failing rule is skipped for the tick, never fatal.
	EvalErrors map[string]int
}

// NewEngineState returns an empty state. Cursors materialize lazily on first
// touch so unreferenced rules cost nothing.
func NewEngineState() *EngineState {
	return &EngineState{
		cursors:    map[string]*cursor{},
		EvalErrors: map[string]int{},
	}
}

func (s *EngineState) cursor(id string) *cursor {
	c, ok := s.cursors[id]
	if !ok {
		c = &cursor{lastFiredTick: -1, firedHands: map[int64]struct{}{}}
		s.cursors[id] = c
	}
	return c
}

// FireCount reports how many times the rule has fired this run.
func (s *EngineState) FireCount(id string) int {
	if c, ok := s.cursors[id]; ok {
		return c.fireCount
	}
	return 0
}
