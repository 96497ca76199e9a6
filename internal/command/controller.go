package command

import (
	"strings"
	"sync"

	"github.com/nova-rey/crapssim-control/internal/envelope"
	"github.com/nova-rey/crapssim-control/internal/rules"
)

// Controller linearizes external command intake for one run. Submit may be
// called from any goroutine; Advance, Drain, NoteExecution and Close belong
// to the tick loop. One mutex covers everything, so every admission decision
// has a definite position relative to every drain.
//
// Time is the run's logical clock, advanced by the tick loop. Replay feeds
// the same clock values, so rate limiting and breaker cool-down reproduce
// exactly.
type Controller struct {
	mu     sync.Mutex
	runID  string
	limits rules.ExternalLimits
	tape   *TapeWriter

	tick int64
	now  float64 // logical seconds

	queue      []Command
	queuedSrc  map[string]struct{} // sources with a command queued this tick
	quotaUsed  map[string]int      // admissions per source, never resets
	buckets    map[string]*bucket
	rejections []Rejection
	brk        breaker
	closed     bool
}

// New builds a controller for one run. limits should already carry defaults.
func New(runID string, limits rules.ExternalLimits) *Controller {
	return &Controller{
		runID:     runID,
		limits:    limits,
		queuedSrc: map[string]struct{}{},
		quotaUsed: map[string]int{},
		buckets:   map[string]*bucket{},
	}
}

// AttachTape makes every Submit append to the tape, admitted or not. Replay
// needs the rejected submissions too: they advance the quota counters and
// the breaker exactly like admitted ones.
func (c *Controller) AttachTape(w *TapeWriter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tape = w
}

// Advance moves the logical clock. After the run starts, Drain advances the
// clock itself; this seeds it at tick 1 before the first roll.
func (c *Controller) Advance(tick int64, nowSeconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick = tick
	c.now = nowSeconds
}

// Submit runs the admission chain and either queues the command or buffers a
// rejection for the tick loop to journal. First failure wins; the order is
// fixed and part of the journal contract.
func (c *Controller) Submit(cmd Command) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	dec := c.admit(cmd)
	if c.tape != nil {
		c.tape.Record(c.tick, cmd, dec)
	}
	if !dec.Accepted {
		c.rejections = append(c.rejections, Rejection{Cmd: cmd, Reason: dec.Reason, Tick: c.tick})
		if dec.Reason != ReasonCircuitBreaker {
			c.brk.fail()
		}
	}
	return dec
}

func (c *Controller) admit(cmd Command) Decision {
	if c.closed || cmd.RunID != c.runID {
		return rejected(ReasonRunIDMismatch)
	}
	if !envelope.Known(cmd.Action) {
		return rejected(ReasonUnknownAction)
	}
	if missing := missingFields(cmd); len(missing) > 0 {
		return rejected(MissingPrefix + strings.Join(missing, ","))
	}
	if c.brk.open(c.now, c.limits.Breaker) {
		return rejected(ReasonCircuitBreaker)
	}
	if len(c.queue) >= c.limits.QueueDepth {
		return rejected(ReasonQueueFull)
	}
	if c.quotaUsed[cmd.Source] >= c.limits.PerSourceQuota {
		return rejected(ReasonSourceQuota)
	}
	bkt := c.bucket(cmd.Source)
	if !bkt.hasToken(c.now, c.limits.Rate) {
		return rejected(ReasonRateLimited)
	}
	if _, dup := c.queuedSrc[cmd.Source]; dup {
		return rejected(ReasonDuplicateRoll)
	}

	bkt.take()
	c.quotaUsed[cmd.Source]++
	c.queuedSrc[cmd.Source] = struct{}{}
	c.queue = append(c.queue, cmd)
	c.brk.succeed()
	return accepted()
}

// Drain hands the tick loop everything admitted or rejected since the last
// drain, in submission order, and resets the per-tick dedupe window. The
// clock moves to the next tick before the mutex is released: a Submit
// racing the drain is stamped either with the drained tick (and is part of
// this drain) or with the next one, never with a tick that already drained
// without it. Replay depends on that stamp being exact.
func (c *Controller) Drain(tick int64, nextNow float64) ([]envelope.Envelope, []Rejection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	envs := make([]envelope.Envelope, 0, len(c.queue))
	for _, cmd := range c.queue {
		envs = append(envs, envelope.Envelope{
			Source:        envelope.SourceExternal,
			ID:            "external:" + cmd.Source,
			Verb:          cmd.Action,
			Args:          cmd.Args,
			CorrelationID: cmd.CorrelationID,
			Schema:        envelope.SchemaVersion,
		})
	}
	rejs := c.rejections
	c.queue = nil
	c.rejections = nil
	c.queuedSrc = map[string]struct{}{}
	c.tick = tick + 1
	c.now = nextNow
	return envs, rejs
}

// NoteExecution feeds apply results back into the breaker: a failed apply
// counts like a rejection, a successful one resets the streak.
func (c *Controller) NoteExecution(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ok {
		c.brk.succeed()
	} else {
		c.brk.fail()
	}
}

// Close withdraws anything still queued and refuses further submissions.
// Returns the number of withdrawn commands.
func (c *Controller) Close() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	withdrawn := len(c.queue)
	c.queue = nil
	c.closed = true
	return withdrawn
}

func missingFields(cmd Command) []string {
	var missing []string
	if strings.TrimSpace(cmd.Source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(cmd.CorrelationID) == "" {
		missing = append(missing, "correlation_id")
	}
	return missing
}

func (c *Controller) bucket(source string) *bucket {
	b, ok := c.buckets[source]
	if !ok {
		b = &bucket{tokens: float64(c.limits.Rate.Tokens), last: c.now}
		c.buckets[source] = b
	}
	return b
}

// bucket is a per-source token bucket on the logical clock.
type bucket struct {
	tokens float64
	last   float64
}

func (b *bucket) hasToken(now float64, rate rules.RateLimit) bool {
	elapsed := now - b.last
	if elapsed > 0 {
		b.tokens += elapsed / rate.RefillSeconds
		if limit := float64(rate.Tokens); b.tokens > limit {
			b.tokens = limit
		}
		b.last = now
	}
	return b.tokens >= 1
}

func (b *bucket) take() {
	b.tokens--
}

// breaker trips after a streak of consecutive rejections and stays open for
// a cool-down, after which it closes with a clean slate.
type breaker struct {
	consecutive int
	openUntil   float64
}

func (b *breaker) open(now float64, cfg rules.BreakerConfig) bool {
	if b.openUntil > 0 {
		if now < b.openUntil {
			return true
		}
		b.openUntil = 0
		b.consecutive = 0
		return false
	}
	if b.consecutive >= cfg.Threshold {
		b.openUntil = now + cfg.CoolDownSeconds
		return true
	}
	return false
}

func (b *breaker) fail() {
	b.consecutive++
}

func (b *breaker) succeed() {
	b.consecutive = 0
	b.openUntil = 0
}
