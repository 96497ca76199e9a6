// Package command is the external command intake: admission control,
// backpressure, and the command tape. Commands enter from any goroutine via
// Submit; the tick loop collects them with Drain. The journal is never
// touched here.
package command

// Admission reasons, stable strings recorded on the tape and in the journal.
// MissingPrefix is followed by the comma-joined missing field names.
const (
	ReasonAccepted       = "accepted"
	ReasonRunIDMismatch  = "run_id_mismatch"
	ReasonUnknownAction  = "unknown_action"
	ReasonCircuitBreaker = "circuit_breaker"
	ReasonQueueFull      = "queue_full"
	ReasonSourceQuota    = "per_source_quota"
	ReasonRateLimited    = "rate_limited"
	ReasonDuplicateRoll  = "duplicate_roll"
	MissingPrefix        = "missing:"
)

// Command is one inbound request from an external source. All fields are
// required at admission.
type Command struct {
	RunID         string         `json:"run_id"`
	Source        string         `json:"source"`
	Action        string         `json:"action"`
	Args          map[string]any `json:"args"`
	CorrelationID string         `json:"correlation_id"`
}

// Decision is the synchronous answer to a Submit. Accepted means queued for
// the next drain, not executed.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason"`
}

// Rejection is a refused command held for the tick loop to journal. The
// journal has one writer, so rejections are buffered here rather than
// written by the submitting goroutine.
type Rejection struct {
	Cmd    Command
	Reason string
	Tick   int64
}

func accepted() Decision {
	return Decision{Accepted: true, Reason: ReasonAccepted}
}

func rejected(reason string) Decision {
	return Decision{Accepted: false, Reason: reason}
}
