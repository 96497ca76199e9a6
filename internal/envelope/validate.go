package envelope

import (
	"errors"
	"fmt"
	"regexp"
)

// ValidationError reports a structurally invalid envelope. Code is a stable
// machine-readable tag; Message is human-readable detail.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("envelope invalid (%s): %s", e.Code, e.Message)
}

// IsValidationError reports whether err is a ValidationError.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Stable validation codes. Admission and journaling key off these, so they
// change only with a schema version bump.
const (
	CodeBadSchema    = "schema_version"
	CodeUnknownVerb  = "unknown_verb"
	CodeMissingField = "missing_field"
	CodeBadBetDelta  = "bet_delta_format"
	CodeBadDirection = "bankroll_direction"
)

// Bet deltas are signed integers as strings, e.g. "+6" or "-12". An unsigned
// or fractional value is rejected rather than guessed at.
var betDeltaRe = regexp.MustCompile(`^[+-]\d+$`)

func invalidf(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validate checks an envelope against the verb registry and the wire schema.
// It returns nil or a *ValidationError; it never mutates the envelope.
//
// Validation is purely structural. Timing legality and admission are decided
// elsewhere, so a valid envelope can still be rejected downstream.
func Validate(env Envelope) error {
	if env.Schema != SchemaVersion {
		return invalidf(CodeBadSchema, "schema %q, want %q", env.Schema, SchemaVersion)
	}
	spec, ok := Lookup(env.Verb)
	if !ok {
		return invalidf(CodeUnknownVerb, "verb %q is not registered", env.Verb)
	}
	if missing := spec.MissingArg(env.Args); missing != "" {
		return invalidf(CodeMissingField, "verb %q requires %q", env.Verb, missing)
	}
	for bet, delta := range env.Bets {
		if !betDeltaRe.MatchString(delta) {
			return invalidf(CodeBadBetDelta, "bet %q delta %q, want signed integer like +6 or -12", bet, delta)
		}
	}
	if err := checkDirection(spec, env.BankrollDelta); err != nil {
		return err
	}
	return nil
}

// checkDirection enforces the sign convention: debit verbs spend bankroll
// (delta <= 0), credit verbs return it (delta >= 0). Zero is always allowed
// because a verb can net out, e.g. press funded entirely from winnings.
func checkDirection(spec VerbSpec, delta float64) *ValidationError {
	switch spec.Direction {
	case DirDebit:
		if delta > 0 {
			return invalidf(CodeBadDirection, "verb %q debits bankroll, got delta %+g", spec.Name, delta)
		}
	case DirCredit:
		if delta < 0 {
			return invalidf(CodeBadDirection, "verb %q credits bankroll, got delta %+g", spec.Name, delta)
		}
	case DirNeutral:
		if delta != 0 {
			return invalidf(CodeBadDirection, "verb %q does not move bankroll, got delta %+g", spec.Name, delta)
		}
	}
	return nil
}
