package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/text/unicode/norm"

	"github.com/nova-rey/crapssim-control/internal/envelope"
)

// MarshalCanonical produces the journal's canonical JSON: object keys sorted
// bytewise, strings NFC-normalized, no HTML escaping, integral floats
// rendered without a fraction and the rest via shortest round-trip form.
// This is the byte surface compared for replay parity, so any change here is
// a format break.
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeCanonicalString(buf, val)
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		writeCanonicalFloat(buf, val)
	case float32:
		writeCanonicalFloat(buf, float64(val))
	case json.Number:
		buf.WriteString(val.String())
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case map[string]string:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonicalString(buf, k)
			buf.WriteByte(':')
			writeCanonicalString(buf, val[k])
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical json: unsupported type %T", v)
	}
	return nil
}

func writeCanonicalString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	// An encoder with HTML escaping off keeps <, >, & literal. Encode
	// appends a newline; drop it.
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s) // encoding a string cannot fail
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
}

func writeCanonicalFloat(buf *bytes.Buffer, f float64) {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		buf.WriteString(strconv.FormatInt(int64(f), 10))
		return
	}
	buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func unmarshalArgs(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return nil, err
	}
	return args, nil
}

func effectMap(e *envelope.EffectSummary) map[string]any {
	m := map[string]any{
		"schema":         e.Schema,
		"verb":           e.Verb,
		"bets":           e.Bets,
		"bankroll_delta": e.BankrollDelta,
	}
	if len(e.Target) > 0 {
		m["target"] = e.Target
	}
	if e.Policy != "" {
		m["policy"] = e.Policy
	}
	return m
}

func unmarshalEffect(data string) (*envelope.EffectSummary, error) {
	var e envelope.EffectSummary
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, err
	}
	return &e, nil
}
