package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// One-line authoring form for simple rules:
//
//	WHEN <condition> THEN <verb>(<args>)
//
// Args are optional key=value pairs; a bare key means true. The condition
// uses the same expression language as the when field.
var sentenceRe = regexp.MustCompile(`(?i)^\s*WHEN\s+(.+?)\s+THEN\s+([a-z_][a-z0-9_]*)\s*(?:\((.*)\))?\s*$`)

// parseSentence converts a DSL sentence into the same raw form as a mapping
// rule entry. Compilation and verb checks happen downstream in compileRule.
func parseSentence(sentence string) (ruleFile, error) {
	m := sentenceRe.FindStringSubmatch(sentence)
	if m == nil {
		return ruleFile{}, fmt.Errorf("not a WHEN ... THEN ... sentence: %q", sentence)
	}
	verb := strings.ToLower(m[2])
	args, err := parseSentenceArgs(m[3])
	if err != nil {
		return ruleFile{}, err
	}
	return ruleFile{
		When: strings.TrimSpace(m[1]),
		Then: thenFile{Verb: verb, Args: args},
	}, nil
}

func parseSentenceArgs(argStr string) (map[string]any, error) {
	argStr = strings.TrimSpace(argStr)
	if argStr == "" {
		return nil, nil
	}
	args := map[string]any{}
	for _, segment := range strings.Split(argStr, ",") {
		piece := strings.TrimSpace(segment)
		if piece == "" {
			continue
		}
		key, value, found := strings.Cut(piece, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("malformed arg %q", piece)
		}
		if !found {
			args[key] = true
			continue
		}
		args[key] = coerceArgValue(strings.TrimSpace(value))
	}
	return args, nil
}

// coerceArgValue keeps quoted values as strings and parses bare numerics, so
// amount=12 behaves like the YAML form.
func coerceArgValue(value string) any {
	if len(value) >= 2 {
		if (value[0] == '\'' && value[len(value)-1] == '\'') ||
			(value[0] == '"' && value[len(value)-1] == '"') {
			return value[1 : len(value)-1]
		}
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
