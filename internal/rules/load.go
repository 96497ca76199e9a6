package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/nova-rey/crapssim-control/internal/envelope"
	"github.com/nova-rey/crapssim-control/internal/expr"
)

//go:embed schema.json
var schemaJSON []byte

var specSchema = func() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		panic(err)
	}
	return c.MustCompile("schema.json")
}()

// Meta is the spec's informational header.
type Meta struct {
	Name        string `yaml:"name"`
	Version     any    `yaml:"version"`
	Description string `yaml:"description"`
}

// Table carries the table configuration forwarded to the engine transport.
type Table struct {
	Bubble     bool    `yaml:"bubble"`
	Level      float64 `yaml:"level"`
	OddsPolicy string  `yaml:"odds_policy"`
}

// RateLimit is a token bucket: Tokens capacity, one token back every
// RefillSeconds.
type RateLimit struct {
	Tokens        int     `yaml:"tokens"`
	RefillSeconds float64 `yaml:"refill_seconds"`
}

// BreakerConfig tunes the external-command circuit breaker.
type BreakerConfig struct {
	Threshold       int     `yaml:"threshold"`
	CoolDownSeconds float64 `yaml:"cool_down_seconds"`
}

// ExternalLimits bounds the external command intake.
type ExternalLimits struct {
	QueueDepth     int           `yaml:"queue_depth"`
	PerSourceQuota int           `yaml:"per_source_quota"`
	Rate           RateLimit     `yaml:"rate"`
	Breaker        BreakerConfig `yaml:"breaker"`
}

// RunConfig is the run section of the spec.
type RunConfig struct {
	Ticks       int            `yaml:"ticks"`
	Seed        int64          `yaml:"seed"`
	TickSeconds float64        `yaml:"tick_seconds"`
	External    ExternalLimits `yaml:"external"`
}

// Profile is a named betting posture: a template of bet amounts, each either
// a number or an expression over the spec variables.
type Profile struct {
	Template map[string]Arg
}

// Render evaluates the profile's template against vars. Keys for nested
// groups are dotted, e.g. "place.6".
func (p Profile) Render(vars expr.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(p.Template))
	for key, arg := range p.Template {
		if arg.Expr == nil {
			n, ok := asNumber(arg.Literal)
			if !ok {
				return nil, fmt.Errorf("template %q: non-numeric literal %v", key, arg.Literal)
			}
			out[key] = n
			continue
		}
		n, err := arg.Expr.EvalNumber(vars)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", key, err)
		}
		out[key] = n
	}
	return out, nil
}

// Spec is a fully compiled strategy spec. Everything that can fail at
// runtime has already failed at load: expressions are compiled, verbs are
// checked against the registry, scopes are parsed.
type Spec struct {
	Meta      Meta
	Table     Table
	Variables map[string]any
	Profiles  map[string]Profile
	Run       RunConfig
	Rules     []Rule
}

// specFile mirrors the YAML document before compilation. Rule entries are
// kept as raw nodes because an entry may be a mapping or a DSL sentence.
type specFile struct {
	Meta      Meta                   `yaml:"meta"`
	Table     Table                  `yaml:"table"`
	Variables map[string]any         `yaml:"variables"`
	Profiles  map[string]profileFile `yaml:"profiles"`
	Run       RunConfig              `yaml:"run"`
	Rules     []yaml.Node            `yaml:"rules"`
}

type profileFile struct {
	Template map[string]any `yaml:"template"`
}

type ruleFile struct {
	ID       string   `yaml:"id"`
	On       string   `yaml:"on"`
	When     string   `yaml:"when"`
	Scope    string   `yaml:"scope"`
	Cooldown int      `yaml:"cooldown"`
	Once     bool     `yaml:"once"`
	Then     thenFile `yaml:"then"`
}

type thenFile struct {
	Verb string         `yaml:"verb"`
	Args map[string]any `yaml:"args"`
}

// Load reads and compiles a strategy spec from disk.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy spec: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML strategy spec against the embedded schema and
// compiles every rule and profile template. The first error wins; a spec
// either loads whole or not at all.
func Parse(data []byte) (*Spec, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("strategy spec: %w", err)
	}
	spec := &Spec{
		Meta:      file.Meta,
		Table:     file.Table,
		Variables: file.Variables,
		Profiles:  map[string]Profile{},
		Run:       file.Run,
	}
	if spec.Variables == nil {
		spec.Variables = map[string]any{}
	}
	applyRunDefaults(&spec.Run)

	for name, pf := range file.Profiles {
		profile, err := compileProfile(pf)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		spec.Profiles[name] = profile
	}

	seen := map[string]struct{}{}
	for i, node := range file.Rules {
		rf, err := decodeRuleNode(node)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rule, err := compileRule(rf)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rf.ID, err)
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, rule.ID)
		}
		seen[rule.ID] = struct{}{}
		spec.Rules = append(spec.Rules, rule)
	}
	return spec, nil
}

// Validate checks a spec without keeping the result. Used by the validate
// CLI command.
func Validate(data []byte) error {
	_, err := Parse(data)
	return err
}

func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("strategy spec: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON-typed values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("strategy spec: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(raw, &jsonDoc); err != nil {
		return fmt.Errorf("strategy spec: %w", err)
	}
	if err := specSchema.Validate(jsonDoc); err != nil {
		return fmt.Errorf("strategy spec: %w", err)
	}
	return nil
}

func applyRunDefaults(run *RunConfig) {
	if run.TickSeconds <= 0 {
		run.TickSeconds = 1
	}
	ext := &run.External
	if ext.QueueDepth <= 0 {
		ext.QueueDepth = 8
	}
	if ext.PerSourceQuota <= 0 {
		ext.PerSourceQuota = 4
	}
	if ext.Rate.Tokens <= 0 {
		ext.Rate.Tokens = 3
	}
	if ext.Rate.RefillSeconds <= 0 {
		ext.Rate.RefillSeconds = 10
	}
	if ext.Breaker.Threshold <= 0 {
		ext.Breaker.Threshold = 3
	}
	if ext.Breaker.CoolDownSeconds <= 0 {
		ext.Breaker.CoolDownSeconds = 30
	}
}

func decodeRuleNode(node yaml.Node) (ruleFile, error) {
	if node.Kind == yaml.ScalarNode {
		var sentence string
		if err := node.Decode(&sentence); err != nil {
			return ruleFile{}, err
		}
		return parseSentence(sentence)
	}
	var rf ruleFile
	if err := node.Decode(&rf); err != nil {
		return ruleFile{}, err
	}
	return rf, nil
}

func compileRule(rf ruleFile) (Rule, error) {
	scope, err := parseScope(rf.Scope)
	if err != nil {
		return Rule{}, err
	}
	if rf.Then.Verb == "" {
		return Rule{}, fmt.Errorf("missing verb")
	}
	if !envelope.Known(rf.Then.Verb) {
		return Rule{}, fmt.Errorf("unknown verb %q", rf.Then.Verb)
	}
	when, err := expr.Compile(rf.When)
	if err != nil {
		return Rule{}, err
	}
	args, err := compileArgs(rf.Then.Args)
	if err != nil {
		return Rule{}, err
	}
	id := rf.ID
	if id == "" {
		id = "rule_" + rf.Then.Verb
	}
	return Rule{
		ID:       id,
		On:       rf.On,
		When:     when,
		WhenText: rf.When,
		Scope:    scope,
		Cooldown: rf.Cooldown,
		Once:     rf.Once,
		Then:     Template{Verb: rf.Then.Verb, Args: args},
	}, nil
}

// compileArgs turns the raw YAML args into the fire-time template. Only the
// amount slot is an expression; every other arg is passed through literally,
// so bet keys like "6" stay strings.
func compileArgs(raw map[string]any) (map[string]Arg, error) {
	args := make(map[string]Arg, len(raw))
	for key, val := range raw {
		str, isStr := val.(string)
		if key == "amount" && isStr {
			compiled, err := expr.Compile(str)
			if err != nil {
				return nil, fmt.Errorf("arg %q: %w", key, err)
			}
			args[key] = Arg{Expr: compiled, Source: str}
			continue
		}
		args[key] = Arg{Literal: val}
	}
	return args, nil
}

// compileProfile flattens nested template groups into dotted keys and
// compiles every string value as an expression.
func compileProfile(pf profileFile) (Profile, error) {
	flat := map[string]Arg{}
	keys := make([]string, 0, len(pf.Template))
	for k := range pf.Template {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		switch val := pf.Template[key].(type) {
		case map[string]any:
			for sub, inner := range val {
				arg, err := compileTemplateValue(inner)
				if err != nil {
					return Profile{}, fmt.Errorf("%s.%s: %w", key, sub, err)
				}
				flat[key+"."+sub] = arg
			}
		default:
			arg, err := compileTemplateValue(val)
			if err != nil {
				return Profile{}, fmt.Errorf("%s: %w", key, err)
			}
			flat[key] = arg
		}
	}
	return Profile{Template: flat}, nil
}

func compileTemplateValue(val any) (Arg, error) {
	if str, ok := val.(string); ok {
		compiled, err := expr.Compile(strings.TrimSpace(str))
		if err != nil {
			return Arg{}, err
		}
		return Arg{Expr: compiled, Source: str}, nil
	}
	return Arg{Literal: val}, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
