package expr

import (
	"math"
	"strconv"
	"strings"
)

// Context is the flat name→value binding an expression evaluates against.
// Supported value types: numbers (any Go integer or float), string, bool,
// and nil. Anything else is an EvalError when referenced.
type Context map[string]any

// Evaluate runs the compiled expression against the context. The returned
// error, if any, is always a *EvalError. Evaluation is pure: no time, no
// randomness, no mutation of the context.
func (c *Compiled) Evaluate(ctx Context) (any, error) {
	return c.evalExpression(c.tree, ctx)
}

// EvalBool evaluates and coerces to a boolean in the manner of the original
// expression surface: numbers are truthy when non-zero, and a small set of
// string spellings ("true"/"t"/"1"/"yes"/"y" and their negatives) coerce.
func (c *Compiled) EvalBool(ctx Context) (bool, error) {
	v, err := c.Evaluate(ctx)
	if err != nil {
		return false, err
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "t", "1", "yes", "y":
			return true, nil
		case "false", "f", "0", "no", "n":
			return false, nil
		}
	}
	return false, evalErrf(c.src, "expected boolean result, got %T", v)
}

// EvalNumber evaluates and coerces to a float64. Booleans coerce to 0/1 and
// numeric strings parse.
func (c *Compiled) EvalNumber(ctx Context) (float64, error) {
	v, err := c.Evaluate(ctx)
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case string:
		if f, perr := strconv.ParseFloat(strings.TrimSpace(t), 64); perr == nil {
			return f, nil
		}
	}
	return 0, evalErrf(c.src, "expected numeric result, got %T", v)
}

func (c *Compiled) evalExpression(e *expression, ctx Context) (any, error) {
	if e.Cond == nil {
		return c.evalOr(e.Value, ctx)
	}
	cond, err := c.evalOr(e.Cond, ctx)
	if err != nil {
		return nil, err
	}
	if truthy(cond) {
		return c.evalOr(e.Value, ctx)
	}
	return c.evalExpression(e.Else, ctx)
}

func (c *Compiled) evalOr(o *orExpr, ctx Context) (any, error) {
	v, err := c.evalAnd(o.Left, ctx)
	if err != nil {
		return nil, err
	}
	if len(o.Right) == 0 {
		return v, nil
	}
	if truthy(v) {
		return true, nil
	}
	for _, a := range o.Right {
		v, err = c.evalAnd(a, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(v) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Compiled) evalAnd(a *andExpr, ctx Context) (any, error) {
	v, err := c.evalNot(a.Left, ctx)
	if err != nil {
		return nil, err
	}
	if len(a.Right) == 0 {
		return v, nil
	}
	if !truthy(v) {
		return false, nil
	}
	for _, n := range a.Right {
		v, err = c.evalNot(n, ctx)
		if err != nil {
			return nil, err
		}
		if !truthy(v) {
			return false, nil
		}
	}
	return true, nil
}

func (c *Compiled) evalNot(n *notExpr, ctx Context) (any, error) {
	if n.Not != nil {
		v, err := c.evalNot(n.Not, ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return c.evalComparison(n.Cmp, ctx)
}

func (c *Compiled) evalComparison(cmp *comparison, ctx Context) (any, error) {
	left, err := c.evalSum(cmp.Left, ctx)
	if err != nil {
		return nil, err
	}
	if len(cmp.Chain) == 0 {
		return left, nil
	}
	for _, op := range cmp.Chain {
		var ok bool
		switch {
		case op.In || op.NotIn:
			tuple := sumAsParen(op.Right)
			member, merr := c.memberOf(left, tuple, ctx)
			if merr != nil {
				return nil, merr
			}
			ok = member != op.NotIn
			// a chained comparison continues from the right operand;
			// membership terminates the chain with its own result
			left = ok
		default:
			right, rerr := c.evalSum(op.Right, ctx)
			if rerr != nil {
				return nil, rerr
			}
			ok = compare(op.Op, left, right)
			left = right
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *Compiled) memberOf(needle any, tuple *parenExpr, ctx Context) (bool, error) {
	elems := append([]*expression{tuple.First}, tuple.Rest...)
	for _, e := range elems {
		v, err := c.evalExpression(e, ctx)
		if err != nil {
			return false, err
		}
		if compare("==", needle, v) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Compiled) evalSum(s *sum, ctx Context) (any, error) {
	v, err := c.evalTerm(s.Left, ctx)
	if err != nil {
		return nil, err
	}
	for _, op := range s.Right {
		r, err := c.evalTerm(op.Term, ctx)
		if err != nil {
			return nil, err
		}
		v, err = c.arith(op.Op, v, r)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (c *Compiled) evalTerm(t *term, ctx Context) (any, error) {
	v, err := c.evalPower(t.Left, ctx)
	if err != nil {
		return nil, err
	}
	for _, op := range t.Right {
		r, err := c.evalPower(op.Power, ctx)
		if err != nil {
			return nil, err
		}
		v, err = c.arith(op.Op, v, r)
		if err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (c *Compiled) evalPower(p *power, ctx Context) (any, error) {
	base, err := c.evalUnary(p.Base, ctx)
	if err != nil {
		return nil, err
	}
	if p.Exp == nil {
		return base, nil
	}
	exp, err := c.evalPower(p.Exp, ctx)
	if err != nil {
		return nil, err
	}
	return c.arith("**", base, exp)
}

func (c *Compiled) evalUnary(u *unary, ctx Context) (any, error) {
	if u.Unary != nil {
		v, err := c.evalUnary(u.Unary, ctx)
		if err != nil {
			return nil, err
		}
		n, ok := asNumber(v)
		if !ok {
			return nil, evalErrf(c.src, "unary %q needs a number, got %T", u.Op, v)
		}
		if u.Op == "-" {
			return -n, nil
		}
		return n, nil
	}
	return c.evalPrimary(u.Primary, ctx)
}

func (c *Compiled) evalPrimary(p *primary, ctx Context) (any, error) {
	switch {
	case p.Call != nil:
		return c.evalCall(p.Call, ctx)
	case p.Float != nil:
		return *p.Float, nil
	case p.Int != nil:
		return float64(*p.Int), nil
	case p.Str != nil:
		return unquote(*p.Str), nil
	case p.True:
		return true, nil
	case p.False:
		return false, nil
	case p.None:
		return nil, nil
	case p.Ident != nil:
		return c.lookup(*p.Ident, ctx)
	case p.Paren != nil:
		return c.evalExpression(p.Paren.First, ctx)
	}
	return nil, evalErrf(c.src, "empty expression node")
}

func (c *Compiled) lookup(name string, ctx Context) (any, error) {
	v, ok := ctx[name]
	if !ok {
		return nil, evalErrf(c.src, "unknown variable %q", name)
	}
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case float32:
		return float64(t), nil
	default:
		return nil, evalErrf(c.src, "variable %q has unsupported type %T", name, v)
	}
}

func (c *Compiled) evalCall(call *call, ctx Context) (any, error) {
	args := make([]float64, 0, len(call.Args))
	for _, a := range call.Args {
		v, err := c.evalExpression(a, ctx)
		if err != nil {
			return nil, err
		}
		n, ok := asNumber(v)
		if !ok {
			return nil, evalErrf(c.src, "%s(): argument must be a number, got %T", call.Name, v)
		}
		args = append(args, n)
	}

	switch call.Name {
	case "abs":
		return math.Abs(args[0]), nil
	case "min":
		m := args[0]
		for _, a := range args[1:] {
			m = math.Min(m, a)
		}
		return m, nil
	case "max":
		m := args[0]
		for _, a := range args[1:] {
			m = math.Max(m, a)
		}
		return m, nil
	case "round":
		// Halves round to even, like Python's round(). Bet amounts flow
		// through here; half-away-from-zero would drift from rulesets
		// written against that behavior.
		if len(args) == 2 {
			scale := math.Pow(10, math.Trunc(args[1]))
			return math.RoundToEven(args[0]*scale) / scale, nil
		}
		return math.RoundToEven(args[0]), nil
	case "floor":
		return math.Floor(args[0]), nil
	case "ceil":
		return math.Ceil(args[0]), nil
	case "sqrt":
		if args[0] < 0 {
			return nil, evalErrf(c.src, "sqrt(): negative argument")
		}
		return math.Sqrt(args[0]), nil
	case "log":
		if args[0] <= 0 {
			return nil, evalErrf(c.src, "log(): non-positive argument")
		}
		return math.Log(args[0]), nil
	case "log10":
		if args[0] <= 0 {
			return nil, evalErrf(c.src, "log10(): non-positive argument")
		}
		return math.Log10(args[0]), nil
	}
	// unreachable after compile-time whitelist check
	return nil, evalErrf(c.src, "function %q is not allowed", call.Name)
}

func (c *Compiled) arith(op string, left, right any) (any, error) {
	l, lok := asNumber(left)
	r, rok := asNumber(right)
	if !lok || !rok {
		return nil, evalErrf(c.src, "operator %q needs numbers, got %T and %T", op, left, right)
	}
	switch op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, evalErrf(c.src, "division by zero")
		}
		return l / r, nil
	case "//":
		if r == 0 {
			return nil, evalErrf(c.src, "division by zero")
		}
		return math.Floor(l / r), nil
	case "%":
		if r == 0 {
			return nil, evalErrf(c.src, "modulo by zero")
		}
		// Python-style modulo: result takes the sign of the divisor
		return l - math.Floor(l/r)*r, nil
	case "**":
		return math.Pow(l, r), nil
	}
	return nil, evalErrf(c.src, "operator %q not allowed", op)
}

// compare implements the resilience contract: a type-mismatched comparison
// evaluates to false rather than erroring, so rules tolerate partially
// populated contexts.
func compare(op string, left, right any) bool {
	if ln, lok := asNumber(left); lok {
		rn, rok := asNumber(right)
		if !rok {
			return false
		}
		switch op {
		case "==":
			return ln == rn
		case "!=":
			return ln != rn
		case "<":
			return ln < rn
		case "<=":
			return ln <= rn
		case ">":
			return ln > rn
		case ">=":
			return ln >= rn
		}
		return false
	}
	if ls, lok := left.(string); lok {
		rs, rok := right.(string)
		if !rok {
			return false
		}
		switch op {
		case "==":
			return ls == rs
		case "!=":
			return ls != rs
		case "<":
			return ls < rs
		case "<=":
			return ls <= rs
		case ">":
			return ls > rs
		case ">=":
			return ls >= rs
		}
		return false
	}
	if lb, lok := left.(bool); lok {
		rb, rok := right.(bool)
		if !rok {
			return false
		}
		switch op {
		case "==":
			return lb == rb
		case "!=":
			return lb != rb
		}
		return false
	}
	if left == nil && right == nil {
		return op == "=="
	}
	return false
}

// asNumber normalizes numeric values to float64. Booleans are deliberately
// not numbers here; bool/number comparisons are type mismatches.
func asNumber(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return false
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		return s[1 : len(s)-1]
	}
	return s
}
