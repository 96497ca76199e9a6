package expr

import "strings"

// Compiled is a validated, ready-to-evaluate expression.
//
// Safety is enforced here, at compile time: double-underscore identifiers,
// non-whitelisted calls, and tuple literals outside a membership test are all
// CompileErrors. Evaluation of a Compiled expression can fail only with an
// EvalError (e.g. unknown identifier), never with a sandbox escape.
type Compiled struct {
	src  string
	tree *expression
}

// Source returns the original expression text.
func (c *Compiled) Source() string { return c.src }

// reserved words may not be used as identifiers.
var reservedWords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "if": true, "else": true,
	"true": true, "false": true, "none": true,
}

// funcArity maps the whitelisted helper functions to (min, max) argument
// counts. max = -1 means variadic.
var funcArity = map[string][2]int{
	"abs":   {1, 1},
	"min":   {1, -1},
	"max":   {1, -1},
	"round": {1, 2},
	"floor": {1, 1},
	"ceil":  {1, 1},
	"sqrt":  {1, 1},
	"log":   {1, 1},
	"log10": {1, 1},
}

// Compile parses and validates an expression. The returned error, if any, is
// always a *CompileError.
func Compile(source string) (*Compiled, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, compileErrf(source, "empty expression")
	}
	tree, err := parser.ParseString("", src)
	if err != nil {
		return nil, compileErrf(src, "syntax error: %v", err)
	}
	if err := checkExpression(src, tree); err != nil {
		return nil, err
	}
	return &Compiled{src: src, tree: tree}, nil
}

// MustCompile is a test and fixture helper; it panics on compile failure.
func MustCompile(source string) *Compiled {
	c, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return c
}

func checkExpression(src string, e *expression) error {
	if err := checkOr(src, e.Value); err != nil {
		return err
	}
	if e.Cond != nil {
		if err := checkOr(src, e.Cond); err != nil {
			return err
		}
	}
	if e.Else != nil {
		return checkExpression(src, e.Else)
	}
	return nil
}

func checkOr(src string, o *orExpr) error {
	if err := checkAnd(src, o.Left); err != nil {
		return err
	}
	for _, a := range o.Right {
		if err := checkAnd(src, a); err != nil {
			return err
		}
	}
	return nil
}

func checkAnd(src string, a *andExpr) error {
	if err := checkNot(src, a.Left); err != nil {
		return err
	}
	for _, n := range a.Right {
		if err := checkNot(src, n); err != nil {
			return err
		}
	}
	return nil
}

func checkNot(src string, n *notExpr) error {
	if n.Not != nil {
		return checkNot(src, n.Not)
	}
	return checkComparison(src, n.Cmp)
}

func checkComparison(src string, c *comparison) error {
	if err := checkSum(src, c.Left); err != nil {
		return err
	}
	for _, op := range c.Chain {
		membership := op.In || op.NotIn
		if membership {
			tuple := sumAsParen(op.Right)
			if tuple == nil {
				return compileErrf(src, "membership requires a literal tuple on the right of 'in'")
			}
			if err := checkTupleLiteral(src, tuple); err != nil {
				return err
			}
			continue
		}
		if err := checkSum(src, op.Right); err != nil {
			return err
		}
	}
	return nil
}

func checkSum(src string, s *sum) error {
	if err := checkTerm(src, s.Left); err != nil {
		return err
	}
	for _, op := range s.Right {
		if err := checkTerm(src, op.Term); err != nil {
			return err
		}
	}
	return nil
}

func checkTerm(src string, t *term) error {
	if err := checkPower(src, t.Left); err != nil {
		return err
	}
	for _, op := range t.Right {
		if err := checkPower(src, op.Power); err != nil {
			return err
		}
	}
	return nil
}

func checkPower(src string, p *power) error {
	if err := checkUnary(src, p.Base); err != nil {
		return err
	}
	if p.Exp != nil {
		return checkPower(src, p.Exp)
	}
	return nil
}

func checkUnary(src string, u *unary) error {
	if u.Unary != nil {
		return checkUnary(src, u.Unary)
	}
	return checkPrimary(src, u.Primary)
}

func checkPrimary(src string, p *primary) error {
	switch {
	case p.Call != nil:
		name := p.Call.Name
		arity, ok := funcArity[name]
		if !ok {
			return compileErrf(src, "function %q is not allowed", name)
		}
		if got := len(p.Call.Args); got < arity[0] || (arity[1] >= 0 && got > arity[1]) {
			return compileErrf(src, "function %q: wrong number of arguments (%d)", name, got)
		}
		for _, arg := range p.Call.Args {
			if err := checkExpression(src, arg); err != nil {
				return err
			}
		}
		return nil

	case p.Ident != nil:
		return checkIdent(src, *p.Ident)

	case p.Paren != nil:
		if p.Paren.isTuple() {
			return compileErrf(src, "tuple literal only allowed after 'in'")
		}
		if err := checkExpression(src, p.Paren.First); err != nil {
			return err
		}
		for _, e := range p.Paren.Rest {
			if err := checkExpression(src, e); err != nil {
				return err
			}
		}
		return nil

	default:
		return nil
	}
}

func checkIdent(src, name string) error {
	if name == "" || strings.HasPrefix(name, "_") || strings.Contains(name, "__") {
		return compileErrf(src, "name %q is not allowed", name)
	}
	if reservedWords[strings.ToLower(name)] {
		return compileErrf(src, "reserved word %q cannot be used as a variable", name)
	}
	if _, isFunc := funcArity[name]; isFunc {
		return compileErrf(src, "function %q used without a call", name)
	}
	return nil
}

// checkTupleLiteral enforces that every tuple element is a literal constant
// (optionally signed).
func checkTupleLiteral(src string, p *parenExpr) error {
	elems := append([]*expression{p.First}, p.Rest...)
	for _, e := range elems {
		if !isLiteralExpr(e) {
			return compileErrf(src, "membership tuple elements must be literals")
		}
	}
	return nil
}

func isLiteralExpr(e *expression) bool {
	if e.Cond != nil || e.Else != nil {
		return false
	}
	o := e.Value
	if len(o.Right) != 0 {
		return false
	}
	a := o.Left
	if len(a.Right) != 0 {
		return false
	}
	n := a.Left
	if n.Not != nil {
		return false
	}
	c := n.Cmp
	if len(c.Chain) != 0 {
		return false
	}
	p := sumAsPrimaryWithSign(c.Left)
	if p == nil {
		return false
	}
	return p.Float != nil || p.Int != nil || p.Str != nil || p.True || p.False || p.None
}

// sumAsParen unwraps a sum that consists of exactly one parenthesized
// primary, or returns nil.
func sumAsParen(s *sum) *parenExpr {
	p := sumAsPrimaryWithSign(s)
	if p == nil {
		return nil
	}
	return p.Paren
}

func sumAsPrimaryWithSign(s *sum) *primary {
	if len(s.Right) != 0 {
		return nil
	}
	t := s.Left
	if len(t.Right) != 0 {
		return nil
	}
	pw := t.Left
	if pw.Exp != nil {
		return nil
	}
	u := pw.Base
	for u.Unary != nil {
		u = u.Unary
	}
	return u.Primary
}
