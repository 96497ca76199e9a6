package expr

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// exprLexer tokenizes the control DSL. There are deliberately no tokens for
// '.' or '[': attribute and subscript syntax cannot even be lexed, so it
// surfaces as a CompileError rather than a runtime sandbox concern.
var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Float", Pattern: `\d+\.\d*|\.\d+`},
	{Name: "Int", Pattern: `\d+`},
	{Name: "String", Pattern: `'[^']*'|"[^"]*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Op", Pattern: `\*\*|//|==|!=|<=|>=|[-+*/%<>]`},
	{Name: "Punct", Pattern: `[(),]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

// parser is built once at package load. The grammar layers encode the
// documented precedence: ternary < or < and < not < comparison < additive <
// multiplicative < power < unary < primary.
var parser = participle.MustBuild[expression](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.UseLookahead(2),
)

// expression is the root: a conditional in source order "A if C else B".
type expression struct {
	Value *orExpr     `parser:"@@"`
	Cond  *orExpr     `parser:"( ('if' | 'IF') @@"`
	Else  *expression `parser:"('else' | 'ELSE') @@ )?"`
}

type orExpr struct {
	Left  *andExpr   `parser:"@@"`
	Right []*andExpr `parser:"( ('or' | 'OR') @@ )*"`
}

type andExpr struct {
	Left  *notExpr   `parser:"@@"`
	Right []*notExpr `parser:"( ('and' | 'AND') @@ )*"`
}

type notExpr struct {
	Not *notExpr    `parser:"('not' | 'NOT') @@"`
	Cmp *comparison `parser:"| @@"`
}

// comparison supports chaining (a < b < c) and membership over tuples.
type comparison struct {
	Left  *sum      `parser:"@@"`
	Chain []*compOp `parser:"@@*"`
}

type compOp struct {
	Op    string `parser:"( @('==' | '!=' | '<=' | '>=' | '<' | '>')"`
	NotIn bool   `parser:"| @('not' | 'NOT') ('in' | 'IN')"`
	In    bool   `parser:"| @('in' | 'IN') )"`
	Right *sum   `parser:"@@"`
}

type sum struct {
	Left  *term    `parser:"@@"`
	Right []*sumOp `parser:"@@*"`
}

type sumOp struct {
	Op   string `parser:"@('+' | '-')"`
	Term *term  `parser:"@@"`
}

type term struct {
	Left  *power    `parser:"@@"`
	Right []*termOp `parser:"@@*"`
}

type termOp struct {
	Op    string `parser:"@('*' | '//' | '/' | '%')"`
	Power *power `parser:"@@"`
}

// power is right-associative: 2**3**2 parses as 2**(3**2).
type power struct {
	Base *unary `parser:"@@"`
	Exp  *power `parser:"( '**' @@ )?"`
}

type unary struct {
	Op      string   `parser:"( @('-' | '+')"`
	Unary   *unary   `parser:"@@ )"`
	Primary *primary `parser:"| @@"`
}

type primary struct {
	Call  *call      `parser:"@@"`
	Float *float64   `parser:"| @Float"`
	Int   *int64     `parser:"| @Int"`
	Str   *string    `parser:"| @String"`
	True  bool       `parser:"| @('True' | 'true' | 'TRUE')"`
	False bool       `parser:"| @('False' | 'false' | 'FALSE')"`
	None  bool       `parser:"| @('None' | 'none' | 'NONE')"`
	Ident *string    `parser:"| @Ident"`
	Paren *parenExpr `parser:"| @@"`
}

type call struct {
	Name string        `parser:"@Ident '('"`
	Args []*expression `parser:"( @@ ( ',' @@ )* )? ')'"`
}

// parenExpr is both a grouping and a tuple literal: one element with no
// trailing comma is a group, anything else is a tuple. Tuples are only legal
// as the right-hand side of a membership test (enforced at compile time).
type parenExpr struct {
	First *expression   `parser:"'(' @@"`
	Rest  []*expression `parser:"( ',' @@ )* ')'"`
}

func (p *parenExpr) isTuple() bool { return len(p.Rest) > 0 }
