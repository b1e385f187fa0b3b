// Package expression evaluates EXPRESSION trigger conditions of the form
//
//	variables.<name> <op> <number>
//
// where <op> is one of == != > >= < <=. The three parts must be separated by whitespace.
package expression

import (
	"math"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/rotisserie/eris"
)

// Tolerance is the absolute difference under which == and != treat two numbers as equal.
const Tolerance = 0.05

const variablesPrefix = "variables"

// Comparison is a parsed expression.
type Comparison struct {
	Scope    string  `parser:"@Ident Dot"`
	Variable string  `parser:"@Ident"`
	Op       string  `parser:"@Op"`
	Literal  float64 `parser:"@Number"`
}

var (
	exprLexer = lexer.MustSimple([]lexer.SimpleRule{ //nolint:gochecknoglobals // immutable after init
		{Name: "Number", Pattern: `[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?`},
		{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
		{Name: "Op", Pattern: `==|!=|>=|<=|>|<`},
		{Name: "Dot", Pattern: `\.`},
		{Name: "Whitespace", Pattern: `\s+`},
	})

	parser = participle.MustBuild[Comparison]( //nolint:gochecknoglobals // immutable after init
		participle.Lexer(exprLexer),
		participle.Elide("Whitespace"),
	)
)

// Parse validates and parses expr.
func Parse(expr string) (*Comparison, error) {
	if n := len(strings.Fields(expr)); n != 3 {
		return nil, eris.Errorf("expression %q has %d tokens, want 3", expr, n)
	}

	c, err := parser.ParseString("", expr)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse expression %q", expr)
	}
	if c.Scope != variablesPrefix {
		return nil, eris.Errorf("expression %q does not reference variables", expr)
	}
	return c, nil
}

// Lookup resolves a variable by name.
type Lookup func(name string) (duty.Value, bool)

// Eval compares the current value of the variable against the literal. Unknown and non-numeric
// variables evaluate to false.
func (c *Comparison) Eval(lookup Lookup) bool {
	v, ok := lookup(c.Variable)
	if !ok {
		return false
	}
	lhs, ok := v.Numeric()
	if !ok {
		return false
	}

	switch c.Op {
	case "==":
		return math.Abs(lhs-c.Literal) < Tolerance
	case "!=":
		return math.Abs(lhs-c.Literal) >= Tolerance
	case ">":
		return lhs > c.Literal
	case ">=":
		return lhs >= c.Literal
	case "<":
		return lhs < c.Literal
	case "<=":
		return lhs <= c.Literal
	default:
		return false
	}
}

// Evaluate parses and evaluates expr in one step. Malformed expressions evaluate to false.
func Evaluate(expr string, lookup Lookup) bool {
	c, err := Parse(expr)
	if err != nil {
		return false
	}
	return c.Eval(lookup)
}
