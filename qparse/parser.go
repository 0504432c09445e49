// Package qparse parses condition and arithmetic expression strings into
// sqlast trees.
//
// The condition language is small and deliberately close to SQL:
//
//	price > 10 and (stock <= 3 or not discontinued)
//	name like "%rope%" and vendor_id is not null
//	id in [1, 2, 3]
//
// Arithmetic expressions resolve to field expressions, applied left to
// right the way sqlast.F chains are:
//
//	price * 2 + 1
package qparse

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/CaliLuke/go-relq/sqlast"
)

var condLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "Float", Pattern: `[0-9]+\.[0-9]+`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: "Operator", Pattern: `==|!=|>=|<=|[<>=]`},
	{Name: "Punct", Pattern: `[()\[\],+\-*/]`},
})

// --- condition grammar ---

type orExpr struct {
	Left  *andExpr   `parser:"@@"`
	Right []*andExpr `parser:"( 'or' @@ )*"`
}

type andExpr struct {
	Left  *unaryExpr   `parser:"@@"`
	Right []*unaryExpr `parser:"( 'and' @@ )*"`
}

type unaryExpr struct {
	Not   *unaryExpr  `parser:"  'not' @@"`
	Group *orExpr     `parser:"| '(' @@ ')'"`
	Cmp   *comparison `parser:"| @@"`
}

// comparison is a field followed by an optional test. A bare field reads
// as a boolean check, so "not discontinued" works.
type comparison struct {
	Field string    `parser:"@Ident"`
	Null  *nullTest `parser:"( @@"`
	In    *inList   `parser:"| @@"`
	Like  *likeTest `parser:"| @@"`
	Op    *opValue  `parser:"| @@ )?"`
}

type nullTest struct {
	Not bool `parser:"'is' @'not'? 'null'"`
}

type inList struct {
	Values []*literal `parser:"'in' '[' @@ ( ',' @@ )* ']'"`
}

type likeTest struct {
	Insensitive bool   `parser:"( @'ilike' | 'like' )"`
	Pattern     string `parser:"@String"`
}

type opValue struct {
	Op    string   `parser:"@Operator"`
	Value *literal `parser:"@@"`
}

type literal struct {
	Neg   bool     `parser:"@'-'?"`
	Float *float64 `parser:"( @Float"`
	Int   *int64   `parser:"| @Int"`
	Str   *string  `parser:"| @String"`
	True  bool     `parser:"| @'true'"`
	False bool     `parser:"| @'false'"`
	Null  bool     `parser:"| @'null' )"`
}

// --- arithmetic grammar ---

type fExpr struct {
	Root string   `parser:"@Ident"`
	Ops  []*fStep `parser:"@@*"`
}

type fStep struct {
	Op      string    `parser:"@('+' | '-' | '*' | '/')"`
	Operand *fOperand `parser:"@@"`
}

type fOperand struct {
	Neg   bool     `parser:"@'-'?"`
	Float *float64 `parser:"( @Float"`
	Int   *int64   `parser:"| @Int"`
	Field *string  `parser:"| @Ident"`
	Sub   *fExpr   `parser:"| '(' @@ ')' )"`
}

var (
	condParser = participle.MustBuild[orExpr](
		participle.Lexer(condLexer),
		participle.Elide("Whitespace"),
		participle.Unquote("String"),
		participle.UseLookahead(3),
	)
	fParser = participle.MustBuild[fExpr](
		participle.Lexer(condLexer),
		participle.Elide("Whitespace"),
		participle.UseLookahead(3),
	)
)

// ParseQ parses a condition string into a sqlast condition tree. Field
// names are not validated here; the compiler checks them against the
// schema.
func ParseQ(input string) (sqlast.Q, error) {
	ast, err := condParser.ParseString("", input)
	if err != nil {
		return sqlast.Q{}, fmt.Errorf("parse condition: %w", err)
	}
	return convertOr(ast)
}

// ParseF parses an arithmetic expression string into a sqlast field
// expression. Steps apply left to right; use parentheses to group a
// sub-expression as one operand.
func ParseF(input string) (sqlast.F, error) {
	ast, err := fParser.ParseString("", input)
	if err != nil {
		return sqlast.F{}, fmt.Errorf("parse expression: %w", err)
	}
	return convertF(ast)
}

func convertOr(e *orExpr) (sqlast.Q, error) {
	parts := make([]sqlast.Q, 0, 1+len(e.Right))
	for _, a := range append([]*andExpr{e.Left}, e.Right...) {
		q, err := convertAnd(a)
		if err != nil {
			return sqlast.Q{}, err
		}
		parts = append(parts, q)
	}
	return sqlast.Or(parts...), nil
}

func convertAnd(e *andExpr) (sqlast.Q, error) {
	parts := make([]sqlast.Q, 0, 1+len(e.Right))
	for _, u := range append([]*unaryExpr{e.Left}, e.Right...) {
		q, err := convertUnary(u)
		if err != nil {
			return sqlast.Q{}, err
		}
		parts = append(parts, q)
	}
	return sqlast.And(parts...), nil
}

func convertUnary(e *unaryExpr) (sqlast.Q, error) {
	switch {
	case e.Not != nil:
		q, err := convertUnary(e.Not)
		if err != nil {
			return sqlast.Q{}, err
		}
		return sqlast.Not(q), nil
	case e.Group != nil:
		return convertOr(e.Group)
	}
	return convertComparison(e.Cmp)
}

func convertComparison(c *comparison) (sqlast.Q, error) {
	switch {
	case c.Null != nil:
		return sqlast.Where(c.Field, sqlast.IsNull, !c.Null.Not), nil
	case c.In != nil:
		vals := make([]any, len(c.In.Values))
		for i, l := range c.In.Values {
			v, err := l.value()
			if err != nil {
				return sqlast.Q{}, err
			}
			if v == nil {
				return sqlast.Q{}, fmt.Errorf("null is not allowed in an in list")
			}
			vals[i] = v
		}
		return sqlast.Where(c.Field, sqlast.In, vals), nil
	case c.Like != nil:
		lookup, value, err := likeLookup(c.Like.Pattern, c.Like.Insensitive)
		if err != nil {
			return sqlast.Q{}, err
		}
		return sqlast.Where(c.Field, lookup, value), nil
	case c.Op != nil:
		v, err := c.Op.Value.value()
		if err != nil {
			return sqlast.Q{}, err
		}
		if v == nil {
			return sqlast.Q{}, fmt.Errorf("compare against null with 'is null'")
		}
		switch c.Op.Op {
		case "=", "==":
			return sqlast.Eq(c.Field, v), nil
		case "!=":
			return sqlast.Not(sqlast.Eq(c.Field, v)), nil
		case ">":
			return sqlast.Where(c.Field, sqlast.Gt, v), nil
		case ">=":
			return sqlast.Where(c.Field, sqlast.Gte, v), nil
		case "<":
			return sqlast.Where(c.Field, sqlast.Lt, v), nil
		case "<=":
			return sqlast.Where(c.Field, sqlast.Lte, v), nil
		}
		return sqlast.Q{}, fmt.Errorf("unknown operator %q", c.Op.Op)
	}
	// Bare field name, read as a boolean check.
	return sqlast.Eq(c.Field, true), nil
}

// likeLookup maps a SQL-style pattern to the lookup that expresses it.
// Only %-markers at the ends of the pattern carry meaning; a wildcard
// anywhere else has no lookup to lower to and is rejected rather than
// silently matched literally.
func likeLookup(pattern string, insensitive bool) (sqlast.Lookup, string, error) {
	leading := strings.HasPrefix(pattern, "%")
	trailing := strings.HasSuffix(pattern, "%") && pattern != "%"
	trimmed := strings.TrimSuffix(strings.TrimPrefix(pattern, "%"), "%")
	if strings.ContainsAny(trimmed, "%_") {
		return 0, "", fmt.Errorf("like pattern %q: wildcards are only supported at the ends of the pattern", pattern)
	}
	switch {
	case leading && trailing:
		if insensitive {
			return sqlast.IContains, trimmed, nil
		}
		return sqlast.Contains, trimmed, nil
	case trailing:
		if insensitive {
			return sqlast.IStartsWith, trimmed, nil
		}
		return sqlast.StartsWith, trimmed, nil
	case leading:
		if insensitive {
			return sqlast.IEndsWith, trimmed, nil
		}
		return sqlast.EndsWith, trimmed, nil
	}
	if insensitive {
		return sqlast.IExact, trimmed, nil
	}
	return sqlast.Exact, trimmed, nil
}

func (l *literal) value() (any, error) {
	switch {
	case l.Float != nil:
		if l.Neg {
			return -*l.Float, nil
		}
		return *l.Float, nil
	case l.Int != nil:
		if l.Neg {
			return -*l.Int, nil
		}
		return *l.Int, nil
	case l.Str != nil:
		if l.Neg {
			return nil, fmt.Errorf("cannot negate a string literal")
		}
		return *l.Str, nil
	case l.True:
		return true, nil
	case l.False:
		return false, nil
	case l.Null:
		return nil, nil
	}
	return nil, fmt.Errorf("empty literal")
}

func convertF(e *fExpr) (sqlast.F, error) {
	f := sqlast.Field(e.Root)
	for _, step := range e.Ops {
		operand, err := step.Operand.value()
		if err != nil {
			return sqlast.F{}, err
		}
		switch step.Op {
		case "+":
			f = f.Plus(operand)
		case "-":
			f = f.Minus(operand)
		case "*":
			f = f.Times(operand)
		case "/":
			f = f.Div(operand)
		default:
			return sqlast.F{}, fmt.Errorf("unknown operator %q", step.Op)
		}
	}
	return f, nil
}

func (o *fOperand) value() (any, error) {
	switch {
	case o.Float != nil:
		if o.Neg {
			return -*o.Float, nil
		}
		return *o.Float, nil
	case o.Int != nil:
		if o.Neg {
			return -*o.Int, nil
		}
		return *o.Int, nil
	case o.Field != nil:
		if o.Neg {
			return nil, fmt.Errorf("cannot negate field %q, subtract it instead", *o.Field)
		}
		return sqlast.Field(*o.Field), nil
	case o.Sub != nil:
		if o.Neg {
			return nil, fmt.Errorf("cannot negate a grouped expression, subtract it instead")
		}
		return convertF(o.Sub)
	}
	return nil, fmt.Errorf("empty operand")
}
