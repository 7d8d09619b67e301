package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 64

// divisionPrecision is the number of decimal places kept by division.
const divisionPrecision = 10

// node is a parsed expression tree node.
type node interface {
	eval(vars map[string]decimal.Decimal) (decimal.Decimal, error)
}

type numberNode struct{ value decimal.Decimal }

func (n numberNode) eval(map[string]decimal.Decimal) (decimal.Decimal, error) {
	return n.value, nil
}

type varNode struct{ name string }

func (n varNode) eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, ok := vars[n.name]
	if !ok {
		return decimal.Zero, fmt.Errorf("formula: undefined variable %q", n.name)
	}
	return v, nil
}

type negNode struct{ operand node }

func (n negNode) eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, err := n.operand.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}

type binaryNode struct {
	op          tokenType
	left, right node
}

func (n binaryNode) eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case tokPlus:
		return l.Add(r), nil
	case tokMinus:
		return l.Sub(r), nil
	case tokStar:
		return l.Mul(r), nil
	case tokSlash:
		if r.IsZero() {
			return decimal.Zero, fmt.Errorf("formula: division by zero")
		}
		return l.DivRound(r, divisionPrecision), nil
	}
	return decimal.Zero, fmt.Errorf("formula: unknown operator %s", n.op)
}

// Expression is a compiled formula.
type Expression struct {
	src  string
	root node
	vars []string
}

// Compile parses src. The grammar is
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/") unary }
//	unary  = "-" unary | primary
//	primary = number | identifier | "(" expr ")"
//
// Identifiers are case-insensitive.
func Compile(src string) (*Expression, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("formula: expression is empty")
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens, vars: make(map[string]bool)}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.typ != tokEOF {
		return nil, fmt.Errorf("formula: unexpected %s at %d", tok.typ, tok.pos)
	}

	vars := make([]string, 0, len(p.vars))
	for v := range p.vars {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return &Expression{src: src, root: root, vars: vars}, nil
}

// Eval evaluates the expression with the given variables. Variable names are
// matched case-insensitively.
func (e *Expression) Eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	norm := make(map[string]decimal.Decimal, len(vars))
	for k, v := range vars {
		norm[strings.ToLower(k)] = v
	}
	return e.root.eval(norm)
}

// Variables returns the sorted names referenced by the expression.
func (e *Expression) Variables() []string {
	return e.vars
}

// String returns the source text.
func (e *Expression) String() string {
	return e.src
}

// Evaluate compiles and evaluates src in one step.
func Evaluate(src string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	expr, err := Compile(src)
	if err != nil {
		return decimal.Zero, err
	}
	return expr.Eval(vars)
}

type parser struct {
	tokens []token
	pos    int
	vars   map[string]bool
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.typ != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) parseExpr(depth int) (node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("formula: expression nested too deeply")
	}
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.typ != tokPlus && tok.typ != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.typ, left: left, right: right}
	}
}

func (p *parser) parseTerm(depth int) (node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.typ != tokStar && tok.typ != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.typ, left: left, right: right}
	}
}

func (p *parser) parseUnary(depth int) (node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("formula: expression nested too deeply")
	}
	if p.peek().typ == tokMinus {
		p.next()
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return negNode{operand: operand}, nil
	}
	return p.parsePrimary(depth)
}

func (p *parser) parsePrimary(depth int) (node, error) {
	tok := p.next()
	switch tok.typ {
	case tokNumber:
		d, err := decimal.NewFromString(tok.literal)
		if err != nil {
			return nil, fmt.Errorf("formula: invalid number %q at %d", tok.literal, tok.pos)
		}
		return numberNode{value: d}, nil
	case tokIdent:
		p.vars[tok.literal] = true
		return varNode{name: tok.literal}, nil
	case tokLParen:
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.typ != tokRParen {
			return nil, fmt.Errorf("formula: expected ')' at %d, got %s", closing.pos, closing.typ)
		}
		return inner, nil
	}
	return nil, fmt.Errorf("formula: unexpected %s at %d", tok.typ, tok.pos)
}
