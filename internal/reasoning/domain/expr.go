package domain

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Node is a parsed arithmetic expression over single-letter variables.
type Node interface {
	Eval(env map[string]float64) (float64, error)
	String() string
}

type (
	number   float64
	variable string
	unaryOp  struct {
		op byte
		x  Node
	}
	binaryOp struct {
		op   byte
		l, r Node
	}
	call struct {
		fn  string
		arg Node
	}
)

var functions = map[string]func(float64) float64{
	"sin":  math.Sin,
	"cos":  math.Cos,
	"tan":  math.Tan,
	"exp":  math.Exp,
	"ln":   math.Log,
	"log":  math.Log10,
	"sqrt": math.Sqrt,
	"abs":  math.Abs,
}

func (n number) Eval(map[string]float64) (float64, error) { return float64(n), nil }

func (v variable) Eval(env map[string]float64) (float64, error) {
	x, ok := env[string(v)]
	if !ok {
		return 0, fmt.Errorf("unbound variable %q", string(v))
	}
	return x, nil
}

func (u unaryOp) Eval(env map[string]float64) (float64, error) {
	x, err := u.x.Eval(env)
	if err != nil {
		return 0, err
	}
	return -x, nil
}

func (b binaryOp) Eval(env map[string]float64) (float64, error) {
	l, err := b.l.Eval(env)
	if err != nil {
		return 0, err
	}
	r, err := b.r.Eval(env)
	if err != nil {
		return 0, err
	}
	switch b.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case '^':
		return math.Pow(l, r), nil
	}
	return 0, fmt.Errorf("unknown operator %q", b.op)
}

func (c call) Eval(env map[string]float64) (float64, error) {
	x, err := c.arg.Eval(env)
	if err != nil {
		return 0, err
	}
	return functions[c.fn](x), nil
}

// ─── Printing ────────────────────────────────────────────────────────────────

func precedence(n Node) int {
	switch t := n.(type) {
	case binaryOp:
		switch t.op {
		case '+', '-':
			return 1
		case '*', '/':
			return 2
		case '^':
			return 4
		}
	case unaryOp:
		return 3
	case number:
		if t < 0 {
			return 3
		}
	}
	return 5
}

func wrap(n Node, min int) string {
	if precedence(n) < min {
		return "(" + n.String() + ")"
	}
	return n.String()
}

func (n number) String() string   { return formatFloat(float64(n)) }
func (v variable) String() string { return string(v) }
func (u unaryOp) String() string  { return "-" + wrap(u.x, 4) }
func (c call) String() string     { return c.fn + "(" + c.arg.String() + ")" }

func (b binaryOp) String() string {
	p := precedence(b)
	switch b.op {
	case '^':
		return wrap(b.l, p+1) + "^" + wrap(b.r, p)
	case '-', '/':
		return wrap(b.l, p) + " " + string(b.op) + " " + wrap(b.r, p+1)
	}
	if b.op == '*' {
		return wrap(b.l, p) + "*" + wrap(b.r, p)
	}
	return wrap(b.l, p) + " " + string(b.op) + " " + wrap(b.r, p)
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', 10, 64)
}

// ─── Parsing ─────────────────────────────────────────────────────────────────

type token struct {
	kind byte // 'n' number, 'i' identifier, otherwise the operator itself
	text string
	num  float64
}

func tokenize(s string) ([]token, error) {
	var toks []token
	rs := []rune(s)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsDigit(r) || r == '.':
			j := i
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			f, err := strconv.ParseFloat(string(rs[i:j]), 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", string(rs[i:j]))
			}
			toks = append(toks, token{kind: 'n', text: string(rs[i:j]), num: f})
			i = j
		case unicode.IsLetter(r):
			j := i
			for j < len(rs) && unicode.IsLetter(rs[j]) {
				j++
			}
			toks = append(toks, token{kind: 'i', text: strings.ToLower(string(rs[i:j]))})
			i = j
		case r == 'π':
			toks = append(toks, token{kind: 'n', text: "π", num: math.Pi})
			i++
		case strings.ContainsRune("+-*/^()", r):
			toks = append(toks, token{kind: byte(r), text: string(r)})
			i++
		case r == '×' || r == '·':
			toks = append(toks, token{kind: '*', text: "*"})
			i++
		case r == '÷':
			toks = append(toks, token{kind: '/', text: "/"})
			i++
		case r == '−':
			toks = append(toks, token{kind: '-', text: "-"})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q", r)
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{}
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

// ParseExpr parses an arithmetic expression. Juxtaposition is multiplication
// ("2x" is 2*x), '^' is right-associative exponentiation, and multi-letter
// names that are not functions or constants split into a product of
// single-letter variables.
func ParseExpr(s string) (Node, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	p := &parser{toks: toks}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected %q", p.peek().text)
	}
	return n, nil
}

func (p *parser) expr() (Node, error) {
	l, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != '+' && op != '-' {
			return l, nil
		}
		p.next()
		r, err := p.term()
		if err != nil {
			return nil, err
		}
		l = binaryOp{op: op, l: l, r: r}
	}
}

func startsPrimary(t token) bool {
	return t.kind == 'n' || t.kind == 'i' || t.kind == '('
}

func (p *parser) term() (Node, error) {
	l, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		op := t.kind
		switch {
		case op == '*' || op == '/':
			p.next()
		case startsPrimary(t):
			op = '*'
		default:
			return l, nil
		}
		r, err := p.unary()
		if err != nil {
			return nil, err
		}
		l = binaryOp{op: op, l: l, r: r}
	}
}

func (p *parser) unary() (Node, error) {
	switch p.peek().kind {
	case '-':
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return unaryOp{op: '-', x: x}, nil
	case '+':
		p.next()
		return p.unary()
	}
	return p.power()
}

func (p *parser) power() (Node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != '^' {
		return base, nil
	}
	p.next()
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return binaryOp{op: '^', l: base, r: exp}, nil
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case 'n':
		return number(t.num), nil
	case '(':
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != ')' {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		return n, nil
	case 'i':
		if _, ok := functions[t.text]; ok && p.peek().kind == '(' {
			p.next()
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			if p.next().kind != ')' {
				return nil, fmt.Errorf("missing closing parenthesis after %s", t.text)
			}
			return call{fn: t.text, arg: arg}, nil
		}
		switch t.text {
		case "pi":
			return number(math.Pi), nil
		case "e":
			return number(math.E), nil
		}
		var n Node
		for _, r := range t.text {
			var v Node = variable(string(r))
			if n == nil {
				n = v
			} else {
				n = binaryOp{op: '*', l: n, r: v}
			}
		}
		return n, nil
	case 0:
		return nil, fmt.Errorf("unexpected end of expression")
	}
	return nil, fmt.Errorf("unexpected %q", t.text)
}

// Variables returns the sorted set of variable names in n.
func Variables(n Node) []string {
	seen := map[string]bool{}
	var walk func(Node)
	walk = func(n Node) {
		switch t := n.(type) {
		case variable:
			seen[string(t)] = true
		case unaryOp:
			walk(t.x)
		case binaryOp:
			walk(t.l)
			walk(t.r)
		case call:
			walk(t.arg)
		}
	}
	walk(n)
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Func turns n into a one-variable function. Evaluation errors yield NaN.
func Func(n Node, v string) func(float64) float64 {
	return func(x float64) float64 {
		y, err := n.Eval(map[string]float64{v: x})
		if err != nil {
			return math.NaN()
		}
		return y
	}
}
