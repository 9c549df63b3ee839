package domain

import "math"

// Derive returns the symbolic derivative of n with respect to v, simplified.
func Derive(n Node, v string) Node {
	return Simplify(derive(n, v))
}

func derive(n Node, v string) Node {
	switch t := n.(type) {
	case number:
		return number(0)
	case variable:
		if string(t) == v {
			return number(1)
		}
		return number(0)
	case unaryOp:
		return unaryOp{op: '-', x: derive(t.x, v)}
	case binaryOp:
		dl, dr := derive(t.l, v), derive(t.r, v)
		switch t.op {
		case '+', '-':
			return binaryOp{op: t.op, l: dl, r: dr}
		case '*':
			return add(mul(dl, t.r), mul(t.l, dr))
		case '/':
			return div(sub(mul(dl, t.r), mul(t.l, dr)), pow(t.r, number(2)))
		case '^':
			if !dependsOn(t.r, v) {
				// power rule
				return mul(mul(t.r, pow(t.l, sub(t.r, number(1)))), dl)
			}
			if !dependsOn(t.l, v) {
				return mul(mul(n, call{fn: "ln", arg: t.l}), dr)
			}
			return mul(n, add(mul(dr, call{fn: "ln", arg: t.l}), div(mul(t.r, dl), t.l)))
		}
	case call:
		du := derive(t.arg, v)
		var outer Node
		switch t.fn {
		case "sin":
			outer = call{fn: "cos", arg: t.arg}
		case "cos":
			outer = unaryOp{op: '-', x: call{fn: "sin", arg: t.arg}}
		case "tan":
			outer = div(number(1), pow(call{fn: "cos", arg: t.arg}, number(2)))
		case "exp":
			outer = t
		case "ln":
			outer = div(number(1), t.arg)
		case "log":
			outer = div(number(1), mul(t.arg, number(math.Ln10)))
		case "sqrt":
			outer = div(number(1), mul(number(2), t))
		case "abs":
			outer = div(t.arg, t)
		}
		return mul(outer, du)
	}
	return number(0)
}

func dependsOn(n Node, v string) bool {
	for _, name := range Variables(n) {
		if name == v {
			return true
		}
	}
	return false
}

func add(l, r Node) Node { return binaryOp{op: '+', l: l, r: r} }
func sub(l, r Node) Node { return binaryOp{op: '-', l: l, r: r} }
func mul(l, r Node) Node { return binaryOp{op: '*', l: l, r: r} }
func div(l, r Node) Node { return binaryOp{op: '/', l: l, r: r} }
func pow(l, r Node) Node { return binaryOp{op: '^', l: l, r: r} }

func isConst(n Node, c float64) bool {
	x, ok := n.(number)
	return ok && float64(x) == c
}

// Simplify folds constants and removes identity operations.
func Simplify(n Node) Node {
	switch t := n.(type) {
	case unaryOp:
		x := Simplify(t.x)
		if c, ok := x.(number); ok {
			return number(-c)
		}
		if u, ok := x.(unaryOp); ok {
			return u.x
		}
		return unaryOp{op: '-', x: x}
	case call:
		arg := Simplify(t.arg)
		if c, ok := arg.(number); ok {
			if y := functions[t.fn](float64(c)); !math.IsNaN(y) && y == math.Trunc(y) {
				return number(y)
			}
		}
		return call{fn: t.fn, arg: arg}
	case binaryOp:
		l, r := Simplify(t.l), Simplify(t.r)
		lc, lok := l.(number)
		rc, rok := r.(number)
		if lok && rok {
			if y, err := (binaryOp{op: t.op, l: lc, r: rc}).Eval(nil); err == nil {
				return number(y)
			}
		}
		switch t.op {
		case '+':
			if isConst(l, 0) {
				return r
			}
			if isConst(r, 0) {
				return l
			}
			if rok && rc < 0 {
				return binaryOp{op: '-', l: l, r: number(-rc)}
			}
		case '-':
			if isConst(r, 0) {
				return l
			}
			if isConst(l, 0) {
				return Simplify(unaryOp{op: '-', x: r})
			}
		case '*':
			if isConst(l, 0) || isConst(r, 0) {
				return number(0)
			}
			if isConst(l, 1) {
				return r
			}
			if isConst(r, 1) {
				return l
			}
			if rok && !lok {
				// keep coefficients in front
				return Simplify(binaryOp{op: '*', l: r, r: l})
			}
			if lok {
				if inner, ok := r.(binaryOp); ok && inner.op == '*' {
					if ic, ok := inner.l.(number); ok {
						return Simplify(binaryOp{op: '*', l: number(lc * ic), r: inner.r})
					}
				}
			}
		case '/':
			if isConst(l, 0) {
				return number(0)
			}
			if isConst(r, 1) {
				return l
			}
		case '^':
			if isConst(r, 0) {
				return number(1)
			}
			if isConst(r, 1) {
				return l
			}
		}
		return binaryOp{op: t.op, l: l, r: r}
	}
	return n
}
