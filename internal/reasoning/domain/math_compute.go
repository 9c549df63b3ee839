package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat"
)

// searchLo and searchHi bound the numeric root search.
const (
	searchLo   = -20.0
	searchHi   = 20.0
	searchStep = 0.25

	methodNumeric = "bracketed bisection and Newton refinement"
)

var errIdentity = errors.New("equation holds for every value")

// numericRoots finds the real roots of f on [searchLo, searchHi]. Sign
// changes between grid samples are bisected; Newton's method from the same
// grid then picks up even-multiplicity roots that never change sign.
func numericRoots(f func(float64) float64, tol float64) ([]float64, error) {
	n := int((searchHi-searchLo)/searchStep) + 1
	xs := make([]float64, n)
	ys := make([]float64, n)
	finite, zero := 0, 0
	for i := range xs {
		xs[i] = searchLo + float64(i)*searchStep
		ys[i] = f(xs[i])
		if isFinite(ys[i]) {
			finite++
			if math.Abs(ys[i]) <= tol {
				zero++
			}
		}
	}
	if finite > 1 && zero == finite {
		return nil, errIdentity
	}

	var roots []float64
	add := func(x float64) {
		y := f(x)
		if !isFinite(y) || math.Abs(y) > tol {
			return
		}
		for _, r := range roots {
			if math.Abs(r-x) < 1e-6 {
				return
			}
		}
		roots = append(roots, x)
	}
	for i := range xs {
		if ys[i] == 0 {
			add(xs[i])
		}
		if i+1 < n && isFinite(ys[i]) && isFinite(ys[i+1]) && ys[i]*ys[i+1] < 0 {
			add(bisect(f, xs[i], xs[i+1], ys[i]))
		}
	}
	for i := 0; i < n; i += 10 {
		if x, ok := newton(f, xs[i], tol); ok {
			add(x)
		}
	}
	sort.Float64s(roots)
	return roots, nil
}

// bisect narrows a sign-change bracket [a, b] where f(a) = fa.
func bisect(f func(float64) float64, a, b, fa float64) float64 {
	for i := 0; i < 100 && b-a > 1e-14*math.Max(1, math.Abs(a)); i++ {
		m := a + (b-a)/2
		fm := f(m)
		if fm == 0 {
			return m
		}
		if math.Signbit(fm) == math.Signbit(fa) {
			a, fa = m, fm
		} else {
			b = m
		}
	}
	return a + (b-a)/2
}

func newton(f func(float64) float64, x, tol float64) (float64, bool) {
	for i := 0; i < 100; i++ {
		y := f(x)
		if !isFinite(y) {
			return 0, false
		}
		d := fd.Derivative(f, x, &fd.Settings{Formula: fd.Central})
		if d == 0 || !isFinite(d) {
			return x, true
		}
		step := y / d
		x -= step
		if math.Abs(step) < tol*1e-3 {
			break
		}
	}
	return x, x >= searchLo && x <= searchHi
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// finiteValue reports whether every number in a computed answer is finite.
func finiteValue(v any) bool {
	switch t := v.(type) {
	case float64:
		return isFinite(t)
	case []float64:
		for _, x := range t {
			if !isFinite(x) {
				return false
			}
		}
	}
	return true
}

// ─── Calculus ────────────────────────────────────────────────────────────────

func (e *MathEngine) computeCalculus(task MathTask) (MathSolution, error) {
	sol := MathSolution{Task: task}
	n, err := ParseExpr(task.Expr)
	if err != nil {
		return sol, err
	}
	v := task.Variable
	if v == "" {
		vars := Variables(n)
		switch len(vars) {
		case 0:
			v = "x"
		case 1:
			v = vars[0]
		default:
			return sol, fmt.Errorf("expression has %d variables %v", len(vars), vars)
		}
		sol.Task.Variable = v
	}

	if len(task.Bounds) == 2 {
		f := Func(n, v)
		sol.Value = quad.Fixed(f, task.Bounds[0], task.Bounds[1], 64, nil, 0)
		sol.Method = "Gauss-Legendre quadrature"
		sol.Detail = fmt.Sprintf("∫ %s d%s over [%s, %s]", n, v, formatFloat(task.Bounds[0]), formatFloat(task.Bounds[1]))
		return sol, nil
	}

	d := Derive(n, v)
	sol.Method = "symbolic differentiation"
	sol.Detail = fmt.Sprintf("d/d%s %s = %s", v, n, d)
	if at, ok := task.Bindings[v]; ok {
		y, err := d.Eval(map[string]float64{v: at})
		if err != nil {
			return sol, err
		}
		sol.Value = y
		return sol, nil
	}
	sol.Value = d.String()
	return sol, nil
}

// ─── Statistics ──────────────────────────────────────────────────────────────

func statOperation(s string) string {
	switch {
	case strings.Contains(s, "standard deviation"), strings.Contains(s, "std"):
		return "standard deviation"
	case strings.Contains(s, "variance"):
		return "variance"
	case strings.Contains(s, "median"):
		return "median"
	case strings.Contains(s, "mode"):
		return "mode"
	case strings.Contains(s, "sum of"):
		return "sum"
	case strings.Contains(s, "range of"):
		return "range"
	case strings.Contains(s, "minimum"):
		return "minimum"
	case strings.Contains(s, "maximum"):
		return "maximum"
	}
	return "mean"
}

func computeStatistical(task MathTask) (MathSolution, error) {
	sol := MathSolution{Task: task, Method: "descriptive statistics"}
	data := stats.Float64Data(task.Numbers)
	var (
		v   float64
		err error
	)
	switch task.Operation {
	case "standard deviation":
		v, err = stats.StandardDeviationSample(data)
	case "variance":
		v, err = stats.SampleVariance(data)
	case "median":
		v, err = stats.Median(data)
	case "mode":
		var modes []float64
		modes, err = stats.Mode(data)
		if err == nil {
			if len(modes) == 0 {
				return sol, fmt.Errorf("no value repeats, the data has no mode")
			}
			if len(modes) > 1 {
				sol.Value = modes
				return sol, nil
			}
			v = modes[0]
		}
	case "sum":
		v, err = stats.Sum(data)
	case "range":
		var lo, hi float64
		if lo, err = stats.Min(data); err == nil {
			hi, err = stats.Max(data)
			v = hi - lo
		}
	case "minimum":
		v, err = stats.Min(data)
	case "maximum":
		v, err = stats.Max(data)
	default:
		v, err = stats.Mean(data)
	}
	if err != nil {
		return sol, fmt.Errorf("%s of %s: %w", task.Operation, formatNumbers(task.Numbers), err)
	}
	sol.Value = v
	sol.Detail = fmt.Sprintf("n = %d", len(task.Numbers))
	return sol, nil
}

// verifyStatistical recomputes the statistic with gonum.
func verifyStatistical(task MathTask, got any, tol float64) (bool, string) {
	x := task.Numbers
	var want float64
	switch task.Operation {
	case "standard deviation":
		want = stat.StdDev(x, nil)
	case "variance":
		want = stat.Variance(x, nil)
	case "median":
		sorted := append([]float64(nil), x...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		want = sorted[mid]
		if len(sorted)%2 == 0 {
			want = (sorted[mid-1] + sorted[mid]) / 2
		}
	case "mode":
		counts := map[float64]int{}
		best := 0
		for _, v := range x {
			counts[v]++
			if counts[v] > best {
				best = counts[v]
			}
		}
		var modes []float64
		for v, c := range counts {
			if c == best {
				modes = append(modes, v)
			}
		}
		sort.Float64s(modes)
		if vs, ok := got.([]float64); ok {
			return floats.Equal(vs, modes), fmt.Sprintf("Recount confirms modes %s", formatNumbers(modes))
		}
		want = modes[0]
	case "sum":
		want = floats.Sum(x)
	case "range":
		want = floats.Max(x) - floats.Min(x)
	case "minimum":
		want = floats.Min(x)
	case "maximum":
		want = floats.Max(x)
	default:
		want = stat.Mean(x, nil)
	}
	v, _ := got.(float64)
	if near(v, want, tol) {
		return true, fmt.Sprintf("Independent recomputation of the %s gives %s, matching the result", task.Operation, formatFloat(want))
	}
	return false, fmt.Sprintf("independent recomputation of the %s gives %s, not %s", task.Operation, formatFloat(want), formatFloat(v))
}

// ─── Geometry ────────────────────────────────────────────────────────────────

func geoOperation(s string, params map[string]float64) string {
	_, hasLegs := params["a"]
	switch {
	case strings.Contains(s, "hypotenuse") || (hasLegs && strings.Contains(s, "triangle")):
		return "hypotenuse"
	case strings.Contains(s, "circle") && (strings.Contains(s, "circumference") || strings.Contains(s, "perimeter")):
		return "circle circumference"
	case strings.Contains(s, "circle"):
		return "circle area"
	case strings.Contains(s, "sphere") && strings.Contains(s, "surface"):
		return "sphere surface area"
	case strings.Contains(s, "sphere"):
		return "sphere volume"
	case strings.Contains(s, "cube"):
		return "cube volume"
	case strings.Contains(s, "triangle"):
		return "triangle area"
	case strings.Contains(s, "square") && strings.Contains(s, "perimeter"):
		return "square perimeter"
	case strings.Contains(s, "square"):
		return "square area"
	case strings.Contains(s, "perimeter"):
		return "rectangle perimeter"
	}
	return "rectangle area"
}

func radius(p map[string]float64) (float64, bool) {
	if r, ok := p["radius"]; ok {
		return r, true
	}
	if d, ok := p["diameter"]; ok {
		return d / 2, true
	}
	return 0, false
}

func sides(p map[string]float64) (float64, float64, bool) {
	w, okW := p["width"]
	h, okH := p["height"]
	if l, ok := p["length"]; ok {
		if !okW {
			w, okW = l, true
		} else if !okH {
			h, okH = l, true
		}
	}
	return w, h, okW && okH
}

func computeGeometric(task MathTask) (MathSolution, error) {
	sol := MathSolution{Task: task, Method: "closed-form formula"}
	p := task.Params
	missing := func(what string) (MathSolution, error) {
		return sol, fmt.Errorf("%s needs %s", task.Operation, what)
	}
	switch task.Operation {
	case "circle area", "circle circumference", "sphere volume", "sphere surface area":
		r, ok := radius(p)
		if !ok {
			return missing("a radius or diameter")
		}
		switch task.Operation {
		case "circle area":
			sol.Value, sol.Detail = math.Pi*r*r, "A = πr²"
		case "circle circumference":
			sol.Value, sol.Detail = 2*math.Pi*r, "C = 2πr"
		case "sphere volume":
			sol.Value, sol.Detail = 4.0/3.0*math.Pi*r*r*r, "V = 4/3 πr³"
		default:
			sol.Value, sol.Detail = 4*math.Pi*r*r, "S = 4πr²"
		}
	case "square area", "square perimeter", "cube volume":
		s, ok := p["side"]
		if !ok {
			return missing("a side length")
		}
		switch task.Operation {
		case "square area":
			sol.Value, sol.Detail = s*s, "A = s²"
		case "square perimeter":
			sol.Value, sol.Detail = 4*s, "P = 4s"
		default:
			sol.Value, sol.Detail = s*s*s, "V = s³"
		}
	case "triangle area":
		b, okB := p["base"]
		h, okH := p["height"]
		if !okB || !okH {
			return missing("a base and a height")
		}
		sol.Value, sol.Detail = 0.5*b*h, "A = bh/2"
	case "hypotenuse":
		a, okA := p["a"]
		b, okB := p["b"]
		if !okA || !okB {
			return missing("two leg lengths")
		}
		sol.Value, sol.Detail = math.Hypot(a, b), "c = √(a² + b²)"
	case "rectangle perimeter":
		w, h, ok := sides(p)
		if !ok {
			return missing("a width and a height")
		}
		sol.Value, sol.Detail = 2*(w+h), "P = 2(w + h)"
	default:
		w, h, ok := sides(p)
		if !ok {
			return missing("a width and a height")
		}
		sol.Value, sol.Detail = w*h, "A = wh"
	}
	return sol, nil
}

// verifyGeometric checks the result through an independent relation.
func verifyGeometric(task MathTask, v, tol float64) (bool, string) {
	p := task.Params
	var check float64
	var rel string
	switch task.Operation {
	case "circle area":
		r, _ := radius(p)
		c := 2 * math.Pi * r
		check, rel = c*c/(4*math.Pi), "C²/4π"
	case "circle circumference":
		r, _ := radius(p)
		check, rel = math.Sqrt(4*math.Pi*math.Pi*r*r), "√(4π·A)"
	case "sphere volume":
		r, _ := radius(p)
		check, rel = (4*math.Pi*r*r)*r/3, "S·r/3"
	case "sphere surface area":
		r, _ := radius(p)
		check, rel = 3*(4.0/3.0*math.Pi*r*r*r)/r, "3V/r"
	case "hypotenuse":
		a, b := p["a"], p["b"]
		check, rel = math.Sqrt(a*a+b*b), "c² = a² + b²"
	case "triangle area":
		check, rel = p["base"]*p["height"]/2, "2A/b = h"
	case "square area":
		perim := 4 * p["side"]
		check, rel = perim*perim/16, "P²/16"
	case "square perimeter":
		check, rel = 4*math.Sqrt(p["side"]*p["side"]), "4√A"
	case "cube volume":
		check, rel = math.Pow(math.Sqrt(p["side"]*p["side"]), 3), "(√(s²))³"
	case "rectangle perimeter":
		w, h, _ := sides(p)
		check, rel = w+w+h+h, "w + w + h + h"
	default:
		w, h, _ := sides(p)
		if w == 0 {
			check, rel = w*h, "direct substitution"
		} else {
			check, rel = h*w, "A/w = h"
			if !near(v/w, h, tol) {
				return false, fmt.Sprintf("A/w = %s does not equal h = %s", formatFloat(v/w), formatFloat(h))
			}
		}
	}
	if near(v, check, tol) {
		return true, fmt.Sprintf("Cross-checked %s via %s", task.Operation, rel)
	}
	return false, fmt.Sprintf("%s via %s gives %s, not %s", task.Operation, rel, formatFloat(check), formatFloat(v))
}

// ─── Verification ────────────────────────────────────────────────────────────

// verify re-substitutes or independently recomputes the solution.
func (e *MathEngine) verify(sol MathSolution) (bool, string) {
	task := sol.Task
	switch task.Subtype {
	case SubtypeStatistical:
		return verifyStatistical(task, sol.Value, e.tolerance)
	case SubtypeGeometric:
		v, _ := sol.Value.(float64)
		return verifyGeometric(task, v, e.tolerance)
	case SubtypeCalculus:
		return e.verifyCalculus(sol)
	}

	if !strings.Contains(task.Expr, "=") {
		n, err := ParseExpr(task.Expr)
		if err != nil {
			return false, err.Error()
		}
		again, err := Simplify(n).Eval(task.Bindings)
		v, _ := sol.Value.(float64)
		if err != nil || !near(again, v, e.tolerance) {
			return false, fmt.Sprintf("re-evaluating %s gives %s", task.Expr, formatFloat(again))
		}
		return true, fmt.Sprintf("Re-evaluating the simplified form of %s gives %s", task.Expr, formatFloat(v))
	}

	lhs, rhs, err := parseEquation(task.Expr)
	if err != nil {
		return false, err.Error()
	}
	var roots []float64
	switch v := sol.Value.(type) {
	case float64:
		roots = []float64{v}
	case []float64:
		roots = v
	}
	var checks []string
	for _, r := range roots {
		env := map[string]float64{task.Variable: r}
		for k, b := range task.Bindings {
			env[k] = b
		}
		l, err1 := lhs.Eval(env)
		rv, err2 := rhs.Eval(env)
		if err1 != nil || err2 != nil || !near(l, rv, e.tolerance) {
			return false, fmt.Sprintf("substituting %s = %s gives %s ≠ %s", task.Variable, formatFloat(r), formatFloat(l), formatFloat(rv))
		}
		checks = append(checks, fmt.Sprintf("%s = %s gives %s = %s", task.Variable, formatFloat(r), formatFloat(l), formatFloat(rv)))
	}
	return true, "Substituting back: " + strings.Join(checks, "; ")
}

func (e *MathEngine) verifyCalculus(sol MathSolution) (bool, string) {
	task := sol.Task
	n, err := ParseExpr(task.Expr)
	if err != nil {
		return false, err.Error()
	}
	f := Func(n, task.Variable)
	if len(task.Bounds) == 2 {
		v, _ := sol.Value.(float64)
		coarse := quad.Fixed(f, task.Bounds[0], task.Bounds[1], 32, nil, 0)
		if near(v, coarse, e.tolerance) {
			return true, fmt.Sprintf("A 32-point rule agrees with the 64-point result %s", formatFloat(v))
		}
		return false, fmt.Sprintf("quadrature did not converge: 64-point %s vs 32-point %s", formatFloat(v), formatFloat(coarse))
	}

	d := Derive(n, task.Variable)
	points := []float64{0.5, 1.3, 2.1}
	if at, ok := task.Bindings[task.Variable]; ok {
		points = []float64{at}
	}
	checked := 0
	for _, x := range points {
		sym, err := d.Eval(map[string]float64{task.Variable: x})
		if err != nil || math.IsNaN(sym) || math.IsInf(sym, 0) {
			continue
		}
		num := fd.Derivative(f, x, &fd.Settings{Formula: fd.Central})
		if !near(sym, num, e.calculusTolerance) {
			return false, fmt.Sprintf("symbolic derivative %s at %s = %s disagrees with numeric %s",
				d, formatFloat(x), formatFloat(sym), formatFloat(num))
		}
		checked++
	}
	if checked == 0 {
		return false, "no point where the derivative could be checked numerically"
	}
	return true, fmt.Sprintf("Central finite differences agree with %s at %d point(s)", d, checked)
}

// ─── Formatting ──────────────────────────────────────────────────────────────

func formatNumbers(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = formatFloat(x)
	}
	return strings.Join(parts, ", ")
}

func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		return formatFloat(t)
	case []float64:
		return formatNumbers(t)
	case string:
		return t
	}
	return fmt.Sprint(v)
}
