package domain

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

// Math sub-types.
const (
	SubtypeAlgebraic   = "algebraic"
	SubtypeGeometric   = "geometric"
	SubtypeCalculus    = "calculus"
	SubtypeStatistical = "statistical"
)

// MathTask is the parsed and classified form of a math problem.
type MathTask struct {
	Statement string             `json:"statement"`
	Expr      string             `json:"expression,omitempty"`
	Variable  string             `json:"variable,omitempty"`
	Bindings  map[string]float64 `json:"bindings,omitempty"`
	Numbers   []float64          `json:"numbers,omitempty"`
	Params    map[string]float64 `json:"params,omitempty"`
	Bounds    []float64          `json:"bounds,omitempty"`
	Subtype   string             `json:"subtype,omitempty"`
	Operation string             `json:"operation,omitempty"`
}

// Expression implements validation.Symbolic.
func (t MathTask) Expression() string {
	if t.Expr != "" {
		return t.Expr
	}
	if len(t.Params) > 0 {
		keys := make([]string, 0, len(t.Params))
		for k := range t.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + " = " + formatFloat(t.Params[k])
		}
		return strings.Join(parts, ", ")
	}
	return formatNumbers(t.Numbers)
}

// MathSolution is the computed, not yet verified, answer.
type MathSolution struct {
	Task   MathTask `json:"task"`
	Value  any      `json:"value"`
	Method string   `json:"method"`
	Detail string   `json:"detail,omitempty"`
}

// Expression implements validation.Symbolic.
func (s MathSolution) Expression() string { return formatValue(s.Value) }

// MathEngine solves algebraic, geometric, calculus and statistical problems.
type MathEngine struct {
	deps      Deps
	tolerance float64
	// calculusTolerance bounds the relative gap between symbolic and numeric results.
	calculusTolerance float64
}

// NewMathEngine creates the mathematical engine.
func NewMathEngine(deps Deps) *MathEngine {
	deps = deps.withDefaults()
	return &MathEngine{
		deps:              deps,
		tolerance:         deps.Validator.Config().NumericTolerance,
		calculusTolerance: 1e-4,
	}
}

func (e *MathEngine) Kind() types.StrategyKind { return types.StrategyMathematical }
func (e *MathEngine) Reset()                   {}

var (
	reArithmetic   = regexp.MustCompile(`\d\s*[a-z]?\s*[-+*/^=×÷]\s*[\d(a-z]`)
	reMathKeyword  = regexp.MustCompile(`\b(solve|calculate|compute|evaluate|simplify|derivative|differentiate|integral|integrate|mean|average|median|mode|variance|standard deviation|sum of|area|perimeter|circumference|volume|hypotenuse)\b`)
	reCalculus     = regexp.MustCompile(`\b(derivative|differentiate|d/d[a-z]|integral|integrate)\b`)
	reStatistical  = regexp.MustCompile(`\b(mean|average|median|mode|variance|standard deviation|std|sum of|range of|minimum|maximum)\b`)
	reGeometric    = regexp.MustCompile(`\b(area|perimeter|circumference|volume|hypotenuse|radius|diameter|triangle|circle|rectangle|square|sphere|cube)\b`)
	reNumber       = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	reBinding      = regexp.MustCompile(`\b(?:at|where|when|if|with|for)\s+([a-z])\s*=\s*(-?\d+(?:\.\d+)?)`)
	reCommandWords = regexp.MustCompile(`^(?:please\s+)?(?:solve|calculate|compute|evaluate|simplify|find|what\s+is|what's)\b\s*(?:for\s+[a-z]\b)?\s*(?:the\s+value\s+of\s+)?[:,]?\s*`)
	reForVar       = regexp.MustCompile(`[,;]?\s*(?:for|in terms of)\s+([a-z])\s*$`)
	reDerivative   = regexp.MustCompile(`(?:derivative of|differentiate|d/d[a-z]\s*(?:of)?)\s+(.+?)(?:\s+with respect to\s+([a-z]))?$`)
	reIntegral     = regexp.MustCompile(`(?:integral of|integrate)\s+(.+?)\s+from\s+(-?\d+(?:\.\d+)?)\s+to\s+(-?\d+(?:\.\d+)?)`)
	reGeoParam     = regexp.MustCompile(`\b(radius|diameter|width|height|length|base|side)\s*(?:of|=|is|:)?\s*(-?\d+(?:\.\d+)?)`)
	reLegs         = regexp.MustCompile(`\blegs?\s*(?:of|are|=)?\s*(\d+(?:\.\d+)?)\s*(?:and|,)\s*(\d+(?:\.\d+)?)`)
)

// CanHandle reports whether the statement looks like a math problem.
func (e *MathEngine) CanHandle(statement string) bool {
	s := strings.ToLower(statement)
	if reArithmetic.MatchString(s) {
		return true
	}
	if !reMathKeyword.MatchString(s) {
		return false
	}
	return strings.ContainsAny(s, "0123456789") || reCalculus.MatchString(s)
}

// Reason runs parse → classify → compute → verify.
func (e *MathEngine) Reason(ctx context.Context, p types.Problem) *types.Result {
	c := newChain(ctx, e.deps, types.StrategyMathematical, validation.ProblemTypeMathematical, p)

	task, err := parseMath(p.Statement)
	if err != nil {
		return c.fail(types.KindNoStrategy, "could not parse a math problem: %v", err)
	}
	parsed := fmt.Sprintf("Extracted %q from the problem statement", task.Expression())
	if len(task.Bindings) > 0 {
		parsed += fmt.Sprintf(" with bindings %v", task.Bindings)
	}
	if !c.add("Parse problem", parsed, task, 0.95, nil, false) {
		return c.done()
	}

	task, conf := classifyMath(task)
	if !c.add("Classify problem",
		fmt.Sprintf("Classified as a %s problem requiring %s", task.Subtype, task.Operation),
		task, conf, nil, false) {
		return c.done()
	}

	var sol MathSolution
	switch task.Subtype {
	case SubtypeCalculus:
		sol, err = e.computeCalculus(task)
	case SubtypeStatistical:
		sol, err = computeStatistical(task)
	case SubtypeGeometric:
		sol, err = computeGeometric(task)
	default:
		sol, err = e.computeAlgebraic(task)
	}
	if err != nil {
		return c.fail(types.KindNoStrategy, "could not compute %s problem: %v", task.Subtype, err)
	}
	if !finiteValue(sol.Value) {
		return c.fail(types.KindNoStrategy, "could not compute %s problem: %s is not a finite number",
			task.Subtype, formatValue(sol.Value))
	}
	computeConf := 0.95
	if sol.Method == methodNumeric {
		computeConf = 0.85
		c.res.AddIssue(types.KindAdvisory, "roots were searched numerically on [%s, %s]; roots outside it are not reported",
			formatFloat(searchLo), formatFloat(searchHi))
	}
	reasoning := fmt.Sprintf("Computed %s = %s using %s", task.Operation, formatValue(sol.Value), sol.Method)
	if sol.Detail != "" {
		reasoning += " (" + sol.Detail + ")"
	}
	if !c.add("Compute", reasoning, sol, computeConf, nil, false) {
		return c.done()
	}

	ok, detail := e.verify(sol)
	verifyConf := 0.99
	if !ok {
		verifyConf = 0.3
		c.res.AddIssue(types.KindLowConfidence, "verification failed: %s", detail)
	}
	if !c.add("Verify", detail, sol.Value, verifyConf, nil, true) {
		return c.done()
	}
	return c.finish(sol.Value)
}

// ─── Parse / classify ────────────────────────────────────────────────────────

func parseMath(statement string) (MathTask, error) {
	s := strings.ToLower(strings.TrimSpace(statement))
	s = strings.TrimRight(s, "?.! ")
	task := MathTask{Statement: statement}

	for _, m := range reBinding.FindAllStringSubmatch(s, -1) {
		v, _ := strconv.ParseFloat(m[2], 64)
		if task.Bindings == nil {
			task.Bindings = map[string]float64{}
		}
		task.Bindings[m[1]] = v
	}
	for _, m := range reNumber.FindAllString(s, -1) {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			task.Numbers = append(task.Numbers, v)
		}
	}

	switch {
	case reIntegral.MatchString(s):
		m := reIntegral.FindStringSubmatch(s)
		a, _ := strconv.ParseFloat(m[2], 64)
		b, _ := strconv.ParseFloat(m[3], 64)
		task.Expr = strings.TrimSpace(m[1])
		task.Bounds = []float64{a, b}
	case reDerivative.MatchString(s):
		m := reDerivative.FindStringSubmatch(reBinding.ReplaceAllString(s, ""))
		if m == nil {
			return task, fmt.Errorf("no expression to differentiate")
		}
		task.Expr = strings.TrimSpace(m[1])
		task.Variable = m[2]
	case reGeometric.MatchString(s) && !strings.Contains(s, "="):
		for _, m := range reGeoParam.FindAllStringSubmatch(s, -1) {
			if task.Params == nil {
				task.Params = map[string]float64{}
			}
			v, _ := strconv.ParseFloat(m[2], 64)
			if v < 0 {
				return task, fmt.Errorf("%s %s is negative", m[1], m[2])
			}
			task.Params[m[1]] = v
		}
		if m := reLegs.FindStringSubmatch(s); m != nil {
			if task.Params == nil {
				task.Params = map[string]float64{}
			}
			task.Params["a"], _ = strconv.ParseFloat(m[1], 64)
			task.Params["b"], _ = strconv.ParseFloat(m[2], 64)
		}
		if len(task.Params) == 0 {
			return task, fmt.Errorf("no dimensions found")
		}
		return task, nil
	case reStatistical.MatchString(s):
		if len(task.Numbers) == 0 {
			return task, fmt.Errorf("no data values found")
		}
		return task, nil
	default:
		expr := reCommandWords.ReplaceAllString(s, "")
		expr = reBinding.ReplaceAllString(expr, "")
		if m := reForVar.FindStringSubmatch(expr); m != nil {
			task.Variable = m[1]
			expr = reForVar.ReplaceAllString(expr, "")
		}
		task.Expr = strings.TrimSpace(strings.TrimRight(expr, ",;: "))
	}
	if task.Expr == "" {
		return task, fmt.Errorf("empty expression")
	}
	if strings.Count(task.Expr, "=") > 1 {
		return task, fmt.Errorf("more than one equals sign in %q", task.Expr)
	}
	var sides []string
	for _, side := range strings.Split(task.Expr, "=") {
		n, err := ParseExpr(side)
		if err != nil {
			return task, fmt.Errorf("parse %q: %w", strings.TrimSpace(side), err)
		}
		sides = append(sides, n.String())
	}
	task.Expr = strings.Join(sides, " = ")
	return task, nil
}

func classifyMath(task MathTask) (MathTask, float64) {
	s := strings.ToLower(task.Statement)
	conf := 0.9
	switch {
	case reCalculus.MatchString(s):
		task.Subtype = SubtypeCalculus
		if len(task.Bounds) == 2 {
			task.Operation = "definite integral"
		} else {
			task.Operation = "derivative"
		}
	case reStatistical.MatchString(s) && task.Expr == "":
		task.Subtype = SubtypeStatistical
		task.Operation = statOperation(s)
	case len(task.Params) > 0:
		task.Subtype = SubtypeGeometric
		task.Operation = geoOperation(s, task.Params)
	default:
		task.Subtype = SubtypeAlgebraic
		switch {
		case strings.Contains(task.Expr, "="):
			task.Operation = "equation solution"
		default:
			task.Operation = "expression value"
		}
		if !reMathKeyword.MatchString(s) {
			conf = 0.8
		}
	}
	return task, conf
}

// ─── Algebra ─────────────────────────────────────────────────────────────────

func (e *MathEngine) computeAlgebraic(task MathTask) (MathSolution, error) {
	sol := MathSolution{Task: task}
	if !strings.Contains(task.Expr, "=") {
		n, err := ParseExpr(task.Expr)
		if err != nil {
			return sol, err
		}
		v, err := n.Eval(task.Bindings)
		if err != nil {
			return sol, err
		}
		sol.Value, sol.Method = v, "direct evaluation"
		return sol, nil
	}

	lhs, rhs, err := parseEquation(task.Expr)
	if err != nil {
		return sol, err
	}
	vars := unbound(append(Variables(lhs), Variables(rhs)...), task.Bindings)
	switch len(vars) {
	case 0:
		return sol, fmt.Errorf("equation has no unknown")
	case 1:
	default:
		return sol, fmt.Errorf("equation has %d unknowns %v", len(vars), vars)
	}
	v := vars[0]
	if task.Variable != "" && task.Variable != v {
		return sol, fmt.Errorf("variable %q does not appear in the equation", task.Variable)
	}
	sol.Task.Variable = v
	f := residual(lhs, rhs, v, task.Bindings)

	roots, method, err := solvePolynomial(f, e.tolerance)
	if err != nil {
		return sol, err
	}
	sol.Method = method
	switch len(roots) {
	case 0:
		return sol, fmt.Errorf("no real solution")
	case 1:
		sol.Value = roots[0]
	default:
		sol.Value = roots
	}
	sol.Detail = fmt.Sprintf("%s = %s", v, formatValue(sol.Value))
	return sol, nil
}

func parseEquation(expr string) (Node, Node, error) {
	sides := strings.SplitN(expr, "=", 2)
	lhs, err := ParseExpr(sides[0])
	if err != nil {
		return nil, nil, err
	}
	rhs, err := ParseExpr(sides[1])
	if err != nil {
		return nil, nil, err
	}
	return lhs, rhs, nil
}

func unbound(names []string, bindings map[string]float64) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range names {
		if _, ok := bindings[n]; ok || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func residual(lhs, rhs Node, v string, bindings map[string]float64) func(float64) float64 {
	return func(x float64) float64 {
		env := map[string]float64{v: x}
		for k, b := range bindings {
			env[k] = b
		}
		l, err := lhs.Eval(env)
		if err != nil {
			return math.NaN()
		}
		r, err := rhs.Eval(env)
		if err != nil {
			return math.NaN()
		}
		return l - r
	}
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// solvePolynomial finds the real roots of f. Linear and quadratic residuals
// are detected by sampling and solved in closed form; anything else falls back
// to a bracketed numeric search over [-20, 20].
func solvePolynomial(f func(float64) float64, tol float64) ([]float64, string, error) {
	f0, f1, fm1, f2, f3 := f(0), f(1), f(-1), f(2), f(3)
	for _, y := range []float64{f0, f1, fm1, f2, f3} {
		if math.IsNaN(y) || math.IsInf(y, 0) {
			return numericSolve(f, tol)
		}
	}
	const fit = 1e-9
	b := f1 - f0
	if near(f2, f0+2*b, fit) && near(f3, f0+3*b, fit) && near(fm1, f0-b, fit) {
		if math.Abs(b) < fit {
			if math.Abs(f0) < tol {
				return nil, "", errIdentity
			}
			return nil, "", fmt.Errorf("equation has no solution")
		}
		return []float64{-f0 / b}, "linear isolation", nil
	}
	qa := (f1+fm1)/2 - f0
	qb := (f1 - fm1) / 2
	qc := f0
	if near(f2, 4*qa+2*qb+qc, fit) && near(f3, 9*qa+3*qb+qc, fit) && near(f(-2), 4*qa-2*qb+qc, fit) {
		disc := qb*qb - 4*qa*qc
		switch {
		case disc < -tol:
			return nil, "", fmt.Errorf("no real solution (discriminant %s)", formatFloat(disc))
		case math.Abs(disc) <= tol:
			return []float64{-qb / (2 * qa)}, "quadratic formula", nil
		}
		sq := math.Sqrt(disc)
		r1, r2 := (-qb-sq)/(2*qa), (-qb+sq)/(2*qa)
		if r1 > r2 {
			r1, r2 = r2, r1
		}
		return []float64{r1, r2}, "quadratic formula", nil
	}
	return numericSolve(f, tol)
}

func numericSolve(f func(float64) float64, tol float64) ([]float64, string, error) {
	roots, err := numericRoots(f, tol)
	if err != nil {
		return nil, "", err
	}
	if len(roots) == 0 {
		return nil, "", fmt.Errorf("no root found in [%s, %s]", formatFloat(searchLo), formatFloat(searchHi))
	}
	return roots, methodNumeric, nil
}
