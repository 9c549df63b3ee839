package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Problem types used to key rule plugins.
const (
	ProblemTypeMathematical = "mathematical"
	ProblemTypeLogical      = "logical"
	ProblemTypeCausal       = "causal"
	ProblemTypeGeneral      = "general"
)

// Symbolic is implemented by step values that carry a symbolic expression.
type Symbolic interface {
	Expression() string
}

// Acyclic is implemented by step values that carry a causal graph.
type Acyclic interface {
	Acyclic() bool
}

var symbolicExpr = regexp.MustCompile(`^[0-9A-Za-z_\s.,+\-*/^()=<>√π\[\]]+$`)

// NumericOutputRule requires a mathematical step to produce a number or a
// symbolic expression.
type NumericOutputRule struct{}

func (NumericOutputRule) Name() string { return "numeric-output" }

func (NumericOutputRule) Check(step types.Step) []Finding {
	if isNumeric(step.Output) {
		return nil
	}
	bad := Finding{
		Hard:       true,
		Issue:      fmt.Sprintf("output %T is neither a number nor a symbolic expression", step.Output),
		Suggestion: "emit a numeric value or an expression over numbers and variables",
	}
	switch out := step.Output.(type) {
	case []float64:
		return nil
	case string:
		if _, err := strconv.ParseFloat(strings.TrimSpace(out), 64); err == nil {
			return nil
		}
		if symbolicExpr.MatchString(out) {
			return nil
		}
		bad.Issue = fmt.Sprintf("output %q does not parse as a number or expression", out)
		return []Finding{bad}
	case Symbolic:
		if expr := out.Expression(); expr != "" && symbolicExpr.MatchString(expr) {
			return nil
		}
		bad.Issue = fmt.Sprintf("output expression %q is not well formed", out.Expression())
		return []Finding{bad}
	}
	return []Finding{bad}
}

// PremiseReferenceRule requires a logical step to reference at least one
// declared premise.
type PremiseReferenceRule struct{}

func (PremiseReferenceRule) Name() string { return "premise-reference" }

func (PremiseReferenceRule) Check(step types.Step) []Finding {
	if len(step.References) > 0 {
		return nil
	}
	return []Finding{{
		Hard:       true,
		Issue:      fmt.Sprintf("logical step %d does not reference a declared premise", step.ID),
		Suggestion: "cite the premises the inference is drawn from",
	}}
}

// CausalGraphRule rejects causal steps whose graph contains a cycle.
type CausalGraphRule struct{}

func (CausalGraphRule) Name() string { return "causal-graph" }

func (CausalGraphRule) Check(step types.Step) []Finding {
	g, ok := step.Output.(Acyclic)
	if !ok || g.Acyclic() {
		return nil
	}
	return []Finding{{
		Hard:       true,
		Issue:      "causal graph contains a cycle",
		Suggestion: "drop the edge that closes the cycle",
	}}
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc struct {
	RuleName string
	Fn       func(types.Step) []Finding
}

func (r RuleFunc) Name() string                      { return r.RuleName }
func (r RuleFunc) Check(step types.Step) []Finding { return r.Fn(step) }
