package domain

import (
	"context"
	"fmt"
	"strings"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

type derivation struct {
	rule   string
	from   []string
	result proposition
}

// knowledge is the working set of propositions during forward chaining.
type knowledge struct {
	lits    []Literal
	cats    []Categorical
	conds   []Conditional
	known   map[string]bool
	derived map[string]bool
}

func newKnowledge() *knowledge {
	return &knowledge{known: map[string]bool{}, derived: map[string]bool{}}
}

func (k *knowledge) add(p proposition) bool {
	key := p.String()
	if key == "" || k.known[key] {
		return false
	}
	k.known[key] = true
	switch {
	case p.cat != nil:
		k.cats = append(k.cats, *p.cat)
	case p.cond != nil:
		k.conds = append(k.conds, *p.cond)
	case p.lit != nil:
		k.lits = append(k.lits, *p.lit)
	}
	return true
}

func (k *knowledge) hasLit(l Literal) bool { return k.known[l.String()] }

// holds reports whether p is known directly or by conversion/subalternation.
func (k *knowledge) holds(p proposition) bool {
	if k.known[p.String()] {
		return true
	}
	if p.cat == nil {
		return false
	}
	c := *p.cat
	if conv, ok := c.converse(); ok && k.known[conv.String()] {
		return true
	}
	switch c.Quant {
	case "some":
		all := Categorical{Quant: "all", Subject: c.Subject, Predicate: c.Predicate}
		allRev := Categorical{Quant: "all", Subject: c.Predicate, Predicate: c.Subject}
		return k.known[all.String()] || k.known[allRev.String()]
	case "some_not":
		no := Categorical{Quant: "no", Subject: c.Subject, Predicate: c.Predicate}
		noRev := Categorical{Quant: "no", Subject: c.Predicate, Predicate: c.Subject}
		return k.known[no.String()] || k.known[noRev.String()]
	}
	return false
}

// negation returns the contradictory of p.
func negation(p proposition) (proposition, bool) {
	switch {
	case p.lit != nil:
		n := p.lit.Not()
		return proposition{lit: &n}, true
	case p.cat != nil:
		c := *p.cat
		switch c.Quant {
		case "all":
			c.Quant = "some_not"
		case "some_not":
			c.Quant = "all"
		case "no":
			c.Quant = "some"
		case "some":
			c.Quant = "no"
		}
		return proposition{cat: &c}, true
	}
	return proposition{}, false
}

// contradiction returns a pair of contradictory known statements, if any.
func (k *knowledge) contradiction() (string, string, bool) {
	for _, l := range k.lits {
		if !l.Neg && k.hasLit(l.Not()) {
			return l.String(), l.Not().String(), true
		}
	}
	for _, c := range k.cats {
		p := proposition{cat: &c}
		if n, ok := negation(p); ok && k.holds(n) {
			return c.String(), n.String(), true
		}
		if c.Quant == "all" {
			no := Categorical{Quant: "no", Subject: c.Subject, Predicate: c.Predicate}
			if k.holds(proposition{cat: &no}) {
				return c.String(), no.String(), true
			}
		}
	}
	return "", "", false
}

// orientations yields a categorical and, for convertible forms, its converse.
func orientations(c Categorical) []Categorical {
	if conv, ok := c.converse(); ok {
		return []Categorical{c, conv}
	}
	return []Categorical{c}
}

// step finds the next applicable inference not yet known.
func (k *knowledge) step() (derivation, bool) {
	lit := func(l Literal) proposition { return proposition{lit: &l} }

	for _, c := range k.conds {
		if k.hasLit(c.If) && !k.hasLit(c.Then) {
			return derivation{"modus ponens", []string{c.String(), c.If.String()}, lit(c.Then)}, true
		}
		if k.hasLit(c.Then.Not()) && !k.hasLit(c.If.Not()) {
			return derivation{"modus tollens", []string{c.String(), c.Then.Not().String()}, lit(c.If.Not())}, true
		}
	}
	for _, c1 := range k.conds {
		for _, c2 := range k.conds {
			if c1.Then != c2.If || c1.If == c2.Then {
				continue
			}
			hs := Conditional{If: c1.If, Then: c2.Then}
			if !k.known[hs.String()] {
				return derivation{"hypothetical syllogism", []string{c1.String(), c2.String()}, proposition{cond: &hs}}, true
			}
		}
	}

	// categorical syllogisms: major premise about M and P, minor about S and M
	for _, major := range k.cats {
		for _, mj := range orientations(major) {
			for _, minor := range k.cats {
				for _, mn := range orientations(minor) {
					if mn.Predicate != mj.Subject || mn.Subject == mj.Predicate || major == minor {
						continue
					}
					var quant, rule string
					switch {
					case mj.Quant == "all" && mn.Quant == "all":
						quant, rule = "all", "syllogism (Barbara)"
					case mj.Quant == "no" && mn.Quant == "all":
						quant, rule = "no", "syllogism (Celarent)"
					case mj.Quant == "all" && mn.Quant == "some":
						quant, rule = "some", "syllogism (Darii)"
					case mj.Quant == "no" && mn.Quant == "some":
						quant, rule = "some_not", "syllogism (Ferio)"
					default:
						continue
					}
					concl := Categorical{Quant: quant, Subject: mn.Subject, Predicate: mj.Predicate}
					p := proposition{cat: &concl}
					if !k.holds(p) {
						return derivation{rule, []string{major.String(), minor.String()}, p}, true
					}
				}
			}
		}
	}

	// instantiation of universal statements to individuals
	for _, c := range k.cats {
		for _, l := range k.lits {
			x, class, ok := l.member()
			if !ok {
				continue
			}
			var out Literal
			switch {
			case c.Quant == "all" && !l.Neg && class == c.Subject:
				out = Literal{Atom: x + " is " + c.Predicate}
			case c.Quant == "no" && !l.Neg && class == c.Subject:
				out = Literal{Atom: x + " is " + c.Predicate, Neg: true}
			case c.Quant == "all" && l.Neg && class == c.Predicate:
				out = Literal{Atom: x + " is " + c.Subject, Neg: true}
			default:
				continue
			}
			if !k.hasLit(out) {
				return derivation{"universal instantiation", []string{c.String(), l.String()}, lit(out)}, true
			}
		}
	}
	return derivation{}, false
}

// distributed reports whether term t is distributed in c.
func distributed(c Categorical, t string) bool {
	switch c.Quant {
	case "all":
		return c.Subject == t
	case "no":
		return c.Subject == t || c.Predicate == t
	case "some_not":
		return c.Predicate == t
	}
	return false
}

// fallacy explains why a tempting conclusion does not follow.
func (k *knowledge) fallacy(target *proposition) string {
	if target != nil && target.lit != nil {
		for _, c := range k.conds {
			if *target.lit == c.If && k.hasLit(c.Then) {
				return fmt.Sprintf("inferring %q from %q and %q affirms the consequent", c.If, c, c.Then)
			}
			if *target.lit == c.Then.Not() && k.hasLit(c.If.Not()) {
				return fmt.Sprintf("inferring %q from %q and %q denies the antecedent", c.Then.Not(), c, c.If.Not())
			}
		}
	}
	for i, a := range k.cats {
		for _, b := range k.cats[i+1:] {
			for _, m := range []string{a.Subject, a.Predicate} {
				if m != b.Subject && m != b.Predicate {
					continue
				}
				if distributed(a, m) || distributed(b, m) {
					continue
				}
				return fmt.Sprintf("the middle term %q is not distributed in %q or %q (fallacy of the undistributed middle)", m, a, b)
			}
		}
	}
	return ""
}

// Reason extracts premises, forward-chains the rule set, and evaluates the
// conclusion or question.
func (e *LogicEngine) Reason(ctx context.Context, p types.Problem) *types.Result {
	c := newChain(ctx, e.deps, types.StrategyLogical, validation.ProblemTypeLogical, p)

	var (
		premises []string
		target   *proposition
	)
	kb := newKnowledge()
	for _, raw := range reSentence.FindAllString(p.Statement, -1) {
		s := strings.ToLower(strings.TrimSpace(raw))
		question := strings.HasSuffix(s, "?")
		s = strings.TrimSpace(strings.TrimRight(s, ".;!?\n"))
		s = rePreamble.ReplaceAllString(s, "")
		if s == "" {
			continue
		}
		if question {
			if q, ok := parseQuestion(s); ok {
				target = &q
			}
			continue
		}
		if reConclude.MatchString(s) {
			q := parseProposition(reConclude.ReplaceAllString(s, ""))
			target = &q
			continue
		}
		prop := parseProposition(s)
		if kb.add(prop) {
			premises = append(premises, prop.String())
		}
	}
	if len(premises) == 0 {
		return c.fail(types.KindNoStrategy, "no premises found in the problem statement")
	}

	state := LogicState{Premises: premises}
	if target != nil {
		state.Query = target.String()
	}
	extracted := fmt.Sprintf("Identified %d premise(s): %s", len(premises), quoteAll(premises))
	if target != nil {
		extracted += fmt.Sprintf("; conclusion to test: %q", target.String())
	}
	if !c.add("Extract premises", extracted, state, 0.95, premises, false) {
		return c.done()
	}
	if a, b, bad := kb.contradiction(); bad {
		return c.fail(types.KindValidation, "contradictory premises: %q and %q", a, b)
	}

	for i := 0; i < maxDerivations; i++ {
		d, ok := kb.step()
		if !ok {
			break
		}
		kb.add(d.result)
		concl := d.result.String()
		kb.derived[concl] = true
		state = state.with(concl)
		reasoning := fmt.Sprintf("From %s it follows that %q", quoteAll(d.from), concl)
		if !c.add("Apply "+d.rule, reasoning, state, 0.95, d.from, false) {
			return c.done()
		}
		if a, b, bad := kb.contradiction(); bad {
			return c.fail(types.KindValidation, "premises are inconsistent: %q and %q both follow", a, b)
		}
	}

	verdict, conf, refs, entailed := e.evaluate(kb, premises, state, target)
	if !entailed {
		c.res.AddIssue(types.KindAdvisory, "%s", verdict)
	}
	if !c.add("Evaluate conclusion", verdict, verdict, conf, refs, true) {
		return c.done()
	}
	return c.finish(verdict)
}

func (e *LogicEngine) evaluate(kb *knowledge, premises []string, state LogicState, target *proposition) (string, float64, []string, bool) {
	if target != nil {
		t := target.String()
		switch {
		case kb.holds(*target) && !kb.derived[t] && contains(premises, t):
			return fmt.Sprintf("%q is given as a premise", t), 0.95, []string{t}, true
		case kb.holds(*target):
			return fmt.Sprintf("%q follows from the premises by a valid inference chain", t), 0.95, refsOr(state.Derived, premises), true
		}
		if n, ok := negation(*target); ok && kb.holds(n) {
			return fmt.Sprintf("%q is false: its contradictory %q follows from the premises", t, n), 0.9, refsOr(state.Derived, premises), true
		}
		verdict := fmt.Sprintf("%q does not follow from the premises", t)
		if why := kb.fallacy(target); why != "" {
			verdict += ": " + why
		}
		return verdict, 0.85, premises, false
	}

	if len(state.Derived) > 0 {
		return "From the premises it follows that " + quoteAll(state.Derived), 0.9, state.Derived, true
	}
	verdict := "No valid conclusion, universal or particular, can be derived from the premises"
	if why := kb.fallacy(nil); why != "" {
		verdict += ": " + why
	}
	return verdict, 0.85, premises, false
}

func quoteAll(xs []string) string {
	q := make([]string, len(xs))
	for i, x := range xs {
		q[i] = fmt.Sprintf("%q", x)
	}
	return strings.Join(q, ", ")
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func refsOr(primary, fallback []string) []string {
	if len(primary) > 0 {
		return primary
	}
	return fallback
}
