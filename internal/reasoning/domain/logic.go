package domain

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// maxDerivations bounds forward chaining on pathological inputs.
const maxDerivations = 50

// Literal is an atomic proposition or its negation.
type Literal struct {
	Atom string
	Neg  bool
}

func (l Literal) Not() Literal { return Literal{Atom: l.Atom, Neg: !l.Neg} }

func (l Literal) String() string {
	if !l.Neg {
		return l.Atom
	}
	if i := strings.Index(l.Atom, " is "); i > 0 {
		return l.Atom[:i] + " is not " + l.Atom[i+4:]
	}
	return "not " + l.Atom
}

// member splits a literal of the form "x is c".
func (l Literal) member() (string, string, bool) {
	i := strings.Index(l.Atom, " is ")
	if i <= 0 {
		return "", "", false
	}
	return l.Atom[:i], l.Atom[i+4:], true
}

// Categorical is a quantified statement about two terms.
type Categorical struct {
	Quant     string // all, no, some, some_not
	Subject   string
	Predicate string
}

func (c Categorical) String() string {
	switch c.Quant {
	case "all":
		return fmt.Sprintf("all %s are %s", c.Subject, c.Predicate)
	case "no":
		return fmt.Sprintf("no %s are %s", c.Subject, c.Predicate)
	case "some_not":
		return fmt.Sprintf("some %s are not %s", c.Subject, c.Predicate)
	}
	return fmt.Sprintf("some %s are %s", c.Subject, c.Predicate)
}

// converse swaps the terms of the convertible forms (no, some).
func (c Categorical) converse() (Categorical, bool) {
	if c.Quant == "no" || c.Quant == "some" {
		return Categorical{Quant: c.Quant, Subject: c.Predicate, Predicate: c.Subject}, true
	}
	return c, false
}

// Conditional is "if P then Q".
type Conditional struct {
	If   Literal
	Then Literal
}

func (c Conditional) String() string { return "if " + c.If.String() + " then " + c.Then.String() }

type proposition struct {
	cat  *Categorical
	cond *Conditional
	lit  *Literal
}

func (p proposition) String() string {
	switch {
	case p.cat != nil:
		return p.cat.String()
	case p.cond != nil:
		return p.cond.String()
	case p.lit != nil:
		return p.lit.String()
	}
	return ""
}

// LogicState is the knowledge carried from step to step.
type LogicState struct {
	Premises []string `json:"premises"`
	Derived  []string `json:"derived,omitempty"`
	Query    string   `json:"query,omitempty"`
}

func (s LogicState) with(derived string) LogicState {
	next := LogicState{Premises: s.Premises, Query: s.Query}
	next.Derived = append(append([]string{}, s.Derived...), derived)
	return next
}

// LogicEngine applies a fixed rule set over extracted propositions.
type LogicEngine struct {
	deps Deps
}

// NewLogicEngine creates the logical engine.
func NewLogicEngine(deps Deps) *LogicEngine {
	return &LogicEngine{deps: deps.withDefaults()}
}

func (e *LogicEngine) Kind() types.StrategyKind { return types.StrategyLogical }
func (e *LogicEngine) Reset()                   {}

var (
	reLogicCue = regexp.MustCompile(`(?i)(^|[.!?;]\s*)(all|no|some|every)\s+\w+.*?\s(are|is)\s|\bif\b.+\bthen\b|\b(therefore|implies|syllogism|premises?|conclude|conclusion|follows)\b`)
	reSentence = regexp.MustCompile(`[^.;!?\n]+[.;!?\n]?`)
	reConclude = regexp.MustCompile(`^(?:therefore|thus|hence|so|consequently|it follows that)\b,?\s*`)
	rePreamble = regexp.MustCompile(`^(?:premise\s*\d*\s*:|given that|we know that|assume that|suppose that)\s*`)
	reOpenQ    = regexp.MustCompile(`\b(what can (?:we|be|one) (?:conclude|concluded|infer|inferred)|what follows|what conclusion)`)
	reTargetQ  = regexp.MustCompile(`^(?:is it true that|does it follow that|can we conclude that|must it be that|is it the case that)\s+(.+)$`)
	reIsQ      = regexp.MustCompile(`^is\s+(?:the\s+)?(\S+)\s+(?:a\s+|an\s+)?(.+)$`)
	reAreQ     = regexp.MustCompile(`^are\s+(all|some|no)\s+(\S+)\s+(.+)$`)
	reAll      = regexp.MustCompile(`^(?:all|every|each)\s+(.+?)\s+(?:are|is)\s+(?:a\s+|an\s+)?(.+)$`)
	reNo       = regexp.MustCompile(`^no\s+(.+?)\s+(?:are|is)\s+(?:a\s+|an\s+)?(.+)$`)
	reSomeNot  = regexp.MustCompile(`^some\s+(.+?)\s+(?:are|is)\s+not\s+(?:a\s+|an\s+)?(.+)$`)
	reSome     = regexp.MustCompile(`^some\s+(.+?)\s+(?:are|is)\s+(?:a\s+|an\s+)?(.+)$`)
	rePlural   = regexp.MustCompile(`^(\w+s)\s+are\s+(.+)$`)
	reIf       = regexp.MustCompile(`^if\s+(.+?)(?:,\s*then\s+|\s+then\s+|,\s*)(.+)$`)
	reImplies  = regexp.MustCompile(`^(.+?)\s+implies\s+(?:that\s+)?(.+)$`)
	reNotPfx   = regexp.MustCompile(`^(?:it is not the case that|it is false that|not)\s+(.+)$`)
	reIsNot    = regexp.MustCompile(`^(.+?)\s+(?:is not|isn't)\s+(?:a\s+|an\s+)?(.+)$`)
	reDoesNot  = regexp.MustCompile(`^(.+?)\s+(?:does not|doesn't|do not|don't)\s+(\w+)(.*)$`)
	reIs       = regexp.MustCompile(`^(.+?)\s+is\s+(?:a\s+|an\s+)?(.+)$`)
)

// CanHandle looks for quantifiers, conditionals and inference vocabulary.
func (e *LogicEngine) CanHandle(statement string) bool {
	return reLogicCue.MatchString(statement)
}

var irregular = map[string]string{"men": "man", "women": "woman", "people": "person", "children": "child", "mice": "mouse", "geese": "goose"}

func singular(w string) string {
	if s, ok := irregular[w]; ok {
		return s
	}
	switch {
	case len(w) > 3 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"):
		return w[:len(w)-2]
	case len(w) > 2 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") &&
		!strings.HasSuffix(w, "us") && !strings.HasSuffix(w, "is"):
		return w[:len(w)-1]
	}
	return w
}

func stripArticle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for _, a := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(s, a) && len(s) > len(a) {
			return s[len(a):]
		}
	}
	return s
}

// term normalizes a class term: article dropped, last word singular,
// single-letter names upper-cased.
func term(s string) string {
	s = stripArticle(s)
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = singular(words[len(words)-1])
	out := strings.Join(words, " ")
	if len(out) == 1 {
		return strings.ToUpper(out)
	}
	return out
}

func memberAtom(x, class string) string {
	x = stripArticle(x)
	if len(x) == 1 {
		x = strings.ToUpper(x)
	}
	return x + " is " + term(class)
}

func parseLiteral(s string) Literal {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasSuffix(s, " is false"):
		return parseLiteral(strings.TrimSuffix(s, " is false")).Not()
	case strings.HasSuffix(s, " is true"):
		return parseLiteral(strings.TrimSuffix(s, " is true"))
	}
	if m := reNotPfx.FindStringSubmatch(s); m != nil {
		return parseLiteral(m[1]).Not()
	}
	if m := reIsNot.FindStringSubmatch(s); m != nil {
		return Literal{Atom: memberAtom(m[1], m[2]), Neg: true}
	}
	if m := reDoesNot.FindStringSubmatch(s); m != nil {
		verb := m[2]
		if !strings.HasSuffix(verb, "s") {
			verb += "s"
		}
		return Literal{Atom: stripArticle(m[1]) + " " + verb + m[3], Neg: true}
	}
	if m := reIs.FindStringSubmatch(s); m != nil {
		return Literal{Atom: memberAtom(m[1], m[2])}
	}
	return Literal{Atom: stripArticle(s)}
}

func parseProposition(s string) proposition {
	s = strings.TrimSpace(s)
	if m := reAll.FindStringSubmatch(s); m != nil {
		return proposition{cat: &Categorical{Quant: "all", Subject: term(m[1]), Predicate: term(m[2])}}
	}
	if m := reNo.FindStringSubmatch(s); m != nil {
		return proposition{cat: &Categorical{Quant: "no", Subject: term(m[1]), Predicate: term(m[2])}}
	}
	if m := reSomeNot.FindStringSubmatch(s); m != nil {
		return proposition{cat: &Categorical{Quant: "some_not", Subject: term(m[1]), Predicate: term(m[2])}}
	}
	if m := reSome.FindStringSubmatch(s); m != nil {
		return proposition{cat: &Categorical{Quant: "some", Subject: term(m[1]), Predicate: term(m[2])}}
	}
	if m := reIf.FindStringSubmatch(s); m != nil {
		return proposition{cond: &Conditional{If: parseLiteral(m[1]), Then: parseLiteral(m[2])}}
	}
	if m := reImplies.FindStringSubmatch(s); m != nil {
		return proposition{cond: &Conditional{If: parseLiteral(m[1]), Then: parseLiteral(m[2])}}
	}
	if m := rePlural.FindStringSubmatch(s); m != nil && m[1] != "they" {
		return proposition{cat: &Categorical{Quant: "all", Subject: term(m[1]), Predicate: term(m[2])}}
	}
	l := parseLiteral(s)
	return proposition{lit: &l}
}

// parseQuestion turns a question into the proposition it asks about. An open
// question ("what can we conclude?") returns ok=false.
func parseQuestion(q string) (proposition, bool) {
	if reOpenQ.MatchString(q) {
		return proposition{}, false
	}
	if m := reTargetQ.FindStringSubmatch(q); m != nil {
		return parseProposition(m[1]), true
	}
	if m := reAreQ.FindStringSubmatch(q); m != nil {
		return parseProposition(m[1] + " " + m[2] + " are " + m[3]), true
	}
	if m := reIsQ.FindStringSubmatch(q); m != nil {
		return proposition{lit: &Literal{Atom: memberAtom(m[1], m[2])}}, true
	}
	return proposition{}, false
}
