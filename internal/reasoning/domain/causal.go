package domain

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

// maxCausalPaths caps path enumeration between a cause and an effect.
const maxCausalPaths = 64

// Effect directions.
const (
	DirectionIncrease  = "increase"
	DirectionDecrease  = "decrease"
	DirectionChange    = "change"
	DirectionAmbiguous = "ambiguous"
	DirectionNone      = "none"
)

// CausalEdge is one explicit "X causes Y" claim.
type CausalEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	// Sign is +1 for increase, -1 for decrease, 0 when unspecified.
	Sign   int      `json:"sign"`
	Weight *float64 `json:"weight,omitempty"`
	Claim  string   `json:"claim"`
}

func (e CausalEdge) String() string { return e.From + " -> " + e.To }

// CausalClaims is the raw extraction before graph construction.
type CausalClaims struct {
	Variables []string     `json:"variables"`
	Claims    []CausalEdge `json:"claims"`
	Cause     string       `json:"cause,omitempty"`
	Effect    string       `json:"effect,omitempty"`
}

// CausalGraph is a directed graph over named variables.
type CausalGraph struct {
	Nodes []string     `json:"nodes"`
	Edges []CausalEdge `json:"edges"`
}

func (g CausalGraph) children() map[string][]CausalEdge {
	adj := make(map[string][]CausalEdge, len(g.Nodes))
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e)
	}
	return adj
}

// Acyclic implements validation.Acyclic with Kahn's algorithm.
func (g CausalGraph) Acyclic() bool {
	indeg := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		indeg[n] = 0
	}
	for _, e := range g.Edges {
		indeg[e.To]++
	}
	var queue []string
	for n, d := range indeg {
		if d == 0 {
			queue = append(queue, n)
		}
	}
	adj := g.children()
	seen := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		seen++
		for _, e := range adj[n] {
			indeg[e.To]--
			if indeg[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}
	return seen == len(indeg)
}

// reaches reports whether to is reachable from from.
func (g CausalGraph) reaches(from, to string) bool {
	adj := g.children()
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		for _, e := range adj[n] {
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

// paths enumerates simple directed paths from cause to effect.
func (g CausalGraph) paths(cause, effect string) [][]CausalEdge {
	adj := g.children()
	var out [][]CausalEdge
	onPath := map[string]bool{cause: true}
	var walk func(n string, acc []CausalEdge)
	walk = func(n string, acc []CausalEdge) {
		if len(out) >= maxCausalPaths {
			return
		}
		if n == effect && len(acc) > 0 {
			out = append(out, append([]CausalEdge(nil), acc...))
			return
		}
		for _, e := range adj[n] {
			if onPath[e.To] {
				continue
			}
			onPath[e.To] = true
			walk(e.To, append(acc, e))
			onPath[e.To] = false
		}
	}
	walk(cause, nil)
	return out
}

// roots returns nodes with no incoming edges, in insertion order.
func (g CausalGraph) roots() []string {
	hasParent := map[string]bool{}
	for _, e := range g.Edges {
		hasParent[e.To] = true
	}
	var out []string
	for _, n := range g.Nodes {
		if !hasParent[n] {
			out = append(out, n)
		}
	}
	return out
}

// sinks returns nodes with no outgoing edges, in insertion order.
func (g CausalGraph) sinks() []string {
	adj := g.children()
	var out []string
	for _, n := range g.Nodes {
		if len(adj[n]) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// CausalEffect is the estimated effect of one variable on another.
type CausalEffect struct {
	CausalGraph
	Cause     string     `json:"cause"`
	Effect    string     `json:"effect"`
	Paths     [][]string `json:"paths,omitempty"`
	Direction string     `json:"direction"`
	Magnitude *float64   `json:"magnitude,omitempty"`
}

// Summary renders the effect as a sentence.
func (e CausalEffect) Summary() string {
	switch e.Direction {
	case DirectionNone:
		return fmt.Sprintf("%s has no causal effect on %s", e.Cause, e.Effect)
	case DirectionAmbiguous:
		return fmt.Sprintf("%s affects %s in an ambiguous direction (paths with opposite signs)", e.Cause, e.Effect)
	case DirectionChange:
		return fmt.Sprintf("%s affects %s (direction unspecified)", e.Cause, e.Effect)
	}
	article := "an"
	if e.Direction == DirectionDecrease {
		article = "a"
	}
	s := fmt.Sprintf("%s causes %s %s in %s", e.Cause, article, e.Direction, e.Effect)
	if e.Magnitude != nil {
		s += fmt.Sprintf(" (estimated effect %s)", formatFloat(*e.Magnitude))
	}
	return s
}

// CausalEngine estimates effect direction by reachability over explicit
// causal claims.
type CausalEngine struct {
	deps Deps
}

// NewCausalEngine creates the causal engine.
func NewCausalEngine(deps Deps) *CausalEngine {
	return &CausalEngine{deps: deps.withDefaults()}
}

func (e *CausalEngine) Kind() types.StrategyKind { return types.StrategyCausal }
func (e *CausalEngine) Reset()                   {}

var (
	reCausalCue  = regexp.MustCompile(`(?i)\b(causes?|caused|affects?|influences?|leads? to|led to|results? in|due to|because|effect of|impact of|counterfactual|triggers?)\b`)
	reCausalVerb = regexp.MustCompile(`^(.+?)\s+(causes|cause|caused|affects|affect|affected|influences|influence|leads to|lead to|led to|results in|result in|triggers|trigger|produces|produce|increases|increase|raises|raise|boosts|boost|decreases|decrease|reduces|reduce|lowers|lower|prevents|prevent|inhibits|inhibit)\s+(.+?)(?:\s+by\s+(-?\d+(?:\.\d+)?)(%?))?$`)
	reCausalBy   = regexp.MustCompile(`^(.+?)\s+(?:is|are|was|were)\s+(?:caused|affected|influenced|triggered)\s+by\s+(.+)$`)
	reBecause    = regexp.MustCompile(`^(.+?)\s+(?:because of|because|due to|is a result of|results from|result from)\s+(.+)$`)
	reClause     = regexp.MustCompile(`,\s*(?:and|while|whereas)\s+|;\s*`)
	reAndList    = regexp.MustCompile(`\s*(?:,\s*and\s+|,\s*|\s+and\s+)\s*`)
	reEffectOf   = regexp.MustCompile(`(?:effect|impact|influence) of\s+(.+?)\s+on\s+(.+)$`)
	reDoesCause  = regexp.MustCompile(`^(?:does|do|would|will|can)\s+(.+?)\s+(?:cause|affect|influence|lead to|increase|decrease|reduce|change)\s+(.+)$`)
	reHappensTo  = regexp.MustCompile(`^what happens to\s+(.+?)\s+(?:if|when)\s+(.+?)(?:\s+(?:increases|decreases|rises|falls|changes|is removed|goes up|goes down))?$`)
	reIncrease   = regexp.MustCompile(`^(increases?|raises?|boosts?)$`)
	reDecrease   = regexp.MustCompile(`^(decreases?|reduces?|lowers?|prevents?|inhibits?)$`)
	reUnsigned   = regexp.MustCompile(`^(affects?|affected|influences?)$`)
)

// CanHandle looks for explicit causal vocabulary.
func (e *CausalEngine) CanHandle(statement string) bool {
	return reCausalCue.MatchString(statement)
}

func causalVariable(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	s = stripArticle(s)
	return strings.TrimSpace(strings.TrimSuffix(s, " itself"))
}

func splitVars(s string) []string {
	var out []string
	for _, part := range reAndList.Split(s, -1) {
		if v := causalVariable(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func edgeSign(verb string) int {
	switch {
	case reDecrease.MatchString(verb):
		return -1
	case reUnsigned.MatchString(verb):
		return 0
	}
	return 1
}

// parseClaims extracts causal edges from one clause.
func parseClaims(clause string) []CausalEdge {
	var (
		causes, effects []string
		sign            = 1
		weight          *float64
	)
	switch {
	case reCausalBy.MatchString(clause):
		m := reCausalBy.FindStringSubmatch(clause)
		effects, causes = splitVars(m[1]), splitVars(m[2])
		if strings.Contains(clause, "affected") || strings.Contains(clause, "influenced") {
			sign = 0
		}
	case reBecause.MatchString(clause):
		m := reBecause.FindStringSubmatch(clause)
		effects, causes = splitVars(m[1]), splitVars(m[2])
	case reCausalVerb.MatchString(clause):
		m := reCausalVerb.FindStringSubmatch(clause)
		causes, effects = splitVars(m[1]), splitVars(m[3])
		sign = edgeSign(m[2])
		if m[4] != "" {
			if w, err := strconv.ParseFloat(m[4], 64); err == nil {
				if m[5] == "%" {
					w /= 100
				}
				weight = &w
			}
		}
	default:
		return nil
	}
	var out []CausalEdge
	for _, c := range causes {
		for _, e := range effects {
			if c == e {
				continue
			}
			out = append(out, CausalEdge{From: c, To: e, Sign: sign, Weight: weight, Claim: clause})
		}
	}
	return out
}

// parseCausalQuery returns the cause and effect a question asks about.
func parseCausalQuery(q string) (string, string, bool) {
	if m := reEffectOf.FindStringSubmatch(q); m != nil {
		return causalVariable(m[1]), causalVariable(m[2]), true
	}
	if m := reHappensTo.FindStringSubmatch(q); m != nil {
		return causalVariable(m[2]), causalVariable(m[1]), true
	}
	if m := reDoesCause.FindStringSubmatch(q); m != nil {
		return causalVariable(m[1]), causalVariable(m[2]), true
	}
	return "", "", false
}

// Reason extracts claims, builds the causal graph, estimates the effect by
// reachability and closes with a counterfactual.
func (e *CausalEngine) Reason(ctx context.Context, p types.Problem) *types.Result {
	c := newChain(ctx, e.deps, types.StrategyCausal, validation.ProblemTypeCausal, p)

	claims := CausalClaims{}
	seen := map[string]bool{}
	addVar := func(v string) {
		if !seen[v] {
			seen[v] = true
			claims.Variables = append(claims.Variables, v)
		}
	}
	for _, raw := range reSentence.FindAllString(p.Statement, -1) {
		s := strings.ToLower(strings.TrimSpace(raw))
		question := strings.HasSuffix(s, "?")
		s = strings.TrimSpace(strings.TrimRight(s, ".;!?\n"))
		if s == "" {
			continue
		}
		if question {
			if cause, effect, ok := parseCausalQuery(s); ok {
				claims.Cause, claims.Effect = cause, effect
			}
			continue
		}
		for _, clause := range reClause.Split(s, -1) {
			for _, edge := range parseClaims(strings.TrimSpace(clause)) {
				addVar(edge.From)
				addVar(edge.To)
				claims.Claims = append(claims.Claims, edge)
			}
		}
	}
	if len(claims.Claims) == 0 {
		return c.fail(types.KindNoStrategy, "no explicit causal claims found in the problem statement")
	}

	refs := make([]string, len(claims.Claims))
	for i, edge := range claims.Claims {
		refs[i] = edge.Claim
	}
	reasoning := fmt.Sprintf("Found %d causal claim(s) over variables %s", len(claims.Claims), quoteAll(claims.Variables))
	if !c.add("Extract causal claims", reasoning, claims, 0.9, refs, false) {
		return c.done()
	}

	graph, dropped := buildGraph(claims)
	for _, edge := range dropped {
		c.res.AddIssue(types.KindAdvisory, "dropped edge %s: it would close a causal cycle", edge)
	}
	graphConf := 0.9
	if len(dropped) > 0 {
		graphConf = 0.75
	}
	edges := make([]string, len(graph.Edges))
	for i, edge := range graph.Edges {
		edges[i] = edge.String()
	}
	reasoning = fmt.Sprintf("Directed acyclic graph with %d node(s) and edges %s", len(graph.Nodes), strings.Join(edges, ", "))
	if !c.add("Build causal graph", reasoning, graph, graphConf, refs, false) {
		return c.done()
	}

	cause, effect := claims.Cause, claims.Effect
	if cause == "" || !seen[cause] || effect == "" || !seen[effect] {
		if cause != "" || effect != "" {
			c.res.AddIssue(types.KindAdvisory, "queried variables %q and %q are not both in the graph; using the outermost cause and effect", cause, effect)
		}
		cause, effect = defaultPair(graph)
	}
	est := estimate(graph, cause, effect)
	conf := 0.85
	switch est.Direction {
	case DirectionNone:
		conf = 0.6
		c.res.AddIssue(types.KindAdvisory, "no directed path from %s to %s", cause, effect)
	case DirectionAmbiguous, DirectionChange:
		conf = 0.7
	}
	pathText := make([]string, len(est.Paths))
	for i, path := range est.Paths {
		pathText[i] = strings.Join(path, " -> ")
	}
	reasoning = fmt.Sprintf("Reachability from %s to %s: %d path(s) [%s]; %s", cause, effect, len(est.Paths), strings.Join(pathText, "; "), est.Summary())
	if !c.add("Estimate effect", reasoning, est, conf, refs, false) {
		return c.done()
	}

	var counterfactual string
	if est.Direction == DirectionNone {
		counterfactual = fmt.Sprintf("Absent %s, %s is unchanged: no causal path connects them", cause, effect)
	} else {
		counterfactual = fmt.Sprintf("Absent %s, the %s in %s along %s is absent", cause, effectNoun(est.Direction), effect, strings.Join(pathText, "; "))
	}
	if !c.add("Counterfactual check", counterfactual, counterfactual, conf, refs, true) {
		return c.done()
	}
	return c.finish(est.Summary())
}

// buildGraph adds claims in order, dropping any edge that would close a cycle.
func buildGraph(claims CausalClaims) (CausalGraph, []CausalEdge) {
	g := CausalGraph{Nodes: append([]string(nil), claims.Variables...)}
	var dropped []CausalEdge
	have := map[string]bool{}
	for _, edge := range claims.Claims {
		if have[edge.String()] {
			continue
		}
		if g.reaches(edge.To, edge.From) {
			dropped = append(dropped, edge)
			continue
		}
		have[edge.String()] = true
		g.Edges = append(g.Edges, edge)
	}
	return g, dropped
}

func defaultPair(g CausalGraph) (string, string) {
	roots, sinks := g.roots(), g.sinks()
	for _, r := range roots {
		for i := len(sinks) - 1; i >= 0; i-- {
			if g.reaches(r, sinks[i]) && r != sinks[i] {
				return r, sinks[i]
			}
		}
	}
	first := g.Edges[0]
	return first.From, first.To
}

// estimate combines path signs; magnitudes are reported only when every
// edge on every path carries a weight.
func estimate(g CausalGraph, cause, effect string) CausalEffect {
	est := CausalEffect{CausalGraph: g, Cause: cause, Effect: effect, Direction: DirectionNone}
	paths := g.paths(cause, effect)
	if len(paths) == 0 {
		return est
	}
	signs := map[int]bool{}
	total, weighted := 0.0, true
	for _, path := range paths {
		sign, product := 1, 1.0
		names := []string{cause}
		for _, edge := range path {
			names = append(names, edge.To)
			sign *= edge.Sign
			if edge.Weight == nil {
				weighted = false
				continue
			}
			w := *edge.Weight
			if edge.Sign < 0 {
				w = -w
			}
			product *= w
		}
		signs[sign] = true
		total += product
		est.Paths = append(est.Paths, names)
	}
	sort.SliceStable(est.Paths, func(i, j int) bool { return len(est.Paths[i]) < len(est.Paths[j]) })
	switch {
	case signs[0]:
		est.Direction = DirectionChange
	case signs[1] && signs[-1]:
		est.Direction = DirectionAmbiguous
	case signs[-1]:
		est.Direction = DirectionDecrease
	default:
		est.Direction = DirectionIncrease
	}
	if weighted {
		est.Magnitude = &total
		switch {
		case total > 0:
			est.Direction = DirectionIncrease
		case total < 0:
			est.Direction = DirectionDecrease
		}
	}
	return est
}

func effectNoun(direction string) string {
	switch direction {
	case DirectionIncrease, DirectionDecrease:
		return direction
	}
	return "change"
}
