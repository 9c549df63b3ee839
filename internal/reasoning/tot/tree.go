package tot

import (
	"math"
	"sort"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Evaluation strategies.
const (
	EvalConfidence   = "CONFIDENCE"
	EvalCompleteness = "COMPLETENESS"
	EvalEfficiency   = "EFFICIENCY"
	EvalHybrid       = "HYBRID"
)

// Hybrid evaluation weights.
const (
	hybridConfidence   = 0.4
	hybridCompleteness = 0.3
	hybridEfficiency   = 0.3
)

// Tie-break policies for equal path scores.
const (
	TieShorterThenEarlier = "shorter_then_earlier"
	TieEarlierOnly        = "earlier_only"
)

const root = 0

// node is one arena slot. Parent and children are arena indices; the root
// has parent -1 and carries no step.
type node struct {
	step     types.Step
	parent   int
	children []int
	depth    int
	score    float64
	terminal bool
	// gen is the rendered prompt that produced this node.
	gen prompt.Generated
}

// tree is the arena owned by one search invocation.
type tree struct {
	nodes []node
	eval  string
	tie   string
}

func newTree(statement, eval, tie string) *tree {
	t := &tree{eval: eval, tie: tie}
	t.nodes = append(t.nodes, node{parent: -1, step: types.Step{Output: statement}})
	return t
}

func (t *tree) size() int { return len(t.nodes) }

// add appends a child of parent and returns its index.
func (t *tree) add(parent int, step types.Step, terminal bool, gen prompt.Generated) int {
	id := len(t.nodes)
	step.ID = id
	if parent != root {
		step.Dependencies = []int{parent}
	}
	t.nodes = append(t.nodes, node{
		step:     step,
		parent:   parent,
		depth:    t.nodes[parent].depth + 1,
		terminal: terminal,
		gen:      gen,
	})
	t.nodes[parent].children = append(t.nodes[parent].children, id)
	t.nodes[id].score = t.evaluate(id)
	return id
}

// path returns the steps from the root's first child down to id.
func (t *tree) path(id int) []types.Step {
	var rev []types.Step
	for n := id; n > root; n = t.nodes[n].parent {
		rev = append(rev, t.nodes[n].step)
	}
	out := make([]types.Step, len(rev))
	for i, s := range rev {
		out[len(rev)-1-i] = s
	}
	return out
}

// history renders the path to id for prompting.
func (t *tree) history(id int) []string {
	steps := t.path(id)
	h := make([]string, len(steps))
	for i, s := range steps {
		h[i] = s.Description + ": " + s.Reasoning
	}
	return h
}

// evaluate scores the root→id path with the configured strategy.
func (t *tree) evaluate(id int) float64 {
	steps := t.path(id)
	if len(steps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range steps {
		sum += s.Confidence
	}
	conf := sum / float64(len(steps))
	n := t.nodes[id]
	completeness := conf * 0.5
	if n.terminal {
		completeness = conf
	}
	efficiency := conf / float64(n.depth+1)

	var score float64
	switch t.eval {
	case EvalConfidence:
		score = conf
	case EvalCompleteness:
		score = completeness
	case EvalEfficiency:
		score = efficiency
	default:
		score = hybridConfidence*conf + hybridCompleteness*completeness + hybridEfficiency*efficiency
	}
	return types.Clamp01(score)
}

const scoreEpsilon = 1e-12

// better reports whether node a ranks above node b.
func (t *tree) better(a, b int) bool {
	sa, sb := t.nodes[a].score, t.nodes[b].score
	if math.Abs(sa-sb) > scoreEpsilon {
		return sa > sb
	}
	if t.tie != TieEarlierOnly && t.nodes[a].depth != t.nodes[b].depth {
		return t.nodes[a].depth < t.nodes[b].depth
	}
	return a < b
}

// rank sorts ids best first.
func (t *tree) rank(ids []int) {
	sort.SliceStable(ids, func(i, j int) bool { return t.better(ids[i], ids[j]) })
}

// best returns the winning node: the best terminal node if any exists,
// otherwise the best leaf. ok is false when the tree holds only the root.
func (t *tree) best() (id int, terminal bool, ok bool) {
	var terminals, leaves []int
	for i := 1; i < len(t.nodes); i++ {
		switch {
		case t.nodes[i].terminal:
			terminals = append(terminals, i)
		case len(t.nodes[i].children) == 0:
			leaves = append(leaves, i)
		}
	}
	pick := terminals
	if len(pick) == 0 {
		pick = leaves
	}
	if len(pick) == 0 {
		return 0, false, false
	}
	t.rank(pick)
	return pick[0], len(terminals) > 0, true
}

func (t *tree) maxDepth() int {
	d := 0
	for _, n := range t.nodes {
		if n.depth > d {
			d = n.depth
		}
	}
	return d
}
