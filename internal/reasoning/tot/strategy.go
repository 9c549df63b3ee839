// Package tot implements Tree-of-Thoughts reasoning: a bounded search over
// alternative oracle-generated steps.
//
// The tree is an arena owned by a single invocation. Nodes refer to their
// parent and children by index, so no node outlives the search and
// backtracking is a matter of walking parent indices.
//
// Search algorithms:
//   - BFS: expands nodes level by level in discovery order
//   - DFS: expands the most recently discovered node first
//   - BEAM: expands the whole beam concurrently, keeps the best beam_width children
//   - A*: always expands the highest-scoring open node
//
// The root counts toward max_nodes. Oracle calls are capped by a weighted
// semaphore whose size defaults to the beam width.
package tot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

// Search algorithms.
const (
	AlgBFS   = "BFS"
	AlgDFS   = "DFS"
	AlgBeam  = "BEAM"
	AlgAStar = "A*"
)

// Config bounds the search.
type Config struct {
	MaxDepth           int
	MaxBranchingFactor int
	MaxNodes           int
	BeamWidth          int
	Algorithm          string
	Evaluation         string
	EnableBacktracking bool
	// ReserveSize bounds the pruned nodes kept for backtracking.
	ReserveSize int
	// Concurrency caps in-flight oracle calls; 0 means BeamWidth.
	Concurrency int
	TieBreak    string
	// GenerationRetries is how often a failed expansion is retried before
	// the node is pruned.
	GenerationRetries int
	Temperature       float32
	MaxTokens         int
	MaxContextTokens  int
}

// DefaultConfig returns the search defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:           5,
		MaxBranchingFactor: 3,
		MaxNodes:           50,
		BeamWidth:          3,
		Algorithm:          AlgBeam,
		Evaluation:         EvalHybrid,
		EnableBacktracking: false,
		ReserveSize:        16,
		TieBreak:           TieShorterThenEarlier,
		GenerationRetries:  1,
		Temperature:        0.7,
		MaxTokens:          1024,
		MaxContextTokens:   2000,
	}
}

// Strategy is the Tree-of-Thoughts strategy.
type Strategy struct {
	oracle    llm.Oracle
	prompts   prompt.Generator
	validator *validation.Validator
	cfg       Config
	logger    *zap.Logger
}

// New creates the strategy. Zero config fields take their defaults.
func New(oracle llm.Oracle, prompts prompt.Generator, v *validation.Validator, cfg Config, logger *zap.Logger) *Strategy {
	if v == nil {
		v = validation.New(validation.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if prompts == nil {
		f, err := prompt.NewFramework(prompt.DefaultConfig())
		if err != nil {
			panic(fmt.Sprintf("built-in prompt pack: %v", err))
		}
		prompts = f
	}
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxBranchingFactor <= 0 {
		cfg.MaxBranchingFactor = def.MaxBranchingFactor
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = def.MaxNodes
	}
	if cfg.BeamWidth <= 0 {
		cfg.BeamWidth = def.BeamWidth
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.Evaluation == "" {
		cfg.Evaluation = def.Evaluation
	}
	if cfg.ReserveSize <= 0 {
		cfg.ReserveSize = def.ReserveSize
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = def.TieBreak
	}
	if cfg.GenerationRetries < 0 {
		cfg.GenerationRetries = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Strategy{oracle: oracle, prompts: prompts, validator: v, cfg: cfg, logger: logger}
}

func (s *Strategy) Kind() types.StrategyKind { return types.StrategyTreeOfThoughts }

// CanHandle is always true: tree search is a generic strategy.
func (s *Strategy) CanHandle(string) bool { return true }

func (s *Strategy) Reset() {}

// search is the state of one invocation.
type search struct {
	ctx     context.Context
	problem types.Problem
	cfg     Config
	t       *tree
	sem     *semaphore.Weighted

	reserve   []int
	revisits  int
	pruned    int
	exhausted bool // max_nodes reached
	abort     error
}

// resolve applies per-request overrides to the strategy config.
func (s *Strategy) resolve(rc types.RequestConfig) Config {
	cfg := s.cfg
	cfg.MaxDepth = types.IntOr(rc.MaxDepth, cfg.MaxDepth)
	cfg.MaxBranchingFactor = types.IntOr(rc.MaxBranchingFactor, cfg.MaxBranchingFactor)
	cfg.MaxNodes = types.IntOr(rc.MaxNodes, cfg.MaxNodes)
	cfg.BeamWidth = types.IntOr(rc.BeamWidth, cfg.BeamWidth)
	cfg.EnableBacktracking = types.BoolOr(rc.EnableBacktracking, cfg.EnableBacktracking)
	if rc.SearchAlgorithm != "" {
		cfg.Algorithm = rc.SearchAlgorithm
	}
	if rc.EvaluationStrategy != "" {
		cfg.Evaluation = rc.EvaluationStrategy
	}
	return cfg
}

// Reason searches the tree and returns the best root-to-leaf path.
func (s *Strategy) Reason(ctx context.Context, p types.Problem) *types.Result {
	cfg := s.resolve(p.Config)
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = cfg.BeamWidth
	}
	sr := &search{
		ctx:     ctx,
		problem: p,
		cfg:     cfg,
		t:       newTree(p.Statement, cfg.Evaluation, cfg.TieBreak),
		sem:     semaphore.NewWeighted(int64(limit)),
	}

	switch cfg.Algorithm {
	case AlgBFS:
		s.bfs(sr)
	case AlgDFS:
		s.dfs(sr)
	case AlgAStar:
		s.astar(sr)
	default:
		s.beam(sr)
	}

	metrics.TreeNodesExplored.WithLabelValues(cfg.Algorithm).Observe(float64(sr.t.size()))
	res := s.collect(sr)
	s.logger.Debug("tree-of-thoughts finished",
		zap.String("question_id", p.ID),
		zap.String("algorithm", cfg.Algorithm),
		zap.Int("nodes", sr.t.size()),
		zap.Bool("success", res.Success),
		zap.Float64("confidence", res.OverallConfidence))
	return res
}

// collect turns the explored tree into a result.
func (s *Strategy) collect(sr *search) *types.Result {
	res := types.NewResult(types.StrategyTreeOfThoughts)
	res.SetMeta("algorithm", sr.cfg.Algorithm)
	res.SetMeta("evaluation", sr.cfg.Evaluation)
	res.SetMeta("nodes_explored", sr.t.size())
	res.SetMeta("max_depth_reached", sr.t.maxDepth())
	res.SetMeta("pruned", sr.pruned)
	res.SetMeta("reserve_revisits", sr.revisits)

	id, terminal, ok := sr.t.best()
	if ok {
		n := sr.t.nodes[id]
		res.Steps = sr.t.path(id)
		res.OverallConfidence = n.score
		res.FinalPrompt, res.TemplateID = n.gen.Prompt, n.gen.TemplateID
		for _, st := range res.Steps {
			if st.Confidence < s.validator.Config().MinConfidence {
				res.AddIssue(types.KindLowConfidence, "step %d (%s) has confidence %.2f", st.ID, st.Description, st.Confidence)
			}
		}
		if terminal {
			res.Success = true
			res.FinalAnswer = n.step.Output
		}
	}

	switch {
	case res.Success:
	case sr.abort != nil && types.KindOf(sr.abort) == types.KindTimeout:
		res.Fail(types.KindTimeout, "search interrupted after %d node(s): %v", sr.t.size(), sr.abort)
	case sr.abort != nil:
		res.Fail(types.KindStepGeneration, "search aborted: %v", sr.abort)
	case !ok && !sr.exhausted:
		res.Fail(types.KindStepGeneration, "no candidate step could be generated for the root")
	default:
		res.Fail(types.KindSearchBudget,
			"no terminal node within max_depth=%d, max_nodes=%d (%d explored); returning the best partial path",
			sr.cfg.MaxDepth, sr.cfg.MaxNodes, sr.t.size())
	}
	res.Normalize()
	return res
}

// stopped reports whether the search must end.
func (sr *search) stopped() bool {
	if sr.abort != nil || sr.exhausted {
		return true
	}
	if err := sr.ctx.Err(); err != nil {
		sr.abort = err
		return true
	}
	return false
}

// expandable reports whether id may receive children.
func (sr *search) expandable(id int) bool {
	n := sr.t.nodes[id]
	return !n.terminal && n.depth < sr.cfg.MaxDepth && len(n.children) == 0
}

// attach adds validated drafts as children of parent, respecting max_nodes.
// It returns the new node ids and whether any of them is terminal.
func (s *Strategy) attach(sr *search, parent int, ex expansion) ([]int, bool) {
	if ex.err != nil {
		sr.pruned++
		if ex.fatal && sr.abort == nil {
			sr.abort = ex.err
		}
		return nil, false
	}
	var ids []int
	var terminal bool
	for _, st := range ex.steps {
		if sr.t.size() >= sr.cfg.MaxNodes {
			sr.exhausted = true
			break
		}
		id := sr.t.add(parent, st, st.Final, ex.gen)
		ids = append(ids, id)
		terminal = terminal || st.Final
		sr.problem.Emit(types.StrategyTreeOfThoughts, sr.t.nodes[id].step)
	}
	if sr.t.size() >= sr.cfg.MaxNodes {
		sr.exhausted = true
	}
	if len(ids) == 0 && !sr.exhausted {
		sr.pruned++
	}
	return ids, terminal
}

// budget is the number of children the next expansion may request.
func (sr *search) budget() int {
	left := sr.cfg.MaxNodes - sr.t.size()
	if left < sr.cfg.MaxBranchingFactor {
		return left
	}
	return sr.cfg.MaxBranchingFactor
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil || types.KindOf(err) == types.KindTimeout ||
		llm.IsPermanent(err) || errors.Is(err, llm.ErrBudgetExceeded)
}
