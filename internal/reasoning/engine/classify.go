package engine

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// domainPriority orders the domain engines when several claim a problem.
var domainPriority = []types.StrategyKind{
	types.StrategyMathematical,
	types.StrategyLogical,
	types.StrategyCausal,
}

var reClause = regexp.MustCompile(`[.;:!?,]+|\s+(?:and|but|or|because|while|whereas|although|unless|so)\s+`)

// Complexity counts the words and clauses of a statement.
func Complexity(statement string) (words, clauses int) {
	words = len(strings.Fields(statement))
	for _, part := range reClause.Split(statement, -1) {
		if strings.TrimSpace(part) != "" {
			clauses++
		}
	}
	return words, clauses
}

// Classify returns the strategy AUTO mode would pick and whether it is a
// domain engine match.
func (r *Router) Classify(statement string) (types.StrategyKind, bool) {
	if kind, ok := r.matchDomain(statement); ok {
		return kind, true
	}
	return r.generic(statement), false
}

func (r *Router) matchDomain(statement string) (types.StrategyKind, bool) {
	for _, kind := range domainPriority {
		if s, ok := r.strategies[kind]; ok && s.CanHandle(statement) {
			return kind, true
		}
	}
	return "", false
}

// generic picks Tree-of-Thoughts for complex problems, Chain-of-Thought otherwise.
func (r *Router) generic(statement string) types.StrategyKind {
	words, clauses := Complexity(statement)
	if words > r.cfg.ComplexityWords || clauses > r.cfg.ComplexityClauses {
		if _, ok := r.strategies[types.StrategyTreeOfThoughts]; ok {
			return types.StrategyTreeOfThoughts
		}
	}
	return types.StrategyChainOfThought
}

// auto classifies the problem and falls back to a generic strategy when the
// chosen domain engine cannot parse it.
func (r *Router) auto(ctx context.Context, p types.Problem) *types.Result {
	kind, domain := r.Classify(p.Statement)
	var res *types.Result
	if domain {
		res = r.run(ctx, r.strategies[kind], p)
		res.SetMeta("selected_by", "classifier")
		if res.Success || res.ErrorKind != types.KindNoStrategy {
			return res
		}
		r.logger.Debug("domain engine declined, falling back",
			zap.String("question_id", p.ID),
			zap.String("engine", string(kind)),
			zap.String("reason", res.Error))
		declined := res.Error
		kind = r.generic(p.Statement)
		res = r.fallback(ctx, kind, p)
		res.SetMeta("declined_by", declined)
		return res
	}
	return r.fallback(ctx, kind, p)
}

// fallback runs a generic strategy. A failure without a single valid step
// means nothing could handle the problem.
func (r *Router) fallback(ctx context.Context, kind types.StrategyKind, p types.Problem) *types.Result {
	s, ok := r.strategies[kind]
	if !ok {
		return types.NewResult("").Fail(types.KindNoStrategy, "no domain engine matched and no %s strategy is registered", kind)
	}
	res := r.run(ctx, s, p)
	res.SetMeta("selected_by", "fallback")
	if !res.Success && len(res.Steps) == 0 && res.ErrorKind != types.KindTimeout {
		res.FinalAnswer = nil
		res.Fail(types.KindNoStrategy, "no strategy produced a valid step: %s", res.Error)
	}
	return res
}

// hybrid runs Chain-of-Thought and the matching domain engine concurrently.
// A successful result beats a failed one; among equals the higher overall
// confidence wins and ties go to the domain engine.
func (r *Router) hybrid(ctx context.Context, p types.Problem) *types.Result {
	cot, hasCoT := r.strategies[types.StrategyChainOfThought]
	kind, hasDomain := r.matchDomain(p.Statement)
	switch {
	case !hasDomain && !hasCoT:
		return types.NewResult(types.StrategyHybrid).Fail(types.KindNoStrategy, "hybrid mode needs a chain-of-thought strategy or a matching domain engine")
	case !hasDomain:
		res := r.run(ctx, cot, p)
		res.SetMeta("hybrid_candidates", []string{string(types.StrategyChainOfThought)})
		return res
	case !hasCoT:
		res := r.run(ctx, r.strategies[kind], p)
		res.SetMeta("hybrid_candidates", []string{string(kind)})
		return res
	}

	var domainRes, cotRes *types.Result
	var g errgroup.Group
	g.Go(func() error {
		domainRes = r.run(ctx, r.strategies[kind], p)
		return nil
	})
	g.Go(func() error {
		cotRes = r.run(ctx, cot, p)
		return nil
	})
	_ = g.Wait()

	winner, loser := domainRes, cotRes
	if prefer(cotRes, domainRes) {
		winner, loser = cotRes, domainRes
	}
	winner.SetMeta("hybrid_candidates", []string{string(kind), string(types.StrategyChainOfThought)})
	winner.SetMeta("hybrid_runner_up", map[string]any{
		"strategy":   string(loser.StrategyUsed),
		"success":    loser.Success,
		"confidence": loser.OverallConfidence,
	})
	return winner
}

// prefer reports whether a strictly beats b.
func prefer(a, b *types.Result) bool {
	if a.Success != b.Success {
		return a.Success
	}
	return a.OverallConfidence > b.OverallConfidence
}
