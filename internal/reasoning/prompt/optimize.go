package prompt

import (
	"context"
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
)

// OptimizeTemplate runs one local-search pass over the template's variables.
// Each variable moves to the best candidate value whose arm has at least
// MinSamples outcomes and beats the current value. A changed template gets a
// new version and fresh statistics, so the next pass needs new evidence.
func (f *Framework) OptimizeTemplate(ctx context.Context, templateID string) (Template, error) {
	e, ok := f.lookup(templateID)
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	snap := e.cur.Load()
	uses := e.stats.Load().Uses
	if uses < int64(f.cfg.MinSamples) {
		return Template{}, fmt.Errorf("%w: template %s has %d uses, optimization needs %d",
			ErrInsufficientSamples, templateID, uses, f.cfg.MinSamples)
	}

	next := snap.t
	next.Variables = make(map[string]string, len(snap.t.Variables))
	for k, v := range snap.t.Variables {
		next.Variables[k] = v
	}
	names := make([]string, 0, len(snap.t.Candidates))
	for k := range snap.t.Candidates {
		names = append(names, k)
	}
	sort.Strings(names)

	var changed []string
	var rates []float64
	for _, name := range names {
		current := next.Variables[name]
		best, bestStats := current, *e.arm(armKey(name, current)).Load()
		for _, cand := range snap.t.Candidates[name] {
			s := *e.arm(armKey(name, cand)).Load()
			if s.Uses < int64(f.cfg.MinSamples) {
				continue
			}
			rates = append(rates, s.AvgSuccessRate)
			if cand != best && s.better(bestStats) {
				best, bestStats = cand, s
			}
		}
		if best != current {
			next.Variables[name] = best
			changed = append(changed, name)
		}
	}
	if len(changed) == 0 {
		t := snap.t
		t.Stats = *e.stats.Load()
		return t, nil
	}

	next.Version = snap.t.Version + 1
	s, err := parse(next)
	if err != nil {
		return Template{}, err
	}
	if !e.cur.CompareAndSwap(snap, s) {
		return Template{}, fmt.Errorf("template %s changed during optimization", templateID)
	}
	e.stats.Store(&PerformanceStats{})
	metrics.TemplateOptimizations.WithLabelValues(templateID).Inc()

	median, _ := stats.Median(rates)
	f.logger.Info("template optimized",
		zap.String("template_id", templateID),
		zap.Int("version", next.Version),
		zap.Strings("variables", changed),
		zap.Float64("median_arm_success_rate", median))

	if err := f.save(ctx, templateID); err != nil {
		return Template{}, err
	}
	return s.t, nil
}
