package tot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-reasoner/internal/llm"
	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/cot"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/prompt"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/validation"
)

// expansion is the outcome of asking the oracle for a node's children.
type expansion struct {
	steps []types.Step
	gen   prompt.Generated
	err   error
	// fatal errors end the whole search rather than pruning one node.
	fatal bool
}

// request describes one expansion; it is captured before any goroutine
// starts so workers never read the arena.
type request struct {
	parent  int
	input   any
	prev    *types.Step
	history []string
	want    int
}

func (sr *search) request(parent, want int) request {
	n := sr.t.nodes[parent]
	rq := request{parent: parent, input: n.step.Output, history: sr.t.history(parent), want: want}
	if parent != root {
		prev := n.step
		rq.prev = &prev
	}
	return rq
}

// expand asks the oracle for up to rq.want alternatives and validates them.
// Unparsable or fully invalid responses are retried up to GenerationRetries.
func (s *Strategy) expand(ctx context.Context, sr *search, rq request) expansion {
	pc := prompt.BuildContext(sr.problem.Statement, validation.ProblemTypeGeneral, prompt.ReasoningTree,
		sr.problem.Knowledge, rq.history, s.cfg.MaxContextTokens)
	pc.Alternatives = rq.want

	var last error
	for attempt := 0; attempt <= s.cfg.GenerationRetries; attempt++ {
		gen, err := s.prompts.GeneratePrompt(pc)
		if err != nil {
			return expansion{err: fmt.Errorf("render expansion prompt: %w", err), fatal: true}
		}
		if err := sr.sem.Acquire(ctx, 1); err != nil {
			return expansion{gen: gen, err: err, fatal: true}
		}
		resp, err := s.oracle.Generate(ctx, gen.Prompt, llm.GenerateOptions{Temperature: s.cfg.Temperature, MaxTokens: s.cfg.MaxTokens})
		sr.sem.Release(1)
		if err != nil {
			s.prompts.RecordOutcome(gen, 0, false)
			if fatal(ctx, err) {
				return expansion{gen: gen, err: err, fatal: true}
			}
			last = err
			continue
		}

		drafts, err := cot.ParseDrafts(resp, rq.want)
		if err != nil {
			s.prompts.RecordOutcome(gen, 0, false)
			last = err
			pc.Guidance = []string{fmt.Sprintf("Respond with a JSON array of %d step objects.", rq.want)}
			continue
		}

		steps, issues := s.children(rq, drafts)
		if len(steps) == 0 {
			s.prompts.RecordOutcome(gen, 0, false)
			last = fmt.Errorf("all %d alternatives failed validation: %s", len(drafts), strings.Join(issues, "; "))
			pc.Guidance = issues
			continue
		}
		var sum float64
		for _, st := range steps {
			sum += st.Confidence
		}
		s.prompts.RecordOutcome(gen, sum/float64(len(steps)), true)
		return expansion{steps: steps, gen: gen}
	}
	s.logger.Debug("node pruned",
		zap.String("question_id", sr.problem.ID),
		zap.Int("node", rq.parent),
		zap.Error(last))
	return expansion{err: last}
}

// children converts drafts to steps, dropping those that fail validation.
func (s *Strategy) children(rq request, drafts []cot.Draft) ([]types.Step, []string) {
	var out []types.Step
	var issues []string
	for _, d := range drafts {
		st := types.Step{
			Description: d.Description,
			Reasoning:   d.Reasoning,
			Input:       rq.input,
			Output:      d.Output,
			Confidence:  types.Clamp01(d.Confidence),
			ProblemType: validation.ProblemTypeGeneral,
			Final:       d.Final,
		}
		vr := s.validator.ValidateStep(st)
		if vr.IsValid && rq.prev != nil {
			tr := s.validator.ValidateTransition(*rq.prev, st)
			vr.IsValid = tr.IsValid
			vr.Issues = append(vr.Issues, tr.Issues...)
			vr.Suggestions = append(vr.Suggestions, tr.Suggestions...)
		}
		st.Validation = &vr
		if !vr.IsValid {
			metrics.ValidationFailures.WithLabelValues(st.ProblemType).Inc()
			issues = append(issues, vr.Issues...)
			continue
		}
		out = append(out, st)
	}
	return out, issues
}

// expandAll expands several nodes concurrently. Results come back in the
// order of ids so node discovery order stays deterministic.
func (s *Strategy) expandAll(sr *search, ids []int) []expansion {
	reqs := make([]request, 0, len(ids))
	left := sr.cfg.MaxNodes - sr.t.size()
	for _, id := range ids {
		want := sr.cfg.MaxBranchingFactor
		if left < want {
			want = left
		}
		if want <= 0 {
			break
		}
		left -= want
		reqs = append(reqs, sr.request(id, want))
	}

	out := make([]expansion, len(reqs))
	g, ctx := errgroup.WithContext(sr.ctx)
	for i, rq := range reqs {
		i, rq := i, rq
		g.Go(func() error {
			out[i] = s.expand(ctx, sr, rq)
			if out[i].fatal {
				return out[i].err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && sr.abort == nil {
		sr.abort = err
	}
	return out
}
