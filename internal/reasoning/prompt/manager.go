package prompt

import (
	"context"
	"errors"
	"time"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Package prompt provides the prompt engineering framework used by every
// reasoning strategy.
//
// Responsibilities:
//   - Store templates with named placeholders and domain tags
//   - Select the best-performing template for a reasoning type
//   - Render prompts from a PromptContext
//   - Track per-template performance statistics without a global lock
//   - Optimize template variables by local search over recorded outcomes
//   - Run A/B tests between two templates with a fixed traffic split
//
// Template Selection:
//   The template with the highest average success rate whose domain tags
//   contain the context's reasoning type wins. Registration order breaks
//   ties. When nothing matches, the "generic" template is used.
//
// Performance Statistics:
//   Each template holds an immutable stats snapshot behind an atomic
//   pointer. Outcomes are merged with compare-and-swap, so concurrent
//   reasoning calls reporting on the same template never lose an update.
//
// Optimization:
//   Templates declare variables with a current value and candidate values.
//   Every ExploreEvery-th render swaps one under-sampled candidate in, and
//   outcomes are credited to each (variable, value) arm. OptimizeTemplate
//   only alters a template once it has MinSamples uses, and only moves a
//   variable to a candidate that itself has MinSamples samples.
//
// A/B Testing:
//   A template taking part in an active test is routed through the test's
//   split by a deterministic counter. The winner is decided by a
//   two-proportion z-test on mean scores at SignificanceLevel. Fewer than
//   MinSamples observations on either side yields no winner.

var (
	// ErrTemplateNotFound is returned for unknown template ids.
	ErrTemplateNotFound = errors.New("prompt template not found")
	// ErrInsufficientSamples is returned when an operation needs more recorded uses.
	ErrInsufficientSamples = errors.New("insufficient samples")
	// ErrABTestNotFound is returned for unknown A/B test ids.
	ErrABTestNotFound = errors.New("a/b test not found")
)

// GenericTemplateID is the fallback template used when no tag matches.
const GenericTemplateID = "generic"

// Variant names.
const (
	VariantA = "A"
	VariantB = "B"
)

// Generator renders prompts and receives outcome feedback. Strategies depend
// on this interface only.
type Generator interface {
	// GeneratePrompt selects a template for the context and renders it.
	GeneratePrompt(pc types.PromptContext) (Generated, error)

	// RecordOutcome feeds the result of a rendered prompt back into template
	// statistics, optimizer arms and any A/B test the prompt was routed through.
	RecordOutcome(gen Generated, confidence float64, success bool)
}

// Store persists templates and A/B tests.
type Store interface {
	SaveTemplate(ctx context.Context, t Template) error
	LoadTemplates(ctx context.Context) ([]Template, error)
	SaveABTest(ctx context.Context, t ABTest) error
	LoadABTests(ctx context.Context) ([]ABTest, error)
}

// Template is a prompt body with named placeholders.
type Template struct {
	ID         string              `yaml:"id" json:"template_id"`
	Body       string              `yaml:"body" json:"body"`
	DomainTags []string            `yaml:"domain_tags" json:"domain_tags"`
	Variables  map[string]string   `yaml:"variables,omitempty" json:"variables,omitempty"`
	Candidates map[string][]string `yaml:"candidates,omitempty" json:"candidates,omitempty"`
	Version    int                 `yaml:"version,omitempty" json:"version"`
	Stats      PerformanceStats    `yaml:"-" json:"performance_stats"`
}

// HasTag reports whether the template is tagged with tag.
func (t Template) HasTag(tag string) bool {
	for _, d := range t.DomainTags {
		if d == tag {
			return true
		}
	}
	return false
}

// PerformanceStats are running averages over recorded outcomes.
type PerformanceStats struct {
	Uses           int64     `json:"uses"`
	AvgConfidence  float64   `json:"avg_confidence"`
	AvgSuccessRate float64   `json:"avg_success_rate"`
	LastUsed       time.Time `json:"last_used,omitempty"`
}

// merge returns the stats with one more outcome folded in.
func (s PerformanceStats) merge(confidence float64, success bool) PerformanceStats {
	n := float64(s.Uses + 1)
	hit := 0.0
	if success {
		hit = 1
	}
	return PerformanceStats{
		Uses:           s.Uses + 1,
		AvgConfidence:  s.AvgConfidence + (types.Clamp01(confidence)-s.AvgConfidence)/n,
		AvgSuccessRate: s.AvgSuccessRate + (hit-s.AvgSuccessRate)/n,
		LastUsed:       time.Now().UTC(),
	}
}

// better orders stats by success rate, then confidence.
func (s PerformanceStats) better(o PerformanceStats) bool {
	if s.AvgSuccessRate != o.AvgSuccessRate {
		return s.AvgSuccessRate > o.AvgSuccessRate
	}
	return s.AvgConfidence > o.AvgConfidence
}

// Generated is one rendered prompt and the routing that produced it.
type Generated struct {
	Prompt     string            `json:"generated_prompt"`
	TemplateID string            `json:"template_id"`
	Version    int               `json:"version"`
	Assignment map[string]string `json:"assignment,omitempty"`
	TestID     string            `json:"test_id,omitempty"`
	Variant    string            `json:"variant,omitempty"`
}

// ABTest is a fixed-split comparison of two templates.
type ABTest struct {
	ID        string       `json:"test_id"`
	TemplateA string       `json:"template_a"`
	TemplateB string       `json:"template_b"`
	SplitA    float64      `json:"split_a"`
	Active    bool         `json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	A         VariantStats `json:"a"`
	B         VariantStats `json:"b"`
}

// VariantStats accumulates scores for one arm of a test.
type VariantStats struct {
	N     int64   `json:"n"`
	Sum   float64 `json:"sum"`
	SumSq float64 `json:"sum_sq"`
}

// Mean returns the mean score, or 0 with no samples.
func (v VariantStats) Mean() float64 {
	if v.N == 0 {
		return 0
	}
	return v.Sum / float64(v.N)
}

func (v *VariantStats) add(score float64) {
	v.N++
	v.Sum += score
	v.SumSq += score * score
}

// ABResult is the evaluation of a test. Winner is empty when the samples are
// insufficient or the difference is not significant.
type ABResult struct {
	TestID          string  `json:"test_id"`
	Winner          string  `json:"winner,omitempty"`
	ConfidenceLevel float64 `json:"confidence_level"`
	ZScore          float64 `json:"z_score"`
	MeanA           float64 `json:"mean_a"`
	MeanB           float64 `json:"mean_b"`
	SamplesA        int64   `json:"samples_a"`
	SamplesB        int64   `json:"samples_b"`
	Sufficient      bool    `json:"sufficient"`
}
