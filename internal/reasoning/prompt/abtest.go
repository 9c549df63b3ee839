package prompt

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/kubilitics/kubilitics-reasoner/internal/metrics"
)

// Z-test variance policies.
const (
	VariancePooled   = "pooled"
	VarianceUnpooled = "unpooled"
)

type abTest struct {
	mu sync.Mutex
	ABTest
	served int64
}

// CreateABTest starts a test between two registered templates and returns its id.
func (f *Framework) CreateABTest(ctx context.Context, templateA, templateB string) (string, error) {
	if templateA == templateB {
		return "", fmt.Errorf("a/b test needs two distinct templates, got %s twice", templateA)
	}
	for _, id := range []string{templateA, templateB} {
		if _, ok := f.lookup(id); !ok {
			return "", fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
		}
	}

	f.mu.Lock()
	for _, id := range []string{templateA, templateB} {
		if other, busy := f.active[id]; busy {
			f.mu.Unlock()
			return "", fmt.Errorf("template %s already takes part in active a/b test %s", id, other)
		}
	}
	t := &abTest{ABTest: ABTest{
		ID:        uuid.NewString(),
		TemplateA: templateA,
		TemplateB: templateB,
		SplitA:    f.cfg.TrafficSplit,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}}
	f.tests[t.ID] = t
	f.active[templateA] = t.ID
	f.active[templateB] = t.ID
	f.mu.Unlock()

	f.logger.Info("a/b test created",
		zap.String("test_id", t.ID),
		zap.String("template_a", templateA),
		zap.String("template_b", templateB),
		zap.Float64("split_a", t.SplitA))
	return t.ID, f.saveTest(ctx, t)
}

// StopABTest deactivates a test; its samples remain queryable.
func (f *Framework) StopABTest(ctx context.Context, testID string) error {
	t, err := f.test(testID)
	if err != nil {
		return err
	}
	f.mu.Lock()
	t.mu.Lock()
	t.Active = false
	t.mu.Unlock()
	for _, id := range []string{t.TemplateA, t.TemplateB} {
		if f.active[id] == testID {
			delete(f.active, id)
		}
	}
	f.mu.Unlock()
	return f.saveTest(ctx, t)
}

func (f *Framework) test(testID string) (*abTest, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	t, ok := f.tests[testID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrABTestNotFound, testID)
	}
	return t, nil
}

// ABTests lists all tests.
func (f *Framework) ABTests() []ABTest {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]ABTest, 0, len(f.tests))
	for _, t := range f.tests {
		t.mu.Lock()
		out = append(out, t.ABTest)
		t.mu.Unlock()
	}
	return out
}

// route assigns a variant when templateID takes part in an active test. The
// n-th request goes to B exactly when floor(n*splitB) advances, which keeps
// the realized split within one request of the target.
func (f *Framework) route(templateID string) (testID, variant, routed string, ok bool) {
	f.mu.RLock()
	id, busy := f.active[templateID]
	t := f.tests[id]
	f.mu.RUnlock()
	if !busy || t == nil {
		return "", "", "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.served++
	splitB := 1 - t.SplitA
	if math.Floor(float64(t.served)*splitB) > math.Floor(float64(t.served-1)*splitB) {
		return t.ID, VariantB, t.TemplateB, true
	}
	return t.ID, VariantA, t.TemplateA, true
}

// RecordABTestResult adds a score in [0,1] to one variant.
func (f *Framework) RecordABTestResult(ctx context.Context, testID, variant string, score float64) error {
	t, err := f.test(testID)
	if err != nil {
		return err
	}
	if math.IsNaN(score) {
		return fmt.Errorf("a/b score for test %s is NaN", testID)
	}
	score = math.Max(0, math.Min(1, score))
	t.mu.Lock()
	switch strings.ToUpper(variant) {
	case VariantA:
		t.A.add(score)
	case VariantB:
		t.B.add(score)
	default:
		t.mu.Unlock()
		return fmt.Errorf("unknown a/b variant %q (want A or B)", variant)
	}
	t.mu.Unlock()
	return f.saveTest(ctx, t)
}

// GetABTestResult evaluates a test with a two-proportion z-test.
func (f *Framework) GetABTestResult(testID string) (ABResult, error) {
	t, err := f.test(testID)
	if err != nil {
		return ABResult{}, err
	}
	t.mu.Lock()
	a, b := t.A, t.B
	t.mu.Unlock()

	res := ABResult{
		TestID:   testID,
		MeanA:    a.Mean(),
		MeanB:    b.Mean(),
		SamplesA: a.N,
		SamplesB: b.N,
	}
	need := int64(f.cfg.MinSamples)
	res.Sufficient = a.N >= need && b.N >= need
	if a.N == 0 || b.N == 0 {
		return res, nil
	}
	res.ZScore, res.ConfidenceLevel = zTest(a, b, f.cfg.Variance == VarianceUnpooled)
	if res.Sufficient && res.ConfidenceLevel >= f.cfg.SignificanceLevel && res.MeanA != res.MeanB {
		res.Winner = VariantA
		if res.MeanB > res.MeanA {
			res.Winner = VariantB
		}
		metrics.ABTestVerdicts.WithLabelValues(res.Winner).Inc()
	}
	return res, nil
}

// zTest returns the z statistic for p_A - p_B and the two-sided confidence
// level 2*Phi(|z|) - 1.
func zTest(a, b VariantStats, unpooled bool) (float64, float64) {
	n1, n2 := float64(a.N), float64(b.N)
	p1, p2 := a.Mean(), b.Mean()
	var se float64
	if unpooled {
		se = math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	} else {
		p := (a.Sum + b.Sum) / (n1 + n2)
		se = math.Sqrt(p * (1 - p) * (1/n1 + 1/n2))
	}
	diff := p1 - p2
	if se == 0 {
		if diff == 0 {
			return 0, 0
		}
		return math.Copysign(math.Inf(1), diff), 1
	}
	z := diff / se
	return z, 2*distuv.UnitNormal.CDF(math.Abs(z)) - 1
}

func (f *Framework) saveTest(ctx context.Context, t *abTest) error {
	if f.store == nil {
		return nil
	}
	t.mu.Lock()
	snap := t.ABTest
	t.mu.Unlock()
	if err := f.store.SaveABTest(ctx, snap); err != nil {
		return fmt.Errorf("save a/b test %s: %w", snap.ID, err)
	}
	return nil
}
