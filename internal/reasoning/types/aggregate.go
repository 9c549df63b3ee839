package types

// DefaultDiscardThreshold excludes near-zero confidence steps from the default aggregate.
const DefaultDiscardThreshold = 0.1

// Weighted is one (value, weight) pair for WeightedMean.
type Weighted struct {
	Value  float64
	Weight float64
}

// WeightedMean reduces (value, weight) pairs to their weighted average in [0, 1].
// Non-positive weights are ignored; an empty input yields 0.
func WeightedMean(pairs []Weighted) float64 {
	var sum, total float64
	for _, p := range pairs {
		if p.Weight <= 0 {
			continue
		}
		sum += Clamp01(p.Value) * p.Weight
		total += p.Weight
	}
	if total == 0 {
		return 0
	}
	return Clamp01(sum / total)
}

// WeightFunc assigns an aggregation weight to the step at index i of n.
type WeightFunc func(i, n int, s Step) float64

// UniformWeight weights every step equally.
func UniformWeight(int, int, Step) float64 { return 1 }

// FinalStepWeight weights the last step 1.5 when it is final, others 1.
func FinalStepWeight(i, n int, s Step) float64 {
	if i == n-1 && s.Final {
		return 1.5
	}
	return 1
}

// Aggregate computes the overall confidence of a step sequence. Steps below
// discardBelow are excluded unless that would exclude every step.
func Aggregate(steps []Step, discardBelow float64, weight WeightFunc) float64 {
	if weight == nil {
		weight = UniformWeight
	}
	n := len(steps)
	pairs := make([]Weighted, 0, n)
	for i, s := range steps {
		if s.Confidence < discardBelow {
			continue
		}
		pairs = append(pairs, Weighted{Value: s.Confidence, Weight: weight(i, n, s)})
	}
	if len(pairs) == 0 {
		for i, s := range steps {
			pairs = append(pairs, Weighted{Value: s.Confidence, Weight: weight(i, n, s)})
		}
	}
	return WeightedMean(pairs)
}
