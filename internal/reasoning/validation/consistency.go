package validation

import (
	"encoding/json"
	"math"
	"reflect"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/kubilitics/kubilitics-reasoner/internal/reasoning/types"
)

// Derivable is implemented by step inputs that can state whether they were
// derived from a previous output.
type Derivable interface {
	DerivesFrom(prev any) bool
}

// Consistent reports whether next equals, or is derivable from, prev.
// Numbers compare within a relative tolerance; strings compare after
// whitespace and case normalization, and a string containing the previous
// output counts as derived from it.
func Consistent(prev, next any, tol float64) bool {
	if d, ok := next.(Derivable); ok && d.DerivesFrom(prev) {
		return true
	}
	if a, ok := toFloat(prev); ok {
		if b, ok := toFloat(next); ok {
			return math.Abs(a-b) <= tol*math.Max(1, math.Abs(a))
		}
	}
	if a, ok := prev.(string); ok {
		if b, ok := next.(string); ok {
			na, nb := normalize(a), normalize(b)
			return na == nb || (na != "" && strings.Contains(nb, na))
		}
	}
	return reflect.DeepEqual(prev, next)
}

// ConfidenceOutliers returns the ids of steps whose confidence lies more than
// k sample standard deviations below the chain mean. Chains shorter than three
// steps have no outliers.
func ConfidenceOutliers(steps []types.Step, k float64) []int {
	if len(steps) < 3 {
		return nil
	}
	data := make(stats.Float64Data, len(steps))
	for i, s := range steps {
		data[i] = s.Confidence
	}
	mean, err := stats.Mean(data)
	if err != nil {
		return nil
	}
	sd, err := stats.StandardDeviationSample(data)
	if err != nil || sd == 0 {
		return nil
	}
	var ids []int
	for _, s := range steps {
		if s.Confidence < mean-k*sd {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

func isNumeric(v any) bool {
	_, ok := toFloat(v)
	return ok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
