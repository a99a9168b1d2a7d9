package explainers

import (
	"context"
	"log"

	"github.com/dejo1307/envmap/internal/graph"
)

// Synthesize runs exps in order and concatenates their insights. An explainer
// that fails is logged and skipped. When nothing fires, the result is exactly
// one low-severity fallback insight. The returned names are the explainers
// that ran successfully.
func Synthesize(ctx context.Context, in *Input, exps []Explainer) ([]graph.Insight, []string, error) {
	var (
		all   []graph.Insight
		names []string
	)
	for _, exp := range exps {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		insights, err := exp.Explain(ctx, in)
		if err != nil {
			log.Printf("[explainers] %s error: %v", exp.Name(), err)
			continue
		}
		all = append(all, insights...)
		names = append(names, exp.Name())
	}
	if len(all) == 0 {
		all = append(all, Fallback())
	}
	return all, names, nil
}

// Fallback is the insight reported for a fleet with no systemic risk.
func Fallback() graph.Insight {
	return graph.Insight{Severity: graph.InsightLow, Text: FallbackText}
}
