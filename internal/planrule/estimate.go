package planrule

import (
	"fmt"
	"math"

	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

type cardinalityMismatch struct {
	rule.Meta
	high, low float64
}

func (r cardinalityMismatch) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.PlanRows == nil {
		return nil, nil
	}
	actual, ok := n.TotalActualRows()
	if !ok || actual <= 0 || *n.PlanRows <= 0 {
		return nil, nil
	}
	ratio := *n.PlanRows / actual
	if ratio <= r.high && ratio >= r.low {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("%s estimated %.0f rows but produced %.0f", n.NodeType, *n.PlanRows, actual), target(n)).
		With("plan_rows", *n.PlanRows).
		With("actual_rows", actual).
		With("ratio", ratio).
		With("recommendation", "refresh statistics or raise the statistics target on the involved columns"), nil
}

type actualVsEstimatedLargeDiff struct {
	rule.Meta
	high, low float64
}

func (r actualVsEstimatedLargeDiff) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.PlanRows == nil || n.ActualRows == nil {
		return nil, nil
	}
	ratio := math.Max(*n.ActualRows, 1) / math.Max(*n.PlanRows, 1)
	if ratio <= r.high && ratio >= r.low {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("actual rows differ from the estimate by %.2fx", ratio), target(n)).
		With("ratio", ratio).
		With("recommendation", "check for correlated predicates and consider CREATE STATISTICS"), nil
}
