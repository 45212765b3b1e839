package planrule

import (
	"fmt"

	"github.com/mickamy/pgdiag/internal/analyzer"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

type highBufferReads struct {
	rule.Meta
	maxBlocks int64
}

func (r highBufferReads) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	reads := n.Buffers.ReadTotal()
	if reads <= r.maxBlocks {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("%s read %d blocks from outside shared buffers", n.NodeType, reads), target(n)).
		With("read_blocks", reads).
		With("recommendation", "narrow the scan with an index or a more selective predicate"), nil
}

type largeNumberOfLoops struct {
	rule.Meta
	maxLoops float64
}

func (r largeNumberOfLoops) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ActualLoops == nil || *n.ActualLoops <= r.maxLoops {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("%s executed %.0f times", n.NodeType, *n.ActualLoops), target(n)).
		With("loops", *n.ActualLoops).
		With("recommendation", "reduce the outer row count or switch to a set-based join"), nil
}

type materializeRescan struct {
	rule.Meta
}

func (r materializeRescan) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.Materialize || n.ActualLoops == nil || *n.ActualLoops <= 1 {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("materialized result rescanned %.0f times", *n.ActualLoops), target(n)).
		With("loops", *n.ActualLoops), nil
}

// planHotspot flags nodes that account for a large share of the plan's execution time.
type planHotspot struct {
	rule.Meta
	high, medium float64
}

func (r planHotspot) Evaluate(n *model.PlanNode, plan *model.ExplainRootPlan) (*rule.Finding, error) {
	if plan == nil || (n == plan.Root && len(n.Children) == 0) {
		return nil, nil
	}
	total := analyzer.PlanTime(plan)
	self, ok := analyzer.ExclusiveTime(n)
	if !ok || total <= 0 {
		return nil, nil
	}
	share := self / total
	var severity rule.Severity
	switch {
	case share >= r.high:
		severity = rule.SeverityHigh
	case share >= r.medium:
		severity = rule.SeverityMedium
	default:
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("%s accounts for %.1f%% of execution time", n.NodeType, share*100), target(n)).
		WithSeverity(severity).
		With("self_time_ms", self).
		With("share", share), nil
}

type slowStartupTime struct {
	rule.Meta
	maxMs float64
}

func (r slowStartupTime) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ActualStartupTime == nil || *n.ActualStartupTime <= r.maxMs {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("%s needed %.2f ms before returning its first row", n.NodeType, *n.ActualStartupTime), target(n)).
		With("startup_time_ms", *n.ActualStartupTime), nil
}
