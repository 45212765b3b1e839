package planrule

import (
	"fmt"
	"strings"

	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

func workers(n *model.PlanNode) (planned, launched float64, ok bool, err error) {
	planned, okPlanned, err := number(n, "Workers Planned")
	if err != nil {
		return 0, 0, false, err
	}
	launched, okLaunched, err := number(n, "Workers Launched")
	if err != nil {
		return 0, 0, false, err
	}
	return planned, launched, okPlanned && okLaunched, nil
}

type noParallelWorkersLaunched struct {
	rule.Meta
}

func (r noParallelWorkersLaunched) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	planned, launched, ok, err := workers(n)
	if err != nil || !ok || planned <= 0 || launched != 0 {
		return nil, err
	}
	return rule.New(r, fmt.Sprintf("%s planned %.0f workers but none were launched", n.NodeType, planned), target(n)).
		With("workers_planned", planned).
		With("recommendation", "check max_parallel_workers and max_worker_processes"), nil
}

type workersLaunchedBelowPlanned struct {
	rule.Meta
}

func (r workersLaunchedBelowPlanned) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	planned, launched, ok, err := workers(n)
	if err != nil || !ok || launched <= 0 || launched >= planned {
		return nil, err
	}
	return rule.New(r, fmt.Sprintf("%s launched %.0f of %.0f planned workers", n.NodeType, launched, planned), target(n)).
		With("workers_planned", planned).
		With("workers_launched", launched).
		With("recommendation", "the worker pool was saturated; raise max_parallel_workers"), nil
}

type parallelSeqScanOnSmallTable struct {
	rule.Meta
	maxRows float64
}

func (r parallelSeqScanOnSmallTable) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	parallel := strings.Contains(n.NodeType, "Parallel Seq Scan")
	if !parallel && n.ShortType == model.SeqScan {
		parallel, _ = n.NodeSpecific.GetBool("Parallel Aware")
	}
	if !parallel || n.PlanRows == nil || *n.PlanRows >= r.maxRows {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("parallel sequential scan on %s for only %.0f rows", target(n), *n.PlanRows), n.Relation()).
		With("plan_rows", *n.PlanRows).
		With("recommendation", "worker startup outweighs the gain; raise min_parallel_table_scan_size"), nil
}

type parallelGatherUnderLimit struct {
	rule.Meta
	keepRatio float64
}

func (r parallelGatherUnderLimit) Evaluate(n *model.PlanNode, plan *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.Gather || n.PlanRows == nil || *n.PlanRows <= 0 {
		return nil, nil
	}
	parent := parentOf(plan, n)
	if parent == nil || parent.ShortType != model.Limit || parent.PlanRows == nil {
		return nil, nil
	}
	kept := *parent.PlanRows / *n.PlanRows
	if kept >= r.keepRatio {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("LIMIT keeps %.1f%% of the rows gathered from parallel workers", kept*100), target(n)).
		With("kept_ratio", kept).
		With("recommendation", "workers produce rows that are thrown away; consider disabling parallelism for this query"), nil
}
