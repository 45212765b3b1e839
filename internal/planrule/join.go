package planrule

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

var joinQualifiers = []string{"Index Cond", "Recheck Cond", "Hash Cond", "Merge Cond", "Filter", "Join Filter"}

type crossProductDetected struct {
	rule.Meta
}

func (r crossProductDetected) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.NestedLoop || n.NodeSpecific.Has("Join Filter") {
		return nil, nil
	}
	qualified := false
	for _, child := range n.Children {
		child.Walk(func(d *model.PlanNode) {
			for _, key := range joinQualifiers {
				if d.NodeSpecific.Has(key) {
					qualified = true
				}
			}
		})
	}
	if qualified {
		return nil, nil
	}
	var relations []string
	n.Walk(func(d *model.PlanNode) {
		if rel := d.Relation(); rel != "" {
			relations = append(relations, rel)
		}
	})
	slices.Sort(relations)
	return rule.New(r, "nested loop joins its inputs without any join condition (cartesian product)", relations...).
		With("recommendation", "add the missing join predicate or confirm the cross join is intended"), nil
}

type hashJoinWithSkew struct {
	rule.Meta
	factor float64
}

func (r hashJoinWithSkew) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.HashJoin {
		return nil, nil
	}
	outer, inner := innerOuter(n)
	if outer == nil || inner == nil {
		return nil, nil
	}
	outerRows, ok1 := rowsOf(outer)
	innerRows, ok2 := rowsOf(inner)
	if !ok1 || !ok2 || outerRows <= 0 || innerRows <= r.factor*outerRows {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("hash join builds its table from the larger input (%.0f rows vs %.0f probing)", innerRows, outerRows), target(inner), target(outer)).
		With("inner_rows", innerRows).
		With("outer_rows", outerRows).
		With("recommendation", "refresh statistics so the planner hashes the smaller side"), nil
}

type nestedLoopHeavyInner struct {
	rule.Meta
	minLoops  float64
	minTimeMs float64
}

func (r nestedLoopHeavyInner) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.NestedLoop {
		return nil, nil
	}
	_, inner := innerOuter(n)
	if inner == nil || inner.ActualLoops == nil || *inner.ActualLoops <= r.minLoops {
		return nil, nil
	}
	spent, ok := inner.InclusiveTime()
	if !ok || spent <= r.minTimeMs {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("inner side of nested loop ran %.0f times for %.2f ms in total", *inner.ActualLoops, spent), target(inner)).
		With("inner_loops", *inner.ActualLoops).
		With("inner_time_ms", spent).
		With("recommendation", "index the inner join key or let the planner choose a hash join"), nil
}

type nestedLoopOnLargeTables struct {
	rule.Meta
	minRows float64
}

func (r nestedLoopOnLargeTables) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.NestedLoop || n.PlanRows == nil || *n.PlanRows <= r.minRows {
		return nil, nil
	}
	var relations []string
	for _, child := range n.Children {
		if rel := child.Relation(); rel != "" {
			relations = append(relations, rel)
		}
	}
	slices.Sort(relations)
	return rule.New(r, fmt.Sprintf("nested loop expected to produce %.0f rows", *n.PlanRows), relations...).
		With("plan_rows", *n.PlanRows).
		With("recommendation", "a hash or merge join usually fits large inputs better"), nil
}

type correlatedSubqueryExec struct {
	rule.Meta
}

func (r correlatedSubqueryExec) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if !strings.Contains(n.NodeType, "Subquery Scan") && n.ParentRelationship != "SubPlan" {
		return nil, nil
	}
	if n.ActualLoops == nil || *n.ActualLoops <= 1 {
		return nil, nil
	}
	sub, _ := n.NodeSpecific.GetString("Subplan Name")
	return rule.New(r, fmt.Sprintf("subquery executed %.0f times, once per outer row", *n.ActualLoops), sub, n.Relation()).
		With("loops", *n.ActualLoops).
		With("recommendation", "rewrite the correlated subquery as a JOIN or LATERAL join"), nil
}
