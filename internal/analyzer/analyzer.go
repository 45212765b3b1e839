package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/mickamy/pgdiag/internal/model"
)

// PlanAnalysis contains derived metrics for a parsed plan.
type PlanAnalysis struct {
	Root            *NodeStats
	PlanningTimeMs  float64
	ExecutionTimeMs float64
	TotalTimeMs     float64
	NodeCount       int
	// TotalBuffers is the root's block total; PostgreSQL reports buffers inclusive of children.
	TotalBuffers    int64
	HotNodes        []*NodeStats
	DivergentNodes  []*NodeStats
	// Timed is false when the plan carries no ANALYZE timings; percentages are then zero.
	Timed           bool

	byID map[string]*NodeStats
}

// NodeStats augments a plan node with computed statistics.
type NodeStats struct {
	Node              *model.PlanNode
	Depth             int
	InclusiveTimeMs   float64
	ExclusiveTimeMs   float64
	PercentExclusive  float64
	PercentInclusive  float64
	ActualTotalRows   float64
	EstimatedRows     float64
	RowEstimateFactor float64
	Buffers           model.BufferStats
	Warnings          []string
	Children          []*NodeStats
}

// Lookup returns the stats computed for the node with the given ID.
func (a *PlanAnalysis) Lookup(id string) (*NodeStats, bool) {
	if a == nil {
		return nil, false
	}
	s, ok := a.byID[id]
	return s, ok
}

// Analyze derives metrics for the provided plan.
func Analyze(plan *model.ExplainRootPlan) (*PlanAnalysis, error) {
	if plan == nil || plan.Root == nil {
		return nil, fmt.Errorf("analyze: missing plan")
	}

	root := buildStats(plan.Root, 0)
	totalTime := PlanTime(plan)

	annotateRatios(root, totalTime)

	allNodes := flatten(root)
	byID := make(map[string]*NodeStats, len(allNodes))
	for _, n := range allNodes {
		n.Warnings = deriveWarnings(n)
		byID[n.Node.ID] = n
	}

	out := &PlanAnalysis{
		Root:           root,
		TotalTimeMs:    totalTime,
		NodeCount:      len(allNodes),
		TotalBuffers:   root.Buffers.Total(),
		HotNodes:       selectHotNodes(allNodes),
		DivergentNodes: selectDivergentNodes(allNodes),
		Timed:          totalTime > 0,
		byID:           byID,
	}
	if plan.PlanningTime != nil {
		out.PlanningTimeMs = *plan.PlanningTime
	}
	if plan.ExecutionTime != nil {
		out.ExecutionTimeMs = *plan.ExecutionTime
	}
	return out, nil
}

// PlanTime returns the inclusive time of the root node, falling back to the reported execution time.
func PlanTime(plan *model.ExplainRootPlan) float64 {
	if plan == nil {
		return 0
	}
	if t, ok := plan.Root.InclusiveTime(); ok && t > 0 {
		return t
	}
	if plan.ExecutionTime != nil {
		return *plan.ExecutionTime
	}
	return 0
}

// ExclusiveTime returns the time spent in the node itself: its inclusive time minus the
// inclusive time of its children, floored at zero.
func ExclusiveTime(node *model.PlanNode) (float64, bool) {
	inclusive, ok := node.InclusiveTime()
	if !ok {
		return 0, false
	}
	var childTime float64
	for _, child := range node.Children {
		if t, ok := child.InclusiveTime(); ok {
			childTime += t
		}
	}
	return math.Max(inclusive-childTime, 0), true
}

func buildStats(node *model.PlanNode, depth int) *NodeStats {
	loops := node.LoopsOrOne()
	inclusive, _ := node.InclusiveTime()
	exclusive, _ := ExclusiveTime(node)
	actual, _ := node.TotalActualRows()

	stats := &NodeStats{
		Node:            node,
		Depth:           depth,
		InclusiveTimeMs: inclusive,
		ExclusiveTimeMs: exclusive,
		ActualTotalRows: actual,
	}
	if node.PlanRows != nil {
		stats.EstimatedRows = *node.PlanRows * loops
	}
	if node.Buffers != nil {
		stats.Buffers = *node.Buffers
	}

	for _, childNode := range node.Children {
		stats.Children = append(stats.Children, buildStats(childNode, depth+1))
	}

	if node.ActualRows != nil {
		stats.RowEstimateFactor = computeEstimateFactor(stats.EstimatedRows, stats.ActualTotalRows)
	} else {
		stats.RowEstimateFactor = 1
	}
	return stats
}

func annotateRatios(node *NodeStats, total float64) {
	if total > 0 {
		node.PercentExclusive = node.ExclusiveTimeMs / total
		node.PercentInclusive = node.InclusiveTimeMs / total
	}
	for _, child := range node.Children {
		annotateRatios(child, total)
	}
}

func flatten(root *NodeStats) []*NodeStats {
	var out []*NodeStats
	var walk func(*NodeStats)
	walk = func(n *NodeStats) {
		out = append(out, n)
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return out
}

func selectHotNodes(nodes []*NodeStats) []*NodeStats {
	candidates := make([]*NodeStats, 0, len(nodes))
	for _, n := range nodes {
		if n.PercentExclusive > 0 {
			candidates = append(candidates, n)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].PercentExclusive > candidates[j].PercentExclusive
	})

	limit := min(5, len(candidates))
	const cutoff = 0.10

	var out []*NodeStats
	for _, candidate := range candidates[:limit] {
		if candidate.PercentExclusive < cutoff {
			break
		}
		out = append(out, candidate)
	}

	if len(out) == 0 && len(candidates) > 0 {
		out = candidates[:limit]
	}

	return out
}

func selectDivergentNodes(nodes []*NodeStats) []*NodeStats {
	var out []*NodeStats
	for _, n := range nodes {
		if n.Node.ActualRows == nil || n.Node.PlanRows == nil {
			continue
		}
		if math.IsInf(n.RowEstimateFactor, 1) {
			out = append(out, n)
			continue
		}
		if n.RowEstimateFactor >= 2.0 || n.RowEstimateFactor <= 0.5 {
			if n.EstimatedRows > 0 || n.ActualTotalRows > 0 {
				out = append(out, n)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].RowEstimateFactor-1) > math.Abs(out[j].RowEstimateFactor-1)
	})
	return out[:min(5, len(out))]
}

func computeEstimateFactor(estimated, actual float64) float64 {
	const epsilon = 1e-9
	if estimated <= epsilon {
		if actual <= epsilon {
			return 1
		}
		return math.Inf(1)
	}
	return actual / estimated
}

func deriveWarnings(stats *NodeStats) []string {
	var warnings []string
	if stats.PercentExclusive >= 0.20 {
		warnings = append(warnings, fmt.Sprintf("self time %.1f%% of plan", stats.PercentExclusive*100))
	}
	if stats.RowEstimateFactor >= 2.0 {
		warnings = append(warnings, fmt.Sprintf("rows %.1fx higher than estimate", stats.RowEstimateFactor))
	} else if stats.RowEstimateFactor <= 0.5 {
		warnings = append(warnings, fmt.Sprintf("rows %.1fx lower than estimate", stats.RowEstimateFactor))
	}
	if stats.Buffers.TempTotal() > 0 {
		warnings = append(warnings, "spills to temp files")
	} else if stats.Buffers.Total() > 0 && stats.PercentExclusive >= 0.05 {
		warnings = append(warnings, "heavy buffer usage")
	}
	return warnings
}
