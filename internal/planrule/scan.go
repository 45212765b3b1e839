package planrule

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

type seqScanOnLargeTable struct {
	rule.Meta
	minRows float64
}

func (r seqScanOnLargeTable) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.SeqScan || n.PlanRows == nil || *n.PlanRows <= r.minRows {
		return nil, nil
	}
	if n.IndexName != "" || n.NodeSpecific.Has("Index Cond") {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("sequential scan on %s reads an estimated %.0f rows", target(n), *n.PlanRows), n.Relation()).
		With("plan_rows", *n.PlanRows).
		With("threshold", r.minRows).
		With("recommendation", "add an index on the filtered or joined columns"), nil
}

// repeatedSeqScan aggregates over the whole tree, so it only reports from the root node.
type repeatedSeqScan struct {
	rule.Meta
}

func (r repeatedSeqScan) Evaluate(n *model.PlanNode, plan *model.ExplainRootPlan) (*rule.Finding, error) {
	if plan == nil || n != plan.Root {
		return nil, nil
	}
	counts := map[string]int{}
	n.Walk(func(node *model.PlanNode) {
		if node.ShortType == model.SeqScan && node.Relation() != "" {
			counts[node.Relation()]++
		}
	})
	var repeated []string
	for rel, c := range counts {
		if c >= 2 {
			repeated = append(repeated, rel)
		}
	}
	if len(repeated) == 0 {
		return nil, nil
	}
	sort.Strings(repeated)
	f := rule.New(r, fmt.Sprintf("relations scanned sequentially more than once: %s", strings.Join(repeated, ", ")), repeated...)
	for _, rel := range repeated {
		f.With("scans."+rel, counts[rel])
	}
	return f.With("recommendation", "materialize the shared input in a CTE or rewrite the query to read each relation once"), nil
}

type seqScanSelective struct {
	rule.Meta
	minRatio   float64
	minRemoved float64
}

func (r seqScanSelective) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.SeqScan {
		return nil, nil
	}
	ratio, removed, ok, err := removedRatio(n)
	if err != nil || !ok {
		return nil, err
	}
	if ratio < r.minRatio || removed < r.minRemoved {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("sequential scan on %s discards %.0f%% of the rows it reads", target(n), ratio*100), n.Relation()).
		With("rows_removed", removed).
		With("removed_ratio", ratio).
		With("recommendation", "the filter is selective; an index on its columns avoids reading the whole table"), nil
}

type seqScanWithHighTempWrites struct {
	rule.Meta
	minBlocks int64
}

func (r seqScanWithHighTempWrites) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.SeqScan || n.Buffers == nil || n.Buffers.TempWritten <= r.minBlocks {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("sequential scan on %s wrote %d temp blocks", target(n), n.Buffers.TempWritten), n.Relation()).
		With("temp_written_blocks", n.Buffers.TempWritten).
		With("recommendation", "raise work_mem for this query or reduce the rows flowing out of the scan"), nil
}

type leadingWildcardFilter struct {
	rule.Meta
}

func (r leadingWildcardFilter) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.SeqScan {
		return nil, nil
	}
	filter, ok := n.NodeSpecific.GetString("Filter")
	if !ok || !leadingWildcard.MatchString(filter) {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("LIKE pattern with a leading wildcard forces a full scan of %s", target(n)), n.Relation()).
		With("filter", filter).
		With("recommendation", "use a pg_trgm GIN index or anchor the pattern"), nil
}

var functionCall = regexp.MustCompile(`(?i)\b([a-z_][a-z0-9_]*)\(\(*[a-z_]`)

var notFunctions = map[string]bool{"any": true, "all": true, "array": true, "row": true, "in": true}

type functionInFilter struct {
	rule.Meta
}

func (r functionInFilter) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.SeqScan && n.ShortType != model.BitmapHeapScan {
		return nil, nil
	}
	filter, ok := n.NodeSpecific.GetString("Filter")
	if !ok {
		return nil, nil
	}
	for _, m := range functionCall.FindAllStringSubmatch(filter, -1) {
		name := strings.ToLower(m[1])
		if notFunctions[name] {
			continue
		}
		return rule.New(r, fmt.Sprintf("filter on %s applies %s() to a column", target(n), name), n.Relation()).
			With("function", name).
			With("filter", filter).
			With("recommendation", "create an expression index or compare the bare column"), nil
	}
	return nil, nil
}

type missingStatistics struct {
	rule.Meta
	high, low float64
}

func (r missingStatistics) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	switch n.ShortType {
	case model.SeqScan, model.IndexScan, model.IndexOnlyScan, model.BitmapHeapScan:
	default:
		return nil, nil
	}
	if n.Relation() == "" || n.PlanRows == nil || n.ActualRows == nil {
		return nil, nil
	}
	ratio := *n.ActualRows / (*n.PlanRows + 1)
	if ratio <= r.high && ratio >= r.low {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("row estimate for %s is off by %.2fx; statistics look stale", n.Relation(), ratio), n.Relation()).
		With("ratio", ratio).
		With("recommendation", fmt.Sprintf("ANALYZE %s;", n.Relation())), nil
}

type bitmapHeapOverfetch struct {
	rule.Meta
	factor float64
}

func (r bitmapHeapOverfetch) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.BitmapHeapScan || n.PlanRows == nil || n.ActualRows == nil {
		return nil, nil
	}
	if *n.ActualRows <= r.factor*(*n.PlanRows) {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("bitmap heap scan on %s returned %.0f rows against %.0f estimated", target(n), *n.ActualRows, *n.PlanRows), n.Relation()).
		With("actual_rows", *n.ActualRows).
		With("plan_rows", *n.PlanRows).
		With("recommendation", "refresh statistics or use a more selective index"), nil
}

type lossyBitmapRecheck struct {
	rule.Meta
}

func (r lossyBitmapRecheck) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.BitmapHeapScan {
		return nil, nil
	}
	lossy, ok, err := number(n, "Lossy Heap Blocks")
	if err != nil || !ok || lossy <= 0 {
		return nil, err
	}
	return rule.New(r, fmt.Sprintf("bitmap on %s went lossy over %.0f heap blocks and rows were rechecked", target(n), lossy), n.Relation()).
		With("lossy_heap_blocks", lossy).
		With("recommendation", "increase work_mem so the bitmap stays exact"), nil
}

type bitmapIndexScanOnSmallTable struct {
	rule.Meta
	maxRows float64
}

func (r bitmapIndexScanOnSmallTable) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.BitmapIndexScan || n.PlanRows == nil || *n.PlanRows >= r.maxRows {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("bitmap index scan on %s for only %.0f rows", target(n), *n.PlanRows), n.IndexName).
		With("plan_rows", *n.PlanRows).
		With("recommendation", "a plain index scan is usually cheaper for few rows"), nil
}

type indexFilterMismatch struct {
	rule.Meta
	minRatio float64
}

func (r indexFilterMismatch) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.IndexScan && n.ShortType != model.BitmapHeapScan {
		return nil, nil
	}
	if !n.NodeSpecific.Has("Index Cond") && !n.NodeSpecific.Has("Recheck Cond") && n.IndexName == "" {
		return nil, nil
	}
	if !n.NodeSpecific.Has("Filter") {
		return nil, nil
	}
	ratio, removed, ok, err := removedRatio(n)
	if err != nil || !ok || ratio < r.minRatio {
		return nil, err
	}
	return rule.New(r, fmt.Sprintf("index on %s matches rows that the filter then discards (%.0f%%)", target(n), ratio*100), n.Relation(), n.IndexName).
		With("rows_removed", removed).
		With("removed_ratio", ratio).
		With("recommendation", "extend the index with the filtered columns"), nil
}

type indexOnlyHeapFetch struct {
	rule.Meta
}

func (r indexOnlyHeapFetch) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.IndexOnlyScan {
		return nil, nil
	}
	fetches, ok, err := number(n, "Heap Fetches")
	if err != nil || !ok || fetches <= 0 {
		return nil, err
	}
	return rule.New(r, fmt.Sprintf("index-only scan on %s visited the heap %.0f times", target(n), fetches), n.Relation(), n.IndexName).
		With("heap_fetches", fetches).
		With("recommendation", fmt.Sprintf("VACUUM %s to refresh the visibility map", target(n))), nil
}

type functionScanDefaultEstimate struct {
	rule.Meta
	defaultRows float64
}

func (r functionScanDefaultEstimate) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if !strings.Contains(n.NodeType, "Function Scan") || n.PlanRows == nil || *n.PlanRows != r.defaultRows {
		return nil, nil
	}
	name, _ := n.NodeSpecific.GetString("Function Name")
	return rule.New(r, fmt.Sprintf("function scan uses the planner default of %.0f rows", r.defaultRows), name).
		With("recommendation", "declare ROWS on the function so the planner can size the result"), nil
}
