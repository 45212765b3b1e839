// Package planrule holds the diagnostics that inspect EXPLAIN plan nodes.
package planrule

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

// ErrMalformedAttribute reports a node attribute whose value does not have the expected shape.
var ErrMalformedAttribute = errors.New("malformed node attribute")

// Default returns every plan rule with thresholds taken from cfg.
func Default(cfg config.RuleConfig) []rule.PlanRule {
	return []rule.PlanRule{
		// scans
		seqScanOnLargeTable{meta("SeqScanOnLargeTable", rule.CategoryIndex, rule.SeverityHigh), cfg.LargeTableRows},
		repeatedSeqScan{meta("RepeatedSeqScan", rule.CategoryIndex, rule.SeverityMedium)},
		seqScanSelective{meta("SeqScanSelective", rule.CategoryIndex, rule.SeverityMedium), cfg.FilterRemovedRatio, cfg.SeqScanRemovedMinRows},
		seqScanWithHighTempWrites{meta("SeqScanWithHighTempWrites", rule.CategoryMemory, rule.SeverityMedium), cfg.SeqScanTempWrittenBlocks},
		leadingWildcardFilter{meta("LeadingWildcardFilter", rule.CategoryIndex, rule.SeverityMedium)},
		functionInFilter{meta("FunctionInFilter", rule.CategoryRewrite, rule.SeverityMedium)},
		missingStatistics{meta("MissingStatistics", rule.CategoryStatistics, rule.SeverityMedium), cfg.MissingStatsHighRatio, cfg.MissingStatsLowRatio},
		bitmapHeapOverfetch{meta("BitmapHeapOverfetch", rule.CategoryIndex, rule.SeverityMedium), cfg.BitmapOverfetchFactor},
		lossyBitmapRecheck{meta("LossyBitmapRecheck", rule.CategoryMemory, rule.SeverityLow)},
		bitmapIndexScanOnSmallTable{meta("BitmapIndexScanOnSmallTable", rule.CategoryIndex, rule.SeverityLow), cfg.SmallTableRows},
		indexFilterMismatch{meta("IndexFilterMismatch", rule.CategoryIndex, rule.SeverityMedium), cfg.FilterRemovedRatio},
		indexOnlyHeapFetch{meta("IndexOnlyHeapFetch", rule.CategoryStatistics, rule.SeverityMedium)},
		functionScanDefaultEstimate{meta("FunctionScanDefaultEstimate", rule.CategoryStatistics, rule.SeverityLow), cfg.FunctionScanDefaultRows},

		// joins
		crossProductDetected{meta("CrossProductDetected", rule.CategoryJoin, rule.SeverityHigh)},
		hashJoinWithSkew{meta("HashJoinWithSkew", rule.CategoryJoin, rule.SeverityMedium), cfg.HashSkewFactor},
		nestedLoopHeavyInner{meta("NestedLoopHeavyInner", rule.CategoryJoin, rule.SeverityHigh), cfg.NestedLoopInnerLoops, cfg.NestedLoopInnerTimeMs},
		nestedLoopOnLargeTables{meta("NestedLoopOnLargeTables", rule.CategoryJoin, rule.SeverityHigh), cfg.LargeTableRows},
		correlatedSubqueryExec{meta("CorrelatedSubqueryExec", rule.CategoryRewrite, rule.SeverityHigh)},

		// memory
		sortMethodExternal{meta("SortMethodExternal", rule.CategoryMemory, rule.SeverityHigh)},
		tempFileSortSpill{meta("TempFileSortSpill", rule.CategoryMemory, rule.SeverityMedium)},
		excessiveTempFiles{meta("ExcessiveTempFiles", rule.CategoryMemory, rule.SeverityMedium), cfg.ExcessiveTempBlocks},
		hashSpill{meta("HashSpill", rule.CategoryMemory, rule.SeverityHigh)},
		hashAggOnLargeInput{meta("HashAggOnLargeInput", rule.CategoryMemory, rule.SeverityMedium), cfg.LargeTableRows},
		largeAggregateMemory{meta("LargeAggregateMemory", rule.CategoryMemory, rule.SeverityMedium), cfg.AggregateMemoryKB},
		filterAfterAggregate{meta("FilterAfterAggregate", rule.CategoryRewrite, rule.SeverityLow)},

		// estimates
		cardinalityMismatch{meta("CardinalityMismatch", rule.CategoryStatistics, rule.SeverityMedium), cfg.CardinalityHighRatio, cfg.CardinalityLowRatio},
		actualVsEstimatedLargeDiff{meta("ActualVsEstimatedLargeDiff", rule.CategoryStatistics, rule.SeverityHigh), cfg.EstimateDiffHighRatio, cfg.EstimateDiffLowRatio},

		// parallelism
		noParallelWorkersLaunched{meta("NoParallelWorkersLaunched", rule.CategoryParallelism, rule.SeverityMedium)},
		workersLaunchedBelowPlanned{meta("WorkersLaunchedBelowPlanned", rule.CategoryParallelism, rule.SeverityLow)},
		parallelSeqScanOnSmallTable{meta("ParallelSeqScanOnSmallTable", rule.CategoryParallelism, rule.SeverityLow), cfg.ParallelSmallTableRows},
		parallelGatherUnderLimit{meta("ParallelGatherUnderLimit", rule.CategoryParallelism, rule.SeverityLow), cfg.ParallelLimitKeepRatio},

		// execution
		highBufferReads{meta("HighBufferReads", rule.CategoryPerformance, rule.SeverityMedium), cfg.HighBufferReadBlocks},
		largeNumberOfLoops{meta("LargeNumberOfLoops", rule.CategoryPerformance, rule.SeverityMedium), cfg.LargeLoopCount},
		materializeRescan{meta("MaterializeRescan", rule.CategoryPerformance, rule.SeverityInfo)},
		planHotspot{meta("PlanHotspot", rule.CategoryPerformance, rule.SeverityHigh), cfg.HotspotCriticalPercent, cfg.HotspotWarningPercent},
		slowStartupTime{meta("SlowStartupTime", rule.CategoryPerformance, rule.SeverityLow), cfg.SlowStartupMs},
	}
}

func meta(code string, category rule.Category, severity rule.Severity) rule.Meta {
	return rule.Meta{RuleCode: code, RuleCategory: category, RuleSeverity: severity}
}

// number reads a numeric node attribute. A missing key is not an error; a present key
// whose value is not numeric is.
func number(n *model.PlanNode, key string) (float64, bool, error) {
	raw, ok := n.NodeSpecific.Get(key)
	if !ok || raw == nil {
		return 0, false, nil
	}
	v, ok := n.NodeSpecific.GetNumber(key)
	if !ok {
		return 0, false, fmt.Errorf("%w: %q is %T", ErrMalformedAttribute, key, raw)
	}
	return v, true, nil
}

// target names the object a finding is about: the relation, else the index, else the operator.
func target(n *model.PlanNode) string {
	if rel := n.Relation(); rel != "" {
		return rel
	}
	if n.IndexName != "" {
		return n.IndexName
	}
	return n.NodeType
}

// parentOf finds the parent of node within plan, or nil for the root.
func parentOf(plan *model.ExplainRootPlan, node *model.PlanNode) *model.PlanNode {
	if plan == nil {
		return nil
	}
	var parent *model.PlanNode
	plan.Root.Walk(func(candidate *model.PlanNode) {
		if parent != nil {
			return
		}
		for _, child := range candidate.Children {
			if child == node {
				parent = candidate
				return
			}
		}
	})
	return parent
}

// innerOuter splits a join's inputs by Parent Relationship. A side without the label is nil;
// child order is never used.
func innerOuter(n *model.PlanNode) (outer, inner *model.PlanNode) {
	for _, child := range n.Children {
		switch child.ParentRelationship {
		case "Outer":
			if outer == nil {
				outer = child
			}
		case "Inner":
			if inner == nil {
				inner = child
			}
		}
	}
	return outer, inner
}

// rowsOf prefers the executed row count (rows × loops) and falls back to the estimate.
func rowsOf(n *model.PlanNode) (float64, bool) {
	if rows, ok := n.TotalActualRows(); ok {
		return rows, true
	}
	if n.PlanRows != nil {
		return *n.PlanRows, true
	}
	return 0, false
}

// removedRatio returns rows removed by filter as a share of rows examined.
func removedRatio(n *model.PlanNode) (ratio, removed float64, ok bool, err error) {
	removed, ok, err = number(n, "Rows Removed by Filter")
	if err != nil || !ok || n.ActualRows == nil {
		return 0, 0, false, err
	}
	total := *n.ActualRows + removed
	if total <= 0 {
		return 0, removed, false, nil
	}
	return removed / total, removed, true, nil
}

var leadingWildcard = regexp.MustCompile(`~~\*?\s+'%`)
