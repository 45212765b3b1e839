package planrule

import (
	"fmt"
	"strings"

	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

type sortMethodExternal struct {
	rule.Meta
}

func (r sortMethodExternal) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.Sort {
		return nil, nil
	}
	method, _ := n.NodeSpecific.GetString("Sort Method")
	onDisk := n.NodeSpecific.Contains("Sort Space Type", "disk")
	if !strings.Contains(strings.ToLower(method), "external") && !onDisk {
		return nil, nil
	}
	f := rule.New(r, fmt.Sprintf("sort spilled to disk (%s)", strings.TrimSpace(method+" "+spaceUsed(n))), sortKeys(n)...).
		With("recommendation", "raise work_mem for this query or add an index that returns rows in order")
	if method != "" {
		f.With("sort_method", method)
	}
	if used, ok, _ := number(n, "Sort Space Used"); ok {
		f.With("sort_space_kb", used)
	}
	return f, nil
}

func spaceUsed(n *model.PlanNode) string {
	used, ok, _ := number(n, "Sort Space Used")
	if !ok {
		return ""
	}
	return fmt.Sprintf("%.0f kB", used)
}

func sortKeys(n *model.PlanNode) []string {
	keys, _ := n.NodeSpecific.GetStrings("Sort Key")
	return keys
}

type tempFileSortSpill struct {
	rule.Meta
}

func (r tempFileSortSpill) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.Sort || n.Buffers.TempTotal() <= 0 {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("sort touched %d temp blocks", n.Buffers.TempTotal()), sortKeys(n)...).
		With("temp_read_blocks", n.Buffers.TempRead).
		With("temp_written_blocks", n.Buffers.TempWritten).
		With("recommendation", "raise work_mem so the sort fits in memory"), nil
}

type excessiveTempFiles struct {
	rule.Meta
	maxBlocks int64
}

func (r excessiveTempFiles) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.Buffers.TempTotal() <= r.maxBlocks {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("%s used %d temp blocks", n.NodeType, n.Buffers.TempTotal()), target(n)).
		With("temp_blocks", n.Buffers.TempTotal()).
		With("threshold", r.maxBlocks).
		With("recommendation", "raise work_mem or reduce the data set before this step"), nil
}

type hashSpill struct {
	rule.Meta
}

func (r hashSpill) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.Hash {
		return nil, nil
	}
	batches, hasBatches, err := number(n, "Hash Batches")
	if err != nil {
		return nil, err
	}
	disk, hasDisk, err := number(n, "Disk Usage")
	if err != nil {
		return nil, err
	}
	var reason string
	switch {
	case hasBatches && batches > 1:
		reason = fmt.Sprintf("hash table split into %.0f batches", batches)
	case hasDisk && disk > 0:
		reason = fmt.Sprintf("hash used %.0f kB of disk", disk)
	case n.Buffers != nil && n.Buffers.TempWritten > 0:
		reason = fmt.Sprintf("hash wrote %d temp blocks", n.Buffers.TempWritten)
	default:
		return nil, nil
	}
	f := rule.New(r, reason, target(n)).
		With("recommendation", "raise work_mem or hash_mem_multiplier so the hash fits in memory")
	if hasBatches {
		f.With("hash_batches", batches)
	}
	return f, nil
}

type hashAggOnLargeInput struct {
	rule.Meta
	minRows float64
}

func (r hashAggOnLargeInput) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.Aggregate {
		return nil, nil
	}
	strategy, _ := n.NodeSpecific.GetString("Strategy")
	if strategy != "Hashed" && !strings.Contains(n.NodeType, "HashAggregate") {
		return nil, nil
	}
	input := n.PlanRows
	if len(n.Children) > 0 && n.Children[0].PlanRows != nil {
		input = n.Children[0].PlanRows
	}
	if input == nil || *input <= r.minRows {
		return nil, nil
	}
	return rule.New(r, fmt.Sprintf("hash aggregate over an estimated %.0f input rows", *input), target(n)).
		With("input_rows", *input).
		With("recommendation", "pre-aggregate, filter earlier or raise work_mem"), nil
}

type largeAggregateMemory struct {
	rule.Meta
	maxKB float64
}

func (r largeAggregateMemory) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.Aggregate && n.ShortType != model.Hash {
		return nil, nil
	}
	for _, key := range []string{"Peak Memory Usage", "Memory Usage"} {
		kb, ok, err := number(n, key)
		if err != nil {
			return nil, err
		}
		if ok && kb > r.maxKB {
			return rule.New(r, fmt.Sprintf("%s used %.0f kB of memory", n.NodeType, kb), target(n)).
				With("memory_kb", kb).
				With("recommendation", "reduce the grouping cardinality or the width of aggregated rows"), nil
		}
	}
	return nil, nil
}

type filterAfterAggregate struct {
	rule.Meta
}

func (r filterAfterAggregate) Evaluate(n *model.PlanNode, _ *model.ExplainRootPlan) (*rule.Finding, error) {
	if n.ShortType != model.Aggregate {
		return nil, nil
	}
	filter, ok := n.NodeSpecific.GetString("Filter")
	if !ok {
		return nil, nil
	}
	return rule.New(r, "rows are filtered after aggregation", target(n)).
		With("filter", filter).
		With("recommendation", "move HAVING conditions that do not use aggregates into WHERE"), nil
}
