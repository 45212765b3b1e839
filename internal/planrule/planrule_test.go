package planrule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/planrule"
	"github.com/mickamy/pgdiag/internal/rule"
	"github.com/mickamy/pgdiag/test"
)

func rules() []rule.PlanRule {
	return planrule.Default(config.Default().Rules)
}

func byCode(t *testing.T, code string) rule.PlanRule {
	t.Helper()
	for _, r := range rules() {
		if r.Code() == code {
			return r
		}
	}
	t.Fatalf("rule %s not registered", code)
	return nil
}

// evaluateAll runs every rule on every node and returns findings keyed by code.
func evaluateAll(t *testing.T, plan *model.ExplainRootPlan) map[string][]rule.Finding {
	t.Helper()
	out := map[string][]rule.Finding{}
	for _, n := range plan.Nodes() {
		for _, r := range rules() {
			f, err := r.Evaluate(n, plan)
			require.NoError(t, err, "%s on node %s", r.Code(), n.ID)
			if f != nil {
				out[f.Code] = append(out[f.Code], *f)
			}
		}
	}
	return out
}

func TestRegistry(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range rules() {
		assert.False(t, seen[r.Code()], "duplicate code %s", r.Code())
		seen[r.Code()] = true
		assert.True(t, r.Category().Valid(), r.Code())
	}
	assert.Len(t, seen, 36)
}

func TestSeqScanOnLargeTable(t *testing.T) {
	r := byCode(t, "SeqScanOnLargeTable")

	scan := test.Node("Seq Scan", nil)
	scan.RelationName = "orders"
	scan.PlanRows = model.Float(500000)
	plan := test.Plan(scan)

	f, err := r.Evaluate(scan, plan)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "SeqScanOnLargeTable", f.Code)
	assert.Equal(t, rule.SeverityHigh, f.Severity)
	assert.Equal(t, rule.CategoryIndex, f.Category)
	assert.Equal(t, []string{"orders"}, f.AffectedObjects)

	t.Run("index condition present", func(t *testing.T) {
		indexed := test.Node("Seq Scan", map[string]any{"Index Cond": "(id = 1)"})
		indexed.PlanRows = model.Float(500000)
		f, err := r.Evaluate(indexed, test.Plan(indexed))
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("row estimate absent", func(t *testing.T) {
		bare := test.Node("Seq Scan", nil)
		f, err := r.Evaluate(bare, test.Plan(bare))
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("small table", func(t *testing.T) {
		small := test.Node("Seq Scan", nil)
		small.PlanRows = model.Float(10000)
		f, err := r.Evaluate(small, test.Plan(small))
		require.NoError(t, err)
		assert.Nil(t, f)
	})
}

func TestSortMethodExternal(t *testing.T) {
	r := byCode(t, "SortMethodExternal")

	sortNode := test.Node("Sort", map[string]any{"Sort Method": "external merge"})
	f, err := r.Evaluate(sortNode, test.Plan(sortNode))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, rule.SeverityHigh, f.Severity)
	assert.Equal(t, "external merge", f.Metadata["sort_method"])

	inMemory := test.Node("Sort", map[string]any{"Sort Method": "quicksort", "Sort Space Type": "Memory"})
	f, err = r.Evaluate(inMemory, test.Plan(inMemory))
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestBareNodeProducesNothing(t *testing.T) {
	for _, nodeType := range []string{"Seq Scan", "Sort", "Hash Join", "Nested Loop", "Gather", "Aggregate"} {
		t.Run(nodeType, func(t *testing.T) {
			n := test.Node(nodeType, nil)
			plan := test.Plan(n)
			for _, r := range rules() {
				f, err := r.Evaluate(n, plan)
				require.NoError(t, err, r.Code())
				if nodeType == "Nested Loop" && r.Code() == "CrossProductDetected" {
					continue
				}
				assert.Nil(t, f, r.Code())
			}
		})
	}
}

func TestOrdersSample(t *testing.T) {
	plan := test.LoadSamplePlan(t, "orders_report.json")
	got := evaluateAll(t, plan)

	require.Len(t, got["SeqScanOnLargeTable"], 1)
	assert.Equal(t, []string{"public.orders"}, got["SeqScanOnLargeTable"][0].AffectedObjects)

	require.Len(t, got["SortMethodExternal"], 1)
	assert.Equal(t, []string{"o.created_at DESC"}, got["SortMethodExternal"][0].AffectedObjects)
	assert.Len(t, got["TempFileSortSpill"], 1)
	assert.NotEmpty(t, got["ExcessiveTempFiles"])
	assert.NotEmpty(t, got["HighBufferReads"])
	assert.NotEmpty(t, got["CardinalityMismatch"])

	assert.Empty(t, got["CrossProductDetected"])
	assert.Empty(t, got["HashSpill"])
	assert.Empty(t, got["RepeatedSeqScan"])
	assert.Empty(t, got["HashJoinWithSkew"])
}

func TestNestedLoopSample(t *testing.T) {
	plan := test.LoadSamplePlan(t, "nloop_base.json")
	got := evaluateAll(t, plan)

	require.Len(t, got["NestedLoopHeavyInner"], 1)
	assert.Equal(t, 5000.0, got["NestedLoopHeavyInner"][0].Metadata["inner_loops"])
	assert.Len(t, got["MaterializeRescan"], 1)
	assert.Len(t, got["LargeNumberOfLoops"], 1)
	assert.NotEmpty(t, got["PlanHotspot"])
	assert.Empty(t, got["CrossProductDetected"], "join filter present")

	fixed := evaluateAll(t, test.LoadSamplePlan(t, "nloop_index.json"))
	assert.Empty(t, fixed["NestedLoopHeavyInner"])
	assert.Empty(t, fixed["MaterializeRescan"])
}

func TestCrossProductDetected(t *testing.T) {
	r := byCode(t, "CrossProductDetected")

	a := test.Node("Seq Scan", nil)
	a.RelationName = "a"
	b := test.Node("Seq Scan", nil)
	b.RelationName = "b"
	loop := test.Node("Nested Loop", nil, a, test.Node("Materialize", nil, b))
	plan := test.Plan(loop)

	f, err := r.Evaluate(loop, plan)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, []string{"a", "b"}, f.AffectedObjects)

	b.NodeSpecific["Index Cond"] = "(b.a_id = a.id)"
	f, err = r.Evaluate(loop, plan)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestRepeatedSeqScanReportsOnceFromRoot(t *testing.T) {
	r := byCode(t, "RepeatedSeqScan")

	scan := func(rel string) *model.PlanNode {
		n := test.Node("Seq Scan", nil)
		n.RelationName = rel
		return n
	}
	root := test.Node("Append", nil, scan("events"), scan("users"), scan("events"))
	plan := test.Plan(root)

	var findings []*rule.Finding
	for _, n := range plan.Nodes() {
		f, err := r.Evaluate(n, plan)
		require.NoError(t, err)
		if f != nil {
			findings = append(findings, f)
		}
	}
	require.Len(t, findings, 1)
	assert.Equal(t, []string{"events"}, findings[0].AffectedObjects)
	assert.Equal(t, 2, findings[0].Metadata["scans.events"])
}

func TestPlanHotspotSeverity(t *testing.T) {
	r := byCode(t, "PlanHotspot")
	plan := test.LoadSamplePlan(t, "orders_report.json")
	nodes := plan.Nodes()

	f, err := r.Evaluate(nodes[1], plan)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, rule.SeverityMedium, f.Severity, "sort holds just under 40 percent of the time")

	f, err = r.Evaluate(nodes[0], plan)
	require.NoError(t, err)
	assert.Nil(t, f, "limit itself is cheap")

	hot := test.Node("Seq Scan", nil)
	hot.ActualTotalTime = model.Float(90)
	root := test.Node("Limit", nil, hot)
	root.ActualTotalTime = model.Float(100)
	f, err = r.Evaluate(hot, test.Plan(root))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, rule.SeverityHigh, f.Severity)
}

func TestParallelRules(t *testing.T) {
	none := byCode(t, "NoParallelWorkersLaunched")
	below := byCode(t, "WorkersLaunchedBelowPlanned")

	tests := []struct {
		name               string
		planned, launched  any
		wantNone, wantPart bool
	}{
		{name: "none launched", planned: 2.0, launched: 0.0, wantNone: true},
		{name: "some launched", planned: 4.0, launched: 2.0, wantPart: true},
		{name: "all launched", planned: 2.0, launched: 2.0},
		{name: "numeric strings", planned: "2", launched: "0", wantNone: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := test.Node("Gather", map[string]any{"Workers Planned": tt.planned, "Workers Launched": tt.launched})
			plan := test.Plan(n)

			f, err := none.Evaluate(n, plan)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNone, f != nil)

			f, err = below.Evaluate(n, plan)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPart, f != nil)
		})
	}
}

func TestMalformedAttributeIsAnError(t *testing.T) {
	n := test.Node("Gather", map[string]any{"Workers Planned": "lots", "Workers Launched": 0.0})
	f, err := byCode(t, "NoParallelWorkersLaunched").Evaluate(n, test.Plan(n))
	assert.Nil(t, f)
	assert.ErrorIs(t, err, planrule.ErrMalformedAttribute)
}

func TestParallelGatherUnderLimit(t *testing.T) {
	r := byCode(t, "ParallelGatherUnderLimit")

	gather := test.Node("Gather", nil)
	gather.PlanRows = model.Float(100000)
	limit := test.Node("Limit", nil, gather)
	limit.PlanRows = model.Float(10)
	plan := test.Plan(limit)

	f, err := r.Evaluate(gather, plan)
	require.NoError(t, err)
	require.NotNil(t, f)

	limit.PlanRows = model.Float(50000)
	f, err = r.Evaluate(gather, plan)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestEstimateRules(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		plan, rows float64
		loops      float64
		want       bool
	}{
		{name: "cardinality over", code: "CardinalityMismatch", plan: 1000, rows: 100, loops: 1, want: true},
		{name: "cardinality under", code: "CardinalityMismatch", plan: 10, rows: 100, loops: 1, want: true},
		{name: "cardinality loops", code: "CardinalityMismatch", plan: 100, rows: 10, loops: 10, want: false},
		{name: "cardinality zero rows", code: "CardinalityMismatch", plan: 100, rows: 0, loops: 1, want: false},
		{name: "large diff", code: "ActualVsEstimatedLargeDiff", plan: 1, rows: 50, loops: 1, want: true},
		{name: "large diff within", code: "ActualVsEstimatedLargeDiff", plan: 10, rows: 50, loops: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := test.Node("Index Scan", nil)
			n.PlanRows = model.Float(tt.plan)
			n.ActualRows = model.Float(tt.rows)
			n.ActualLoops = model.Float(tt.loops)
			f, err := byCode(t, tt.code).Evaluate(n, test.Plan(n))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f != nil)
		})
	}
}

func TestFilterRules(t *testing.T) {
	tests := []struct {
		name   string
		code   string
		node   string
		filter string
		want   bool
	}{
		{name: "leading wildcard", code: "LeadingWildcardFilter", node: "Seq Scan", filter: "((email)::text ~~ '%@example.com'::text)", want: true},
		{name: "anchored pattern", code: "LeadingWildcardFilter", node: "Seq Scan", filter: "((email)::text ~~ 'bob%'::text)", want: false},
		{name: "ilike wildcard", code: "LeadingWildcardFilter", node: "Seq Scan", filter: "((name)::text ~~* '%ann%'::text)", want: true},
		{name: "lower on column", code: "FunctionInFilter", node: "Seq Scan", filter: "(lower((email)::text) = 'a@b.c'::text)", want: true},
		{name: "any array", code: "FunctionInFilter", node: "Seq Scan", filter: "(id = ANY ('{1,2}'::integer[]))", want: false},
		{name: "plain comparison", code: "FunctionInFilter", node: "Bitmap Heap Scan", filter: "(status = 'open'::text)", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := test.Node(tt.node, map[string]any{"Filter": tt.filter})
			n.RelationName = "users"
			f, err := byCode(t, tt.code).Evaluate(n, test.Plan(n))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f != nil)
		})
	}
}

func TestHashSpill(t *testing.T) {
	r := byCode(t, "HashSpill")

	batched := test.Node("Hash", map[string]any{"Hash Batches": 8.0})
	f, err := r.Evaluate(batched, test.Plan(batched))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 8.0, f.Metadata["hash_batches"])

	temp := test.Node("Hash", map[string]any{"Hash Batches": 1.0})
	temp.Buffers = &model.BufferStats{TempWritten: 12}
	f, err = r.Evaluate(temp, test.Plan(temp))
	require.NoError(t, err)
	require.NotNil(t, f)

	fits := test.Node("Hash", map[string]any{"Hash Batches": 1.0, "Peak Memory Usage": 637.0})
	f, err = r.Evaluate(fits, test.Plan(fits))
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestNodeRules(t *testing.T) {
	scan := func(nodeType string, attrs map[string]any, set func(n *model.PlanNode)) func() *model.PlanNode {
		return func() *model.PlanNode {
			n := test.Node(nodeType, attrs)
			n.RelationName = "users"
			if set != nil {
				set(n)
			}
			return n
		}
	}
	removed := map[string]any{"Rows Removed by Filter": 9900.0}

	tests := []struct {
		name string
		code string
		node func() *model.PlanNode
		want bool
	}{
		{name: "selective seq scan", code: "SeqScanSelective", want: true,
			node: scan("Seq Scan", removed, func(n *model.PlanNode) { n.ActualRows = model.Float(100) })},
		{name: "seq scan without removed rows", code: "SeqScanSelective", want: false,
			node: scan("Seq Scan", nil, func(n *model.PlanNode) { n.ActualRows = model.Float(100) })},

		{name: "seq scan writing temp blocks", code: "SeqScanWithHighTempWrites", want: true,
			node: scan("Seq Scan", nil, func(n *model.PlanNode) { n.Buffers = &model.BufferStats{TempWritten: 200} })},
		{name: "seq scan without buffers", code: "SeqScanWithHighTempWrites", want: false,
			node: scan("Seq Scan", nil, nil)},

		{name: "stale statistics", code: "MissingStatistics", want: true,
			node: scan("Seq Scan", nil, func(n *model.PlanNode) { n.PlanRows, n.ActualRows = model.Float(10), model.Float(1000) })},
		{name: "statistics without actual rows", code: "MissingStatistics", want: false,
			node: scan("Seq Scan", nil, func(n *model.PlanNode) { n.PlanRows = model.Float(10) })},

		{name: "bitmap heap overfetch", code: "BitmapHeapOverfetch", want: true,
			node: scan("Bitmap Heap Scan", nil, func(n *model.PlanNode) { n.PlanRows, n.ActualRows = model.Float(10), model.Float(100) })},
		{name: "bitmap heap without actual rows", code: "BitmapHeapOverfetch", want: false,
			node: scan("Bitmap Heap Scan", nil, func(n *model.PlanNode) { n.PlanRows = model.Float(10) })},

		{name: "lossy bitmap", code: "LossyBitmapRecheck", want: true,
			node: scan("Bitmap Heap Scan", map[string]any{"Lossy Heap Blocks": 12.0}, nil)},
		{name: "exact bitmap", code: "LossyBitmapRecheck", want: false,
			node: scan("Bitmap Heap Scan", nil, nil)},

		{name: "bitmap index scan on few rows", code: "BitmapIndexScanOnSmallTable", want: true,
			node: scan("Bitmap Index Scan", nil, func(n *model.PlanNode) { n.IndexName, n.PlanRows = "users_email_idx", model.Float(5) })},
		{name: "bitmap index scan without estimate", code: "BitmapIndexScanOnSmallTable", want: false,
			node: scan("Bitmap Index Scan", nil, func(n *model.PlanNode) { n.IndexName = "users_email_idx" })},

		{name: "index then filter", code: "IndexFilterMismatch", want: true,
			node: scan("Index Scan", map[string]any{"Filter": "(active)", "Rows Removed by Filter": 90.0}, func(n *model.PlanNode) {
				n.IndexName, n.ActualRows = "users_pkey", model.Float(10)
			})},
		{name: "index without filter", code: "IndexFilterMismatch", want: false,
			node: scan("Index Scan", map[string]any{"Rows Removed by Filter": 90.0}, func(n *model.PlanNode) {
				n.IndexName, n.ActualRows = "users_pkey", model.Float(10)
			})},

		{name: "index only scan visiting heap", code: "IndexOnlyHeapFetch", want: true,
			node: scan("Index Only Scan", map[string]any{"Heap Fetches": 40.0}, func(n *model.PlanNode) { n.IndexName = "users_pkey" })},
		{name: "index only scan without fetch count", code: "IndexOnlyHeapFetch", want: false,
			node: scan("Index Only Scan", nil, func(n *model.PlanNode) { n.IndexName = "users_pkey" })},

		{name: "function scan with default rows", code: "FunctionScanDefaultEstimate", want: true,
			node: scan("Function Scan", map[string]any{"Function Name": "generate_series"}, func(n *model.PlanNode) { n.PlanRows = model.Float(1000) })},
		{name: "function scan without estimate", code: "FunctionScanDefaultEstimate", want: false,
			node: scan("Function Scan", map[string]any{"Function Name": "generate_series"}, nil)},

		{name: "nested loop over many rows", code: "NestedLoopOnLargeTables", want: true,
			node: scan("Nested Loop", nil, func(n *model.PlanNode) { n.RelationName, n.PlanRows = "", model.Float(50000) })},
		{name: "nested loop without estimate", code: "NestedLoopOnLargeTables", want: false,
			node: scan("Nested Loop", nil, func(n *model.PlanNode) { n.RelationName = "" })},

		{name: "subplan executed per row", code: "CorrelatedSubqueryExec", want: true,
			node: scan("Seq Scan", nil, func(n *model.PlanNode) { n.ParentRelationship, n.ActualLoops = "SubPlan", model.Float(500) })},
		{name: "subplan without loops", code: "CorrelatedSubqueryExec", want: false,
			node: scan("Seq Scan", nil, func(n *model.PlanNode) { n.ParentRelationship = "SubPlan" })},

		{name: "hashed aggregate on large input", code: "HashAggOnLargeInput", want: true,
			node: scan("Aggregate", map[string]any{"Strategy": "Hashed"}, func(n *model.PlanNode) { n.PlanRows = model.Float(50000) })},
		{name: "aggregate without strategy", code: "HashAggOnLargeInput", want: false,
			node: scan("Aggregate", nil, func(n *model.PlanNode) { n.PlanRows = model.Float(50000) })},

		{name: "aggregate peak memory", code: "LargeAggregateMemory", want: true,
			node: scan("Aggregate", map[string]any{"Peak Memory Usage": 80000.0}, nil)},
		{name: "aggregate without memory figures", code: "LargeAggregateMemory", want: false,
			node: scan("Aggregate", nil, nil)},

		{name: "having on aggregate", code: "FilterAfterAggregate", want: true,
			node: scan("Aggregate", map[string]any{"Filter": "(count(*) > 5)"}, nil)},
		{name: "aggregate without filter", code: "FilterAfterAggregate", want: false,
			node: scan("Aggregate", nil, nil)},

		{name: "parallel scan of small table", code: "ParallelSeqScanOnSmallTable", want: true,
			node: scan("Parallel Seq Scan", nil, func(n *model.PlanNode) { n.PlanRows = model.Float(500) })},
		{name: "parallel scan without estimate", code: "ParallelSeqScanOnSmallTable", want: false,
			node: scan("Parallel Seq Scan", nil, nil)},

		{name: "slow first row", code: "SlowStartupTime", want: true,
			node: scan("Sort", nil, func(n *model.PlanNode) { n.ActualStartupTime = model.Float(120) })},
		{name: "startup not measured", code: "SlowStartupTime", want: false,
			node: scan("Sort", nil, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := tt.node()
			f, err := byCode(t, tt.code).Evaluate(n, test.Plan(n))
			require.NoError(t, err)
			assert.Equal(t, tt.want, f != nil)
		})
	}
}

func TestJoinSidesRequireParentRelationship(t *testing.T) {
	build := func(outerRel, innerRel string) *model.PlanNode {
		outer := test.Node("Seq Scan", nil)
		outer.RelationName, outer.ParentRelationship = "orders", outerRel
		outer.ActualRows, outer.ActualLoops = model.Float(10), model.Float(1)

		inner := test.Node("Seq Scan", nil)
		inner.RelationName, inner.ParentRelationship = "events", innerRel
		inner.ActualRows, inner.ActualLoops = model.Float(100000), model.Float(1)
		return test.Node("Hash Join", map[string]any{"Hash Cond": "(orders.id = events.order_id)"}, outer, inner)
	}

	labeled := build("Outer", "Inner")
	f, err := byCode(t, "HashJoinWithSkew").Evaluate(labeled, test.Plan(labeled))
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, 100000.0, f.Metadata["inner_rows"])

	unlabeled := build("", "")
	f, err = byCode(t, "HashJoinWithSkew").Evaluate(unlabeled, test.Plan(unlabeled))
	require.NoError(t, err)
	assert.Nil(t, f)

	swapped := build("Outer", "Inner")
	swapped.Children[0], swapped.Children[1] = swapped.Children[1], swapped.Children[0]
	f, err = byCode(t, "HashJoinWithSkew").Evaluate(swapped, test.Plan(swapped))
	require.NoError(t, err)
	require.NotNil(t, f, "child order does not matter once sides are labeled")
	assert.Equal(t, 100000.0, f.Metadata["inner_rows"])

	loop := test.Node("Nested Loop", map[string]any{"Join Filter": "(a.id = b.id)"}, test.Node("Seq Scan", nil), test.Node("Index Scan", nil))
	loop.Children[1].ActualLoops, loop.Children[1].ActualTotalTime = model.Float(5000), model.Float(2)
	f, err = byCode(t, "NestedLoopHeavyInner").Evaluate(loop, test.Plan(loop))
	require.NoError(t, err)
	assert.Nil(t, f)
}
