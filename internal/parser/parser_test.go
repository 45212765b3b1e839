package parser_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/parser"
	"github.com/mickamy/pgdiag/test"
)

func TestParseSample(t *testing.T) {
	f, err := os.Open(filepath.Join(test.RootPath(t), "samples", "orders_report.json"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	plan, err := parser.ParseJSON(f)
	require.NoError(t, err)

	require.NotNil(t, plan.Root)
	assert.Equal(t, "Limit", plan.Root.NodeType)
	assert.Equal(t, model.Limit, plan.Root.ShortType)
	assert.Equal(t, "Select", plan.CommandType)
	require.NotNil(t, plan.ExecutionTime)
	assert.InDelta(t, 1830.517, *plan.ExecutionTime, 1e-9)
	require.NotNil(t, plan.PlanningTime)
	assert.Equal(t, "4MB", plan.Settings["work_mem"])
	assert.Contains(t, plan.Extra, "Triggers")

	nodes := plan.Nodes()
	require.Len(t, nodes, 6)
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"0", "0.0", "0.0.0", "0.0.0.0", "0.0.0.1", "0.0.0.1.0"}, ids)

	sortNode := nodes[1]
	assert.Equal(t, model.Sort, sortNode.ShortType)
	method, ok := sortNode.NodeSpecific.GetString("Sort Method")
	require.True(t, ok)
	assert.Equal(t, "external merge", method)
	require.NotNil(t, sortNode.Buffers)
	assert.EqualValues(t, 6144, sortNode.Buffers.TempWritten)

	orders := nodes[3]
	assert.Equal(t, model.SeqScan, orders.ShortType)
	assert.Equal(t, "orders", orders.RelationName)
	assert.Equal(t, "public.orders", orders.Relation())
	require.NotNil(t, orders.PlanRows)
	assert.Equal(t, 500000.0, *orders.PlanRows)
	removed, ok := orders.NodeSpecific.GetNumber("Rows Removed by Filter")
	require.True(t, ok)
	assert.Equal(t, 1789.0, removed)
}

func TestParseObjectRootAndCaseInsensitiveKeys(t *testing.T) {
	doc := `{
		"plan": {
			"NODE TYPE": "Seq Scan",
			"relation name": "events",
			"plan rows": 42,
			"Total  Cost": 12.5,
			"Custom Attr": {"nested": true}
		},
		"execution time": 1.5
	}`
	plan, err := parser.Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, "Seq Scan", plan.Root.NodeType)
	assert.Equal(t, "events", plan.Root.RelationName)
	require.NotNil(t, plan.Root.PlanRows)
	assert.Equal(t, 42.0, *plan.Root.PlanRows)
	require.NotNil(t, plan.Root.TotalCost)
	assert.Equal(t, 12.5, *plan.Root.TotalCost)
	require.NotNil(t, plan.ExecutionTime)
	assert.Equal(t, 1.5, *plan.ExecutionTime)
	assert.Nil(t, plan.PlanningTime)

	v, ok := plan.Root.NodeSpecific.Get("Custom Attr")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"nested": true}, v)
}

func TestParseAbsentIsNotZero(t *testing.T) {
	doc := `[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "t", "Plan Rows": 0}}]`
	plan, err := parser.Parse([]byte(doc))
	require.NoError(t, err)

	node := plan.Root
	require.NotNil(t, node.PlanRows)
	assert.Equal(t, 0.0, *node.PlanRows)
	assert.Nil(t, node.StartupCost)
	assert.Nil(t, node.ActualRows)
	assert.Nil(t, node.ActualLoops)
	assert.Nil(t, node.Buffers)
	assert.Nil(t, plan.ExecutionTime)
	assert.Nil(t, plan.Settings)
}

func TestParseNonNumericTypedFieldStaysInNodeSpecific(t *testing.T) {
	doc := `{"Plan": {"Node Type": "Result", "Plan Rows": "lots"}}`
	plan, err := parser.Parse([]byte(doc))
	require.NoError(t, err)

	assert.Nil(t, plan.Root.PlanRows)
	s, ok := plan.Root.NodeSpecific.GetString("Plan Rows")
	require.True(t, ok)
	assert.Equal(t, "lots", s)
}

func TestParseNormalizesChildShapes(t *testing.T) {
	doc := `{"Plan": {
		"Node Type": "Nested Loop",
		"Outer Plan": {"Node Type": "Seq Scan", "Relation Name": "a"},
		"Inner Plan": {"Node Type": "Index Scan", "Relation Name": "b", "Index Name": "b_pkey"}
	}}`
	plan, err := parser.Parse([]byte(doc))
	require.NoError(t, err)

	require.Len(t, plan.Root.Children, 2)
	assert.Equal(t, "a", plan.Root.Children[0].RelationName)
	assert.Equal(t, "0.0", plan.Root.Children[0].ID)
	assert.Equal(t, "b", plan.Root.Children[1].RelationName)
	assert.Equal(t, "0.1", plan.Root.Children[1].ID)
	assert.Equal(t, "b_pkey", plan.Root.Children[1].IndexName)
	assert.False(t, plan.Root.NodeSpecific.Has("Inner Plan"))
	assert.False(t, plan.Root.NodeSpecific.Has("Outer Plan"))

	mixed := `{"Plan": {
		"Node Type": "Append",
		"Plans": [{"Node Type": "Seq Scan"}, {"Node Type": "Seq Scan"}],
		"Plan": [{"Node Type": "Result"}]
	}}`
	plan, err = parser.Parse([]byte(mixed))
	require.NoError(t, err)
	require.Len(t, plan.Root.Children, 3)
	assert.Equal(t, "Result", plan.Root.Children[2].NodeType)
	assert.Equal(t, "0.2", plan.Root.Children[2].ID)
}

func TestParseNestedBuffers(t *testing.T) {
	doc := `{"Plan": {
		"Node Type": "Sort",
		"Buffers": {"Shared Hit": 10, "Shared Read": 5, "Temp Read": 2, "Temp Written": 3}
	}}`
	plan, err := parser.Parse([]byte(doc))
	require.NoError(t, err)

	require.NotNil(t, plan.Root.Buffers)
	assert.EqualValues(t, 10, plan.Root.Buffers.SharedHit)
	assert.EqualValues(t, 5, plan.Root.Buffers.SharedRead)
	assert.EqualValues(t, 5, plan.Root.Buffers.TempTotal())
	assert.False(t, plan.Root.NodeSpecific.Has("Buffers"))
}

func TestParseSettingsArrayForm(t *testing.T) {
	doc := `{"Plan": {"Node Type": "Result"}, "Settings": [{"Name": "work_mem", "Setting": "64MB"}, {"name": "jit", "value": "off"}]}`
	plan, err := parser.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"work_mem": "64MB", "jit": "off"}, plan.Settings)
}

func TestParseModifyTableCommandType(t *testing.T) {
	doc := `{"Plan": {"Node Type": "ModifyTable", "Operation": "Delete", "Plans": [{"Node Type": "Seq Scan"}]}}`
	plan, err := parser.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "Delete", plan.CommandType)
}

func TestParseLosslessNodeSpecific(t *testing.T) {
	raw := map[string]any{
		"Node Type":              "Index Scan",
		"Relation Name":          "orders",
		"Index Name":             "orders_pkey",
		"Plan Rows":              1,
		"Index Cond":             "(id = 42)",
		"Scan Direction":         "Forward",
		"Rows Removed by Filter": 0,
		"Output":                 []any{"id", "status"},
		"Parallel Aware":         false,
		"Future Field":           map[string]any{"x": 1},
	}
	data, err := json.Marshal(map[string]any{"Plan": raw})
	require.NoError(t, err)

	plan, err := parser.Parse(data)
	require.NoError(t, err)

	promoted := map[string]bool{"Node Type": true, "Relation Name": true, "Index Name": true, "Plan Rows": true}
	for key, want := range raw {
		if promoted[key] {
			assert.False(t, plan.Root.NodeSpecific.Has(key), "promoted key %q leaked", key)
			continue
		}
		got, ok := plan.Root.NodeSpecific[key]
		require.True(t, ok, "key %q missing", key)
		wantJSON, _ := json.Marshal(want)
		gotJSON, _ := json.Marshal(got)
		assert.JSONEq(t, string(wantJSON), string(gotJSON), "key %q changed", key)
	}
	assert.Len(t, plan.Root.NodeSpecific, len(raw)-len(promoted))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		sentinel error
		path     string
	}{
		{name: "empty", doc: "", sentinel: parser.ErrEmptyDocument},
		{name: "malformed", doc: `{"Plan": `, sentinel: parser.ErrMalformed},
		{name: "empty array", doc: `[]`, sentinel: parser.ErrEmptyDocument},
		{name: "scalar root", doc: `42`, sentinel: parser.ErrNotObject},
		{name: "array of scalars", doc: `["x"]`, sentinel: parser.ErrNotObject},
		{name: "missing plan", doc: `{"Planning Time": 1}`, sentinel: parser.ErrMissingPlan},
		{name: "plan not object", doc: `{"Plan": [1]}`, sentinel: parser.ErrNotObject},
		{name: "missing node type", doc: `{"Plan": {"Plan Rows": 1}}`, sentinel: parser.ErrMissingNodeType, path: "0"},
		{
			name:     "bad child",
			doc:      `{"Plan": {"Node Type": "Append", "Plans": [{"Node Type": "Result"}, "oops"]}}`,
			sentinel: parser.ErrNotObject,
			path:     "0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := parser.ParseJSON(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Nil(t, plan)
			assert.ErrorIs(t, err, tt.sentinel)

			var perr *parser.PlanParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.path, perr.Path)
			assert.True(t, errors.Is(err, &parser.PlanParseError{}))
		})
	}
}

func TestParseDeepTree(t *testing.T) {
	const depth = 200
	var b strings.Builder
	for i := 0; i < depth; i++ {
		b.WriteString(`{"Node Type": "Subquery Scan", "Plans": [`)
	}
	b.WriteString(`{"Node Type": "Result"}`)
	for i := 0; i < depth; i++ {
		b.WriteString(`]}`)
	}
	plan, err := parser.Parse([]byte(`{"Plan": ` + b.String() + `}`))
	require.NoError(t, err)
	assert.Len(t, plan.Nodes(), depth+1)
}
