package test

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/mickamy/pgdiag/internal/analyzer"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/parser"
)

var (
	rootPath string
	once     sync.Once
)

// RootPath resolves a path relative to the repository rootPath (where go.mod resides).
func RootPath(t *testing.T) string {
	t.Helper()
	once.Do(func() {
		wd, err := os.Getwd()
		if err != nil {
			t.Fatalf("getwd: %v", err)
		}
		for {
			if _, err := os.Stat(filepath.Join(wd, "go.mod")); err == nil {
				rootPath = wd
				break
			}
			next := filepath.Dir(wd)
			if next == wd {
				t.Fatalf("go.mod not found from %s", wd)
			}
			wd = next
		}
	})
	return rootPath
}

// LoadSamplePlan parses a plan from the samples directory.
func LoadSamplePlan(t *testing.T, rel string) *model.ExplainRootPlan {
	t.Helper()
	f, err := os.Open(filepath.Join(RootPath(t), "samples", rel))
	if err != nil {
		t.Fatalf("open plan: %v", err)
	}
	defer func() { _ = f.Close() }()

	plan, err := parser.ParseJSON(f)
	if err != nil {
		t.Fatalf("parse plan: %v", err)
	}
	return plan
}

// LoadSampleAnalysis loads and analyzes a plan relative to the repository rootPath.
func LoadSampleAnalysis(t *testing.T, rel string) *analyzer.PlanAnalysis {
	t.Helper()
	analysis, err := analyzer.Analyze(LoadSamplePlan(t, rel))
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	return analysis
}

// Node builds a plan node for rule tests. The short type is derived from nodeType.
func Node(nodeType string, attrs map[string]any, children ...*model.PlanNode) *model.PlanNode {
	n := &model.PlanNode{
		NodeType:     nodeType,
		ShortType:    model.ClassifyNodeType(nodeType),
		NodeSpecific: model.NodeSpecific{},
		Children:     children,
	}
	for k, v := range attrs {
		n.NodeSpecific[k] = v
	}
	return n
}

// Plan wraps root into a document and assigns pre-order node IDs the way the parser does.
func Plan(root *model.PlanNode) *model.ExplainRootPlan {
	var assign func(n *model.PlanNode, id string)
	assign = func(n *model.PlanNode, id string) {
		n.ID = id
		for i, child := range n.Children {
			assign(child, id+"."+strconv.Itoa(i))
		}
	}
	assign(root, "0")
	return &model.ExplainRootPlan{Root: root, CommandType: "Select"}
}
