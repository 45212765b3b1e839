package diff_test

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/diff"
	"github.com/mickamy/pgdiag/internal/engine"
	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/rule"
	"github.com/mickamy/pgdiag/internal/scoring"
	"github.com/mickamy/pgdiag/test"
)

func planReport(t *testing.T, name string) *report.PlanReport {
	t.Helper()
	e := engine.New(engine.DefaultRules(config.Default().Rules), engine.WithLogger(slog.New(slog.DiscardHandler)))
	pr, err := report.NewBuilder(e, scoring.Default()).AnalyzePlan(context.Background(), test.LoadSamplePlan(t, name))
	if err != nil {
		t.Fatalf("analyze %s: %v", name, err)
	}
	return pr
}

func codes(findings []rule.Finding) map[string]bool {
	out := map[string]bool{}
	for _, f := range findings {
		out[f.Code] = true
	}
	return out
}

func TestCompareSamplesAndJSON(t *testing.T) {
	base := planReport(t, "nloop_base.json")
	target := planReport(t, "nloop_index.json")

	rep, err := diff.Compare(base, target, diff.Options{})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if rep == nil || len(rep.Improvements) == 0 {
		t.Fatalf("expected improvements in diff report")
	}

	resolved := codes(rep.Findings.Resolved)
	for _, code := range []string{"NestedLoopHeavyInner", "MaterializeRescan"} {
		if !resolved[code] {
			t.Fatalf("expected %s to be resolved, got %v", code, rep.Findings.Resolved)
		}
	}
	if codes(rep.Findings.New)["NestedLoopHeavyInner"] {
		t.Fatalf("nested loop finding should not reappear in target")
	}

	jsonOut, err := rep.JSON()
	if err != nil {
		t.Fatalf("json marshal: %v", err)
	}
	if !strings.Contains(string(jsonOut), `"resolved"`) {
		t.Fatalf("expected findings diff in json payload: %s", jsonOut)
	}
}

func TestCompareIdenticalPlans(t *testing.T) {
	base := planReport(t, "nloop_base.json")
	target := planReport(t, "nloop_base.json")

	rep, err := diff.Compare(base, target, diff.Options{})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	if len(rep.Findings.New) != 0 || len(rep.Findings.Resolved) != 0 || len(rep.Findings.Changed) != 0 {
		t.Fatalf("expected no finding changes, got %+v", rep.Findings)
	}
	if len(rep.Regressions) != 0 || len(rep.Improvements) != 0 {
		t.Fatalf("expected no timing deltas")
	}
	if rep.Summary.DeltaExecutionMs != 0 {
		t.Fatalf("expected zero execution delta, got %f", rep.Summary.DeltaExecutionMs)
	}
}

func TestMarkdown(t *testing.T) {
	rep, err := diff.Compare(planReport(t, "nloop_base.json"), planReport(t, "nloop_index.json"), diff.Options{})
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	md := rep.Markdown()
	for _, want := range []string{"# pgdiag diff", "### Resolved findings", "`NestedLoopHeavyInner`", "### Improvements"} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestCompareRequiresPlans(t *testing.T) {
	if _, err := diff.Compare(nil, planReport(t, "nloop_base.json"), diff.Options{}); err == nil {
		t.Fatalf("expected error for missing base")
	}
	if _, err := diff.Compare(planReport(t, "nloop_base.json"), &report.PlanReport{}, diff.Options{}); err == nil {
		t.Fatalf("expected error for missing target")
	}
}
