package html_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/engine"
	"github.com/mickamy/pgdiag/internal/render/html"
	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/scoring"
	"github.com/mickamy/pgdiag/test"
)

func TestRenderSampleHTML(t *testing.T) {
	e := engine.New(engine.DefaultRules(config.Default().Rules), engine.WithLogger(slog.New(slog.DiscardHandler)))
	pr, err := report.NewBuilder(e, scoring.Default()).AnalyzePlan(context.Background(), test.LoadSamplePlan(t, "nloop_base.json"))
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, pr, html.Options{Title: "test", IncludeStyles: true}); err != nil {
		t.Fatalf("render html: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected html output")
	}
	for _, want := range []string{"<h2>Findings</h2>", "NestedLoopHeavyInner", `id="node-0-nested-loop"`, `href="#node-0-nested-loop"`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %q in html output", want)
		}
	}
}

func TestRenderEmptyReport(t *testing.T) {
	if err := html.Render(&bytes.Buffer{}, &report.PlanReport{}, html.Options{}); err == nil {
		t.Fatalf("expected error for empty report")
	}
}
