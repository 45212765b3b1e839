// Package report assembles engine findings, scores and suggestions into the reports handed to callers.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mickamy/pgdiag/internal/engine"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
	"github.com/mickamy/pgdiag/internal/scoring"
)

// ErrNoEngine is returned when a Builder has no Engine.
var ErrNoEngine = errors.New("report: builder has no engine")

// ErrEmptyPlan is returned by AnalyzePlan for a document without a root node.
var ErrEmptyPlan = errors.New("report: plan has no root node")

// Codes of the findings the builder synthesizes itself.
const (
	CodeNoIssuesDetected = "NoIssuesDetected"
	CodeInsufficientData = "InsufficientData"
)

// MinBatchSize is the smallest batch whose scores are considered meaningful.
const MinBatchSize = 2

const defaultNote = "Suggestions are heuristic. Confirm them with EXPLAIN (ANALYZE, BUFFERS) on a replica."

// AnalysisReport is the result of analyzing a batch of statements.
type AnalysisReport struct {
	ID          uuid.UUID         `json:"id"`
	GeneratedAt time.Time         `json:"generated_at"`
	Results     []StatementResult `json:"results"`
	// Notices are report-level findings such as InsufficientData.
	Notices     []rule.Finding    `json:"notices,omitempty"`
	Note        string            `json:"note,omitempty"`
	Degraded    int               `json:"degraded"`
}

// Severity returns the most urgent severity across results, or Info for an empty report.
func (r *AnalysisReport) Severity() rule.Severity {
	s := rule.SeverityInfo
	for _, res := range r.Results {
		if res.Severity > s {
			s = res.Severity
		}
	}
	return s
}

// StatementResult is the diagnosis of one statement.
type StatementResult struct {
	Statement     model.SqlStatement   `json:"statement"`
	Score         float64              `json:"score"`
	Severity      rule.Severity        `json:"severity"`
	LowConfidence bool                 `json:"low_confidence,omitempty"`
	Boosts        []string             `json:"boosts,omitempty"`
	Suggestions   []Suggestion         `json:"suggestions"`
	Findings      []rule.Finding       `json:"findings"`
	Skipped       []engine.SkippedRule `json:"skipped,omitempty"`
	Plan          *PlanReport          `json:"plan,omitempty"`
}

// PlanReport is the diagnosis of one execution plan. It carries a categorical severity, not a numeric score.
type PlanReport struct {
	ID          uuid.UUID              `json:"id"`
	GeneratedAt time.Time              `json:"generated_at"`
	Plan        *model.ExplainRootPlan `json:"plan,omitempty"`
	Findings    []rule.Finding         `json:"findings"`
	Skipped     []engine.SkippedRule   `json:"skipped,omitempty"`
	Severity    rule.Severity          `json:"severity"`
	Counts      map[rule.Severity]int  `json:"counts"`
}

// Degraded is the number of rule invocations skipped while building the report.
func (p *PlanReport) Degraded() int {
	return len(p.Skipped)
}

// Options tunes AnalyzeStatements.
type Options struct {
	// Limit keeps the top N results by score. 0 keeps all.
	Limit int
}

// Builder turns engine output into reports.
type Builder struct {
	Engine  *engine.Engine
	Scorer  scoring.Scorer
	// Advisor produces suggestions for a statement. Nil uses Advise.
	Advisor func(model.SqlStatement) []Suggestion
	// Clock stamps GeneratedAt. Nil uses time.Now.
	Clock   func() time.Time
}

// NewBuilder returns a Builder with the default advisor and clock.
func NewBuilder(e *engine.Engine, s scoring.Scorer) *Builder {
	return &Builder{Engine: e, Scorer: s}
}

func (b *Builder) now() time.Time {
	if b.Clock != nil {
		return b.Clock().UTC()
	}
	return time.Now().UTC()
}

func (b *Builder) advise(stmt model.SqlStatement) []Suggestion {
	if b.Advisor != nil {
		return b.Advisor(stmt)
	}
	return Advise(stmt)
}

func (b *Builder) scorer() scoring.Scorer {
	if b.Scorer.Weights.Sum() == 0 {
		return scoring.Default()
	}
	return b.Scorer
}

// AnalyzeStatements scores the batch, runs the text rules on every statement and ranks the results.
func (b *Builder) AnalyzeStatements(ctx context.Context, stmts []model.SqlStatement, opts Options) (*AnalysisReport, error) {
	if b == nil || b.Engine == nil {
		return nil, ErrNoEngine
	}
	rep := &AnalysisReport{
		ID:          uuid.New(),
		GeneratedAt: b.now(),
		Results:     []StatementResult{},
		Note:        defaultNote,
	}
	if len(stmts) < MinBatchSize {
		rep.Notices = append(rep.Notices, insufficientData(len(stmts)))
	}
	if len(stmts) == 0 {
		rep.Note = "no statements to analyze"
		return rep, nil
	}

	scores := b.scorer().ScoreBatch(stmts)
	for i, stmt := range stmts {
		lint, err := b.LintStatement(ctx, stmt)
		if err != nil {
			return nil, err
		}
		rep.Degraded += len(lint.Skipped)

		sc := scores[i]
		rep.Results = append(rep.Results, StatementResult{
			Statement:     stmt,
			Score:         sc.Value,
			Severity:      sc.Severity,
			LowConfidence: sc.LowConfidence || len(stmts) < MinBatchSize,
			Boosts:        sc.Boosts,
			Suggestions:   lint.Suggestions,
			Findings:      lint.Findings,
			Skipped:       lint.Skipped,
		})
	}

	sort.SliceStable(rep.Results, func(i, j int) bool {
		a, c := rep.Results[i], rep.Results[j]
		if a.Score != c.Score {
			return a.Score > c.Score
		}
		return a.Statement.Text < c.Statement.Text
	})
	if opts.Limit > 0 && len(rep.Results) > opts.Limit {
		rep.Results = rep.Results[:opts.Limit]
	}
	return rep, nil
}

// LintResult is the text-rule diagnosis of one statement, without scoring.
type LintResult struct {
	Findings    []rule.Finding       `json:"findings"`
	Skipped     []engine.SkippedRule `json:"skipped,omitempty"`
	Suggestions []Suggestion         `json:"suggestions"`
}

// LintStatement runs the text rules on stmt. A statement no rule fires on gets a single
// NoIssuesDetected finding.
func (b *Builder) LintStatement(ctx context.Context, stmt model.SqlStatement) (*LintResult, error) {
	if b == nil || b.Engine == nil {
		return nil, ErrNoEngine
	}
	res, err := b.Engine.EvaluateStatement(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("report: lint statement: %w", err)
	}
	findings := res.Findings
	if len(findings) == 0 {
		findings = []rule.Finding{noIssues()}
	}
	rule.Sort(findings)
	return &LintResult{
		Findings:    findings,
		Skipped:     res.Skipped,
		Suggestions: b.advise(stmt),
	}, nil
}

// AnalyzePlan runs the plan rules over plan and summarizes the findings.
func (b *Builder) AnalyzePlan(ctx context.Context, plan *model.ExplainRootPlan) (*PlanReport, error) {
	if b == nil || b.Engine == nil {
		return nil, ErrNoEngine
	}
	if plan == nil || plan.Root == nil {
		return nil, ErrEmptyPlan
	}
	res, err := b.Engine.EvaluatePlan(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("report: analyze plan: %w", err)
	}
	findings := res.Findings
	if findings == nil {
		findings = []rule.Finding{}
	}
	rule.Sort(findings)
	return &PlanReport{
		ID:          uuid.New(),
		GeneratedAt: b.now(),
		Plan:        plan,
		Findings:    findings,
		Skipped:     res.Skipped,
		Severity:    rule.Highest(findings),
		Counts:      rule.CountBySeverity(findings),
	}, nil
}

// AttachPlan links a plan diagnosis to a statement result.
func AttachPlan(result *StatementResult, plan *PlanReport) {
	if result == nil {
		return
	}
	result.Plan = plan
}

func noIssues() rule.Finding {
	return rule.Finding{
		Code:     CodeNoIssuesDetected,
		Message:  "no issues detected",
		Category: rule.CategoryPerformance,
		Severity: rule.SeverityInfo,
		Metadata: map[string]any{},
	}
}

func insufficientData(n int) rule.Finding {
	return rule.Finding{
		Code:     CodeInsufficientData,
		Message:  fmt.Sprintf("insufficient data: %d statement(s) in the batch, at least %d are needed for a reliable ranking", n, MinBatchSize),
		Category: rule.CategoryStatistics,
		Severity: rule.SeverityInfo,
		Metadata: map[string]any{"count": n},
	}
}
