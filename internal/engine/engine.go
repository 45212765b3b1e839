// Package engine runs the registered plan and text rules and isolates their failures.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/planrule"
	"github.com/mickamy/pgdiag/internal/rule"
	"github.com/mickamy/pgdiag/internal/textrule"
)

const scope = "github.com/mickamy/pgdiag/internal/engine"

// RuleSet is the registry the engine evaluates.
type RuleSet struct {
	Plan []rule.PlanRule
	Text []rule.TextRule
}

// DefaultRules registers every built-in rule with thresholds from cfg.
func DefaultRules(cfg config.RuleConfig) RuleSet {
	return RuleSet{
		Plan: planrule.Default(cfg),
		Text: textrule.Default(cfg),
	}
}

// SkippedRule records a rule invocation that failed and contributed nothing.
type SkippedRule struct {
	Code   string `json:"code"`
	NodeID string `json:"node_id,omitempty"`
	Reason string `json:"reason"`
}

// Result is the outcome of one evaluation. Findings are unsorted.
type Result struct {
	Findings []rule.Finding
	Skipped  []SkippedRule
}

// Degraded is the number of rule invocations that were skipped.
func (r *Result) Degraded() int {
	if r == nil {
		return 0
	}
	return len(r.Skipped)
}

// Engine evaluates rules. It holds no per-evaluation state and may be shared across goroutines.
type Engine struct {
	rules       RuleSet
	parallelism int
	logger      *slog.Logger
	tracer      trace.Tracer

	findings metric.Int64Counter
	skipped  metric.Int64Counter
	duration metric.Float64Histogram
}

type options struct {
	parallelism int
	logger      *slog.Logger
	meter       metric.Meter
	tracer      trace.Tracer
}

// Option customizes an Engine.
type Option func(*options)

// WithParallelism evaluates up to n plan nodes concurrently. n <= 1 keeps evaluation sequential.
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// WithLogger sets the logger used for skipped-rule warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMeter overrides the meter taken from the global provider.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// New builds an Engine over rules.
func New(rules RuleSet, opts ...Option) *Engine {
	o := options{
		parallelism: 1,
		logger:      slog.Default(),
		meter:       otel.GetMeterProvider().Meter(scope),
		tracer:      otel.GetTracerProvider().Tracer(scope),
	}
	for _, opt := range opts {
		opt(&o)
	}

	findings, _ := o.meter.Int64Counter("pgdiag.engine.findings",
		metric.WithDescription("Findings emitted by rule evaluation"),
	)
	skipped, _ := o.meter.Int64Counter("pgdiag.engine.rules_skipped",
		metric.WithDescription("Rule invocations skipped after an error or panic"),
	)
	duration, _ := o.meter.Float64Histogram("pgdiag.engine.duration_ms",
		metric.WithDescription("Time to evaluate one plan or statement (ms)"),
		metric.WithUnit("ms"),
	)

	return &Engine{
		rules:       rules,
		parallelism: o.parallelism,
		logger:      o.logger,
		tracer:      o.tracer,
		findings:    findings,
		skipped:     skipped,
		duration:    duration,
	}
}

// Rules returns the registry the engine was built with.
func (e *Engine) Rules() RuleSet {
	return e.rules
}

// nodeResult is the outcome of every plan rule on a single node.
type nodeResult struct {
	findings []rule.Finding
	skipped  []SkippedRule
}

// EvaluatePlan runs every plan rule on every node in depth-first pre-order.
// Rule failures are recorded in Result.Skipped; only context cancellation is returned as an error.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *model.ExplainRootPlan) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.EvaluatePlan")
	defer span.End()
	start := time.Now()

	nodes := plan.Nodes()
	span.SetAttributes(attribute.Int("pgdiag.plan.nodes", len(nodes)))

	slots := make([]nodeResult, len(nodes))
	var err error
	if e.parallelism > 1 && len(nodes) > 1 {
		err = e.evaluateParallel(ctx, plan, nodes, slots)
	} else {
		err = e.evaluateSequential(ctx, plan, nodes, slots)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("engine: evaluate plan: %w", err)
	}

	res := &Result{}
	for _, slot := range slots {
		res.Findings = append(res.Findings, slot.findings...)
		res.Skipped = append(res.Skipped, slot.skipped...)
	}
	e.record(ctx, span, "plan", res, start)
	return res, nil
}

func (e *Engine) evaluateSequential(ctx context.Context, plan *model.ExplainRootPlan, nodes []*model.PlanNode, slots []nodeResult) error {
	for i, node := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		slots[i] = e.evaluateNode(ctx, node, plan)
	}
	return nil
}

func (e *Engine) evaluateParallel(ctx context.Context, plan *model.ExplainRootPlan, nodes []*model.PlanNode, slots []nodeResult) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i, node := range nodes {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = e.evaluateNode(gctx, node, plan)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (e *Engine) evaluateNode(ctx context.Context, node *model.PlanNode, plan *model.ExplainRootPlan) nodeResult {
	var out nodeResult
	for _, r := range e.rules.Plan {
		f, err := invoke(func() (*rule.Finding, error) { return r.Evaluate(node, plan) })
		if err != nil {
			out.skipped = append(out.skipped, e.skip(ctx, r.Code(), node.ID, err))
			continue
		}
		if f == nil {
			continue
		}
		finding := *f
		finding.NodeID = node.ID
		out.findings = append(out.findings, finding)
	}
	return out
}

// EvaluateStatement runs every text rule once against stmt.
func (e *Engine) EvaluateStatement(ctx context.Context, stmt model.SqlStatement) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "engine.EvaluateStatement")
	defer span.End()
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("engine: evaluate statement: %w", err)
	}

	res := &Result{}
	for _, r := range e.rules.Text {
		f, err := invoke(func() (*rule.Finding, error) { return r.Evaluate(stmt) })
		if err != nil {
			res.Skipped = append(res.Skipped, e.skip(ctx, r.Code(), "", err))
			continue
		}
		if f != nil {
			res.Findings = append(res.Findings, *f)
		}
	}
	e.record(ctx, span, "statement", res, start)
	return res, nil
}

// invoke calls fn and converts a panic into an error.
func invoke(fn func() (*rule.Finding, error)) (f *rule.Finding, err error) {
	defer func() {
		if r := recover(); r != nil {
			f = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (e *Engine) skip(ctx context.Context, code, nodeID string, err error) SkippedRule {
	e.logger.WarnContext(ctx, "rule skipped", "rule", code, "node", nodeID, "error", err)
	e.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", code)))
	return SkippedRule{Code: code, NodeID: nodeID, Reason: err.Error()}
}

func (e *Engine) record(ctx context.Context, span trace.Span, kind string, res *Result, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	e.findings.Add(ctx, int64(len(res.Findings)), attrs)
	e.duration.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	span.SetAttributes(
		attribute.Int("pgdiag.findings", len(res.Findings)),
		attribute.Int("pgdiag.skipped", len(res.Skipped)),
	)
}
