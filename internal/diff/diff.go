// Package diff compares the diagnoses of two plans for the same query.
package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mickamy/pgdiag/internal/analyzer"
	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/insight"
	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/rule"
)

// Options configures the diff sensitivity. Zero values fall back to the active config.
type Options struct {
	MinSelfTimeDeltaMs float64
	MinPercentChange   float64
	MaxItems           int
}

// Report summarises the delta between two plan diagnoses.
type Report struct {
	Summary      SummaryDiff  `json:"summary"`
	Findings     FindingsDiff `json:"findings"`
	Regressions  []Entry      `json:"regressions"`
	Improvements []Entry      `json:"improvements"`
	Insights     []Insight    `json:"insights"`
	Options      Options      `json:"-"`
}

// SummaryDiff covers high-level execution differences.
type SummaryDiff struct {
	BaseExecutionMs   float64       `json:"base_execution_ms"`
	TargetExecutionMs float64       `json:"target_execution_ms"`
	DeltaExecutionMs  float64       `json:"delta_execution_ms"`
	PercentExecution  float64       `json:"percent_execution"`
	BasePlanningMs    float64       `json:"base_planning_ms"`
	TargetPlanningMs  float64       `json:"target_planning_ms"`
	DeltaPlanningMs   float64       `json:"delta_planning_ms"`
	PercentPlanning   float64       `json:"percent_planning"`
	BaseSeverity      rule.Severity `json:"base_severity"`
	TargetSeverity    rule.Severity `json:"target_severity"`
}

// FindingsDiff lists findings that appeared, disappeared or changed severity.
// Findings are matched by code and affected objects; node IDs differ between plans.
type FindingsDiff struct {
	New      []rule.Finding   `json:"new"`
	Resolved []rule.Finding   `json:"resolved"`
	Changed  []SeverityChange `json:"changed"`
}

// SeverityChange is a finding present in both plans at different severities.
type SeverityChange struct {
	Code            string        `json:"code"`
	AffectedObjects []string      `json:"affected_objects,omitempty"`
	Base            rule.Severity `json:"base"`
	Target          rule.Severity `json:"target"`
	Message         string        `json:"message"`
}

// Entry captures the delta for a set of nodes with the same signature.
type Entry struct {
	Signature        string  `json:"signature"`
	BaseSelfMs       float64 `json:"base_self_ms"`
	TargetSelfMs     float64 `json:"target_self_ms"`
	DeltaSelfMs      float64 `json:"delta_self_ms"`
	PercentChange    float64 `json:"percent_change"`
	BaseRows         float64 `json:"base_rows"`
	TargetRows       float64 `json:"target_rows"`
	BaseRowFactor    float64 `json:"base_row_factor"`
	TargetRowFactor  float64 `json:"target_row_factor"`
	BaseBuffers      float64 `json:"base_buffers"`
	TargetBuffers    float64 `json:"target_buffers"`
	DeltaBuffers     float64 `json:"delta_buffers"`
	BaseTempBlocks   float64 `json:"base_temp_blocks"`
	TargetTempBlocks float64 `json:"target_temp_blocks"`
	DeltaTempBlocks  float64 `json:"delta_temp_blocks"`
}

// Insight is a one-line headline of the diff.
type Insight struct {
	Severity    rule.Severity `json:"severity"`
	Improvement bool          `json:"improvement,omitempty"`
	Icon        string        `json:"icon"`
	Message     string        `json:"message"`
}

// Compare builds a diff report for two plan diagnoses.
func Compare(base, target *report.PlanReport, opts Options) (*Report, error) {
	if base == nil || base.Plan == nil || base.Plan.Root == nil {
		return nil, fmt.Errorf("diff: base report missing")
	}
	if target == nil || target.Plan == nil || target.Plan.Root == nil {
		return nil, fmt.Errorf("diff: target report missing")
	}
	baseAnalysis, err := analyzer.Analyze(base.Plan)
	if err != nil {
		return nil, fmt.Errorf("diff: base: %w", err)
	}
	targetAnalysis, err := analyzer.Analyze(target.Plan)
	if err != nil {
		return nil, fmt.Errorf("diff: target: %w", err)
	}

	opts = applyDefaults(opts)

	baseAgg := aggregate(baseAnalysis.Root)
	targetAgg := aggregate(targetAnalysis.Root)

	var regressions, improvements []Entry
	for _, sig := range unionKeys(baseAgg, targetAgg) {
		entry := buildEntry(sig, baseAgg[sig], targetAgg[sig])
		if passesRegression(entry, opts) {
			regressions = append(regressions, entry)
		} else if passesImprovement(entry, opts) {
			improvements = append(improvements, entry)
		}
	}

	sort.SliceStable(regressions, func(i, j int) bool {
		return regressions[i].DeltaSelfMs > regressions[j].DeltaSelfMs
	})
	sort.SliceStable(improvements, func(i, j int) bool {
		return improvements[i].DeltaSelfMs < improvements[j].DeltaSelfMs
	})

	if opts.MaxItems > 0 {
		if len(regressions) > opts.MaxItems {
			regressions = regressions[:opts.MaxItems]
		}
		if len(improvements) > opts.MaxItems {
			improvements = improvements[:opts.MaxItems]
		}
	}

	out := &Report{
		Summary: SummaryDiff{
			BaseExecutionMs:   baseAnalysis.TotalTimeMs,
			TargetExecutionMs: targetAnalysis.TotalTimeMs,
			DeltaExecutionMs:  targetAnalysis.TotalTimeMs - baseAnalysis.TotalTimeMs,
			PercentExecution:  percentChange(baseAnalysis.TotalTimeMs, targetAnalysis.TotalTimeMs),
			BasePlanningMs:    baseAnalysis.PlanningTimeMs,
			TargetPlanningMs:  targetAnalysis.PlanningTimeMs,
			DeltaPlanningMs:   targetAnalysis.PlanningTimeMs - baseAnalysis.PlanningTimeMs,
			PercentPlanning:   percentChange(baseAnalysis.PlanningTimeMs, targetAnalysis.PlanningTimeMs),
			BaseSeverity:      base.Severity,
			TargetSeverity:    target.Severity,
		},
		Findings:     compareFindings(base.Findings, target.Findings),
		Regressions:  regressions,
		Improvements: improvements,
		Options:      opts,
	}
	out.Insights = synthesizeInsights(out)
	return out, nil
}

func findingKey(f rule.Finding) string {
	return f.Code + "|" + strings.Join(f.AffectedObjects, ",")
}

// indexFindings keeps the most severe finding per key.
func indexFindings(findings []rule.Finding) map[string]rule.Finding {
	out := make(map[string]rule.Finding, len(findings))
	for _, f := range findings {
		key := findingKey(f)
		if prev, ok := out[key]; !ok || f.Severity > prev.Severity {
			out[key] = f
		}
	}
	return out
}

func compareFindings(base, target []rule.Finding) FindingsDiff {
	baseIdx := indexFindings(base)
	targetIdx := indexFindings(target)
	diff := FindingsDiff{New: []rule.Finding{}, Resolved: []rule.Finding{}, Changed: []SeverityChange{}}
	for _, key := range unionKeys(baseIdx, targetIdx) {
		b, inBase := baseIdx[key]
		t, inTarget := targetIdx[key]
		switch {
		case inBase && !inTarget:
			diff.Resolved = append(diff.Resolved, b)
		case !inBase && inTarget:
			diff.New = append(diff.New, t)
		case b.Severity != t.Severity:
			diff.Changed = append(diff.Changed, SeverityChange{
				Code:            t.Code,
				AffectedObjects: t.AffectedObjects,
				Base:            b.Severity,
				Target:          t.Severity,
				Message:         t.Message,
			})
		}
	}
	rule.Sort(diff.New)
	rule.Sort(diff.Resolved)
	sort.SliceStable(diff.Changed, func(i, j int) bool {
		di := int(diff.Changed[i].Target) - int(diff.Changed[i].Base)
		dj := int(diff.Changed[j].Target) - int(diff.Changed[j].Base)
		if di != dj {
			return di > dj
		}
		return diff.Changed[i].Code < diff.Changed[j].Code
	})
	return diff
}

// Markdown renders the report as a Markdown document.
func (r *Report) Markdown() string {
	var b strings.Builder
	b.WriteString("# pgdiag diff\n\n")
	b.WriteString("## Summary\n")
	_, _ = fmt.Fprintf(&b, "- Severity: %s → %s\n", r.Summary.BaseSeverity, r.Summary.TargetSeverity)
	_, _ = fmt.Fprintf(&b, "- Execution: %.3f ms → %.3f ms (%+.3f ms, %+.1f%%)\n",
		r.Summary.BaseExecutionMs, r.Summary.TargetExecutionMs,
		r.Summary.DeltaExecutionMs, r.Summary.PercentExecution)
	_, _ = fmt.Fprintf(&b, "- Planning: %.3f ms → %.3f ms (%+.3f ms, %+.1f%%)\n\n",
		r.Summary.BasePlanningMs, r.Summary.TargetPlanningMs,
		r.Summary.DeltaPlanningMs, r.Summary.PercentPlanning)

	b.WriteString("### Insights\n")
	if len(r.Insights) == 0 {
		b.WriteString("- No notable plan changes detected\n")
	} else {
		for _, in := range r.Insights {
			_, _ = fmt.Fprintf(&b, "- %s %s\n", in.Icon, in.Message)
		}
	}

	b.WriteString("\n### New findings\n")
	writeFindings(&b, r.Findings.New)
	b.WriteString("\n### Resolved findings\n")
	writeFindings(&b, r.Findings.Resolved)
	b.WriteString("\n### Severity changes\n")
	if len(r.Findings.Changed) == 0 {
		b.WriteString("- None\n")
	}
	for _, c := range r.Findings.Changed {
		_, _ = fmt.Fprintf(&b, "- `%s` %s → %s%s\n", c.Code, c.Base, c.Target, objectsSuffix(c.AffectedObjects))
	}

	b.WriteString("\n### Regressions\n")
	writeEntries(&b, r.Regressions)
	b.WriteString("\n### Improvements\n")
	writeEntries(&b, r.Improvements)
	return b.String()
}

func writeFindings(b *strings.Builder, findings []rule.Finding) {
	if len(findings) == 0 {
		b.WriteString("- None\n")
		return
	}
	for _, f := range findings {
		_, _ = fmt.Fprintf(b, "- %s `%s` %s%s\n", insight.SeverityIcon(f.Severity), f.Code, f.Message, objectsSuffix(f.AffectedObjects))
	}
}

func objectsSuffix(objects []string) string {
	if len(objects) == 0 {
		return ""
	}
	return " (" + strings.Join(objects, ", ") + ")"
}

func writeEntries(b *strings.Builder, entries []Entry) {
	if len(entries) == 0 {
		b.WriteString("- None above threshold\n")
		return
	}
	b.WriteString("| Operator | Base self (ms) | Target self (ms) | Δ self (ms) | Δ % | Rows (actual / est) |\n")
	b.WriteString("|---|---:|---:|---:|---:|---|\n")
	for _, entry := range entries {
		_, _ = fmt.Fprintf(b, "| %s | %.2f | %.2f | %+.2f | %+.1f%% | %s |\n",
			entry.Signature,
			entry.BaseSelfMs,
			entry.TargetSelfMs,
			entry.DeltaSelfMs,
			entry.PercentChange,
			rowsSummary(entry))
	}
}

// JSON marshals the diff report into an indented JSON document.
func (r *Report) JSON() ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("diff: nil report")
	}
	type alias Report
	return json.MarshalIndent((*alias)(r), "", "  ")
}

func rowsSummary(entry Entry) string {
	base := formatRows(entry.BaseRows, entry.BaseRowFactor)
	target := formatRows(entry.TargetRows, entry.TargetRowFactor)
	return fmt.Sprintf("%s → %s", base, target)
}

func formatRows(rows, factor float64) string {
	if rows == 0 && (factor == 0 || math.IsNaN(factor)) {
		return "0"
	}
	if math.IsInf(factor, 1) {
		return fmt.Sprintf("%.0f (∞)", rows)
	}
	return fmt.Sprintf("%.0f (x%.2f)", rows, factor)
}

func synthesizeInsights(r *Report) []Insight {
	const maxItems = 3
	cfg := config.Active()
	var out []Insight

	for _, f := range r.Findings.New {
		if f.Severity < rule.SeverityHigh {
			continue
		}
		out = append(out, Insight{
			Severity: f.Severity,
			Icon:     insight.SeverityIcon(f.Severity),
			Message:  fmt.Sprintf("new %s finding %s: %s", f.Severity, f.Code, f.Message),
		})
	}
	for _, f := range r.Findings.Resolved {
		if f.Severity < rule.SeverityHigh {
			continue
		}
		out = append(out, Insight{Severity: f.Severity, Improvement: true, Icon: "✅", Message: fmt.Sprintf("resolved %s", f.Code)})
	}

	for i, entry := range r.Regressions {
		if i >= maxItems {
			break
		}
		text := fmt.Sprintf("%s self +%.2f ms (+%.1f%%)", entry.Signature, entry.DeltaSelfMs, entry.PercentChange)
		if entry.DeltaTempBlocks > 0 {
			text += fmt.Sprintf(", temp +%s", humanizeBlocks(entry.DeltaTempBlocks))
		} else if entry.DeltaBuffers > 0 {
			text += fmt.Sprintf(", buffers +%s", humanizeBlocks(entry.DeltaBuffers))
		}
		sev := rule.SeverityCritical
		switch {
		case entry.DeltaSelfMs < cfg.Diff.WarningDeltaMs:
			sev = rule.SeverityMedium
		case entry.DeltaSelfMs < cfg.Diff.CriticalDeltaMs:
			sev = rule.SeverityHigh
		}
		out = append(out, Insight{Severity: sev, Icon: insight.SeverityIcon(sev), Message: text})
	}

	for i, entry := range r.Improvements {
		if i >= maxItems {
			break
		}
		text := fmt.Sprintf("%s self %.2f ms (%.1f%%)", entry.Signature, entry.DeltaSelfMs, entry.PercentChange)
		if entry.DeltaTempBlocks < 0 {
			text += fmt.Sprintf(", temp %s", humanizeBlocks(entry.DeltaTempBlocks))
		} else if entry.DeltaBuffers < 0 {
			text += fmt.Sprintf(", buffers %s", humanizeBlocks(entry.DeltaBuffers))
		}
		out = append(out, Insight{Severity: rule.SeverityInfo, Improvement: true, Icon: "✅", Message: text})
	}

	for _, entry := range r.Regressions {
		if entry.BaseTempBlocks == 0 && entry.TargetTempBlocks >= float64(cfg.Rules.ExcessiveTempBlocks) {
			text := fmt.Sprintf("%s began spilling to disk: %.0f temp buffers (~%s)", entry.Signature, entry.TargetTempBlocks, humanizeBlocks(entry.TargetTempBlocks))
			out = append(out, Insight{Severity: rule.SeverityHigh, Icon: insight.SeverityIcon(rule.SeverityHigh), Message: text})
		}
	}
	return out
}

func humanizeBlocks(blocks float64) string {
	if blocks == 0 {
		return "0 B"
	}
	const blockSize = 8192
	sign := ""
	if blocks < 0 {
		blocks = -blocks
		sign = "-"
	}
	bytes := blocks * blockSize
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	idx := 0
	for bytes >= 1024 && idx < len(units)-1 {
		bytes /= 1024
		idx++
	}
	return fmt.Sprintf("%s%.2f %s", sign, bytes, units[idx])
}

type aggregated struct {
	SelfMs        float64
	ActualRows    float64
	EstimatedRows float64
	Buffers       float64
	TempBlocks    float64
}

func aggregate(root *analyzer.NodeStats) map[string]aggregated {
	result := map[string]aggregated{}
	var walk func(*analyzer.NodeStats)
	walk = func(n *analyzer.NodeStats) {
		sig := signature(n)
		entry := result[sig]
		entry.SelfMs += n.ExclusiveTimeMs
		entry.ActualRows += n.ActualTotalRows
		entry.EstimatedRows += n.EstimatedRows
		entry.Buffers += float64(n.Buffers.Total())
		entry.TempBlocks += float64(n.Buffers.TempRead + n.Buffers.TempWritten)
		result[sig] = entry
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return result
}

func signature(node *analyzer.NodeStats) string {
	parts := []string{node.Node.NodeType}
	if rel := node.Node.Relation(); rel != "" {
		parts = append(parts, rel)
	}
	if node.Node.IndexName != "" {
		parts = append(parts, node.Node.IndexName)
	}
	if join, ok := node.Node.NodeSpecific.GetString("Join Type"); ok && join != "" {
		parts = append(parts, join)
	}
	return strings.Join(parts, " · ")
}

func unionKeys[V any](base, target map[string]V) []string {
	seen := map[string]struct{}{}
	for k := range base {
		seen[k] = struct{}{}
	}
	for k := range target {
		seen[k] = struct{}{}
	}
	all := make([]string, 0, len(seen))
	for k := range seen {
		all = append(all, k)
	}
	sort.Strings(all)
	return all
}

func buildEntry(sig string, base, target aggregated) Entry {
	baseFactor := ratio(base.ActualRows, base.EstimatedRows)
	targetFactor := ratio(target.ActualRows, target.EstimatedRows)
	return Entry{
		Signature:        sig,
		BaseSelfMs:       base.SelfMs,
		TargetSelfMs:     target.SelfMs,
		DeltaSelfMs:      target.SelfMs - base.SelfMs,
		PercentChange:    percentChange(base.SelfMs, target.SelfMs),
		BaseRows:         base.ActualRows,
		TargetRows:       target.ActualRows,
		BaseRowFactor:    baseFactor,
		TargetRowFactor:  targetFactor,
		BaseBuffers:      base.Buffers,
		TargetBuffers:    target.Buffers,
		DeltaBuffers:     target.Buffers - base.Buffers,
		BaseTempBlocks:   base.TempBlocks,
		TargetTempBlocks: target.TempBlocks,
		DeltaTempBlocks:  target.TempBlocks - base.TempBlocks,
	}
}

func passesRegression(entry Entry, opts Options) bool {
	return entry.DeltaSelfMs >= opts.MinSelfTimeDeltaMs && entry.PercentChange >= opts.MinPercentChange
}

func passesImprovement(entry Entry, opts Options) bool {
	return entry.DeltaSelfMs <= -opts.MinSelfTimeDeltaMs && entry.PercentChange <= -opts.MinPercentChange
}

func ratio(actual, estimated float64) float64 {
	const eps = 1e-9
	if estimated <= eps {
		if actual <= eps {
			return 1
		}
		return math.Inf(1)
	}
	return actual / estimated
}

func percentChange(base, target float64) float64 {
	const eps = 1e-9
	if math.Abs(base) <= eps {
		if math.Abs(target) <= eps {
			return 0
		}
		if target > 0 {
			return 100
		}
		return -100
	}
	return (target - base) / base * 100
}

func applyDefaults(opts Options) Options {
	cfg := config.Active().Diff
	if opts.MinSelfTimeDeltaMs <= 0 {
		opts.MinSelfTimeDeltaMs = cfg.MinSelfDeltaMs
	}
	if opts.MinPercentChange <= 0 {
		opts.MinPercentChange = cfg.MinPercentChange
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = cfg.MaxItems
	}
	return opts
}
