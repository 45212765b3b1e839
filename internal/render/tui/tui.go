package tui

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mickamy/pgdiag/internal/analyzer"
	"github.com/mickamy/pgdiag/internal/insight"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/rule"
)

// Options controls how the TUI renderer behaves.
type Options struct {
	EnableColor bool
	MaxDepth    int
	BarWidth    int
	// MaxFindings caps the findings list above the tree. 0 prints all.
	MaxFindings int
}

type palette struct {
	enabled  bool
	severity map[rule.Severity]lipgloss.Style
	heat     []heatStyle
	dim      lipgloss.Style
	bold     lipgloss.Style
}

type heatStyle struct {
	min   float64
	style lipgloss.Style
}

func newPalette(w io.Writer, enabled bool) palette {
	r := lipgloss.NewRenderer(w)
	color := func(c string) lipgloss.Style { return r.NewStyle().Foreground(lipgloss.Color(c)) }
	return palette{
		enabled: enabled,
		severity: map[rule.Severity]lipgloss.Style{
			rule.SeverityCritical: color("196").Bold(true),
			rule.SeverityHigh:     color("208"),
			rule.SeverityMedium:   color("220"),
			rule.SeverityLow:      color("39"),
			rule.SeverityInfo:     color("245"),
		},
		heat: []heatStyle{
			{min: 0.40, style: color("196")},
			{min: 0.20, style: color("220")},
			{min: 0.10, style: color("45")},
		},
		dim:  color("241"),
		bold: r.NewStyle().Bold(true),
	}
}

func (p palette) sev(s rule.Severity, text string) string {
	if !p.enabled {
		return text
	}
	return p.severity[s].Render(text)
}

func (p palette) bar(ratio float64, text string) string {
	if !p.enabled {
		return text
	}
	for _, h := range p.heat {
		if ratio >= h.min {
			return h.style.Render(text)
		}
	}
	return text
}

func (p palette) faint(text string) string {
	if !p.enabled {
		return text
	}
	return p.dim.Render(text)
}

func (p palette) strong(text string) string {
	if !p.enabled {
		return text
	}
	return p.bold.Render(text)
}

// Render prints the diagnosis of a plan: a findings summary followed by an annotated tree.
func Render(w io.Writer, pr *report.PlanReport, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	if pr == nil || pr.Plan == nil || pr.Plan.Root == nil {
		return errors.New("tui: empty report")
	}
	analysis, err := analyzer.Analyze(pr.Plan)
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	if opts.BarWidth <= 0 {
		opts.BarWidth = 20
	}
	p := newPalette(w, opts.EnableColor)

	_, _ = fmt.Fprintf(w, "Execution time %.3f ms (planning %.3f ms)\n", analysis.TotalTimeMs, analysis.PlanningTimeMs)
	_, _ = fmt.Fprintf(w, "Nodes %d | Findings %d | Severity %s%s\n\n",
		analysis.NodeCount, len(pr.Findings), p.sev(pr.Severity, strings.ToUpper(pr.Severity.String())), countsSuffix(pr.Counts))

	renderFindings(w, pr, opts, p)

	byNode := insight.ByNode(pr.Findings)
	_, _ = fmt.Fprintf(w, "%s\n", renderLine(analysis.Root, byNode, opts, p))
	printChildren(w, analysis.Root, byNode, "", opts, p)

	if pr.Degraded() > 0 {
		_, _ = fmt.Fprintf(w, "\n%s\n", p.faint(fmt.Sprintf("%d rule invocation(s) skipped", pr.Degraded())))
	}
	return nil
}

func countsSuffix(counts map[rule.Severity]int) string {
	var parts []string
	for _, s := range rule.Severities() {
		if n := counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", s, n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func renderFindings(w io.Writer, pr *report.PlanReport, opts Options, p palette) {
	messages := insight.BuildMessages(pr.Plan, pr.Findings, opts.MaxFindings)
	if len(messages) == 0 {
		_, _ = fmt.Fprintln(w, "No findings.")
		_, _ = fmt.Fprintln(w)
		return
	}
	_, _ = fmt.Fprintln(w, "Findings:")
	for _, msg := range messages {
		_, _ = fmt.Fprintf(w, "  - %s %s %s\n", insight.SeverityIcon(msg.Severity), p.sev(msg.Severity, msg.Code), msg.Text)
	}
	if hidden := len(pr.Findings) - len(messages); hidden > 0 {
		_, _ = fmt.Fprintf(w, "  %s\n", p.faint(fmt.Sprintf("... %d more", hidden)))
	}
	_, _ = fmt.Fprintln(w)
}

func printChildren(w io.Writer, parent *analyzer.NodeStats, byNode map[string][]rule.Finding, prefix string, opts Options, p palette) {
	for i, child := range parent.Children {
		renderBranch(w, child, byNode, prefix, i == len(parent.Children)-1, opts, p)
	}
}

func renderBranch(w io.Writer, node *analyzer.NodeStats, byNode map[string][]rule.Finding, prefix string, isLast bool, opts Options, p palette) {
	connector := "|-- "
	childPrefix := prefix + "|   "
	if isLast {
		connector = "`-- "
		childPrefix = prefix + "    "
	}

	_, _ = fmt.Fprintf(w, "%s%s%s\n", prefix, connector, renderLine(node, byNode, opts, p))

	if opts.MaxDepth > 0 && node.Depth >= opts.MaxDepth {
		if len(node.Children) > 0 {
			_, _ = fmt.Fprintf(w, "%s`-- ... (%d more nodes)\n", childPrefix, countDescendants(node))
		}
		return
	}

	printChildren(w, node, byNode, childPrefix, opts, p)
}

func renderLine(node *analyzer.NodeStats, byNode map[string][]rule.Finding, opts Options, p palette) string {
	parts := []string{insight.NodeLabel(node.Node)}

	if _, timed := node.Node.InclusiveTime(); timed {
		parts = append(parts,
			fmt.Sprintf("self %.2f ms", node.ExclusiveTimeMs),
			fmt.Sprintf("%5.1f%%", node.PercentExclusive*100),
			p.bar(node.PercentExclusive, drawBar(node.PercentExclusive, opts.BarWidth)),
		)
	} else if node.Node.TotalCost != nil {
		parts = append(parts, fmt.Sprintf("cost %.2f", *node.Node.TotalCost))
	}

	if node.EstimatedRows > 0 || node.ActualTotalRows > 0 {
		rowInfo := fmt.Sprintf("rows %.0f/%.0f", node.ActualTotalRows, node.EstimatedRows)
		if node.RowEstimateFactor > 0 && !math.IsInf(node.RowEstimateFactor, 0) {
			rowInfo += fmt.Sprintf(" (x%.2f)", node.RowEstimateFactor)
		} else if math.IsInf(node.RowEstimateFactor, 1) {
			rowInfo += " (∞)"
		}
		parts = append(parts, rowInfo)
	}
	if total := node.Buffers.Total(); total > 0 {
		parts = append(parts, fmt.Sprintf("buf %d (~%s)", total, insight.HumanizeBuffers(total)))
	}

	line := strings.Join(parts, " | ")
	if findings := byNode[node.Node.ID]; len(findings) > 0 {
		codes := make([]string, len(findings))
		for i, f := range findings {
			codes[i] = p.sev(f.Severity, f.Code)
		}
		line += " [" + strings.Join(codes, ", ") + "]"
	}
	return line
}

func drawBar(ratio float64, width int) string {
	if width <= 0 {
		return ""
	}
	clamped := math.Min(math.Max(ratio, 0), 1)
	fill := int(math.Round(clamped * float64(width)))
	if clamped > 0 && fill == 0 {
		fill = 1
	}
	return strings.Repeat("#", fill) + strings.Repeat("-", width-fill)
}

func countDescendants(node *analyzer.NodeStats) int {
	total := 0
	var walk func(*analyzer.NodeStats)
	walk = func(n *analyzer.NodeStats) {
		for _, child := range n.Children {
			total++
			walk(child)
		}
	}
	walk(node)
	return total
}

// RenderStatements prints a ranked statement report.
func RenderStatements(w io.Writer, rep *report.AnalysisReport, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	if rep == nil {
		return errors.New("tui: empty report")
	}
	p := newPalette(w, opts.EnableColor)

	_, _ = fmt.Fprintf(w, "Report %s | %d statement(s) | generated %s\n",
		rep.ID, len(rep.Results), rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	for _, n := range rep.Notices {
		_, _ = fmt.Fprintf(w, "%s %s\n", insight.SeverityIcon(n.Severity), p.faint(n.Message))
	}
	_, _ = fmt.Fprintln(w)

	for i, res := range rep.Results {
		header := fmt.Sprintf("#%d  score %6.2f  %s", i+1, res.Score, p.sev(res.Severity, strings.ToUpper(res.Severity.String())))
		if res.LowConfidence {
			header += "  " + p.faint("(low confidence)")
		}
		if len(res.Boosts) > 0 {
			header += "  boosts: " + strings.Join(res.Boosts, ", ")
		}
		_, _ = fmt.Fprintln(w, p.strong(header))
		_, _ = fmt.Fprintf(w, "    %s\n", truncate(insight.NormalizeWhitespace(res.Statement.Text), 160))
		if m := res.Statement.Metrics; m != nil {
			_, _ = fmt.Fprintf(w, "    %s\n", p.faint(fmt.Sprintf("calls %d | total %.2f ms | mean %.2f ms | rows %d | read %d | temp %d",
				m.Calls, m.TotalTimeMs, m.MeanTimeMs, m.Rows, m.SharedBlocksRead, m.TempBlocksWritten)))
		}
		writeFindingList(w, res.Findings, p)
		writeSuggestions(w, res.Suggestions, p)
		if res.Plan != nil {
			_, _ = fmt.Fprintf(w, "    plan: %s, %d finding(s)\n", p.sev(res.Plan.Severity, res.Plan.Severity.String()), len(res.Plan.Findings))
			for _, msg := range insight.BuildMessages(res.Plan.Plan, res.Plan.Findings, 3) {
				_, _ = fmt.Fprintf(w, "      %s %s\n", insight.SeverityIcon(msg.Severity), msg.Text)
			}
		}
		_, _ = fmt.Fprintln(w)
	}

	if rep.Degraded > 0 {
		_, _ = fmt.Fprintf(w, "%s\n", p.faint(fmt.Sprintf("%d rule invocation(s) skipped", rep.Degraded)))
	}
	if rep.Note != "" {
		_, _ = fmt.Fprintln(w, p.faint(rep.Note))
	}
	return nil
}

// RenderLint prints the text findings and suggestions for a single statement.
func RenderLint(w io.Writer, stmt model.SqlStatement, findings []rule.Finding, suggestions []report.Suggestion, opts Options) error {
	if w == nil {
		return errors.New("tui: writer is nil")
	}
	p := newPalette(w, opts.EnableColor)
	_, _ = fmt.Fprintln(w, p.strong(truncate(insight.NormalizeWhitespace(stmt.Text), 160)))
	if len(findings) == 0 {
		_, _ = fmt.Fprintln(w, "    no issues detected")
	}
	writeFindingList(w, findings, p)
	writeSuggestions(w, suggestions, p)
	return nil
}

func writeFindingList(w io.Writer, findings []rule.Finding, p palette) {
	for _, f := range findings {
		_, _ = fmt.Fprintf(w, "    %s %s %s", insight.SeverityIcon(f.Severity), p.sev(f.Severity, f.Code), f.Message)
		if len(f.AffectedObjects) > 0 {
			_, _ = fmt.Fprintf(w, " [%s]", strings.Join(f.AffectedObjects, ", "))
		}
		_, _ = fmt.Fprintln(w)
		if rec := insight.Recommendation(f); rec != "" {
			_, _ = fmt.Fprintf(w, "        %s\n", p.faint("-> "+rec))
		}
	}
}

func writeSuggestions(w io.Writer, suggestions []report.Suggestion, p palette) {
	for _, s := range suggestions {
		_, _ = fmt.Fprintf(w, "    > %s (%d): %s\n", s.Title, s.Priority, s.Description)
		for _, line := range strings.Split(s.ExampleSQL, "\n") {
			if line != "" {
				_, _ = fmt.Fprintf(w, "        %s\n", p.faint(line))
			}
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
