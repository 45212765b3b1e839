// Package insight turns findings and plan nodes into the short, human-readable pieces renderers print.
package insight

import (
	"fmt"
	"strings"

	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

// Message is a finding phrased for display, linked to the node it belongs to.
type Message struct {
	Severity rule.Severity
	Code     string
	Text     string
	Anchor   string
}

// BuildMessages phrases findings for display, keeping their order. limit <= 0 keeps all.
func BuildMessages(plan *model.ExplainRootPlan, findings []rule.Finding, limit int) []Message {
	nodes := map[string]*model.PlanNode{}
	for _, n := range plan.Nodes() {
		nodes[n.ID] = n
	}

	out := make([]Message, 0, len(findings))
	for _, f := range findings {
		if limit > 0 && len(out) >= limit {
			break
		}
		msg := Message{Severity: f.Severity, Code: f.Code, Text: f.Message}
		if node, ok := nodes[f.NodeID]; ok {
			msg.Text = fmt.Sprintf("%s: %s", CompactLabel(node), f.Message)
			msg.Anchor = AnchorID(node)
		}
		if rec := Recommendation(f); rec != "" {
			msg.Text += " (" + rec + ")"
		}
		out = append(out, msg)
	}
	return out
}

// ByNode groups plan findings by node ID, preserving order within each node.
func ByNode(findings []rule.Finding) map[string][]rule.Finding {
	out := map[string][]rule.Finding{}
	for _, f := range findings {
		if f.NodeID == "" {
			continue
		}
		out[f.NodeID] = append(out[f.NodeID], f)
	}
	return out
}

// Recommendation returns the remediation hint a rule attached, if any.
func Recommendation(f rule.Finding) string {
	s, _ := f.Metadata["recommendation"].(string)
	return s
}

// SeverityIcon returns the glyph used for a severity in text and HTML output.
func SeverityIcon(sev rule.Severity) string {
	switch sev {
	case rule.SeverityCritical:
		return "🔥"
	case rule.SeverityHigh:
		return "❗"
	case rule.SeverityMedium:
		return "⚠️"
	case rule.SeverityLow:
		return "🔸"
	default:
		return "ℹ️"
	}
}

// NodeLabel builds a descriptive label for a plan node.
func NodeLabel(node *model.PlanNode) string {
	if node == nil {
		return ""
	}
	label := node.NodeType
	if rel := node.Relation(); rel != "" {
		label = fmt.Sprintf("%s %s", label, rel)
		if node.Alias != "" && node.Alias != node.RelationName {
			label = fmt.Sprintf("%s (%s)", label, node.Alias)
		}
	} else if node.Alias != "" {
		label = fmt.Sprintf("%s (%s)", label, node.Alias)
	}
	if node.IndexName != "" {
		label = fmt.Sprintf("%s using %s", label, node.IndexName)
	}
	return label
}

// CompactLabel shortens long labels for inline summaries.
func CompactLabel(node *model.PlanNode) string {
	label := NodeLabel(node)
	if len(label) > 60 {
		return label[:57] + "..."
	}
	return label
}

// AnchorID returns an HTML id for the node, unique within its plan.
func AnchorID(node *model.PlanNode) string {
	if node == nil {
		return ""
	}
	return "node-" + strings.ReplaceAll(node.ID, ".", "-") + "-" + slug(NodeLabel(node))
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// HumanizeBuffers converts a buffer count into a readable size using 8KiB blocks.
func HumanizeBuffers(blocks int64) string {
	if blocks <= 0 {
		return "0"
	}
	const blockSize = 8192
	bytes := float64(blocks * blockSize)
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.2f GiB", bytes/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.2f MiB", bytes/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.2f KiB", bytes/(1<<10))
	default:
		return fmt.Sprintf("%.0f B", bytes)
	}
}

// SummarizeTotalBuffers builds a human readable total buffer summary.
func SummarizeTotalBuffers(total int64) string {
	if total <= 0 {
		return ""
	}
	return fmt.Sprintf("%d blocks (~%s)", total, HumanizeBuffers(total))
}

// NormalizeWhitespace collapses whitespace for use in HTML or text.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
