package rule

import (
	"encoding/json"
	"sort"
	"strings"
)

// Finding is one diagnostic emission.
type Finding struct {
	Code            string
	Message         string
	Category        Category
	Severity        Severity
	AffectedObjects []string
	// Metadata holds the scalar evidence that justified the decision.
	Metadata        map[string]any
	// NodeID is the plan node the finding belongs to; empty for text findings.
	NodeID          string
}

// New stamps a finding with r's identity and default severity.
func New(r Rule, message string, objects ...string) *Finding {
	var affected []string
	for _, obj := range objects {
		if obj != "" {
			affected = append(affected, obj)
		}
	}
	return &Finding{
		Code:            r.Code(),
		Message:         message,
		Category:        r.Category(),
		Severity:        r.DefaultSeverity(),
		AffectedObjects: affected,
		Metadata:        map[string]any{},
	}
}

// With records a piece of evidence and returns the finding for chaining.
func (f *Finding) With(key string, value any) *Finding {
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	f.Metadata[key] = value
	return f
}

// WithSeverity overrides the default severity.
func (f *Finding) WithSeverity(s Severity) *Finding {
	f.Severity = s
	return f
}

type findingJSON struct {
	Code            string         `json:"code"`
	Message         string         `json:"message"`
	Category        Category       `json:"category"`
	Severity        Severity       `json:"severity"`
	AffectedObjects []string       `json:"affected_objects,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	NodeID          string         `json:"node_id,omitempty"`
}

func (f Finding) MarshalJSON() ([]byte, error) {
	return json.Marshal(findingJSON(f))
}

func (f *Finding) UnmarshalJSON(data []byte) error {
	var raw findingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = Finding(raw)
	return nil
}

// Sort orders findings by severity (most urgent first), then code, then affected objects, then node.
func Sort(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		return Less(findings[i], findings[j])
	})
}

// Less is the ordering used by Sort.
func Less(a, b Finding) bool {
	if a.Severity != b.Severity {
		return a.Severity > b.Severity
	}
	if a.Code != b.Code {
		return a.Code < b.Code
	}
	if c := compareStrings(a.AffectedObjects, b.AffectedObjects); c != 0 {
		return c < 0
	}
	return a.NodeID < b.NodeID
}

func compareStrings(a, b []string) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Highest returns the most urgent severity among findings, or Info when there are none.
func Highest(findings []Finding) Severity {
	highest := SeverityInfo
	for _, f := range findings {
		if f.Severity > highest {
			highest = f.Severity
		}
	}
	return highest
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	out := map[Severity]int{}
	for _, f := range findings {
		out[f.Severity]++
	}
	return out
}
