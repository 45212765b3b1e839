package rule

import (
	"fmt"
	"strings"
)

// Severity expresses the urgency of a finding. Values are totally ordered.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"info", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < SeverityInfo || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// ParseSeverity accepts a severity name in any case.
func ParseSeverity(s string) (Severity, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for i, name := range severityNames {
		if name == want {
			return Severity(i), nil
		}
	}
	return SeverityInfo, fmt.Errorf("unknown severity %q", s)
}

// Severities lists every severity from most to least urgent.
func Severities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Category is the domain of a diagnosis.
type Category string

const (
	CategoryIndex       Category = "Index"
	CategoryJoin        Category = "Join"
	CategoryRewrite     Category = "Rewrite"
	CategoryStatistics  Category = "Statistics"
	CategorySafety      Category = "Safety"
	CategoryMemory      Category = "Memory"
	CategoryParallelism Category = "Parallelism"
	CategoryPerformance Category = "Performance"
	CategoryCorrectness Category = "Correctness"
)

// Categories lists the closed taxonomy.
func Categories() []Category {
	return []Category{
		CategoryIndex, CategoryJoin, CategoryRewrite, CategoryStatistics, CategorySafety,
		CategoryMemory, CategoryParallelism, CategoryPerformance, CategoryCorrectness,
	}
}

// Valid reports whether c belongs to the taxonomy.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}
