// Package rule defines the contract shared by every diagnostic check and the Finding it emits.
package rule

import (
	"github.com/mickamy/pgdiag/internal/model"
)

// Rule is the identity every diagnostic check exposes.
type Rule interface {
	Code() string
	Category() Category
	DefaultSeverity() Severity
}

// PlanRule inspects a single plan node. root is provided for checks that need whole-tree context.
// Implementations must not mutate their inputs and must be safe for concurrent use.
// A nil Finding means the node is fine.
type PlanRule interface {
	Rule
	Evaluate(node *model.PlanNode, root *model.ExplainRootPlan) (*Finding, error)
}

// TextRule inspects raw statement text.
type TextRule interface {
	Rule
	Evaluate(stmt model.SqlStatement) (*Finding, error)
}

// Meta is an embeddable implementation of Rule.
type Meta struct {
	RuleCode     string
	RuleCategory Category
	RuleSeverity Severity
}

func (m Meta) Code() string              { return m.RuleCode }
func (m Meta) Category() Category        { return m.RuleCategory }
func (m Meta) DefaultSeverity() Severity { return m.RuleSeverity }
