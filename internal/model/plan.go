package model

// ExplainRootPlan represents the root of a PostgreSQL execution plan document.
type ExplainRootPlan struct {
	Root          *PlanNode         `json:"root"`
	CommandType   string            `json:"command_type,omitempty"`
	PlanningTime  *float64          `json:"planning_time_ms,omitempty"`
	ExecutionTime *float64          `json:"execution_time_ms,omitempty"`
	Settings      map[string]string `json:"settings,omitempty"`
	// Extra carries additional top-level fields that we do not interpret (Triggers, JIT, ...).
	Extra         map[string]any    `json:"extra,omitempty"`
}

// Nodes returns every node of the plan in depth-first pre-order.
func (e *ExplainRootPlan) Nodes() []*PlanNode {
	if e == nil || e.Root == nil {
		return nil
	}
	var out []*PlanNode
	e.Root.Walk(func(n *PlanNode) {
		out = append(out, n)
	})
	return out
}

// PlanNode captures one operator in the execution plan tree.
//
// Optional numeric fields are nil when the source document did not report them.
// Rules must treat nil and zero differently.
type PlanNode struct {
	ID                 string        `json:"id"`
	NodeType           string        `json:"node_type"`
	ShortType          ShortNodeType `json:"short_type"`
	RelationName       string        `json:"relation_name,omitempty"`
	Schema             string        `json:"schema,omitempty"`
	Alias              string        `json:"alias,omitempty"`
	IndexName          string        `json:"index_name,omitempty"`
	ParentRelationship string        `json:"parent_relationship,omitempty"`

	StartupCost *float64 `json:"startup_cost,omitempty"`
	TotalCost   *float64 `json:"total_cost,omitempty"`
	PlanRows    *float64 `json:"plan_rows,omitempty"`
	PlanWidth   *float64 `json:"plan_width,omitempty"`

	ActualStartupTime *float64 `json:"actual_startup_time,omitempty"`
	ActualTotalTime   *float64 `json:"actual_total_time,omitempty"`
	ActualRows        *float64 `json:"actual_rows,omitempty"`
	ActualLoops       *float64 `json:"actual_loops,omitempty"`

	Buffers      *BufferStats `json:"buffers,omitempty"`
	NodeSpecific NodeSpecific `json:"node_specific,omitempty"`
	Children     []*PlanNode  `json:"children,omitempty"`
}

// Walk visits the node and its descendants in depth-first pre-order.
func (n *PlanNode) Walk(fn func(*PlanNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Relation returns the schema-qualified relation name, or the bare name when no schema is known.
func (n *PlanNode) Relation() string {
	if n == nil || n.RelationName == "" {
		return ""
	}
	if n.Schema != "" {
		return n.Schema + "." + n.RelationName
	}
	return n.RelationName
}

// LoopsOrOne returns the actual loop count, or 1 when it was not reported or is not positive.
func (n *PlanNode) LoopsOrOne() float64 {
	if n == nil || n.ActualLoops == nil || *n.ActualLoops <= 0 {
		return 1
	}
	return *n.ActualLoops
}

// TotalActualRows returns actual rows multiplied by loops. ok is false without execution statistics.
func (n *PlanNode) TotalActualRows() (float64, bool) {
	if n == nil || n.ActualRows == nil {
		return 0, false
	}
	return *n.ActualRows * n.LoopsOrOne(), true
}

// InclusiveTime returns actual total time multiplied by loops.
func (n *PlanNode) InclusiveTime() (float64, bool) {
	if n == nil || n.ActualTotalTime == nil {
		return 0, false
	}
	return *n.ActualTotalTime * n.LoopsOrOne(), true
}

// BufferStats holds buffer usage counters for a node.
type BufferStats struct {
	SharedHit     int64   `json:"shared_hit"`
	SharedRead    int64   `json:"shared_read"`
	SharedDirtied int64   `json:"shared_dirtied"`
	SharedWritten int64   `json:"shared_written"`
	LocalHit      int64   `json:"local_hit"`
	LocalRead     int64   `json:"local_read"`
	LocalDirtied  int64   `json:"local_dirtied"`
	LocalWritten  int64   `json:"local_written"`
	TempRead      int64   `json:"temp_read"`
	TempWritten   int64   `json:"temp_written"`
	IOReadTimeMs  float64 `json:"io_read_time_ms"`
	IOWriteTimeMs float64 `json:"io_write_time_ms"`
}

// TempTotal returns temp blocks read plus written.
func (b *BufferStats) TempTotal() int64 {
	if b == nil {
		return 0
	}
	return b.TempRead + b.TempWritten
}

// ReadTotal returns blocks read from outside shared buffers (shared, local and temp reads).
func (b *BufferStats) ReadTotal() int64 {
	if b == nil {
		return 0
	}
	return b.SharedRead + b.LocalRead + b.TempRead
}

// Total returns the sum of all block counters.
func (b *BufferStats) Total() int64 {
	if b == nil {
		return 0
	}
	return b.SharedHit + b.SharedRead + b.SharedDirtied + b.SharedWritten +
		b.LocalHit + b.LocalRead + b.LocalDirtied + b.LocalWritten + b.TempRead + b.TempWritten
}

// Float returns a pointer to v. It is mostly useful when building plans by hand.
func Float(v float64) *float64 {
	return &v
}
