package report

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/mickamy/pgdiag/internal/model"
)

// Suggestion is a remediation hint for one statement. ExampleSQL is illustrative, not verified DDL.
type Suggestion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	ExampleSQL  string `json:"example_sql,omitempty"`
}

var (
	likeLeading    = regexp.MustCompile(`like\s+'%`)
	lowerCall      = regexp.MustCompile(`lower\(`)
	orderByClause  = regexp.MustCompile(`order\s+by`)
	limitN         = regexp.MustCompile(`limit\s+\d+`)
	whitespace     = regexp.MustCompile(`\s+`)
	fromTable      = regexp.MustCompile(`(?i)from\s+([a-zA-Z0-9_.]+)`)
	wherePredicate = regexp.MustCompile(`(?i)where\s+(.*?)(?:$|\border\b|\bgroup\b|\blimit\b)`)
	equalityColumn = regexp.MustCompile(`([a-zA-Z0-9_.]+)\s*=\s*[:'$\d\w(]`)
)

var aggregateMarkers = []string{"group by", "count(", "sum("}

// Advise derives prioritized suggestions for stmt from its metrics and text.
// The result is sorted by priority, highest first; equal priorities keep their generation order.
func Advise(stmt model.SqlStatement) []Suggestion {
	var out []Suggestion
	q := strings.ToLower(stmt.Text)
	m := stmt.Metrics
	if m == nil {
		m = &model.StatementMetrics{}
	}

	if m.TotalTimeMs > 10_000 || m.MeanTimeMs > 2_000 {
		out = append(out, Suggestion{
			Title: "Run EXPLAIN (ANALYZE, BUFFERS)",
			Description: fmt.Sprintf("The statement ran for %.0f ms in total (%.0f ms on average). "+
				"Capture a plan on a replica to see scans, sorts and spills.", m.TotalTimeMs, m.MeanTimeMs),
			Priority: 100,
		})
	}
	if m.Calls > 10_000 && m.MeanTimeMs > 1 {
		out = append(out, Suggestion{
			Title:       "Use prepared statements or batching",
			Description: fmt.Sprintf("The statement was called %d times. Prepare it, batch the calls or cache results on the client.", m.Calls),
			Priority:    90,
		})
	}
	if m.SharedBlocksRead > 1000 || m.SharedBlocksRead > m.SharedBlocksHit*2 {
		out = append(out, Suggestion{
			Title: "Heavy block reads",
			Description: fmt.Sprintf("shared_blks_read = %d, shared_blks_hit = %d. Check WHERE and JOIN selectivity; "+
				"an index or a rewrite may avoid a full scan.", m.SharedBlocksRead, m.SharedBlocksHit),
			Priority: 95,
		})
	}
	if m.TempBlocksWritten > 0 {
		out = append(out, Suggestion{
			Title: "Temp blocks written",
			Description: fmt.Sprintf("temp_blks_written = %d. Sorts or hashes spill to disk. "+
				"Raise work_mem for the session and re-run EXPLAIN, or revisit ORDER BY and GROUP BY.", m.TempBlocksWritten),
			Priority:   95,
			ExampleSQL: "SET LOCAL work_mem = '64MB'; -- then re-run EXPLAIN on a replica",
		})
	}
	if strings.Contains(q, "select *") {
		out = append(out, Suggestion{
			Title:       "Avoid SELECT *",
			Description: "SELECT * reads and ships columns the caller may not need. List the required columns.",
			Priority:    70,
		})
	}
	if likeLeading.MatchString(q) {
		out = append(out, Suggestion{
			Title:       "LIKE with a leading %",
			Description: "LIKE '%foo' cannot use a btree index. Consider pg_trgm with a GIN index or full text search.",
			Priority:    88,
			ExampleSQL:  "CREATE EXTENSION IF NOT EXISTS pg_trgm;\nCREATE INDEX ON schema.table USING gin (column gin_trgm_ops);",
		})
	}
	if strings.Contains(q, "ilike") || lowerCall.MatchString(q) {
		out = append(out, Suggestion{
			Title:       "Case-insensitive search",
			Description: "ILIKE and lower(col) bypass a plain index. Index the expression or use pg_trgm.",
			Priority:    80,
			ExampleSQL:  "CREATE INDEX ON schema.table (lower(column));",
		})
	}
	if orderByClause.MatchString(q) && !limitN.MatchString(q) {
		out = append(out, Suggestion{
			Title:       "ORDER BY without LIMIT",
			Description: "Sorting every row is expensive. Add a LIMIT, serve the order from an index or precompute the result.",
			Priority:    70,
		})
	}
	if strings.Contains(q, " in (select") {
		out = append(out, Suggestion{
			Title:       "IN (SELECT ...)",
			Description: "IN (SELECT ...) can often be rewritten as EXISTS or a JOIN for a better plan.",
			Priority:    60,
		})
	}
	if idx := ProposeIndex(stmt.Text); idx != "" {
		out = append(out, Suggestion{
			Title:       "Candidate index",
			Description: "Proposed from the first table and equality predicate. Check selectivity and compare EXPLAIN before and after.",
			Priority:    90,
			ExampleSQL:  idx,
		})
	}
	if m.SharedBlocksRead > 10_000 {
		out = append(out, Suggestion{
			Title:       "Refresh statistics",
			Description: "Table statistics may be stale. Run ANALYZE on the tables involved or tune autovacuum.",
			Priority:    75,
		})
	}
	for _, marker := range aggregateMarkers {
		if strings.Contains(q, marker) {
			out = append(out, Suggestion{
				Title:       "Pre-aggregate reporting queries",
				Description: "For heavy reporting aggregates consider materialized views, incremental aggregation or denormalization.",
				Priority:    65,
			})
			break
		}
	}
	if len(out) == 0 {
		out = append(out, Suggestion{
			Title:       "General advice",
			Description: "Run EXPLAIN (ANALYZE, BUFFERS) and review the plan. These hints are heuristics.",
			Priority:    10,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// ProposeIndex suggests a single-column index from the first FROM table and the first equality in WHERE.
// It returns "" when either is missing.
func ProposeIndex(text string) string {
	q := whitespace.ReplaceAllString(text, " ")
	from := fromTable.FindStringSubmatch(q)
	if from == nil {
		return ""
	}
	where := wherePredicate.FindStringSubmatch(q)
	if where == nil {
		return ""
	}
	col := equalityColumn.FindStringSubmatch(where[1])
	if col == nil {
		return ""
	}
	table := from[1]
	column := col[1]
	if i := strings.Index(column, "."); i >= 0 {
		column = column[i+1:]
	}
	name := fmt.Sprintf("idx_%s_%s", strings.ReplaceAll(table, ".", "_"), column)
	return fmt.Sprintf("-- check selectivity before creating\nCREATE INDEX %s ON %s (%s);", name, table, column)
}
