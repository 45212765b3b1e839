package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mickamy/pgdiag/internal/model"
)

// CollectOptions customises a pg_stat_statements read.
type CollectOptions struct {
	Timeout  time.Duration
	// MinCalls drops statements called fewer times. 0 keeps all.
	MinCalls int64
}

// ExtensionStatus reports how far pg_stat_statements is set up.
type ExtensionStatus struct {
	Preloaded bool `json:"preloaded"`
	Installed bool `json:"installed"`
}

// Ready reports whether statements can be collected.
func (s ExtensionStatus) Ready() bool {
	return s.Preloaded && s.Installed
}

type statColumn struct {
	alias      string
	candidates []string
	required   bool
}

// Column names moved between PostgreSQL releases; candidates are tried in order.
var statColumns = []statColumn{
	{alias: "queryid", candidates: []string{"queryid"}},
	{alias: "query", candidates: []string{"query"}, required: true},
	{alias: "calls", candidates: []string{"calls"}, required: true},
	{alias: "total_time", candidates: []string{"total_exec_time", "total_time"}, required: true},
	{alias: "mean_time", candidates: []string{"mean_exec_time", "mean_time"}},
	{alias: "min_time", candidates: []string{"min_exec_time", "min_time"}},
	{alias: "max_time", candidates: []string{"max_exec_time", "max_time"}},
	{alias: "stddev_time", candidates: []string{"stddev_exec_time", "stddev_time"}},
	{alias: "rows", candidates: []string{"rows"}},
	{alias: "shared_blks_read", candidates: []string{"shared_blks_read"}},
	{alias: "shared_blks_hit", candidates: []string{"shared_blks_hit"}},
	{alias: "temp_blks_written", candidates: []string{"temp_blks_written"}},
	{alias: "blk_read_time", candidates: []string{"shared_blk_read_time", "blk_read_time"}},
	{alias: "blk_write_time", candidates: []string{"shared_blk_write_time", "blk_write_time"}},
}

const columnsQuery = `select column_name from information_schema.columns where table_name = 'pg_stat_statements'`

// BuildStatementsQuery returns the SELECT over pg_stat_statements for the available columns.
// Optional columns missing from this server version are read as 0.
func BuildStatementsQuery(available map[string]bool) (string, error) {
	exprs := make([]string, 0, len(statColumns))
	for _, c := range statColumns {
		col := ""
		for _, cand := range c.candidates {
			if available[cand] {
				col = cand
				break
			}
		}
		switch {
		case col == "" && c.required:
			return "", fmt.Errorf("runner: pg_stat_statements has no %s column", c.alias)
		case col == "" && c.alias == "queryid":
			exprs = append(exprs, "0::int8 AS queryid")
		case col == "":
			exprs = append(exprs, "0::float8 AS "+c.alias)
		case c.alias == "query":
			exprs = append(exprs, "coalesce(query, '') AS query")
		case c.alias == "queryid":
			exprs = append(exprs, "coalesce(queryid, 0)::int8 AS queryid")
		default:
			exprs = append(exprs, fmt.Sprintf("coalesce(%s, 0)::float8 AS %s", col, c.alias))
		}
	}
	return "select " + strings.Join(exprs, ", ") + " from pg_stat_statements where calls >= $1", nil
}

// CollectStatements reads every statement from pg_stat_statements with its counters.
func CollectStatements(ctx context.Context, dsn string, opts CollectOptions) ([]model.SqlStatement, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("runner: empty DSN")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("runner: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	available, err := statColumnNames(ctx, conn)
	if err != nil {
		return nil, err
	}
	query, err := BuildStatementsQuery(available)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, query, opts.MinCalls)
	if err != nil {
		return nil, fmt.Errorf("runner: query pg_stat_statements: %w", err)
	}
	defer rows.Close()

	var out []model.SqlStatement
	for rows.Next() {
		var (
			queryID int64
			text    string
			v       [12]float64
		)
		dest := []any{&queryID, &text}
		for i := range v {
			dest = append(dest, &v[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("runner: scan pg_stat_statements: %w", err)
		}
		out = append(out, statementFromRow(queryID, text, v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runner: read pg_stat_statements: %w", err)
	}
	return out, nil
}

// statementFromRow maps the numeric columns in statColumns order, after queryid and query.
func statementFromRow(queryID int64, text string, v [12]float64) model.SqlStatement {
	return model.SqlStatement{
		Text:    text,
		QueryID: queryID,
		Metrics: &model.StatementMetrics{
			Calls:             int64(v[0]),
			TotalTimeMs:       v[1],
			MeanTimeMs:        v[2],
			MinTimeMs:         v[3],
			MaxTimeMs:         v[4],
			StddevTimeMs:      v[5],
			Rows:              int64(v[6]),
			SharedBlocksRead:  int64(v[7]),
			SharedBlocksHit:   int64(v[8]),
			TempBlocksWritten: int64(v[9]),
			BlockReadTimeMs:   v[10],
			BlockWriteTimeMs:  v[11],
		},
	}
}

func statColumnNames(ctx context.Context, conn *pgx.Conn) (map[string]bool, error) {
	rows, err := conn.Query(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("runner: list pg_stat_statements columns: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("runner: list pg_stat_statements columns: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("runner: pg_stat_statements view not found")
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// CheckExtension reports whether pg_stat_statements is preloaded and installed in the database.
func CheckExtension(ctx context.Context, dsn string) (ExtensionStatus, error) {
	var st ExtensionStatus
	if strings.TrimSpace(dsn) == "" {
		return st, fmt.Errorf("runner: empty DSN")
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return st, fmt.Errorf("runner: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	var libs string
	if err := conn.QueryRow(ctx, "SHOW shared_preload_libraries").Scan(&libs); err != nil {
		return st, fmt.Errorf("runner: show shared_preload_libraries: %w", err)
	}
	st.Preloaded = preloads(libs, "pg_stat_statements")

	if err := conn.QueryRow(ctx,
		"select exists(select 1 from pg_extension where extname = 'pg_stat_statements')",
	).Scan(&st.Installed); err != nil {
		return st, fmt.Errorf("runner: check extension: %w", err)
	}
	return st, nil
}

func preloads(libs, name string) bool {
	for _, lib := range strings.Split(libs, ",") {
		if strings.Trim(strings.TrimSpace(lib), `"`) == name {
			return true
		}
	}
	return false
}
