// Package runner executes EXPLAIN and reads pg_stat_statements through pgx.
package runner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Options customises how EXPLAIN is executed.
type Options struct {
	Timeout   time.Duration
	// NoAnalyze asks for the estimated plan only. The statement is not executed.
	NoAnalyze bool
}

// ExplainSQL wraps sqlStatement in the EXPLAIN variant selected by opts.
func ExplainSQL(sqlStatement string, opts Options) string {
	query := strings.TrimRight(strings.TrimSpace(sqlStatement), "; \t\n")
	if opts.NoAnalyze {
		return "EXPLAIN (FORMAT JSON) " + query
	}
	return "EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) " + query
}

var placeholder = regexp.MustCompile(`\$\d+`)

// HasParameters reports whether the statement text contains $n placeholders, as normalized
// pg_stat_statements texts do. Such statements cannot be explained as-is.
func HasParameters(sqlStatement string) bool {
	return placeholder.MatchString(sqlStatement)
}

// Run executes EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) for the provided SQL statement.
func Run(ctx context.Context, dsn, sqlStatement string, opts Options) ([]byte, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("runner: empty DSN")
	}

	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("runner: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	return Explain(ctx, conn, sqlStatement, opts)
}

// Explain runs EXPLAIN on an existing connection so callers can explain many statements over one session.
func Explain(ctx context.Context, conn *pgx.Conn, sqlStatement string, opts Options) ([]byte, error) {
	if strings.TrimSpace(sqlStatement) == "" {
		return nil, fmt.Errorf("runner: empty sql statement")
	}
	var payload []byte
	if err := conn.QueryRow(ctx, ExplainSQL(sqlStatement, opts)).Scan(&payload); err != nil {
		return nil, fmt.Errorf("runner: explain: %w", err)
	}
	return payload, nil
}
