package runner

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mickamy/pgdiag/internal/parser"
)

// testDSN points at a disposable PostgreSQL started by TestMain. Empty unless PGDIAG_INTEGRATION=1.
var testDSN string

func TestMain(m *testing.M) {
	if os.Getenv("PGDIAG_INTEGRATION") != "1" {
		os.Exit(m.Run())
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "pgdiag",
			"POSTGRES_PASSWORD": "pgdiag",
			"POSTGRES_DB":       "pgdiag",
		},
		Cmd: []string{"postgres", "-c", "shared_preload_libraries=pg_stat_statements"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start container: %v\n", err)
		os.Exit(1)
	}

	host, err := container.Host(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container host: %v\n", err)
		os.Exit(1)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get container port: %v\n", err)
		os.Exit(1)
	}
	testDSN = fmt.Sprintf("postgres://pgdiag:pgdiag@%s:%s/pgdiag?sslmode=disable", host, port.Port())

	if err := seed(ctx, testDSN); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed database: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func seed(ctx context.Context, dsn string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()
	for _, stmt := range []string{
		"CREATE EXTENSION IF NOT EXISTS pg_stat_statements",
		"CREATE TABLE orders (id bigserial PRIMARY KEY, customer_id int NOT NULL, total numeric NOT NULL)",
		"INSERT INTO orders (customer_id, total) SELECT g % 100, g FROM generate_series(1, 5000) g",
		"ANALYZE orders",
		"SELECT count(*) FROM orders WHERE customer_id = 7",
	} {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	return nil
}

func requireDatabase(t *testing.T) {
	t.Helper()
	if testDSN == "" {
		t.Skip("set PGDIAG_INTEGRATION=1 to run against a PostgreSQL container")
	}
}

func TestRunExplainAnalyze(t *testing.T) {
	requireDatabase(t)

	payload, err := Run(context.Background(), testDSN, "SELECT * FROM orders WHERE total > 10", Options{Timeout: 10 * time.Second})
	require.NoError(t, err)

	plan, err := parser.Parse(payload)
	require.NoError(t, err)
	require.NotNil(t, plan.Root)
	assert.Equal(t, "Seq Scan", plan.Root.NodeType)
	assert.NotNil(t, plan.Root.ActualTotalTime)
	assert.NotNil(t, plan.Root.Buffers)
}

func TestRunExplainOnly(t *testing.T) {
	requireDatabase(t)

	payload, err := Run(context.Background(), testDSN, "SELECT * FROM orders", Options{NoAnalyze: true})
	require.NoError(t, err)
	plan, err := parser.Parse(payload)
	require.NoError(t, err)
	assert.Nil(t, plan.Root.ActualTotalTime)
	assert.Nil(t, plan.ExecutionTime)
}

func TestCheckExtension(t *testing.T) {
	requireDatabase(t)

	st, err := CheckExtension(context.Background(), testDSN)
	require.NoError(t, err)
	assert.True(t, st.Ready())
}

func TestCollectStatements(t *testing.T) {
	requireDatabase(t)

	stmts, err := CollectStatements(context.Background(), testDSN, CollectOptions{MinCalls: 1})
	require.NoError(t, err)
	require.NotEmpty(t, stmts)

	found := false
	for _, s := range stmts {
		require.NotNil(t, s.Metrics)
		assert.GreaterOrEqual(t, s.Metrics.Calls, int64(1))
		if s.Text == "SELECT count(*) FROM orders WHERE customer_id = $1" {
			found = true
			assert.NotZero(t, s.QueryID)
		}
	}
	assert.True(t, found, "seeded statement not collected")
}
