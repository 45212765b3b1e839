package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/rule"
)

func TestLintCleanStatement(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("PGDIAG_CONFIG", "")

	var out bytes.Buffer
	err := lint(&out, []string{"--query", "SELECT id, name FROM users WHERE id = $1", "--format", "json", "--fail-on", "low"})
	require.NoError(t, err)

	var res report.LintResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res), out.String())
	require.Len(t, res.Findings, 1)
	assert.Equal(t, report.CodeNoIssuesDetected, res.Findings[0].Code)
	assert.Equal(t, rule.SeverityInfo, res.Findings[0].Severity)
}

func TestLintFailOn(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("PGDIAG_CONFIG", "")

	var out bytes.Buffer
	err := lint(&out, []string{"--query", "DELETE FROM sessions", "--color=false", "--fail-on", "medium"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "findings at or above medium")
	assert.Contains(t, out.String(), "MissingWhereDelete")

	err = lint(&out, []string{"--query", "SELECT 1", "--fail-on", "info"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--fail-on must be low or above")
}
