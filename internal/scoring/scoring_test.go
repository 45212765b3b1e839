package scoring_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
	"github.com/mickamy/pgdiag/internal/scoring"
)

func stmt(text string, m model.StatementMetrics) model.SqlStatement {
	return model.SqlStatement{Text: text, Metrics: &m}
}

func TestSingleStatementTotalTimeOnly(t *testing.T) {
	scores := scoring.Default().ScoreBatch([]model.SqlStatement{
		stmt("SELECT id FROM users WHERE id = $1", model.StatementMetrics{TotalTimeMs: 100}),
	})
	require.Len(t, scores, 1)
	assert.Equal(t, 35.0, scores[0].Value)
	assert.Equal(t, rule.SeverityLow, scores[0].Severity)
	assert.Equal(t, 1.0, scores[0].Normalized.TotalTime)
	assert.Empty(t, scores[0].Boosts)
	assert.False(t, scores[0].LowConfidence)
}

func TestZeroMetricsNeverDivideByZero(t *testing.T) {
	scores := scoring.Default().ScoreBatch([]model.SqlStatement{
		stmt("SELECT 1", model.StatementMetrics{}),
		stmt("SELECT 2", model.StatementMetrics{}),
	})
	for _, s := range scores {
		assert.Zero(t, s.Value)
		assert.False(t, math.IsNaN(s.Value))
		assert.Equal(t, scoring.Normalized{}, s.Normalized)
		assert.Equal(t, rule.SeverityInfo, s.Severity)
	}
}

func TestIdenticalMetricsScoreFull(t *testing.T) {
	m := model.StatementMetrics{Calls: 10, TotalTimeMs: 50, MeanTimeMs: 5, Rows: 10, SharedBlocksRead: 7, TempBlocksWritten: 3}
	scores := scoring.Default().ScoreBatch([]model.SqlStatement{stmt("SELECT a FROM t", m), stmt("SELECT b FROM t", m)})
	for _, s := range scores {
		assert.InDelta(t, 100.0, s.Value, 1e-9)
		assert.Equal(t, rule.SeverityCritical, s.Severity)
		assert.Equal(t, []string{scoring.BoostTempWrites}, s.Boosts)
	}
}

func TestMonotonic(t *testing.T) {
	batch := func(total float64) []model.SqlStatement {
		return []model.SqlStatement{
			stmt("SELECT a FROM t", model.StatementMetrics{TotalTimeMs: total, Calls: 5}),
			stmt("SELECT b FROM t", model.StatementMetrics{TotalTimeMs: 400, Calls: 50, SharedBlocksRead: 100}),
			stmt("SELECT c FROM t", model.StatementMetrics{TotalTimeMs: 800, Rows: 10}),
		}
	}
	s := scoring.Default()
	prev := -1.0
	for _, total := range []float64{0, 100, 400, 799, 800, 5000} {
		got := s.ScoreBatch(batch(total))[0].Value
		assert.GreaterOrEqual(t, got, prev, "total=%v", total)
		prev = got
	}
}

func TestBoosts(t *testing.T) {
	tests := []struct {
		name string
		text string
		temp int64
		want []string
		add  float64
	}{
		{name: "select star", text: "SELECT * FROM users LIMIT 10", want: []string{scoring.BoostSelectStar}, add: 8},
		{name: "leading wildcard", text: "SELECT id FROM users WHERE email ILIKE '%x'", want: []string{scoring.BoostLeadingWildcard}, add: 14},
		{name: "unbounded order by", text: "SELECT id FROM users ORDER BY id", want: []string{scoring.BoostUnboundedOrderBy}, add: 9},
		{name: "bounded order by", text: "SELECT id FROM users ORDER BY id LIMIT 5", want: nil, add: 0},
		{name: "temp writes", text: "SELECT id FROM users", temp: 1, want: []string{scoring.BoostTempWrites}, add: 12 + 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores := scoring.Default().ScoreBatch([]model.SqlStatement{
				stmt(tt.text, model.StatementMetrics{TempBlocksWritten: tt.temp}),
				stmt("SELECT 1", model.StatementMetrics{TotalTimeMs: 10}),
			})
			assert.Equal(t, tt.want, scores[0].Boosts)
			assert.InDelta(t, tt.add, scores[0].Value, 1e-9)
		})
	}
}

func TestClampedAt100(t *testing.T) {
	m := model.StatementMetrics{Calls: 1, TotalTimeMs: 1, MeanTimeMs: 1, Rows: 1, SharedBlocksRead: 1, TempBlocksWritten: 1}
	scores := scoring.Default().ScoreBatch([]model.SqlStatement{
		stmt("SELECT * FROM t WHERE a LIKE '%x' ORDER BY a", m),
	})
	assert.Equal(t, 100.0, scores[0].Value)
}

func TestStatementWithoutMetrics(t *testing.T) {
	scores := scoring.Default().ScoreBatch([]model.SqlStatement{
		{Text: "SELECT * FROM t"},
		stmt("SELECT 1", model.StatementMetrics{TotalTimeMs: 10}),
	})
	assert.True(t, scores[0].LowConfidence)
	assert.Zero(t, scores[0].Value)
	assert.Equal(t, 35.0, scores[1].Value)
}

func TestClassify(t *testing.T) {
	s := scoring.Default()
	tests := []struct {
		score float64
		want  rule.Severity
	}{
		{100, rule.SeverityCritical},
		{80, rule.SeverityCritical},
		{79.99, rule.SeverityHigh},
		{60, rule.SeverityHigh},
		{40, rule.SeverityMedium},
		{20, rule.SeverityLow},
		{19.99, rule.SeverityInfo},
		{0, rule.SeverityInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Classify(tt.score), "score %v", tt.score)
	}

	cfg := config.Default().Scoring
	cfg.Thresholds.Critical = 30
	assert.Equal(t, rule.SeverityCritical, scoring.New(cfg).Classify(35))
}
