// Package scoring ranks a batch of statements by their aggregate execution metrics.
//
// Each metric is divided by the largest value seen in the batch, weighted, summed and
// then raised by fixed boosts for a few text anti-patterns. The result is clamped to
// 1, scaled to [0,100] and rounded to two decimals.
package scoring

import (
	"math"
	"regexp"
	"strings"

	"github.com/mickamy/pgdiag/internal/config"
	"github.com/mickamy/pgdiag/internal/model"
	"github.com/mickamy/pgdiag/internal/rule"
)

// Boost names reported in Score.Boosts.
const (
	BoostSelectStar       = "select_star"
	BoostLeadingWildcard  = "leading_wildcard"
	BoostUnboundedOrderBy = "unbounded_order_by"
	BoostTempWrites       = "temp_writes"
)

// Normalized holds each metric divided by its batch maximum, in [0,1].
type Normalized struct {
	TotalTime   float64 `json:"total_time"`
	MeanTime    float64 `json:"mean_time"`
	Calls       float64 `json:"calls"`
	SharedReads float64 `json:"shared_reads"`
	TempWrites  float64 `json:"temp_writes"`
	Rows        float64 `json:"rows"`
}

// Score is the composite ranking of one statement.
type Score struct {
	Value         float64       `json:"value"`
	Severity      rule.Severity `json:"severity"`
	Normalized    Normalized    `json:"normalized"`
	Boosts        []string      `json:"boosts,omitempty"`
	// LowConfidence is set for statements that carried no metrics.
	LowConfidence bool          `json:"low_confidence,omitempty"`
}

// Scorer computes composite scores. Build one with New or Default.
type Scorer struct {
	Weights    config.WeightConfig
	Boosts     config.BoostConfig
	Thresholds config.ThresholdConfig
}

// New builds a Scorer from cfg.
func New(cfg config.ScoringConfig) Scorer {
	return Scorer{Weights: cfg.Weights, Boosts: cfg.Boosts, Thresholds: cfg.Thresholds}
}

// Default returns the Scorer for the built-in configuration.
func Default() Scorer {
	return New(config.Default().Scoring)
}

type maxima struct {
	total, mean, calls, shared, temp, rows float64
}

func batchMaxima(stmts []model.SqlStatement) maxima {
	var m maxima
	for _, s := range stmts {
		if s.Metrics == nil {
			continue
		}
		mt := s.Metrics
		m.total = math.Max(m.total, mt.TotalTimeMs)
		m.mean = math.Max(m.mean, mt.MeanTimeMs)
		m.calls = math.Max(m.calls, float64(mt.Calls))
		m.shared = math.Max(m.shared, float64(mt.SharedBlocksRead))
		m.temp = math.Max(m.temp, float64(mt.TempBlocksWritten))
		m.rows = math.Max(m.rows, float64(mt.Rows))
	}
	return m
}

// ScoreBatch scores every statement against the maxima of the batch. The result is index-aligned with stmts.
func (s Scorer) ScoreBatch(stmts []model.SqlStatement) []Score {
	m := batchMaxima(stmts)
	out := make([]Score, len(stmts))
	for i, stmt := range stmts {
		out[i] = s.score(stmt, m)
	}
	return out
}

func (s Scorer) score(stmt model.SqlStatement, m maxima) Score {
	if stmt.Metrics == nil {
		return Score{Severity: rule.SeverityInfo, LowConfidence: true}
	}
	mt := stmt.Metrics
	n := Normalized{
		TotalTime:   ratio(mt.TotalTimeMs, m.total),
		MeanTime:    ratio(mt.MeanTimeMs, m.mean),
		Calls:       ratio(float64(mt.Calls), m.calls),
		SharedReads: ratio(float64(mt.SharedBlocksRead), m.shared),
		TempWrites:  ratio(float64(mt.TempBlocksWritten), m.temp),
		Rows:        ratio(float64(mt.Rows), m.rows),
	}
	w := s.Weights
	raw := w.TotalTime*n.TotalTime +
		w.SharedReads*n.SharedReads +
		w.MeanTime*n.MeanTime +
		w.TempWrites*n.TempWrites +
		w.Calls*n.Calls +
		w.Rows*n.Rows

	boost, names := s.boost(stmt)
	value := round2(math.Min(1, raw+boost) * 100)
	return Score{
		Value:      value,
		Severity:   s.Classify(value),
		Normalized: n,
		Boosts:     names,
	}
}

// ratio is v/peak clamped to [0,1]. A non-positive peak contributes 0.
func ratio(v, peak float64) float64 {
	if peak <= 0 || v <= 0 {
		return 0
	}
	return math.Min(1, v/peak)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

var (
	selectStar      = regexp.MustCompile(`\bselect\s+\*`)
	leadingWildcard = regexp.MustCompile(`\bi?like\s+'%`)
	orderBy         = regexp.MustCompile(`\border\s+by\b`)
	boundedLimit    = regexp.MustCompile(`\blimit\s+\d+`)
)

// boost returns the additive text-pattern boost for stmt and the names of the patterns that matched.
func (s Scorer) boost(stmt model.SqlStatement) (float64, []string) {
	q := strings.ToLower(stmt.Text)
	var total float64
	var names []string
	add := func(ok bool, v float64, name string) {
		if ok && v != 0 {
			total += v
			names = append(names, name)
		}
	}
	add(selectStar.MatchString(q), s.Boosts.SelectStar, BoostSelectStar)
	add(leadingWildcard.MatchString(q), s.Boosts.LeadingWildcard, BoostLeadingWildcard)
	add(orderBy.MatchString(q) && !boundedLimit.MatchString(q), s.Boosts.UnboundedOrderBy, BoostUnboundedOrderBy)
	add(stmt.Metrics != nil && stmt.Metrics.TempBlocksWritten > 0, s.Boosts.TempWrites, BoostTempWrites)
	return total, names
}

// Classify maps a score in [0,100] to a severity tier.
func (s Scorer) Classify(score float64) rule.Severity {
	th := s.Thresholds
	switch {
	case score >= th.Critical:
		return rule.SeverityCritical
	case score >= th.High:
		return rule.SeverityHigh
	case score >= th.Medium:
		return rule.SeverityMedium
	case score >= th.Low:
		return rule.SeverityLow
	default:
		return rule.SeverityInfo
	}
}
