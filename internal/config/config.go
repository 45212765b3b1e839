package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
)

// Config holds tunable thresholds for rules, scoring and diff reporting.
type Config struct {
	Rules   RuleConfig    `json:"rules"`
	Scoring ScoringConfig `json:"scoring"`
	Diff    DiffConfig    `json:"diff"`
}

// RuleConfig defines the thresholds diagnostic rules compare against.
type RuleConfig struct {
	LargeTableRows            float64 `json:"large_table_rows"`
	SmallTableRows            float64 `json:"small_table_rows"`
	CardinalityHighRatio      float64 `json:"cardinality_high_ratio"`
	CardinalityLowRatio       float64 `json:"cardinality_low_ratio"`
	EstimateDiffHighRatio     float64 `json:"estimate_diff_high_ratio"`
	EstimateDiffLowRatio      float64 `json:"estimate_diff_low_ratio"`
	MissingStatsHighRatio     float64 `json:"missing_stats_high_ratio"`
	MissingStatsLowRatio      float64 `json:"missing_stats_low_ratio"`
	BitmapOverfetchFactor     float64 `json:"bitmap_overfetch_factor"`
	ExcessiveTempBlocks       int64   `json:"excessive_temp_blocks"`
	SeqScanTempWrittenBlocks  int64   `json:"seq_scan_temp_written_blocks"`
	HighBufferReadBlocks      int64   `json:"high_buffer_read_blocks"`
	HashSkewFactor            float64 `json:"hash_skew_factor"`
	FilterRemovedRatio        float64 `json:"filter_removed_ratio"`
	SeqScanRemovedMinRows     float64 `json:"seq_scan_removed_min_rows"`
	AggregateMemoryKB         float64 `json:"aggregate_memory_kb"`
	LargeLoopCount            float64 `json:"large_loop_count"`
	NestedLoopInnerLoops      float64 `json:"nested_loop_inner_loops"`
	NestedLoopInnerTimeMs     float64 `json:"nested_loop_inner_time_ms"`
	ParallelSmallTableRows    float64 `json:"parallel_small_table_rows"`
	ParallelLimitKeepRatio    float64 `json:"parallel_limit_keep_ratio"`
	HotspotCriticalPercent    float64 `json:"hotspot_critical_percent"`
	HotspotWarningPercent     float64 `json:"hotspot_warning_percent"`
	SlowStartupMs             float64 `json:"slow_startup_ms"`
	FunctionScanDefaultRows   float64 `json:"function_scan_default_rows"`
	OffsetPaginationThreshold int64   `json:"offset_pagination_threshold"`
	MultipleOrThreshold       int     `json:"multiple_or_threshold"`
	ComplexCteThreshold       int     `json:"complex_cte_threshold"`
}

// ScoringConfig defines the composite statement score.
type ScoringConfig struct {
	Weights    WeightConfig    `json:"weights"`
	Boosts     BoostConfig     `json:"boosts"`
	Thresholds ThresholdConfig `json:"thresholds"`
}

// WeightConfig holds the per-metric weights. They must sum to 1.
type WeightConfig struct {
	TotalTime   float64 `json:"total_time"`
	SharedReads float64 `json:"shared_reads"`
	MeanTime    float64 `json:"mean_time"`
	TempWrites  float64 `json:"temp_writes"`
	Calls       float64 `json:"calls"`
	Rows        float64 `json:"rows"`
}

// Sum returns the total weight.
func (w WeightConfig) Sum() float64 {
	return w.TotalTime + w.SharedReads + w.MeanTime + w.TempWrites + w.Calls + w.Rows
}

// BoostConfig holds the additive text-pattern boosts.
type BoostConfig struct {
	SelectStar       float64 `json:"select_star"`
	LeadingWildcard  float64 `json:"leading_wildcard"`
	UnboundedOrderBy float64 `json:"unbounded_order_by"`
	TempWrites       float64 `json:"temp_writes"`
}

// ThresholdConfig maps a score in [0,100] to a severity tier.
type ThresholdConfig struct {
	Critical float64 `json:"critical"`
	High     float64 `json:"high"`
	Medium   float64 `json:"medium"`
	Low      float64 `json:"low"`
}

// DiffConfig defines thresholds for diff summaries.
type DiffConfig struct {
	MinSelfDeltaMs   float64 `json:"min_self_delta_ms"`
	MinPercentChange float64 `json:"min_percent_change"`
	MaxItems         int     `json:"max_items"`
	CriticalDeltaMs  float64 `json:"critical_delta_ms"`
	WarningDeltaMs   float64 `json:"warning_delta_ms"`
}

var (
	mu     sync.RWMutex
	active = Default()
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Rules: RuleConfig{
			LargeTableRows:            10000,
			SmallTableRows:            1000,
			CardinalityHighRatio:      4,
			CardinalityLowRatio:       0.25,
			EstimateDiffHighRatio:     10,
			EstimateDiffLowRatio:      0.1,
			MissingStatsHighRatio:     5,
			MissingStatsLowRatio:      0.2,
			BitmapOverfetchFactor:     3,
			ExcessiveTempBlocks:       100,
			SeqScanTempWrittenBlocks:  50,
			HighBufferReadBlocks:      1000,
			HashSkewFactor:            10,
			FilterRemovedRatio:        0.5,
			SeqScanRemovedMinRows:     1000,
			AggregateMemoryKB:         51200,
			LargeLoopCount:            1000,
			NestedLoopInnerLoops:      10,
			NestedLoopInnerTimeMs:     5,
			ParallelSmallTableRows:    10000,
			ParallelLimitKeepRatio:    0.10,
			HotspotCriticalPercent:    0.40,
			HotspotWarningPercent:     0.20,
			SlowStartupMs:             50,
			FunctionScanDefaultRows:   1000,
			OffsetPaginationThreshold: 1000,
			MultipleOrThreshold:       3,
			ComplexCteThreshold:       5,
		},
		Scoring: ScoringConfig{
			Weights: WeightConfig{
				TotalTime:   0.35,
				SharedReads: 0.25,
				MeanTime:    0.12,
				TempWrites:  0.12,
				Calls:       0.10,
				Rows:        0.06,
			},
			Boosts: BoostConfig{
				SelectStar:       0.08,
				LeadingWildcard:  0.14,
				UnboundedOrderBy: 0.09,
				TempWrites:       0.12,
			},
			Thresholds: ThresholdConfig{
				Critical: 80,
				High:     60,
				Medium:   40,
				Low:      20,
			},
		},
		Diff: DiffConfig{
			MinSelfDeltaMs:   2.0,
			MinPercentChange: 5.0,
			MaxItems:         8,
			CriticalDeltaMs:  10.0,
			WarningDeltaMs:   5.0,
		},
	}
}

// Validate checks invariants the scorer relies on.
func (c Config) Validate() error {
	w := c.Scoring.Weights
	for name, v := range map[string]float64{
		"total_time": w.TotalTime, "shared_reads": w.SharedReads, "mean_time": w.MeanTime,
		"temp_writes": w.TempWrites, "calls": w.Calls, "rows": w.Rows,
	} {
		if v < 0 {
			return fmt.Errorf("config: scoring weight %s must not be negative", name)
		}
	}
	if math.Abs(w.Sum()-1) > 1e-6 {
		return fmt.Errorf("config: scoring weights must sum to 1, got %.4f", w.Sum())
	}
	th := c.Scoring.Thresholds
	if !(th.Critical >= th.High && th.High >= th.Medium && th.Medium >= th.Low && th.Low >= 0) {
		return fmt.Errorf("config: severity thresholds must be descending")
	}
	return nil
}

// Active returns the currently applied configuration.
func Active() Config {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// Use replaces the active configuration.
func Use(cfg Config) {
	mu.Lock()
	active = cfg
	mu.Unlock()
}

// Apply loads configuration from the provided path (JSON). Empty path resets to default.
func Apply(path string) error {
	if path == "" {
		Use(Default())
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	Use(cfg)
	return nil
}
