package model

// SqlStatement is a raw statement, optionally with aggregate execution metrics.
type SqlStatement struct {
	Text    string            `json:"text"`
	QueryID int64             `json:"query_id,omitempty"`
	Metrics *StatementMetrics `json:"metrics,omitempty"`
}

// StatementMetrics mirrors the pg_stat_statements counters used for scoring.
type StatementMetrics struct {
	Calls             int64   `json:"calls"`
	TotalTimeMs       float64 `json:"total_time_ms"`
	MeanTimeMs        float64 `json:"mean_time_ms"`
	MinTimeMs         float64 `json:"min_time_ms,omitempty"`
	MaxTimeMs         float64 `json:"max_time_ms,omitempty"`
	StddevTimeMs      float64 `json:"stddev_time_ms,omitempty"`
	Rows              int64   `json:"rows"`
	SharedBlocksRead  int64   `json:"shared_blks_read"`
	SharedBlocksHit   int64   `json:"shared_blks_hit"`
	TempBlocksWritten int64   `json:"temp_blks_written"`
	BlockReadTimeMs   float64 `json:"blk_read_time_ms,omitempty"`
	BlockWriteTimeMs  float64 `json:"blk_write_time_ms,omitempty"`
}
