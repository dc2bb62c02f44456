package fetch

import "time"

// MetricSample is one point of the performance time series served by
// /api/metrics.
type MetricSample struct {
	Timestamp        time.Time `json:"timestamp"`
	AvgResponseTime  float64   `json:"avg_response_time"`
	MemoryUsage      float64   `json:"memory_usage"`
	QueriesPerSecond float64   `json:"queries_per_second"`
	CacheHitRatio    float64   `json:"cache_hit_ratio"`
}

// SlowQuery is one captured database query that exceeded the slow
// threshold. ExecutionTime is in seconds, as measured by the query
// profiler.
type SlowQuery struct {
	ExecutionTime float64 `json:"execution_time"`
	QueryText     string  `json:"query_text"`
	RowsExamined  int     `json:"rows_examined"`
	SourceFile    string  `json:"source_file"`
}

// AjaxAction aggregates admin-ajax.php traffic for one action.
type AjaxAction struct {
	ActionName string `json:"action_name"`
	CallCount  int    `json:"call_count"`
}

// PluginImpact is one plugin's measured cost per request.
type PluginImpact struct {
	PluginName  string  `json:"plugin_name"`
	ImpactScore float64 `json:"impact_score"`
	MemoryUsage float64 `json:"memory_usage"`
	QueryCount  int     `json:"query_count"`
	LoadTime    float64 `json:"load_time"`
}

// SystemHealth is the health/resource summary served by
// /api/system-health.
type SystemHealth struct {
	Status         string  `json:"status"`
	DatabaseStatus string  `json:"database_status"`
	PHPVersion     string  `json:"php_version"`
	WordPress      string  `json:"wordpress_version"`
	MemoryUsage    float64 `json:"memory_usage"`
	DiskUsage      float64 `json:"disk_usage"`
}

// DemoStatus reports whether the source is serving synthetic demo data.
type DemoStatus struct {
	Enabled  bool   `json:"enabled"`
	Scenario string `json:"scenario,omitempty"`
}
