package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 打卡写入计数
	CheckToggleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "check_toggle_count",
			Help: "Total number of check records written",
		},
		[]string{"source", "checked"}, // source: manual, auto
	)

	// 日完成状态翻转计数
	DayCompletionFlipCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "day_completion_flip_count",
			Help: "Total number of day completion state changes",
		},
		[]string{"complete"},
	)

	// 乐观锁冲突计数
	DayCompletionConflictCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "day_completion_conflict_count",
			Help: "Total number of optimistic version conflicts on day completions",
		},
	)

	AutoCheckIntentCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_check_intent_count",
			Help: "Total number of auto-check intents applied",
		},
		[]string{"action"}, // action: check, uncheck
	)

	AutoCheckDiagnosticCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auto_check_diagnostic_count",
			Help: "Total number of non-fatal auto-check failures",
		},
		[]string{"reason"},
	)

	// 待办清单自动归档计数
	PunchListArchivedCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "punch_list_archived_count",
			Help: "Total number of completed one-off tasks archived",
		},
	)

	// 指标同步耗时（秒）
	MetricSyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metric_sync_duration_seconds",
			Help:    "Duration of one metric sync pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	MetricSyncUnitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metric_sync_unit_count",
			Help: "Total number of profile/date units processed by metric sync",
		},
		[]string{"status"}, // status: applied, skipped, failed
	)

	// 日锁等待耗时（毫秒）
	DayLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "day_lock_wait_ms",
			Help:    "Time spent waiting for a profile/date lock in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~4s
		},
		[]string{"backend"},
	)

	StreakLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streak_length_days",
			Help:    "Distribution of computed current streaks",
			Buckets: []float64{0, 1, 3, 7, 14, 30, 60, 100, 365},
		},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of queries above the slow query threshold",
		},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	MQHandlerFailureCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mq_handler_failure_count",
			Help: "Total number of failed MQ deliveries by reason",
		},
		[]string{"routing_key", "reason"},
	)
)

func IncrementCheckToggle(source string, checked bool) {
	v := "false"
	if checked {
		v = "true"
	}
	CheckToggleCount.WithLabelValues(source, v).Inc()
}

func IncrementDayCompletionFlip(complete bool) {
	v := "false"
	if complete {
		v = "true"
	}
	DayCompletionFlipCount.WithLabelValues(v).Inc()
}

func IncrementDayCompletionConflict() {
	DayCompletionConflictCount.Inc()
}

func IncrementAutoCheckIntent(action string) {
	AutoCheckIntentCount.WithLabelValues(action).Inc()
}

func IncrementAutoCheckDiagnostic(reason string) {
	AutoCheckDiagnosticCount.WithLabelValues(reason).Inc()
}

func AddPunchListArchived(n int) {
	PunchListArchivedCount.Add(float64(n))
}

func RecordMetricSyncDuration(duration time.Duration) {
	MetricSyncDuration.Observe(duration.Seconds())
}

func IncrementMetricSyncUnit(status string) {
	MetricSyncUnitCount.WithLabelValues(status).Inc()
}

func RecordDayLockWait(backend string, duration time.Duration) {
	DayLockWait.WithLabelValues(backend).Observe(float64(duration.Milliseconds()))
}

func RecordStreakLength(days int) {
	StreakLength.Observe(float64(days))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询
func IncrementSlowQuery(sql string, duration time.Duration) {
	_ = sql
	_ = duration
	SlowQueryCount.Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func IncrementMQHandlerFailure(routingKey, reason string) {
	MQHandlerFailureCount.WithLabelValues(routingKey, reason).Inc()
}
