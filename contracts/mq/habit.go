package mq

const (
	RoutingKeyMetricSnapshotReceived = "metric.snapshot.received"
	RoutingKeyDayCompletionChanged   = "day.completion.changed"
)

// MetricSnapshotPayload carries one already-fetched provider snapshot.
// Date is YYYY-MM-DD in the profile's timezone.
type MetricSnapshotPayload struct {
	ProfileID int64              `json:"profile_id"`
	Date      string             `json:"date"`
	Metrics   map[string]float64 `json:"metrics"`
	Units     map[string]string  `json:"units,omitempty"`
	Source    string             `json:"source,omitempty"` // e.g. "fitbit"
}

// DayCompletionChangedPayload is emitted when a day's complete flag flips.
type DayCompletionChangedPayload struct {
	ProfileID int64  `json:"profile_id"`
	Date      string `json:"date"`
	Complete  bool   `json:"complete"`
	Version   int64  `json:"version"`
	TraceID   string `json:"trace_id,omitempty"`
}
