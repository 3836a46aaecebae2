package model

import "time"

// MetricSnapshot maps metric keys to values for one profile and date. A key
// that is not present means no data, not a zero reading.
type MetricSnapshot map[string]float64

// MetricValue is one stored reading from the last ingested snapshot.
type MetricValue struct {
	ProfileID int64     `json:"profile_id"`
	Date      time.Time `json:"-"`
	MetricKey string    `json:"metric_key"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	SyncedAt  time.Time `json:"synced_at"`
}

// SnapshotOf collapses stored values into a snapshot.
func SnapshotOf(values []MetricValue) MetricSnapshot {
	s := make(MetricSnapshot, len(values))
	for _, v := range values {
		s[v.MetricKey] = v.Value
	}
	return s
}
