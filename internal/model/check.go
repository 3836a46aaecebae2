package model

import (
	"encoding/json"
	"time"
)

// CheckSource records who wrote a check: the user or the auto-check engine.
type CheckSource string

const (
	SourceManual CheckSource = "manual"
	SourceAuto   CheckSource = "auto"
)

func (s CheckSource) Valid() bool {
	return s == SourceManual || s == SourceAuto
}

// CheckRecord is the durable per (task, date) check state. Rows are never
// deleted, only re-toggled in place.
type CheckRecord struct {
	ProfileID int64       `json:"profile_id"`
	TaskID    int64       `json:"task_id"`
	Date      time.Time   `json:"-"`
	Checked   bool        `json:"checked"`
	CheckedAt *time.Time  `json:"checked_at"`
	Source    CheckSource `json:"source"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (c CheckRecord) MarshalJSON() ([]byte, error) {
	type alias CheckRecord
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(c), Date: FormatDate(c.Date)})
}

// DayCompletion is the cached day-complete boolean for a profile. Version
// increments on every write and guards the optimistic upsert.
type DayCompletion struct {
	ProfileID  int64     `json:"profile_id"`
	Date       time.Time `json:"-"`
	Complete   bool      `json:"complete"`
	ComputedAt time.Time `json:"computed_at"`
	Version    int64     `json:"version"`
}

func (d DayCompletion) MarshalJSON() ([]byte, error) {
	type alias DayCompletion
	return json.Marshal(struct {
		alias
		Date string `json:"date"`
	}{alias: alias(d), Date: FormatDate(d.Date)})
}
