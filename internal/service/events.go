package service

import (
	"context"
	"fmt"
	"time"

	"habitstreak/internal/model"
)

// EventPublisher is satisfied by *mq.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

// dayLockKey names the per-(profile, date) lock every write to a day takes.
func dayLockKey(profileID int64, date time.Time) string {
	return fmt.Sprintf("day:%d:%s", profileID, model.FormatDate(date))
}

// taskLockKey serializes updates of one task row. It is taken after the day
// lock, never before.
func taskLockKey(profileID, taskID int64) string {
	return fmt.Sprintf("task:%d:%d", profileID, taskID)
}
