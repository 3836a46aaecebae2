package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"habitstreak/contracts/mq"
	"habitstreak/internal/model"
	"habitstreak/internal/repository"
	"habitstreak/pkg/lock"
)

const profileID int64 = 1

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(day time.Time) *fakeClock {
	return &fakeClock{now: day.Add(12 * time.Hour)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SetDay(day time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = day.Add(12 * time.Hour)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []mq.DayCompletionChangedPayload
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if routingKey == mq.RoutingKeyDayCompletionChanged {
		p.events = append(p.events, payload.(mq.DayCompletionChangedPayload))
	}
	return nil
}

func (p *recordingPublisher) Events() []mq.DayCompletionChangedPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mq.DayCompletionChangedPayload(nil), p.events...)
}

type fixture struct {
	store    *repository.MemoryStore
	clock    *fakeClock
	pub      *recordingPublisher
	eval     *Evaluator
	auto     *AutoChecker
	registry *Registry
	streak   *StreakCalculator
	punch    *PunchList
}

func newFixture(t *testing.T, today time.Time) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := newFakeClock(today)
	pub := &recordingPublisher{}
	logger := zap.NewNop()
	eval := NewEvaluator(store, lock.NewKeyedLocker(), pub, clock, EvaluatorConfig{EmptyDayComplete: true}, logger)
	registry := NewRegistry(eval, logger)
	return &fixture{
		store:    store,
		clock:    clock,
		pub:      pub,
		eval:     eval,
		auto:     NewAutoChecker(eval, logger),
		registry: registry,
		streak:   NewStreakCalculator(store, logger),
		punch:    NewPunchList(eval, registry, PunchListConfig{ArchiveAfterDays: 7, ArchiveInterval: time.Hour}, logger),
	}
}

// addTask stores t as is, bypassing validation.
func (f *fixture) addTask(t *testing.T, task model.Task) model.Task {
	t.Helper()
	if task.ProfileID == 0 {
		task.ProfileID = profileID
	}
	if task.Type == "" {
		task.Type = model.TaskTypeDaily
	}
	if task.Title == "" {
		task.Title = "task"
	}
	require.NoError(t, f.store.CreateTask(context.Background(), &task))
	return task
}

func (f *fixture) toggle(t *testing.T, date time.Time, taskID int64, checked bool, source model.CheckSource) ToggleResult {
	t.Helper()
	res, err := f.eval.ToggleCheck(context.Background(), profileID, date, taskID, checked, source)
	require.NoError(t, err)
	return res
}

func (f *fixture) dayComplete(t *testing.T, date time.Time) (bool, bool) {
	t.Helper()
	dc, ok, err := f.store.GetDayCompletion(context.Background(), profileID, date)
	require.NoError(t, err)
	return dc.Complete, ok
}

func (f *fixture) check(t *testing.T, date time.Time, taskID int64) (model.CheckRecord, bool) {
	t.Helper()
	rec, ok, err := f.store.GetCheck(context.Background(), profileID, taskID, date)
	require.NoError(t, err)
	return rec, ok
}

func day(y int, m time.Month, d int) time.Time {
	return model.NewDate(y, m, d)
}

func datePtr(t time.Time) *time.Time {
	return &t
}

func boolPtr(b bool) *bool {
	return &b
}
