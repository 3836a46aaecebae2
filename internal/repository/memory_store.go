package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"habitstreak/internal/model"
)

type checkKey struct {
	taskID int64
	date   time.Time
}

type dayKey struct {
	profileID int64
	date      time.Time
}

type metricKey struct {
	profileID int64
	date      time.Time
	key       string
}

// MemoryStore is an in-process Store. It backs tests and the "memory"
// storage driver.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	tasks   map[int64]model.Task
	checks  map[checkKey]model.CheckRecord
	days    map[dayKey]model.DayCompletion
	metrics map[metricKey]model.MetricValue

	// writes counts mutating calls; tests use it to assert idempotence.
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[int64]model.Task),
		checks:  make(map[checkKey]model.CheckRecord),
		days:    make(map[dayKey]model.DayCompletion),
		metrics: make(map[metricKey]model.MetricValue),
	}
}

// Writes returns the number of mutating calls served so far.
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneTask(t model.Task) model.Task {
	if t.MetricGate != nil {
		v := *t.MetricGate
		t.MetricGate = &v
	}
	t.ActivationDate = cloneTime(t.ActivationDate)
	t.DueDate = cloneTime(t.DueDate)
	t.CompletedOn = cloneTime(t.CompletedOn)
	t.CompletedAt = cloneTime(t.CompletedAt)
	t.ArchivedAt = cloneTime(t.ArchivedAt)
	t.DeletedAt = cloneTime(t.DeletedAt)
	return t
}

func (s *MemoryStore) ListTasks(_ context.Context, profileID int64) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, 0)
	for _, t := range s.tasks {
		if t.ProfileID == profileID && !t.Deleted() {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetTask(_ context.Context, profileID, taskID int64) (model.Task, error) {
	s.mu.RLock()
	t, ok := s.tasks[taskID]
	s.mu.RUnlock()

	if !ok || t.ProfileID != profileID || t.Deleted() {
		return model.Task{}, model.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (s *MemoryStore) CreateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := time.Now().UTC()
	t.ID = s.nextID
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = cloneTask(*t)
	s.writes++
	return nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tasks[t.ID]
	if !ok || cur.ProfileID != t.ProfileID {
		return model.ErrTaskNotFound
	}
	t.CreatedAt = cur.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	s.tasks[t.ID] = cloneTask(*t)
	s.writes++
	return nil
}

func (s *MemoryStore) ListCompletedOneOffs(_ context.Context, before time.Time) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Task, 0)
	for _, t := range s.tasks {
		if t.Type != model.TaskTypeOneOff || t.Deleted() || t.Archived() {
			continue
		}
		if t.CompletedOn != nil && t.CompletedOn.Before(before) {
			out = append(out, cloneTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetCheck(_ context.Context, profileID, taskID int64, date time.Time) (model.CheckRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.checks[checkKey{taskID, model.DateOf(date)}]
	if !ok || rec.ProfileID != profileID {
		return model.CheckRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *MemoryStore) ListChecks(_ context.Context, profileID int64, from, to time.Time) ([]model.CheckRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.CheckRecord
	for k, rec := range s.checks {
		if rec.ProfileID == profileID && !k.date.Before(from) && !k.date.After(to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}

func (s *MemoryStore) UpsertCheck(_ context.Context, rec model.CheckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Date = model.DateOf(rec.Date)
	s.checks[checkKey{rec.TaskID, rec.Date}] = rec
	s.writes++
	return nil
}

func (s *MemoryStore) LastCheckedBefore(_ context.Context, profileID, taskID int64, before time.Time) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	found := false
	for k, rec := range s.checks {
		if k.taskID != taskID || rec.ProfileID != profileID || !rec.Checked || !k.date.Before(before) {
			continue
		}
		if !found || k.date.After(last) {
			last = k.date
			found = true
		}
	}
	return last, found, nil
}

func (s *MemoryStore) GetDayCompletion(ctx context.Context, profileID int64, date time.Time) (model.DayCompletion, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memDayReader{s}.GetDayCompletion(ctx, profileID, date)
}

func (s *MemoryStore) ListDayCompletions(ctx context.Context, profileID int64, from, to time.Time) ([]model.DayCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memDayReader{s}.ListDayCompletions(ctx, profileID, from, to)
}

func (s *MemoryStore) UpsertDayCompletion(_ context.Context, dc model.DayCompletion, expectedVersion int64) (model.DayCompletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dc.Date = model.DateOf(dc.Date)
	key := dayKey{dc.ProfileID, dc.Date}
	cur, ok := s.days[key]
	var curVersion int64
	if ok {
		curVersion = cur.Version
	}
	if curVersion != expectedVersion {
		return model.DayCompletion{}, model.ErrConcurrentModification
	}
	dc.Version = expectedVersion + 1
	s.days[key] = dc
	s.writes++
	return dc, nil
}

// ReadSnapshot holds the read lock for the whole callback, so fn observes
// no interleaved writes.
func (s *MemoryStore) ReadSnapshot(_ context.Context, fn func(DayReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memDayReader{s})
}

// memDayReader reads without locking; callers hold s.mu.
type memDayReader struct {
	s *MemoryStore
}

func (r memDayReader) GetDayCompletion(_ context.Context, profileID int64, date time.Time) (model.DayCompletion, bool, error) {
	dc, ok := r.s.days[dayKey{profileID, model.DateOf(date)}]
	return dc, ok, nil
}

func (r memDayReader) ListDayCompletions(_ context.Context, profileID int64, from, to time.Time) ([]model.DayCompletion, error) {
	var out []model.DayCompletion
	for k, dc := range r.s.days {
		if k.profileID == profileID && !k.date.Before(from) && !k.date.After(to) {
			out = append(out, dc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) UpsertMetricValues(_ context.Context, values []model.MetricValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range values {
		v.Date = model.DateOf(v.Date)
		s.metrics[metricKey{v.ProfileID, v.Date, v.MetricKey}] = v
	}
	s.writes++
	return nil
}

func (s *MemoryStore) ListMetricValues(_ context.Context, profileID int64, date time.Time) ([]model.MetricValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.MetricValue
	for k, v := range s.metrics {
		if k.profileID == profileID && k.date.Equal(model.DateOf(date)) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MetricKey < out[j].MetricKey })
	return out, nil
}

func (s *MemoryStore) ListMetricProfiles(_ context.Context, from, to time.Time) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]struct{})
	for k := range s.metrics {
		if !k.date.Before(from) && !k.date.After(to) {
			seen[k.profileID] = struct{}{}
		}
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
