package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"habitstreak/pkg/trace"
)

type memStore struct {
	mu     sync.Mutex
	nextID int64
	events map[int64]*Event
}

func newMemStore() *memStore {
	return &memStore{events: make(map[int64]*Event)}
}

func (s *memStore) Insert(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

// Pending ignores NextRetryAt so tests can retry immediately.
func (s *memStore) Pending(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.Status == StatusPending {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id].Status = StatusSent
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id int64, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.RetryCount++
	if e.RetryCount >= maxRetries {
		e.Status = StatusFailed
	}
	return nil
}

func (s *memStore) status(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id].Status
}

type sinkCall struct {
	routingKey string
	body       string
	traceID    string
}

type fakeSink struct {
	fail  bool
	calls []sinkCall
}

func (s *fakeSink) Publish(ctx context.Context, routingKey string, payload any) error {
	if s.fail {
		return errors.New("broker unavailable")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.calls = append(s.calls, sinkCall{routingKey: routingKey, body: string(body), traceID: trace.FromContext(ctx)})
	return nil
}

func TestWriterAndDispatcher(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store)

	ctx := trace.WithContext(context.Background(), "trace-1")
	require.NoError(t, w.Publish(ctx, "day.completion.changed", map[string]any{"profile_id": 1, "complete": true}))
	require.NoError(t, w.Publish(context.Background(), "day.completion.changed", map[string]any{"profile_id": 2}))

	sink := &fakeSink{}
	d := NewDispatcher(store, sink, zap.NewNop())
	assert.Equal(t, 2, d.ProcessOnce(context.Background()))

	require.Len(t, sink.calls, 2)
	assert.Equal(t, "day.completion.changed", sink.calls[0].routingKey)
	assert.JSONEq(t, `{"profile_id":1,"complete":true}`, sink.calls[0].body)
	assert.Equal(t, "trace-1", sink.calls[0].traceID)
	assert.Empty(t, sink.calls[1].traceID)

	assert.Equal(t, StatusSent, store.status(1))
	assert.Zero(t, d.ProcessOnce(context.Background()))
}

func TestDispatcherGivesUpAfterMaxRetries(t *testing.T) {
	store := newMemStore()
	require.NoError(t, NewWriter(store).Publish(context.Background(), "k", map[string]int{"a": 1}))

	sink := &fakeSink{fail: true}
	d := NewDispatcher(store, sink, zap.NewNop()).WithMaxRetries(2)

	assert.Zero(t, d.ProcessOnce(context.Background()))
	assert.Equal(t, StatusPending, store.status(1))
	assert.Zero(t, d.ProcessOnce(context.Background()))
	assert.Equal(t, StatusFailed, store.status(1))

	sink.fail = false
	assert.Zero(t, d.ProcessOnce(context.Background()))
	assert.Empty(t, sink.calls)
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, "5s", retryDelay(1).String())
	assert.Equal(t, "15s", retryDelay(3).String())
}
