// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// clientCall records one remote operation for test assertions.
type clientCall struct {
	Op        string // "send", "edit", "delete"
	ChannelID int64
	MessageID int64
	Content   Content
}

// fakeClient is an in-memory Client. Per-channel error scripts let tests
// inject failures for the first N calls to a destination.
type fakeClient struct {
	mu     sync.Mutex
	calls  []clientCall
	nextID int64

	// failures maps a channel to a queue of errors returned before calls
	// start succeeding.
	failures map[int64][]error
}

func newFakeClient() *fakeClient {
	return &fakeClient{nextID: 1000, failures: make(map[int64][]error)}
}

func (f *fakeClient) failWith(channelID int64, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[channelID] = append(f.failures[channelID], errs...)
}

func (f *fakeClient) popFailure(channelID int64) error {
	queue := f.failures[channelID]
	if len(queue) == 0 {
		return nil
	}
	f.failures[channelID] = queue[1:]
	return queue[0]
}

func (f *fakeClient) SendMessage(_ context.Context, channelID int64, content Content) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, clientCall{Op: "send", ChannelID: channelID, Content: content})
	if err := f.popFailure(channelID); err != nil {
		return 0, err
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeClient) EditMessage(_ context.Context, channelID, messageID int64, content Content) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, clientCall{Op: "edit", ChannelID: channelID, MessageID: messageID, Content: content})
	return f.popFailure(channelID)
}

func (f *fakeClient) DeleteMessage(_ context.Context, channelID, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, clientCall{Op: "delete", ChannelID: channelID, MessageID: messageID})
	return f.popFailure(channelID)
}

func (f *fakeClient) Calls() []clientCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]clientCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeClient) callsTo(channelID int64, op string) []clientCall {
	var out []clientCall
	for _, call := range f.Calls() {
		if call.ChannelID == channelID && call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

type mappingKey struct {
	sourceChannel, sourceMessage, destChannel int64
}

// memStore is an in-memory Store honoring the same upsert and tombstone
// semantics as the SQLite implementation.
type memStore struct {
	mu   sync.Mutex
	rows map[mappingKey]Mapping

	getErr error
	putErr error
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[mappingKey]Mapping)}
}

func (s *memStore) Get(_ context.Context, sourceChannelID, sourceMessageID int64) ([]Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	var out []Mapping
	for key, row := range s.rows {
		if key.sourceChannel == sourceChannelID && key.sourceMessage == sourceMessageID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (s *memStore) Put(_ context.Context, m Mapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	key := mappingKey{m.SourceChannelID, m.SourceMessageID, m.DestChannelID}
	if existing, ok := s.rows[key]; ok && existing.Status == StatusTombstoned {
		return nil
	}
	s.rows[key] = m
	return nil
}

func (s *memStore) Tombstone(_ context.Context, sourceChannelID, sourceMessageID, destChannelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := mappingKey{sourceChannelID, sourceMessageID, destChannelID}
	row, ok := s.rows[key]
	if !ok {
		return nil
	}
	row.Status = StatusTombstoned
	s.rows[key] = row
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) row(sourceChannelID, sourceMessageID, destChannelID int64) (Mapping, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[mappingKey{sourceChannelID, sourceMessageID, destChannelID}]
	return row, ok
}

// testDispatcher wires a dispatcher whose sleeps are recorded instead of
// slept, so retry tests run instantly.
type testDispatcher struct {
	*Dispatcher
	client *fakeClient
	store  *memStore

	mu     sync.Mutex
	sleeps []time.Duration
}

func newTestDispatcher(cfg SendConfig) *testDispatcher {
	client := newFakeClient()
	store := newMemStore()
	limiter := NewLimiter(RateConfig{PerSecond: 10000, Burst: 10000}, nil)
	td := &testDispatcher{
		Dispatcher: NewDispatcher(client, store, limiter, cfg, zerolog.Nop()),
		client:     client,
		store:      store,
	}
	td.Dispatcher.sleep = func(_ context.Context, d time.Duration) error {
		td.mu.Lock()
		td.sleeps = append(td.sleeps, d)
		td.mu.Unlock()
		return nil
	}
	return td
}

func (td *testDispatcher) recordedSleeps() []time.Duration {
	td.mu.Lock()
	defer td.mu.Unlock()
	cp := make([]time.Duration, len(td.sleeps))
	copy(cp, td.sleeps)
	return cp
}

func testRoute(source int64, destChannels ...int64) *Route {
	route := &Route{Source: source}
	for _, ch := range destChannels {
		route.Destinations = append(route.Destinations, Destination{ChannelID: ch})
	}
	return route
}

func newEvent(typ EventType, source, message int64, text string) InboundEvent {
	return InboundEvent{
		Type:            typ,
		SourceChannelID: source,
		SourceMessageID: message,
		Timestamp:       time.Unix(1700000000, 0),
		Content:         Content{Text: text},
	}
}

func requireOutcome(t *testing.T, results []Result, index int, want Outcome) {
	t.Helper()
	if index >= len(results) {
		t.Fatalf("result %d missing, have %d results", index, len(results))
	}
	if results[index].Outcome != want {
		t.Fatalf("result %d: got outcome %s (err %v), want %s",
			index, results[index].Outcome, results[index].Err, want)
	}
}
