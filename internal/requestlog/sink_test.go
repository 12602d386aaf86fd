package requestlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ianlrsn/livegate/internal/store"
)

type fakeLogStore struct {
	mu      sync.Mutex
	entries []store.LogEntry
	failing bool
}

func (f *fakeLogStore) Append(_ context.Context, entry store.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return errors.New("append failed")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLogStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestSinkWritesQueuedEntries(t *testing.T) {
	logs := &fakeLogStore{}
	sink := NewSink(logs, nil, nil)

	sink.Record(store.LogEntry{Path: "/api/live", ResponseStatus: 200})
	sink.Record(store.LogEntry{Path: "/api/links", ResponseStatus: 200})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	require.Equal(t, 2, logs.count())

	logs.mu.Lock()
	defer logs.mu.Unlock()
	require.False(t, logs.entries[0].CreatedAt.IsZero(), "sink must stamp entries without a timestamp")
}

func TestSinkSwallowsAppendFailures(t *testing.T) {
	logs := &fakeLogStore{failing: true}
	sink := NewSink(logs, nil, nil)

	sink.Record(store.LogEntry{Path: "/api/live"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx), "a failing store must not fail the drain")
}

func TestNilSinkRecordIsSafe(t *testing.T) {
	var sink *Sink
	sink.Record(store.LogEntry{Path: "/api/live"})
}

func TestSinkRecordAfterCloseIsSafe(t *testing.T) {
	logs := &fakeLogStore{}
	sink := NewSink(logs, nil, nil)

	sink.Record(store.LogEntry{Path: "/api/live", ResponseStatus: 200})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))
	require.Equal(t, 1, logs.count())

	// A handler finishing its response after shutdown began must be able to
	// call Record without panicking; the entry is simply lost.
	sink.Record(store.LogEntry{Path: "/api/live", ResponseStatus: 200})
	require.Equal(t, 1, logs.count())
	require.NoError(t, sink.Close(ctx), "Close is idempotent")
}

func TestSinkTracksUniqueLocations(t *testing.T) {
	logs := &fakeLogStore{}
	records := store.NewMemory()
	sink := NewSink(logs, records, nil)

	sink.Record(store.LogEntry{Path: "/api/live", RemoteAddr: "203.0.113.9:1234"})
	sink.Record(store.LogEntry{Path: "/api/live", RemoteAddr: "203.0.113.9:9999"})
	sink.Record(store.LogEntry{Path: "/api/live", RemoteAddr: "198.51.100.7:80"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	record, ok, err := records.Lookup(context.Background(), store.UniqueLocationsKey)
	require.NoError(t, err)
	require.True(t, ok)

	var payload locationsPayload
	require.NoError(t, json.Unmarshal(record.Payload, &payload))
	require.Equal(t, []string{"198.51.100.7", "203.0.113.9"}, payload.Locations,
		"ports are stripped and repeat hosts collapse")
}

func TestSinkSeedsLocationsFromExistingRecord(t *testing.T) {
	logs := &fakeLogStore{}
	records := store.NewMemory()
	seeded, err := json.Marshal(locationsPayload{
		Locations: []string{"192.0.2.1"},
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, records.Upsert(context.Background(), store.Record{
		Key:        store.UniqueLocationsKey,
		Payload:    seeded,
		ObservedAt: time.Now().UTC(),
	}))

	sink := NewSink(logs, records, nil)
	sink.Record(store.LogEntry{Path: "/api/live", RemoteAddr: "203.0.113.9:1234"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	record, ok, err := records.Lookup(context.Background(), store.UniqueLocationsKey)
	require.NoError(t, err)
	require.True(t, ok)

	var payload locationsPayload
	require.NoError(t, json.Unmarshal(record.Payload, &payload))
	require.Equal(t, []string{"192.0.2.1", "203.0.113.9"}, payload.Locations,
		"previously seen hosts survive a restart")
}

func TestSinkIgnoresBlankRemoteAddr(t *testing.T) {
	logs := &fakeLogStore{}
	records := store.NewMemory()
	sink := NewSink(logs, records, nil)

	sink.Record(store.LogEntry{Path: "/api/live"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sink.Close(ctx))

	_, ok, err := records.Lookup(context.Background(), store.UniqueLocationsKey)
	require.NoError(t, err)
	require.False(t, ok, "no record is written until a real host shows up")
}
