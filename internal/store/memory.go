package store

import (
	"context"
	"sync"
)

type memoryRecords struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory returns a RecordStore that lives in process memory. It is the
// fallback backend when no durable store is reachable; records vanish on
// restart, so the first read after boot is always a miss.
func NewMemory() RecordStore {
	return &memoryRecords{records: make(map[string]Record)}
}

func (s *memoryRecords) Lookup(_ context.Context, key string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return Record{}, false, nil
	}
	return cloneRecord(record), true, nil
}

func (s *memoryRecords) Upsert(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Key] = cloneRecord(record)
	return nil
}

func (s *memoryRecords) Close(context.Context) error {
	return nil
}

func cloneRecord(in Record) Record {
	out := Record{Key: in.Key, ObservedAt: in.ObservedAt}
	if len(in.Payload) > 0 {
		out.Payload = append([]byte(nil), in.Payload...)
	}
	return out
}
