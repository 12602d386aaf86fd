// Package requestlog is the fire-and-forget observability side channel.
// Entries are queued after the response decision is made and written by a
// detached worker; a full queue or a failing store loses entries, never
// requests.
package requestlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ianlrsn/livegate/internal/store"
)

const defaultQueueDepth = 256

// Sink buffers log entries and writes them off the request path. It also
// keeps the best-effort "first-seen unique locations" cache record current.
//
// The entries channel is never closed: in-flight handlers may still call
// Record during shutdown, and a send racing a close would panic. Close
// signals the worker through quit instead and Record checks the closed flag.
type Sink struct {
	logs    store.RequestLogStore
	records store.RecordStore
	logger  *slog.Logger

	entries chan store.LogEntry
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
	closed  atomic.Bool

	seen map[string]struct{}
}

// locationsPayload is the document stored under the unique-locations key.
type locationsPayload struct {
	Locations []string  `json:"locations"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSink starts the background writer. records may be nil, which disables
// the locations side channel.
func NewSink(logs store.RequestLogStore, records store.RecordStore, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		logs:    logs,
		records: records,
		logger:  logger.With(slog.String("agent", "request_log")),
		entries: make(chan store.LogEntry, defaultQueueDepth),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		seen:    make(map[string]struct{}),
	}
	go s.run()
	return s
}

// Record queues one transaction outcome. It never blocks: when the queue is
// full the entry is dropped and counted as acceptable loss. Calling Record
// on a closed (or nil) sink is a no-op, never a panic; handlers may still be
// finishing responses while shutdown runs.
func (s *Sink) Record(entry store.LogEntry) {
	if s == nil || s.closed.Load() {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case s.entries <- entry:
	default:
		s.logger.Debug("request log queue full, entry dropped")
	}
}

// Close stops accepting entries and drains what is already queued, giving up
// when ctx expires. Entries still in flight at process exit are lost by
// design.
func (s *Sink) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.quit)
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sink) run() {
	defer close(s.done)
	s.loadSeenLocations()
	for {
		select {
		case entry := <-s.entries:
			s.write(entry)
		case <-s.quit:
			// Drain whatever made it into the queue before the flag flipped.
			for {
				select {
				case entry := <-s.entries:
					s.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Sink) write(entry store.LogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.logs.Append(ctx, entry); err != nil {
		// Logging must never ripple back into the request path.
		s.logger.Debug("request log append failed", slog.Any("error", err))
	}
	s.noteLocation(ctx, entry.RemoteAddr)
}

// loadSeenLocations seeds the in-memory set from the existing record so a
// restart does not rewrite the whole history on the first request.
func (s *Sink) loadSeenLocations() {
	if s.records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record, ok, err := s.records.Lookup(ctx, store.UniqueLocationsKey)
	if err != nil || !ok {
		return
	}
	var payload locationsPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return
	}
	for _, location := range payload.Locations {
		s.seen[location] = struct{}{}
	}
}

// noteLocation upserts the unique-locations record when a new remote host
// shows up. All failures are ignored.
func (s *Sink) noteLocation(ctx context.Context, remoteAddr string) {
	if s.records == nil || remoteAddr == "" {
		return
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	if host == "" {
		return
	}
	if _, ok := s.seen[host]; ok {
		return
	}
	s.seen[host] = struct{}{}

	locations := make([]string, 0, len(s.seen))
	for location := range s.seen {
		locations = append(locations, location)
	}
	sort.Strings(locations)

	now := time.Now().UTC()
	payload, err := json.Marshal(locationsPayload{Locations: locations, UpdatedAt: now})
	if err != nil {
		return
	}
	if err := s.records.Upsert(ctx, store.Record{
		Key:        store.UniqueLocationsKey,
		Payload:    payload,
		ObservedAt: now,
	}); err != nil {
		s.logger.Debug("unique locations record update failed", slog.Any("error", err))
	}
}
