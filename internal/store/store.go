// Package store persists the gateway's shared state: cache records, client
// sessions, the service-link table, and the append-only request log. All
// cross-request coordination happens here; the rest of the service keeps no
// shared in-process state.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// Well-known cache keys. The live-status record is the primary payload; the
// locations record is a best-effort side channel maintained by the log sink.
const (
	LiveStatusKey      = "twitch-live"
	UniqueLocationsKey = "unique-locations"
)

// Record pairs an opaque JSON payload with the moment it was written. The
// store never interprets the payload; callers that find it unparsable treat
// the record as absent.
type Record struct {
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
	ObservedAt time.Time       `json:"observedAt"`
}

// RecordStore is the durable key to (payload, timestamp) store backing the
// read-through cache. Upsert replaces the whole record; concurrent writers
// race and the last write wins.
//
// Records are never evicted by the store itself: staleness is a property the
// gateway computes against ObservedAt, and expired records must remain
// readable so they can be served when the upstream is down.
type RecordStore interface {
	Lookup(ctx context.Context, key string) (Record, bool, error)
	Upsert(ctx context.Context, record Record) error
	Close(ctx context.Context) error
}

// Session binds an opaque session token to a user identity. Revocation is a
// soft delete; rows are never physically removed.
type Session struct {
	SessionID  string
	UserID     string
	CreatedAt  time.Time
	LastSeenAt time.Time
	RevokedAt  *time.Time
}

// User is the identity a session is bound to.
type User struct {
	UserID     string
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// SessionStore persists sessions and the users they belong to.
type SessionStore interface {
	LookupSession(ctx context.Context, sessionID string) (Session, bool, error)
	TouchSession(ctx context.Context, sessionID string, seenAt time.Time) error
	InsertSession(ctx context.Context, session Session) error
	UserExists(ctx context.Context, userID string) (bool, error)
	UpsertUser(ctx context.Context, user User) error
}

// Link is one row of the service-link directory.
type Link struct {
	Service string
	URL     string
}

// LinkStore reads the service-link directory.
type LinkStore interface {
	Links(ctx context.Context) ([]Link, error)
}

// LogEntry captures one completed transaction for the request log. It is
// write-only: nothing in the service ever reads entries back.
type LogEntry struct {
	CreatedAt      time.Time
	SessionID      string
	UserID         string
	Method         string
	Path           string
	Query          string
	HeadersJSON    string
	RemoteAddr     string
	UserAgent      string
	CacheStatus    string
	FromCache      bool
	Stale          bool
	Live           *bool
	ResponseStatus int
	ErrorCode      string
	Duration       time.Duration
}

// RequestLogStore appends transaction outcomes. Callers treat failures as
// loss, never as request failures.
type RequestLogStore interface {
	Append(ctx context.Context, entry LogEntry) error
}
