package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// schemaStatements creates every table the service touches. Each statement is
// idempotent so the ensure step can run on every startup, and concurrent
// startups racing on the same file are harmless.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS api_cache_entries (
		cache_key      TEXT PRIMARY KEY,
		payload_json   TEXT NOT NULL,
		observed_at_ms INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id      TEXT PRIMARY KEY,
		created_at   TEXT NOT NULL,
		last_seen_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS client_sessions (
		session_id   TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		revoked_at   TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS links (
		service TEXT NOT NULL,
		url     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS request_logs (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at           TEXT NOT NULL,
		session_id           TEXT,
		user_id              TEXT,
		request_method       TEXT,
		request_path         TEXT,
		request_query        TEXT,
		request_headers_json TEXT,
		remote_addr          TEXT,
		user_agent           TEXT,
		cache_status         TEXT,
		from_cache           INTEGER NOT NULL DEFAULT 0,
		stale                INTEGER NOT NULL DEFAULT 0,
		live                 INTEGER,
		response_status      INTEGER,
		error_code           TEXT,
		duration_ms          INTEGER
	)`,
}

// SQLite is the durable row store behind every persistence interface in this
// package. One handle serves cache records, sessions, links, and request
// logs; SQLite's own locking provides the cross-request synchronization.
type SQLite struct {
	db *sql.DB
}

var (
	_ RecordStore     = (*SQLite)(nil)
	_ SessionStore    = (*SQLite)(nil)
	_ LinkStore       = (*SQLite)(nil)
	_ RequestLogStore = (*SQLite)(nil)
)

// OpenSQLite opens (or creates) the database file and runs the idempotent
// schema ensure step before handing the store to callers.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// modernc sqlite serializes writes per connection; a single connection
	// avoids SQLITE_BUSY churn between the request path and the log sink.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

// Lookup reads one cache record. A missing row and an unreadable row both
// report absence.
func (s *SQLite) Lookup(ctx context.Context, key string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload_json, observed_at_ms FROM api_cache_entries WHERE cache_key = ? LIMIT 1`, key)

	var payload string
	var observedMs int64
	if err := row.Scan(&payload, &observedMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("store: lookup record: %w", err)
	}
	return Record{
		Key:        key,
		Payload:    []byte(payload),
		ObservedAt: time.UnixMilli(observedMs).UTC(),
	}, true, nil
}

// Upsert replaces the record for its key. Last writer wins; there is no
// conditional write, which is the documented behavior for concurrent
// refreshes.
func (s *SQLite) Upsert(ctx context.Context, record Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_cache_entries (cache_key, payload_json, observed_at_ms)
		 VALUES (?, ?, ?)
		 ON CONFLICT(cache_key) DO UPDATE SET
		   payload_json = excluded.payload_json,
		   observed_at_ms = excluded.observed_at_ms`,
		record.Key, string(record.Payload), record.ObservedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: upsert record: %w", err)
	}
	return nil
}

// LookupSession fetches a session row by its id.
func (s *SQLite) LookupSession(ctx context.Context, sessionID string) (Session, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, last_seen_at, revoked_at
		 FROM client_sessions WHERE session_id = ? LIMIT 1`, sessionID)

	var session Session
	var createdAt, lastSeenAt string
	var revokedAt sql.NullString
	if err := row.Scan(&session.SessionID, &session.UserID, &createdAt, &lastSeenAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, fmt.Errorf("store: lookup session: %w", err)
	}
	session.CreatedAt = parseStoredTime(createdAt)
	session.LastSeenAt = parseStoredTime(lastSeenAt)
	if revokedAt.Valid {
		revoked := parseStoredTime(revokedAt.String)
		session.RevokedAt = &revoked
	}
	return session, true, nil
}

// TouchSession refreshes last_seen_at for a validated session.
func (s *SQLite) TouchSession(ctx context.Context, sessionID string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE client_sessions SET last_seen_at = ? WHERE session_id = ?`,
		formatStoredTime(seenAt), sessionID)
	if err != nil {
		return fmt.Errorf("store: touch session: %w", err)
	}
	return nil
}

// InsertSession records a freshly issued session.
func (s *SQLite) InsertSession(ctx context.Context, session Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_sessions (session_id, user_id, created_at, last_seen_at, revoked_at)
		 VALUES (?, ?, ?, ?, NULL)`,
		session.SessionID, session.UserID,
		formatStoredTime(session.CreatedAt), formatStoredTime(session.LastSeenAt))
	if err != nil {
		return fmt.Errorf("store: insert session: %w", err)
	}
	return nil
}

// UserExists reports whether a user row is present.
func (s *SQLite) UserExists(ctx context.Context, userID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM users WHERE user_id = ? LIMIT 1`, userID)
	var found string
	if err := row.Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: user exists: %w", err)
	}
	return true, nil
}

// UpsertUser creates the user or refreshes last_seen_at for an existing one.
func (s *SQLite) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, created_at, last_seen_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   last_seen_at = excluded.last_seen_at`,
		user.UserID, formatStoredTime(user.CreatedAt), formatStoredTime(user.LastSeenAt))
	if err != nil {
		return fmt.Errorf("store: upsert user: %w", err)
	}
	return nil
}

// Links reads the raw service-link rows. Trimming, filtering, and ordering
// are the directory's concern.
func (s *SQLite) Links(ctx context.Context) ([]Link, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service, url FROM links`)
	if err != nil {
		return nil, fmt.Errorf("store: select links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []Link
	for rows.Next() {
		var link Link
		if err := rows.Scan(&link.Service, &link.URL); err != nil {
			return nil, fmt.Errorf("store: scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate links: %w", err)
	}
	return links, nil
}

// Append writes one request-log row.
func (s *SQLite) Append(ctx context.Context, entry LogEntry) error {
	var live sql.NullInt64
	if entry.Live != nil {
		live = sql.NullInt64{Int64: boolToInt(*entry.Live), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_logs (
			created_at, session_id, user_id,
			request_method, request_path, request_query, request_headers_json,
			remote_addr, user_agent,
			cache_status, from_cache, stale, live,
			response_status, error_code, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatStoredTime(entry.CreatedAt),
		nullableString(entry.SessionID), nullableString(entry.UserID),
		entry.Method, entry.Path, entry.Query, entry.HeadersJSON,
		entry.RemoteAddr, entry.UserAgent,
		entry.CacheStatus, boolToInt(entry.FromCache), boolToInt(entry.Stale), live,
		entry.ResponseStatus, nullableString(entry.ErrorCode), entry.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("store: append request log: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLite) Close(context.Context) error {
	return s.db.Close()
}

func parseStoredTime(value string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func formatStoredTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
