package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ianlrsn/livegate/internal/gateway"
	"github.com/ianlrsn/livegate/internal/links"
	"github.com/ianlrsn/livegate/internal/metrics"
	"github.com/ianlrsn/livegate/internal/requestlog"
	"github.com/ianlrsn/livegate/internal/session"
	"github.com/ianlrsn/livegate/internal/store"
)

// Session identity travels in headers so the widget can attach it without
// cookie plumbing.
const (
	sessionHeader = "X-Session-Id"
	userHeader    = "X-User-Id"
	refreshHeader = "X-Refresh-Token"
)

// DebugInfo reports configuration presence for the debug=1 escape hatch. It
// deliberately carries booleans only, never values.
type DebugInfo struct {
	HasStore            bool   `json:"has_store"`
	HasUpstreamSecret   bool   `json:"has_upstream_secret"`
	CacheBackend        string `json:"cache_backend"`
	RefreshTokenEnabled bool   `json:"refresh_token_enabled"`
}

// API owns the HTTP handlers for the public surface. Each handler validates,
// calls one orchestrator, queues a log entry, and externalizes the result.
type API struct {
	gateway   *gateway.Gateway
	gate      *session.Gate
	directory *links.Directory
	sink      *requestlog.Sink
	metrics   *metrics.Recorder
	logger    *slog.Logger

	refreshToken string
	debug        DebugInfo
}

// NewAPI assembles the handler set.
func NewAPI(gw *gateway.Gateway, gate *session.Gate, directory *links.Directory, sink *requestlog.Sink, recorder *metrics.Recorder, logger *slog.Logger, refreshToken string, debug DebugInfo) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		gateway:      gw,
		gate:         gate,
		directory:    directory,
		sink:         sink,
		metrics:      recorder,
		logger:       logger.With(slog.String("agent", "api")),
		refreshToken: refreshToken,
		debug:        debug,
	}
}

type liveResponse struct {
	Live        bool       `json:"live"`
	CheckedAt   string     `json:"checked_at"`
	UpdatedBy   string     `json:"updated_by,omitempty"`
	FromCache   bool       `json:"from_cache"`
	CacheStatus string     `json:"cache_status"`
	Stale       bool       `json:"stale,omitempty"`
	CacheAgeMS  *int64     `json:"cache_age_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Debug       *DebugInfo `json:"debug,omitempty"`
}

// handleLive serves the widget's "is the broadcaster live" read. The session
// gate runs first; only validated clients can trigger cache refreshes.
func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	now := started.UTC()
	force := r.URL.Query().Get("force") == "1"
	wantDebug := r.URL.Query().Get("debug") == "1"

	respond := func(status int, payload liveResponse, auth session.AuthResult, cacheStatus string, result *gateway.Result) {
		if wantDebug {
			debug := a.debug
			payload.Debug = &debug
		}
		writeJSON(w, status, payload)

		entry := logEntryFor(r, now, status, time.Since(started))
		entry.SessionID = auth.SessionID
		entry.UserID = auth.UserID
		entry.CacheStatus = cacheStatus
		entry.ErrorCode = payload.ErrorCode
		if result != nil {
			live := result.Live
			entry.Live = &live
			entry.FromCache = result.FromCache
			entry.Stale = result.Stale
		}
		a.sink.Record(entry)
		a.metrics.ObserveRequest("live", cacheStatus, status, time.Since(started))
	}

	auth, err := a.gate.Authorize(r.Context(), r.Header.Get(sessionHeader), r.Header.Get(userHeader))
	if err != nil {
		a.logger.Error("session store unavailable", slog.Any("error", err))
		respond(http.StatusInternalServerError, liveResponse{
			Live:        false,
			CheckedAt:   now.Format(time.RFC3339),
			CacheStatus: "error",
			Error:       "store_unavailable",
			ErrorCode:   "session_lookup_failed",
		}, session.AuthResult{}, "error", nil)
		return
	}
	if !auth.OK {
		respond(http.StatusUnauthorized, liveResponse{
			Live:        false,
			CheckedAt:   now.Format(time.RFC3339),
			CacheStatus: "unauthorized",
			Error:       "invalid_session",
			ErrorCode:   auth.ErrorKind,
		}, auth, "unauthorized", nil)
		return
	}

	result, err := a.gateway.Status(r.Context(), gateway.Options{ForceRefresh: force, Trigger: "request"})
	if err != nil {
		a.logger.Error("gateway configuration error", slog.Any("error", err))
		respond(http.StatusInternalServerError, liveResponse{
			Live:        false,
			CheckedAt:   now.Format(time.RFC3339),
			CacheStatus: "error",
			Error:       "missing_upstream_credential",
			ErrorCode:   "missing_upstream_credential",
		}, auth, "error", nil)
		return
	}

	status := http.StatusOK
	payload := liveResponse{
		Live:        result.Live,
		CheckedAt:   result.CheckedAt.Format(time.RFC3339),
		UpdatedBy:   result.UpdatedBy,
		FromCache:   result.FromCache,
		CacheStatus: string(result.CacheStatus),
		Stale:       result.Stale,
	}
	if result.FromCache {
		age := result.CacheAge.Milliseconds()
		payload.CacheAgeMS = &age
	}
	if result.CacheStatus == gateway.StatusEmpty {
		status = http.StatusBadGateway
		payload.Error = "live_state_unavailable"
		payload.ErrorCode = result.ErrorCode
	}
	respond(status, payload, auth, string(result.CacheStatus), &result)
}

// handleSession issues or resumes a client identity. Malformed bodies are
// treated as "no existing identity", never rejected.
func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	now := started.UTC()

	var body struct {
		UserID string `json:"user_id"`
	}
	// Empty or invalid JSON reads as a no-op input.
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body)

	issued, err := a.gate.IssueOrResume(r.Context(), body.UserID)
	if err != nil {
		a.logger.Error("session issuance failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":      "session_issue_failed",
			"checked_at": now.Format(time.RFC3339),
		})
		entry := logEntryFor(r, now, http.StatusInternalServerError, time.Since(started))
		entry.ErrorCode = "session_issue_failed"
		a.sink.Record(entry)
		a.metrics.ObserveRequest("session", "error", http.StatusInternalServerError, time.Since(started))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    issued.UserID,
		"session_id": issued.SessionID,
		"issued_at":  issued.IssuedAt.Format(time.RFC3339),
	})
	entry := logEntryFor(r, now, http.StatusOK, time.Since(started))
	entry.SessionID = issued.SessionID
	entry.UserID = issued.UserID
	a.sink.Record(entry)
	a.metrics.ObserveRequest("session", "issued", http.StatusOK, time.Since(started))
}

// handleLinks serves the service-link directory. Store failure degrades to
// an empty map with an error flag.
func (a *API) handleLinks(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	now := started.UTC()

	directory, err := a.directory.Links(r.Context())
	if err != nil {
		a.logger.Error("links fetch failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"links":      map[string]string{},
			"error":      "links_fetch_failed",
			"checked_at": now.Format(time.RFC3339),
		})
		a.metrics.ObserveRequest("links", "error", http.StatusInternalServerError, time.Since(started))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"links":      orderedLinks(directory),
		"checked_at": now.Format(time.RFC3339),
	})
	a.metrics.ObserveRequest("links", "ok", http.StatusOK, time.Since(started))
}

// handleRefresh is the maintenance trigger for the background refresh path.
// It bypasses the session gate; when a refresh token is configured, callers
// must present it.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	if a.refreshToken != "" && r.Header.Get(refreshHeader) != a.refreshToken {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"ok":      false,
			"mode":    "http",
			"updated": false,
			"error":   "invalid_refresh_token",
		})
		a.metrics.ObserveRequest("refresh", "unauthorized", http.StatusUnauthorized, time.Since(started))
		return
	}

	if r.URL.Query().Get("update") != "1" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": "http", "updated": false})
		a.metrics.ObserveRequest("refresh", "noop", http.StatusOK, time.Since(started))
		return
	}

	if _, err := a.gateway.Refresh(r.Context(), "http"); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"ok":      false,
			"mode":    "http",
			"updated": false,
			"error":   err.Error(),
		})
		a.metrics.ObserveRequest("refresh", "error", http.StatusInternalServerError, time.Since(started))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "mode": "http", "updated": true})
	a.metrics.ObserveRequest("refresh", "updated", http.StatusOK, time.Since(started))
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// logEntryFor captures the request metadata every endpoint logs.
func logEntryFor(r *http.Request, now time.Time, status int, duration time.Duration) store.LogEntry {
	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		headersJSON = []byte("{}")
	}
	return store.LogEntry{
		CreatedAt:      now,
		Method:         r.Method,
		Path:           r.URL.Path,
		Query:          r.URL.RawQuery,
		HeadersJSON:    string(headersJSON),
		RemoteAddr:     r.RemoteAddr,
		UserAgent:      r.UserAgent(),
		ResponseStatus: status,
		Duration:       duration,
	}
}
