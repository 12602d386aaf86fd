// Package gateway implements the read-through cache in front of the live
// status provider. A fresh record is served as-is, an expired or missing one
// triggers a synchronous refresh, and a failed refresh falls back to the
// last known-good record rather than failing the caller.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ianlrsn/livegate/internal/metrics"
	"github.com/ianlrsn/livegate/internal/store"
	"github.com/ianlrsn/livegate/internal/upstream"
)

// CacheStatus describes how a result was produced.
type CacheStatus string

const (
	// StatusHit means a fresh record was served without touching upstream.
	StatusHit CacheStatus = "hit"
	// StatusMiss means no fresh record existed and a refresh succeeded.
	StatusMiss CacheStatus = "miss"
	// StatusBypass means the caller forced a refresh past a fresh record.
	StatusBypass CacheStatus = "bypass"
	// StatusStale means the refresh failed and an expired record was served.
	StatusStale CacheStatus = "stale"
	// StatusEmpty means the refresh failed and no prior record existed.
	StatusEmpty CacheStatus = "empty"
)

// ErrCodeUpstreamUnavailable is reported when upstream failed and nothing
// cached could stand in.
const ErrCodeUpstreamUnavailable = "upstream_unavailable"

// Payload is the document stored under the live-status cache key.
type Payload struct {
	Live      bool      `json:"live"`
	CheckedAt time.Time `json:"checked_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Result is the externalizable outcome of a status read. Every code path
// produces one; the gateway never serializes transport framing itself.
type Result struct {
	Live        bool
	CheckedAt   time.Time
	UpdatedBy   string
	CacheStatus CacheStatus
	Stale       bool
	FromCache   bool
	CacheAge    time.Duration
	ErrorCode   string
}

// Provider is the upstream liveness check.
type Provider interface {
	LiveStatus(ctx context.Context) (bool, error)
}

// Options tune a single status read. Zero values fall back to the gateway's
// configured defaults.
type Options struct {
	Key          string
	TTL          time.Duration
	AllowStale   *bool
	ForceRefresh bool
	Trigger      string
}

type settings struct {
	ttl        time.Duration
	allowStale bool
}

// Gateway owns the cache record lifecycle for the live-status key.
type Gateway struct {
	records  store.RecordStore
	provider Provider
	logger   *slog.Logger
	metrics  *metrics.Recorder

	mu       sync.RWMutex
	settings settings
}

// New assembles the gateway. TTL and stale policy can be swapped later via
// Reload when the configuration file changes.
func New(records store.RecordStore, provider Provider, ttl time.Duration, allowStale bool, logger *slog.Logger, recorder *metrics.Recorder) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		records:  records,
		provider: provider,
		logger:   logger.With(slog.String("agent", "gateway")),
		metrics:  recorder,
		settings: settings{ttl: ttl, allowStale: allowStale},
	}
}

// Reload swaps the freshness window and stale policy for subsequent reads.
// In-flight reads keep the values they started with.
func (g *Gateway) Reload(ttl time.Duration, allowStale bool) {
	g.mu.Lock()
	g.settings = settings{ttl: ttl, allowStale: allowStale}
	g.mu.Unlock()
	g.logger.Info("gateway settings reloaded",
		slog.Duration("ttl", ttl),
		slog.Bool("allow_stale", allowStale))
}

// Status performs one read-through cycle: serve fresh, else refresh, else
// fall back. The returned error is non-nil only for configuration failures
// (missing upstream credential); transient upstream failures degrade into
// stale or empty results instead.
func (g *Gateway) Status(ctx context.Context, opts Options) (Result, error) {
	now := time.Now().UTC()

	g.mu.RLock()
	cfg := g.settings
	g.mu.RUnlock()

	key := opts.Key
	if key == "" {
		key = store.LiveStatusKey
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = cfg.ttl
	}
	allowStale := cfg.allowStale
	if opts.AllowStale != nil {
		allowStale = *opts.AllowStale
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "request"
	}

	prior, havePrior := g.lookup(ctx, key)

	if !opts.ForceRefresh && havePrior {
		age := now.Sub(prior.observedAt)
		if age < ttl {
			return Result{
				Live:        prior.payload.Live,
				CheckedAt:   prior.payload.CheckedAt,
				UpdatedBy:   prior.payload.UpdatedBy,
				CacheStatus: StatusHit,
				FromCache:   true,
				CacheAge:    age,
			}, nil
		}
	}

	live, err := g.refresh(ctx, key, trigger, now)
	if err == nil {
		status := StatusMiss
		if opts.ForceRefresh {
			status = StatusBypass
		}
		return Result{
			Live:        live,
			CheckedAt:   now,
			UpdatedBy:   trigger,
			CacheStatus: status,
		}, nil
	}
	if errors.Is(err, upstream.ErrMissingCredential) {
		return Result{}, err
	}

	g.logger.Warn("upstream refresh failed", slog.Any("error", err), slog.String("trigger", trigger))

	if havePrior && allowStale {
		return Result{
			Live:        prior.payload.Live,
			CheckedAt:   prior.payload.CheckedAt,
			UpdatedBy:   prior.payload.UpdatedBy,
			CacheStatus: StatusStale,
			Stale:       true,
			FromCache:   true,
			CacheAge:    now.Sub(prior.observedAt),
		}, nil
	}

	// Nothing to fall back to. Report the sentinel rather than raising.
	return Result{
		Live:        false,
		CheckedAt:   now,
		CacheStatus: StatusEmpty,
		ErrorCode:   ErrCodeUpstreamUnavailable,
	}, nil
}

// Refresh drives the background path: always call upstream and write the
// result back, reporting failure to the caller. It never consults TTL and
// never serves stale data; the next scheduled invocation is the retry.
func (g *Gateway) Refresh(ctx context.Context, trigger string) (bool, error) {
	now := time.Now().UTC()
	live, err := g.refresh(ctx, store.LiveStatusKey, trigger, now)
	if err != nil {
		g.logger.Error("live_status_update_failed",
			slog.Any("error", err),
			slog.String("trigger", trigger))
		return false, err
	}
	g.logger.Info("live_status_updated",
		slog.Bool("live", live),
		slog.Time("checked_at", now),
		slog.String("trigger", trigger))
	return live, nil
}

type priorRecord struct {
	payload    Payload
	observedAt time.Time
}

// lookup reads the prior record. Read failures and unparsable payloads both
// degrade to "no record"; neither may break the read path.
func (g *Gateway) lookup(ctx context.Context, key string) (priorRecord, bool) {
	start := time.Now()
	record, ok, err := g.records.Lookup(ctx, key)
	if err != nil {
		g.metrics.ObserveCacheLookup(metrics.CacheLookupError, time.Since(start))
		g.logger.Warn("cache record lookup failed", slog.Any("error", err), slog.String("cache_key", key))
		return priorRecord{}, false
	}
	if !ok {
		g.metrics.ObserveCacheLookup(metrics.CacheLookupMiss, time.Since(start))
		return priorRecord{}, false
	}

	var payload Payload
	if err := json.Unmarshal(record.Payload, &payload); err != nil || payload.CheckedAt.IsZero() {
		g.metrics.ObserveCacheLookup(metrics.CacheLookupMiss, time.Since(start))
		g.logger.Warn("cache record payload unreadable, treating as absent", slog.String("cache_key", key))
		return priorRecord{}, false
	}
	g.metrics.ObserveCacheLookup(metrics.CacheLookupHit, time.Since(start))
	return priorRecord{payload: payload, observedAt: record.ObservedAt}, true
}

// refresh calls upstream and writes the result back. A failed write is
// swallowed: the caller still gets the fresh value, and the next refresh
// will try the store again.
func (g *Gateway) refresh(ctx context.Context, key, trigger string, now time.Time) (bool, error) {
	upstreamStart := time.Now()
	live, err := g.provider.LiveStatus(ctx)
	g.metrics.ObserveUpstreamCall(err == nil, time.Since(upstreamStart))
	if err != nil {
		return false, err
	}

	payload, err := json.Marshal(Payload{Live: live, CheckedAt: now, UpdatedBy: trigger})
	if err != nil {
		return live, nil
	}
	storeStart := time.Now()
	storeErr := g.records.Upsert(ctx, store.Record{Key: key, Payload: payload, ObservedAt: now})
	g.metrics.ObserveCacheStore(storeErr == nil, time.Since(storeStart))
	if storeErr != nil {
		g.logger.Error("cache record store failed", slog.Any("error", storeErr), slog.String("cache_key", key))
	}
	return live, nil
}
