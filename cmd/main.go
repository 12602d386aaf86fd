package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ianlrsn/livegate/internal/config"
	"github.com/ianlrsn/livegate/internal/gateway"
	"github.com/ianlrsn/livegate/internal/links"
	"github.com/ianlrsn/livegate/internal/logging"
	"github.com/ianlrsn/livegate/internal/metrics"
	"github.com/ianlrsn/livegate/internal/refresher"
	"github.com/ianlrsn/livegate/internal/requestlog"
	"github.com/ianlrsn/livegate/internal/server"
	"github.com/ianlrsn/livegate/internal/session"
	"github.com/ianlrsn/livegate/internal/store"
	"github.com/ianlrsn/livegate/internal/upstream"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "LIVEGATE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	sqliteStore, err := store.OpenSQLite(ctx, cfg.Server.Store.Path)
	if err != nil {
		logger.Error("store initialization failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := sqliteStore.Close(context.Background()); err != nil {
			logger.Error("store shutdown failed", slog.Any("error", err))
		}
	}()

	records := buildRecordStore(logger.With(slog.String("agent", "store_factory")), cfg.Server.Cache, sqliteStore)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := records.Close(shutdownCtx); err != nil {
			logger.Error("record store shutdown failed", slog.Any("error", err))
		}
	}()

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	provider := upstream.NewClient(upstream.Config{
		ClientID:     cfg.Server.Upstream.ClientID,
		ClientSecret: cfg.Server.Upstream.ClientSecret,
		Broadcaster:  cfg.Server.Upstream.Broadcaster,
		TokenURL:     cfg.Server.Upstream.TokenURL,
		StreamsURL:   cfg.Server.Upstream.StreamsURL,
	}, nil)

	gw := gateway.New(records, provider, cfg.Server.Cache.TTL(), cfg.Server.Cache.StaleAllowed(), logger, recorder)
	gate := session.NewGate(sqliteStore, logger, recorder)
	directory := links.NewDirectory(sqliteStore)

	sink := requestlog.NewSink(sqliteStore, records, logger)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sink.Close(drainCtx); err != nil {
			logger.Warn("request log drain incomplete", slog.Any("error", err))
		}
	}()

	background := refresher.New(gw, cfg.Server.Refresh.Interval(), logger)

	if *configFile != "" {
		watcher, err := loader.Watch(ctx, func(updated config.Config) {
			gw.Reload(updated.Server.Cache.TTL(), updated.Server.Cache.StaleAllowed())
			background.SetInterval(updated.Server.Refresh.Interval())
		}, func(err error) {
			if err != nil {
				logger.Error("config watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("config watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	go background.Run(ctx)

	api := server.NewAPI(gw, gate, directory, sink, recorder, logger, cfg.Server.Refresh.Token, server.DebugInfo{
		HasStore:            strings.TrimSpace(cfg.Server.Store.Path) != "",
		HasUpstreamSecret:   strings.TrimSpace(cfg.Server.Upstream.ClientSecret) != "",
		CacheBackend:        effectiveBackend(cfg.Server.Cache.Backend),
		RefreshTokenEnabled: cfg.Server.Refresh.Token != "",
	})
	handler := server.NewRouter(api, recorder.Handler())

	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildRecordStore selects the cache record backend. The SQLite row store is
// both the default and the fallback when valkey is unreachable, so a cache
// outage degrades durability of nothing except read latency.
func buildRecordStore(logger *slog.Logger, cfg config.CacheConfig, sqliteStore *store.SQLite) store.RecordStore {
	switch effectiveBackend(cfg.Backend) {
	case "memory":
		logger.Info("using memory record store")
		return store.NewMemory()
	case "valkey":
		valkeyStore, err := store.NewValkey(store.ValkeyConfig{
			Address:  cfg.Valkey.Address,
			Username: cfg.Valkey.Username,
			Password: cfg.Valkey.Password,
			DB:       cfg.Valkey.DB,
			TLS: store.ValkeyTLSConfig{
				Enabled: cfg.Valkey.TLS.Enabled,
				CAFile:  cfg.Valkey.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("valkey record store initialization failed", slog.Any("error", err))
			logger.Info("falling back to sqlite record store")
			return sqliteStore
		}
		logger.Info("using valkey record store", slog.String("address", cfg.Valkey.Address))
		return valkeyStore
	default:
		logger.Info("using sqlite record store")
		return sqliteStore
	}
}

func effectiveBackend(backend string) string {
	switch strings.TrimSpace(strings.ToLower(backend)) {
	case "memory":
		return "memory"
	case "valkey":
		return "valkey"
	default:
		return "sqlite"
	}
}
