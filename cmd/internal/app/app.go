// Package app wires the pulse server runtime: config, logging, app stores,
// the realtime engine, its transports, and the HTTP routes.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"pulse/cmd/internal/apps"
	"pulse/cmd/internal/bus"
	"pulse/cmd/internal/httpapi"
	"pulse/cmd/internal/realtime"
	v1 "pulse/shared/contracts/pusher/v1"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the pulse server runtime: it owns HTTP server wiring and the realtime engine.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool
	store  apps.Store
	bus    bus.Bus

	router  *realtime.Router
	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, dbPool, err := newAppStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	b, err := newBus(ctx, cfg, log)
	if err != nil {
		closePool(dbPool)
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := realtime.NewMetrics(reg)
	if err != nil {
		_ = b.Close()
		closePool(dbPool)
		return nil, fmt.Errorf("metrics: %w", err)
	}

	router := realtime.NewRouter(log,
		realtime.WithMetrics(metrics),
		realtime.WithForwarder(b),
	)

	ws := realtime.NewWSGateway(log, store, router, realtime.HMACVerifier{}, realtime.GatewayConfig{
		WriteTimeout:     cfg.WSWriteTimeout,
		ReadIdleTimeout:  cfg.WSReadIdleTimeout,
		SendQueueSize:    cfg.WSSendQueueSize,
		HeartbeatEvery:   cfg.WSHeartbeatEvery,
		HeartbeatTimeout: cfg.WSHeartbeatTimeout,
		RateEvents:       cfg.WSRateEvents,
		RateWindow:       cfg.WSRateWindow,
	})

	api, err := httpapi.NewHandler(log, store, router, httpapi.Config{
		MaxBodyBytes: cfg.APIMaxBodyBytes,
		MaxSkew:      cfg.APIMaxSkew,
	})
	if err != nil {
		_ = b.Close()
		closePool(dbPool)
		return nil, err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, dbPool, reg, ws, api)

	return &App{
		cfg:     cfg,
		log:     log,
		dbPool:  dbPool,
		store:   store,
		bus:     b,
		router:  router,
		handler: WithSecurityHeaders(WithRequestLogging(mux, log)),
	}, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and the bus subscriber, and blocks until context
// cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"api_url", base,
		"ws_url", wsBaseURL(base)+"/app/{key}",
		"db_enabled", a.dbPool != nil,
		"redis_enabled", a.cfg.RedisAddr != "",
	)

	busCtx, stopBus := context.WithCancel(ctx)
	defer stopBus()

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := a.bus.Run(busCtx, a.router.DeliverRemote); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("bus: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; ask clients to reconnect elsewhere.
	a.router.CloseAll(v1.CodeReconnect, "server shutting down")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}

	stopBus()
	if err := a.bus.Close(); err != nil {
		a.log.Error("bus.close.fail", "err", err)
	}
	closePool(a.dbPool)

	a.log.Info("server.stopped", "connections_left", len(a.router.Connections().All()))
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

// newAppStore decides between Postgres-backed apps and the static set from config.
func newAppStore(ctx context.Context, cfg Config, log Logger) (apps.Store, *pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		list, err := staticApps(cfg)
		if err != nil {
			return nil, nil, err
		}
		st, err := apps.NewStaticStore(cfg.Limits, list...)
		if err != nil {
			return nil, nil, err
		}
		log.Info("apps.static", "count", st.Len(), "file", cfg.AppsFile)
		return st, nil, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore never closes it
	pg, err := apps.NewPostgresStore(pool,
		apps.WithSchema(cfg.DBSchema),
		apps.WithDefaultLimits(cfg.Limits),
	)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	log.Info("apps.postgres", "schema", cfg.DBSchema, "cache_ttl", cfg.AppCacheTTL)
	return apps.NewCachedStore(pg, cfg.AppCacheTTL), pool, nil
}

// staticApps merges the apps file with the default app. File entries win on id or key clashes.
func staticApps(cfg Config) ([]apps.App, error) {
	var list []apps.App
	if cfg.AppsFile != "" {
		loaded, err := apps.LoadFile(cfg.AppsFile)
		if err != nil {
			return nil, fmt.Errorf("apps file %s: %w", cfg.AppsFile, err)
		}
		list = loaded
	}

	def := cfg.DefaultApp
	if def.Key == "" || def.ID == "" {
		return list, nil
	}
	for _, a := range list {
		if a.ID == def.ID || a.Key == def.Key {
			return list, nil
		}
	}
	return append(list, def), nil
}

func newBus(ctx context.Context, cfg Config, log Logger) (bus.Bus, error) {
	if cfg.RedisAddr == "" {
		return bus.Local{}, nil
	}
	rb, err := bus.NewRedisBus(ctx, log, bus.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Channel:  cfg.RedisChannel,
	})
	if err != nil {
		return nil, err
	}
	log.Info("bus.redis", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel, "node", rb.Node())
	return rb, nil
}

// runtimeBaseURL turns a listen address into a URL clients on this host can reach.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
