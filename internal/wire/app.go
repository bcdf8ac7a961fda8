package wire

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/alanyang/dispatch-mesh/internal/adapter/memory"
	pgdb "github.com/alanyang/dispatch-mesh/internal/adapter/postgres"
	pgagent "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/agent"
	pgdispatch "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/dispatch"
	pgeventbus "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/eventbus"
	pgidempotency "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/idempotency"
	pglocker "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/locker"
	pgorder "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/order"
	pgqueue "github.com/alanyang/dispatch-mesh/internal/adapter/postgres/queue"
	redisadapter "github.com/alanyang/dispatch-mesh/internal/adapter/redis"
	"github.com/alanyang/dispatch-mesh/internal/config"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	"github.com/alanyang/dispatch-mesh/internal/metrics"
	portagent "github.com/alanyang/dispatch-mesh/internal/port/agent"
	portdispatch "github.com/alanyang/dispatch-mesh/internal/port/dispatch"
	porteventbus "github.com/alanyang/dispatch-mesh/internal/port/eventbus"
	portidempotency "github.com/alanyang/dispatch-mesh/internal/port/idempotency"
	portlocker "github.com/alanyang/dispatch-mesh/internal/port/locker"
	portorder "github.com/alanyang/dispatch-mesh/internal/port/order"
	portqueue "github.com/alanyang/dispatch-mesh/internal/port/queue"

	agentsvc "github.com/alanyang/dispatch-mesh/internal/service/agent"
	"github.com/alanyang/dispatch-mesh/internal/service/directory"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/service/distributor"
	ordersvc "github.com/alanyang/dispatch-mesh/internal/service/order"
	queuesvc "github.com/alanyang/dispatch-mesh/internal/service/queue"

	"github.com/alanyang/dispatch-mesh/internal/transport"
	mcptransport "github.com/alanyang/dispatch-mesh/internal/transport/mcp"
	"github.com/alanyang/dispatch-mesh/internal/transport/ws"
)

// App holds the top-level resources needed to run and gracefully stop the server.
type App struct {
	Server  *http.Server
	Sweeper *Sweeper

	Orders   *ordersvc.Service
	Agents   *agentsvc.Service
	Dispatch *dispatchsvc.Service

	closers []func() error
}

// Close releases pools and clients in reverse order of acquisition.
func (a *App) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	return err
}

type agentStore interface {
	portagent.Repository
	portagent.AgentAvailabilityReader
}

// backend is the set of adapters selected by DISPATCH_STORE_DRIVER.
type backend struct {
	agents      agentStore
	orders      portorder.Repository
	entries     portqueue.Repository
	dispatch    portdispatch.Store
	bus         porteventbus.EventBus
	idempotency portidempotency.Store
	locker      portlocker.AdvisoryLocker
	ready       []func(ctx context.Context) error
}

// Build is the composition root: the only place concrete types are wired to their
// interface dependencies.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	app := &App{}

	// ── Storage ───────────────────────────────────────────────────────────────
	b, err := buildBackend(ctx, cfg, app)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	if err := buildLocker(ctx, cfg, b, app); err != nil {
		_ = app.Close()
		return nil, err
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewDispatchMetrics(reg)

	// ── Notification channels ────────────────────────────────────────────────
	// Both are built before the engine, which notifies through them.
	hub := ws.NewHub(log)
	sessions := mcptransport.NewSessionRegistry()
	notifier := fanoutNotifier{hub, sessions}

	// ── Services ──────────────────────────────────────────────────────────────
	dir := directory.NewService(b.agents)
	backlog := queuesvc.NewService(b.dispatch, b.entries, b.bus, log)
	engine := distributor.NewService(b.orders, dir, backlog, b.dispatch, notifier, b.bus, log)
	app.Dispatch = dispatchsvc.NewService(engine, backlog, b.orders, b.agents, b.dispatch, b.locker, b.bus, m, log)
	app.Orders = ordersvc.NewService(b.orders, app.Dispatch, b.bus, log)
	app.Agents = agentsvc.NewService(b.agents, app.Dispatch, b.bus, log)

	mcpServer := mcptransport.New(sessions, app.Agents, app.Orders, app.Dispatch, log)

	// ── Transport ─────────────────────────────────────────────────────────────
	router := transport.NewRouter(ctx, transport.Deps{
		Orders:      app.Orders,
		Agents:      app.Agents,
		Dispatch:    app.Dispatch,
		Directory:   dir,
		Idempotency: b.idempotency,
		EventBus:    b.bus,
		Hub:         hub,
		MCP:         mcpServer.Handler(),
		Gatherer:    reg,
		Ready:       readiness(b.ready),
		Log:         log,
	})

	app.Server = &http.Server{
		Addr:        ":" + cfg.App.Port,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	app.Sweeper = NewSweeper(app.Agents, app.Dispatch, cfg.Sweeper.Interval, cfg.Sweeper.HeartbeatTimeout, log)

	log.Info(log.WithFields(ctx, map[string]any{
		"port":         cfg.App.Port,
		"store_driver": cfg.Store.Driver,
		"lock_driver":  cfg.Store.LockDriver,
	}), "application wired")

	return app, nil
}

func buildBackend(ctx context.Context, cfg *config.Config, app *App) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		store := memory.NewStore()
		return &backend{
			agents:      store.Agents(),
			orders:      store.Orders(),
			entries:     store,
			dispatch:    store,
			bus:         memory.NewEventBus(),
			idempotency: memory.NewIdempotencyCache(cfg.Store.IdempotencyTTL),
		}, nil

	case config.DriverPostgres:
		pool, err := pgdb.Connect(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		app.closers = append(app.closers, func() error { pool.Close(); return nil })
		return &backend{
			agents:      pgagent.New(pool),
			orders:      pgorder.New(pool),
			entries:     pgqueue.New(pool),
			dispatch:    pgdispatch.New(pool),
			bus:         pgeventbus.New(pool),
			idempotency: pgidempotency.New(pool),
			locker:      pglocker.New(pool),
			ready:       []func(ctx context.Context) error{pool.Ping},
		}, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
}

// buildLocker picks the coordinator lock. The postgres locker was already set
// by buildBackend; config validation guarantees it is only chosen there.
func buildLocker(ctx context.Context, cfg *config.Config, b *backend, app *App) error {
	switch cfg.Store.LockDriver {
	case config.DriverPostgres:
		if b.locker == nil {
			return fmt.Errorf("postgres lock driver requires the postgres store")
		}
	case config.DriverRedis:
		client, err := redisadapter.New(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		l, err := redisadapter.NewLocker(client, cfg.Redis.LockTTL, cfg.Redis.LockRetry)
		if err != nil {
			return err
		}
		b.locker = l
		b.ready = append(b.ready, client.Ping)
	case config.DriverMemory:
		b.locker = memory.NewLocker()
	default:
		return fmt.Errorf("unsupported lock driver %q", cfg.Store.LockDriver)
	}
	return nil
}

func readiness(checks []func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		var err error
		for _, check := range checks {
			err = multierr.Append(err, check(ctx))
		}
		return err
	}
}
