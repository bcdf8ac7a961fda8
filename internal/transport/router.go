package transport

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyang/dispatch-mesh/internal/domain/event"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	porteventbus "github.com/alanyang/dispatch-mesh/internal/port/eventbus"
	portidempotency "github.com/alanyang/dispatch-mesh/internal/port/idempotency"
	agentsvc "github.com/alanyang/dispatch-mesh/internal/service/agent"
	"github.com/alanyang/dispatch-mesh/internal/service/directory"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
	ordersvc "github.com/alanyang/dispatch-mesh/internal/service/order"

	agenthandler "github.com/alanyang/dispatch-mesh/internal/transport/agent"
	dispatchhandler "github.com/alanyang/dispatch-mesh/internal/transport/dispatch"
	orderhandler "github.com/alanyang/dispatch-mesh/internal/transport/order"
	wshandler "github.com/alanyang/dispatch-mesh/internal/transport/ws"
)

// OperationPlaceOrder names placements in the idempotency store.
const OperationPlaceOrder = "place_order"

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Orders      *ordersvc.Service
	Agents      *agentsvc.Service
	Dispatch    *dispatchsvc.Service
	Directory   *directory.Service
	Idempotency portidempotency.Store
	EventBus    porteventbus.EventBus
	Hub         *wshandler.Hub
	// MCP is mounted at /mcp when set.
	MCP      http.Handler
	Gatherer prometheus.Gatherer
	// Ready reports store health for /healthz.
	Ready func(ctx context.Context) error
	Log   *logger.Logger
}

func NewRouter(ctx context.Context, d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestLogger(d.Log))
	r.Use(CORSMiddleware())

	r.GET("/healthz", healthz(d.Ready))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}
	if d.MCP != nil {
		r.Any("/mcp", gin.WrapH(d.MCP))
	}

	api := r.Group("/api")

	var placeChain []gin.HandlerFunc
	if d.Idempotency != nil {
		placeChain = append(placeChain, IdempotencyMiddleware(d.Idempotency, OperationPlaceOrder, d.Log))
	}
	orderhandler.Register(api.Group("/orders"), d.Orders, d.Dispatch, placeChain...)
	agenthandler.Register(api.Group("/agents"), d.Agents, d.Directory, d.Orders)
	dispatchhandler.Register(api.Group("/dispatch"), d.Dispatch)

	if d.Hub != nil {
		d.Hub.Register(api.Group("/ws"))
		bridgeEvents(ctx, d.EventBus, d.Hub, d.Log)
	}

	return r
}

// bridgeEvents forwards every domain event to WS clients; event.Type in the
// payload lets the client filter. Heartbeats carry no actionable state and
// are dropped.
func bridgeEvents(ctx context.Context, bus porteventbus.EventBus, hub *wshandler.Hub, log *logger.Logger) {
	if bus == nil {
		return
	}
	for _, ch := range event.Channels() {
		c := ch
		if _, err := bus.Subscribe(ctx, c, func(_ context.Context, e event.Event) {
			if e.Type == event.TypeAgentHeartbeat {
				return
			}
			hub.Broadcast(e)
		}); err != nil {
			log.Error(log.WithField(ctx, "channel", string(c)), "failed to subscribe channel to WS hub", err)
		}
	}
}

func healthz(ready func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ready != nil {
			if err := ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
