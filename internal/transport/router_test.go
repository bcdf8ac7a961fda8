package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/dispatch-mesh/internal/adapter/memory"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	"github.com/alanyang/dispatch-mesh/internal/logger"
	"github.com/alanyang/dispatch-mesh/internal/metrics"
	"github.com/alanyang/dispatch-mesh/internal/testutil"
	"github.com/alanyang/dispatch-mesh/internal/transport"
	"github.com/alanyang/dispatch-mesh/internal/transport/ws"
)

func newAPI(t *testing.T, opts ...testutil.HarnessOption) (*testutil.Harness, http.Handler) {
	t.Helper()
	h := testutil.NewHarness(t, opts...)
	r := transport.NewRouter(context.Background(), transport.Deps{
		Orders:      h.Orders,
		Agents:      h.Agents,
		Dispatch:    h.Dispatch,
		Directory:   h.Directory,
		Idempotency: memory.NewIdempotencyCache(time.Hour),
		EventBus:    h.Bus,
		Hub:         ws.NewHub(logger.Nop()),
		Log:         logger.Nop(),
	})
	return h, r
}

func do(t *testing.T, r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_PlaceOrderIsIdempotent(t *testing.T) {
	h, r := newAPI(t)
	h.OnlineAgent(t, 5)
	body := `{"customer_id":"` + uuid.NewString() + `","priority":1}`

	first := do(t, r, http.MethodPost, "/api/orders/", body, transport.IdempotencyHeader, "checkout-42")
	second := do(t, r, http.MethodPost, "/api/orders/", body, transport.IdempotencyHeader, "checkout-42")

	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	orders, err := h.Store.Orders().List(context.Background(), domainorder.ListFilters{})
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestRouter_HealthzAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := testutil.NewHarness(t, testutil.WithMetrics(metrics.NewDispatchMetrics(reg)))
	healthy := true
	r := transport.NewRouter(context.Background(), transport.Deps{
		Orders:    h.Orders,
		Agents:    h.Agents,
		Dispatch:  h.Dispatch,
		Directory: h.Directory,
		Gatherer:  reg,
		Ready: func(context.Context) error {
			if !healthy {
				return errors.New("pool closed")
			}
			return nil
		},
		Log: logger.Nop(),
	})

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/healthz", "").Code)
	healthy = false
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodGet, "/healthz", "").Code)

	h.OnlineAgent(t, 1)
	do(t, r, http.MethodPost, "/api/orders/", `{"customer_id":"`+uuid.NewString()+`"}`)
	w := do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `dispatch_assignments_total{outcome="assigned"} 1`)
}

func TestRouter_RequestIDEchoed(t *testing.T) {
	_, r := newAPI(t)

	w := do(t, r, http.MethodGet, "/healthz", "", "X-Request-ID", "req-7")
	assert.Equal(t, "req-7", w.Header().Get("X-Request-ID"))

	w = do(t, r, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_CORSPreflight(t *testing.T) {
	_, r := newAPI(t)
	w := do(t, r, http.MethodOptions, "/api/orders/", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

// TestRouter_TwoAgentScenario walks the dispatch flow end to end over HTTP.
func TestRouter_TwoAgentScenario(t *testing.T) {
	_, r := newAPI(t)

	register := func(name string) string {
		w := do(t, r, http.MethodPost, "/api/agents/", `{"user_id":"`+uuid.NewString()+`","name":"`+name+`","max_order_capacity":1}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var a struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
		w = do(t, r, http.MethodPost, "/api/agents/"+a.ID+"/availability", `{"availability":"online"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return a.ID
	}
	place := func() (string, bool) {
		w := do(t, r, http.MethodPost, "/api/orders/", `{"customer_id":"`+uuid.NewString()+`"}`)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var resp struct {
			Order struct {
				ID string `json:"id"`
			} `json:"order"`
			Assignment struct {
				Queued bool `json:"queued"`
			} `json:"assignment"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp.Order.ID, resp.Assignment.Queued
	}

	a1 := register("a1")
	register("a2")

	_, q1 := place()
	_, q2 := place()
	third, q3 := place()
	assert.False(t, q1)
	assert.False(t, q2)
	assert.True(t, q3)

	w := do(t, r, http.MethodGet, "/api/dispatch/queue", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), third)

	// a1 goes offline; its order has nowhere to go and joins the queue behind the third.
	w = do(t, r, http.MethodPost, "/api/agents/"+a1+"/availability", `{"availability":"offline"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"moved":1`)

	// a1 comes back and takes the head of the queue.
	w = do(t, r, http.MethodPost, "/api/agents/"+a1+"/availability", `{"availability":"online"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"processed":1`)

	w = do(t, r, http.MethodGet, "/api/orders/"+third, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"agent_id":"`+a1+`"`)
}

func TestRouter_ErrorMapping(t *testing.T) {
	h, r := newAPI(t)
	h.OnlineAgent(t, 1)
	o, _, err := h.Orders.Place(context.Background(), uuid.New(), 0)
	require.NoError(t, err)

	tests := []struct {
		name, method, path, body string
		want                     int
	}{
		{"bad id", http.MethodGet, "/api/orders/nope", "", http.StatusBadRequest},
		{"unknown order", http.MethodGet, "/api/orders/" + uuid.NewString(), "", http.StatusNotFound},
		{"missing customer", http.MethodPost, "/api/orders/", `{"priority":1}`, http.StatusBadRequest},
		{"negative priority", http.MethodPost, "/api/orders/", `{"customer_id":"` + uuid.NewString() + `","priority":-1}`, http.StatusBadRequest},
		{"already assigned", http.MethodPost, "/api/orders/" + o.ID.String() + "/assign", "", http.StatusConflict},
		{"stale transition", http.MethodPost, "/api/orders/" + o.ID.String() + "/status", `{"from":"picked","to":"in_transit"}`, http.StatusConflict},
		{"pay before delivery", http.MethodPost, "/api/orders/" + o.ID.String() + "/confirm-payment", "", http.StatusConflict},
		{"unknown agent reassign", http.MethodPost, "/api/dispatch/agents/" + uuid.NewString() + "/reassign", "", http.StatusNotFound},
		{"bad availability", http.MethodPost, "/api/agents/" + uuid.NewString() + "/availability", `{"availability":"busy"}`, http.StatusBadRequest},
		{"unknown agent", http.MethodGet, "/api/agents/" + uuid.NewString(), "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestRouter_StoreOutageIs503(t *testing.T) {
	h, r := newAPI(t)
	h.Store.FailNext(errors.New("connection reset"))

	w := do(t, r, http.MethodPost, "/api/dispatch/process-queue", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
