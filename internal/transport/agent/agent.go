package agent

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainagent "github.com/alanyang/dispatch-mesh/internal/domain/agent"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	agentsvc "github.com/alanyang/dispatch-mesh/internal/service/agent"
	"github.com/alanyang/dispatch-mesh/internal/service/directory"
	ordersvc "github.com/alanyang/dispatch-mesh/internal/service/order"
	"github.com/alanyang/dispatch-mesh/internal/transport/httperr"
)

func Register(rg *gin.RouterGroup, svc *agentsvc.Service, dir *directory.Service, orders *ordersvc.Service) {
	rg.POST("/", registerAgent(svc))
	rg.GET("/", listAgents(svc))
	rg.GET("/eligible", listEligible(dir))
	rg.GET("/:id", getAgent(svc))
	rg.GET("/:id/orders", listAgentOrders(orders))
	rg.POST("/:id/availability", setAvailability(svc))
	rg.POST("/:id/account-status", setAccountStatus(svc))
	rg.POST("/:id/heartbeat", heartbeat(svc))
}

type registerReq struct {
	UserID           uuid.UUID `json:"user_id" binding:"required"`
	Name             string    `json:"name" binding:"required"`
	MaxOrderCapacity int       `json:"max_order_capacity" binding:"gte=0"`
}

func registerAgent(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}

		a, err := svc.Register(c.Request.Context(), req.UserID, req.Name, req.MaxOrderCapacity)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusCreated, a)
	}
}

func listAgents(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filters domainagent.ListFilters

		if v := c.Query("availability"); v != "" {
			av := domainagent.Availability(v)
			if !av.Valid() {
				httperr.BadRequest(c, "invalid availability")
				return
			}
			filters.Availability = &av
		}
		if v := c.Query("account_status"); v != "" {
			st := domainagent.AccountStatus(v)
			if !st.Valid() {
				httperr.BadRequest(c, "invalid account_status")
				return
			}
			filters.AccountStatus = &st
		}

		agents, err := svc.List(c.Request.Context(), filters)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		if agents == nil {
			agents = []domainagent.Agent{}
		}
		c.JSON(http.StatusOK, agents)
	}
}

func listEligible(dir *directory.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		agents, err := dir.ListEligible(c.Request.Context())
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, agents)
	}
}

func getAgent(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		a, err := svc.GetByID(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

func listAgentOrders(orders *ordersvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var statuses []domainorder.Status
		if c.Query("active") == "true" {
			statuses = domainorder.ActiveStatuses()
		}
		list, err := orders.ListByAgent(c.Request.Context(), id, statuses...)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		if list == nil {
			list = []domainorder.Order{}
		}
		c.JSON(http.StatusOK, list)
	}
}

type availabilityReq struct {
	Availability domainagent.Availability `json:"availability" binding:"required"`
}

func setAvailability(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req availabilityReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}
		if !req.Availability.Valid() {
			httperr.BadRequest(c, "availability must be online or offline")
			return
		}

		a, n, err := svc.SetAvailability(c.Request.Context(), id, req.Availability)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		key := "processed"
		if req.Availability == domainagent.AvailabilityOffline {
			key = "moved"
		}
		c.JSON(http.StatusOK, gin.H{"agent": a, key: n})
	}
}

type accountStatusReq struct {
	AccountStatus domainagent.AccountStatus `json:"account_status" binding:"required"`
}

func setAccountStatus(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req accountStatusReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}
		if !req.AccountStatus.Valid() {
			httperr.BadRequest(c, "account_status must be active or inactive")
			return
		}

		n, err := svc.SetAccountStatus(c.Request.Context(), id, req.AccountStatus)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"affected": n})
	}
}

func heartbeat(svc *agentsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		if err := svc.Heartbeat(c.Request.Context(), id); err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httperr.BadRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
