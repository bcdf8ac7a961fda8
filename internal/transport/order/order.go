package order

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
	domainorder "github.com/alanyang/dispatch-mesh/internal/domain/order"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
	ordersvc "github.com/alanyang/dispatch-mesh/internal/service/order"
	"github.com/alanyang/dispatch-mesh/internal/transport/httperr"
)

// Register mounts order routes. place is the POST / handler chain's prefix
// (e.g. the idempotency middleware).
func Register(rg *gin.RouterGroup, svc *ordersvc.Service, dispatch *dispatchsvc.Service, place ...gin.HandlerFunc) {
	rg.POST("/", append(place, placeOrder(svc))...)
	rg.GET("/:id", getOrder(svc))
	rg.POST("/:id/assign", assignOrder(dispatch))
	rg.POST("/:id/status", advanceOrder(svc))
	rg.POST("/:id/confirm-payment", confirmPayment(svc))
	rg.POST("/:id/cancel", cancelOrder(svc))
}

type placeReq struct {
	CustomerID uuid.UUID `json:"customer_id" binding:"required"`
	Priority   int       `json:"priority" binding:"gte=0"`
}

type placeResp struct {
	Order      domainorder.Order         `json:"order"`
	Assignment domaindispatch.Assignment `json:"assignment"`
}

type releaseResp struct {
	Order   domainorder.Order `json:"order"`
	Drained int               `json:"drained"`
}

func placeOrder(svc *ordersvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req placeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}

		o, res, err := svc.Place(c.Request.Context(), req.CustomerID, req.Priority)
		if err != nil {
			if o.ID != uuid.Nil {
				// Created but not yet assigned; retry via /:id/assign.
				c.JSON(httperr.Status(err), gin.H{"error": err.Error(), "order": o})
				return
			}
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusCreated, placeResp{Order: o, Assignment: res})
	}
}

func getOrder(svc *ordersvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		o, err := svc.Get(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

func assignOrder(dispatch *dispatchsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		res, err := dispatch.AssignOrder(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type advanceReq struct {
	From domainorder.Status `json:"from" binding:"required"`
	To   domainorder.Status `json:"to" binding:"required"`
}

func advanceOrder(svc *ordersvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		var req advanceReq
		if err := c.ShouldBindJSON(&req); err != nil {
			httperr.BadRequest(c, err.Error())
			return
		}

		o, drained, err := svc.Advance(c.Request.Context(), id, req.From, req.To)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, releaseResp{Order: o, Drained: drained})
	}
}

func confirmPayment(svc *ordersvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		o, drained, err := svc.ConfirmPayment(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, releaseResp{Order: o, Drained: drained})
	}
}

func cancelOrder(svc *ordersvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}
		o, drained, err := svc.Cancel(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, releaseResp{Order: o, Drained: drained})
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
