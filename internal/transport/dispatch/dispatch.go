package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainqueue "github.com/alanyang/dispatch-mesh/internal/domain/queue"
	dispatchsvc "github.com/alanyang/dispatch-mesh/internal/service/dispatch"
	"github.com/alanyang/dispatch-mesh/internal/transport/httperr"
)

// Register mounts the operator endpoints of the coordinator.
func Register(rg *gin.RouterGroup, svc *dispatchsvc.Service) {
	rg.POST("/process-queue", processQueue(svc))
	rg.POST("/agents/:id/reassign", reassignAgentOrders(svc))
	rg.GET("/queue", listQueue(svc))
}

func processQueue(svc *dispatchsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := svc.ProcessQueue(c.Request.Context())
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"processed": n})
	}
}

func reassignAgentOrders(svc *dispatchsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			httperr.BadRequest(c, "invalid id")
			return
		}
		n, err := svc.ReassignAgentOrders(c.Request.Context(), id)
		if err != nil {
			httperr.Write(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"moved": n})
	}
}

func listQueue(svc *dispatchsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := svc.Pending(c.Request.Context())
		if err != nil {
			httperr.Write(c, err)
			return
		}
		if entries == nil {
			entries = []domainqueue.Entry{}
		}
		c.JSON(http.StatusOK, entries)
	}
}
