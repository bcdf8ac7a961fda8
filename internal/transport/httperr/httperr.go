package httperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domaindispatch "github.com/alanyang/dispatch-mesh/internal/domain/dispatch"
)

// Status maps a service error to its HTTP status.
func Status(err error) int {
	switch {
	case errors.Is(err, domaindispatch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domaindispatch.ErrInvalidTransition),
		errors.Is(err, domaindispatch.ErrOrderNotAssignable),
		errors.Is(err, domaindispatch.ErrStaleOrder):
		return http.StatusConflict
	case domaindispatch.IsStoreFailure(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write renders err as {"error": ...} with the mapped status.
func Write(c *gin.Context, err error) {
	c.JSON(Status(err), gin.H{"error": err.Error()})
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
