package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alanyang/dispatch-mesh/internal/logger"
	portidempotency "github.com/alanyang/dispatch-mesh/internal/port/idempotency"
)

const IdempotencyHeader = "Idempotency-Key"

// storedResponse is what a key maps to in the idempotency store.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// captureWriter tees the response body so it can be stored after the handler.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the first response for a repeated
// Idempotency-Key. Requests without the header pass straight through. The key
// is reserved before the handler runs, so a retry that arrives while the first
// request is still in flight gets 409 instead of running twice. Only responses
// below 500 are stored; otherwise the reservation is released and a retry runs
// again.
func IdempotencyMiddleware(store portidempotency.Store, operation string, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		ctx := log.WithField(c.Request.Context(), "idempotency_key", key)

		reserved, err := store.Reserve(ctx, key, operation)
		if err != nil {
			log.Error(ctx, "idempotency reserve failed", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
			return
		}
		if !reserved {
			replay(c, store, key, log)
			return
		}

		stored := false
		defer func() {
			if stored {
				return
			}
			if err := store.Release(context.WithoutCancel(ctx), key); err != nil {
				log.Error(ctx, "idempotency release failed", err)
			}
		}()

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		status := w.Status()
		if status >= http.StatusInternalServerError || w.body.Len() == 0 {
			return
		}
		data, err := json.Marshal(storedResponse{Status: status, Body: w.body.Bytes()})
		if err != nil {
			log.Error(ctx, "encode idempotent response", err)
			return
		}
		// The handler's effects are committed; keep the key held even if
		// the save fails so a retry cannot run them again.
		stored = true
		if err := store.Save(ctx, key, operation, data); err != nil {
			log.Error(ctx, "idempotency save failed", err)
		}
	}
}

// replay answers a request whose key is already held: with the stored
// response when there is one, otherwise with 409 while the first request runs.
func replay(c *gin.Context, store portidempotency.Store, key string, log *logger.Logger) {
	ctx := log.WithField(c.Request.Context(), "idempotency_key", key)
	raw, found, err := store.Check(ctx, key)
	if err != nil {
		log.Error(ctx, "idempotency check failed", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency store unavailable"})
		return
	}
	if !found || raw == nil {
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in progress"})
		return
	}

	var prev storedResponse
	if err := json.Unmarshal(raw, &prev); err != nil {
		log.Error(ctx, "stored idempotent response is corrupt", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stored response unreadable"})
		return
	}
	c.Header("Idempotent-Replayed", "true")
	c.Data(prev.Status, "application/json; charset=utf-8", prev.Body)
	c.Abort()
}
