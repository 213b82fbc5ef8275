// Package handlers provides HTTP handler implementations for the public API.
//
// Handlers are transport-thin: they validate and normalize inputs, delegate
// to the delivery services, and translate service errors into the stable
// error envelope. All pipeline semantics (single-flight, queueing, retry)
// live in the services layer.
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-delivery/internal/services"
)

// Handlers bundles the dependencies shared by all endpoint implementations.
type Handlers struct {
	DB       *gorm.DB
	Delivery *services.DeliveryService
	Queue    *services.OfflineQueue

	// IdempotencyTTL bounds how long a recorded Idempotency-Key stays
	// replayable on the send endpoint.
	IdempotencyTTL time.Duration
}

// userHeader carries the calling user's identity. There is no auth layer in
// this service; identity is asserted by the fronting gateway.
const userHeader = "X-User-ID"

// userIDFrom extracts the caller identity, failing the request with 401 when
// absent. The bool result reports whether the request may proceed.
func userIDFrom(c *gin.Context) (string, bool) {
	uid := c.GetHeader(userHeader)
	if uid == "" {
		fail(c, 401, ErrCodeUnauthorized, "missing "+userHeader+" header")
		return "", false
	}
	c.Set("userID", uid)
	return uid, true
}
