// Offline queue HTTP handlers.
//
// This file exposes operational visibility into the durable retry queue:
//   - GET  /queue        (snapshot of undelivered payloads, enqueue order)
//   - POST /queue/drain  (manual drain trigger)
//
// The drain endpoint shares the queue's single-owner guard with the
// connectivity-restored trigger: a pass already running makes this call a
// no-op reported as started=false.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

// QueueResponse is the queue inspection envelope.
type QueueResponse struct {
	Items []domain.QueueItem `json:"items"`
	Depth int                `json:"depth"`
}

// DrainResponse reports whether this call owned the drain pass.
type DrainResponse struct {
	Started bool `json:"started"`
}

// GetQueue godoc
// @ID          getQueue
// @Summary     Inspect the offline queue
// @Tags        Queue
// @Produce     json
// @Param       X-User-ID  header  string  true  "Calling user"
// @Success     200  {object}  handlers.QueueResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /queue [get]
func (h *Handlers) GetQueue(c *gin.Context) {
	ctx := c.Request.Context()
	if _, okUser := userIDFrom(c); !okUser {
		return
	}
	items, err := h.Queue.Items(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not read queue")
		return
	}
	ok(c, http.StatusOK, QueueResponse{Items: items, Depth: len(items)})
}

// DrainQueue godoc
// @ID          drainQueue
// @Summary     Trigger one drain pass over the offline queue
// @Tags        Queue
// @Produce     json
// @Param       X-User-ID  header  string  true  "Calling user"
// @Success     200  {object}  handlers.DrainResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /queue/drain [post]
func (h *Handlers) DrainQueue(c *gin.Context) {
	ctx := c.Request.Context()
	if _, okUser := userIDFrom(c); !okUser {
		return
	}
	drained, err := h.Queue.Drain(ctx, h.Delivery.DeliverQueued)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "drain aborted on storage failure")
		return
	}
	ok(c, http.StatusOK, DrainResponse{Started: drained})
}
