// Conversation HTTP handlers.
//
// This file exposes the history surface read by sidebar-style UI consumers:
//   - GET    /conversations       (paginated list for the calling user)
//   - GET    /conversations/{id}  (one conversation with its messages)
//   - DELETE /conversations       (clear the user's history)
//
// The pipeline only appends to conversations; edits and deletes of single
// messages are UI-layer concerns outside this service.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-chat-delivery/internal/domain"
	"github.com/tbourn/go-chat-delivery/internal/repo"
	"github.com/tbourn/go-chat-delivery/internal/utils"
)

//
// DTOs
//

// Pagination echoes the effective paging parameters plus the total count.
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}

// ListConversationsResponse contains a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// GetConversationResponse is one conversation with its full message history.
type GetConversationResponse struct {
	Conversation domain.Conversation `json:"conversation"`
	Messages     []domain.Message    `json:"messages"`
}

// ClearConversationsResponse reports how many conversations were removed.
type ClearConversationsResponse struct {
	Cleared int64 `json:"cleared"`
}

// clampPagination parses page/page_size from query parameters, applying sane
// defaults and caps.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List the calling user's conversations
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  true   "Calling user"
// @Param       page       query   int     false  "Page (1-based)"
// @Param       page_size  query   int     false  "Page size (max 100)"
// @Success     200  {object}  handlers.ListConversationsResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	userID, okUser := userIDFrom(c)
	if !okUser {
		return
	}
	page, pageSize := clampPagination(c)

	total, err := repo.CountConversations(ctx, h.DB, userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list conversations")
		return
	}
	items, err := repo.ListConversationsPage(ctx, h.DB, userID, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list conversations")
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    Pagination{Page: page, PageSize: pageSize, Total: total},
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Fetch one conversation with its messages
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  true  "Calling user"
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Success     200  {object}  handlers.GetConversationResponse
// @Failure     404  {object}  handlers.ErrorResponse
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	userID, okUser := userIDFrom(c)
	if !okUser {
		return
	}
	id := c.Param("id")

	conv, err := repo.GetConversation(ctx, h.DB, id, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load conversation")
		return
	}
	msgs, err := repo.ListMessages(h.DB.WithContext(ctx), id, 0)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load messages")
		return
	}
	ok(c, http.StatusOK, GetConversationResponse{Conversation: *conv, Messages: msgs})
}

// ClearConversations godoc
// @ID          clearConversations
// @Summary     Clear the calling user's conversation history
// @Tags        Conversations
// @Produce     json
// @Param       X-User-ID  header  string  true  "Calling user"
// @Success     200  {object}  handlers.ClearConversationsResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /conversations [delete]
func (h *Handlers) ClearConversations(c *gin.Context) {
	ctx := c.Request.Context()
	userID, okUser := userIDFrom(c)
	if !okUser {
		return
	}
	n, err := repo.ClearConversations(ctx, h.DB, userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeClearFailed, "could not clear conversations")
		return
	}
	ok(c, http.StatusOK, ClearConversationsResponse{Cleared: n})
}
