// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - GET /conversations             (list, paginated, ETag support)
//   - GET /conversations/{id}        (fetch one)
//   - PUT /conversations/{id}/title  (rename, idempotent)
//
// All {id} path parameters are partner external identifiers; they are
// translated to internal keys through the mapping service before any
// repository access, and internal keys never appear in responses.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
	"github.com/skylark-labs/northbound/internal/http/middleware"
	"github.com/skylark-labs/northbound/internal/services"
	"github.com/skylark-labs/northbound/internal/utils"
)

//
// DTOs
//

// ConversationResponse is the partner-facing representation of a
// conversation. ID carries the partner's own external identifier.
type ConversationResponse struct {
	ID        string    `json:"id" example:"partner-conv-001"`
	Title     string    `json:"title" example:"Quarterly revenue questions"`
	AgentCode string    `json:"agent_code" example:"support"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateTitleRequest is the JSON payload for renaming a conversation.
type UpdateTitleRequest struct {
	// Title is the new conversation name (1–255 chars).
	Title string `json:"title" binding:"required,min=1,max=255" example:"Churn analysis - EMEA"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations and pagination
// information.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Pagination    Pagination             `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
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

// resolveConversation translates a partner conversation id to its internal
// key within the tenant. It writes the appropriate error response itself and
// returns ok=false when the caller should stop.
func (h *Handlers) resolveConversation(c *gin.Context, externalID, tenantID string) (int64, bool) {
	if strings.TrimSpace(externalID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id required")
		return 0, false
	}
	internalID, err := h.mapSvc.InternalIDFor(c.Request.Context(), externalID, domain.MappingTypeConversation, tenantID, "")
	if err != nil {
		if errors.Is(err, services.ErrMappingNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		} else {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		}
		return 0, false
	}
	return internalID, true
}

// toConversationResponse builds the partner-facing DTO using the external id.
func toConversationResponse(externalID string, conv *domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        externalID,
		Title:     conv.Title,
		AgentCode: conv.AgentCode,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns a page of the caller's conversations. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, userID, okAuth := mustIdentity(c)
	if !okAuth {
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, serr := h.convSvc.Stats(ctx, tenantID, userID); serr == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"conversations:%s:%s:%d:%d"`, tenantID, userID, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.convSvc.ListPage(ctx, tenantID, userID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "internal server error")
		return
	}

	// Translate internal keys back to partner aliases. Rows without an
	// active mapping are not partner-visible and are skipped.
	out := make([]ConversationResponse, 0, len(items))
	for i := range items {
		ext, merr := h.mapSvc.ExternalIDFor(ctx, items[i].InternalID, domain.MappingTypeConversation, tenantID, "")
		if merr != nil {
			if errors.Is(merr, services.ErrMappingNotFound) {
				continue
			}
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			return
		}
		out = append(out, toConversationResponse(ext, &items[i]))
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: out,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Fetch a conversation
// @Description Returns one conversation addressed by the partner's external identifier.
// @Tags        Conversations
// @Produce     json
//
// @Param       id  path  string  true  "Conversation ID (partner external id)"  example(partner-conv-001)
//
// @Success     200  {object} handlers.ConversationResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	tenantID, _, okAuth := mustIdentity(c)
	if !okAuth {
		return
	}
	externalID := c.Param("id")

	internalID, okID := h.resolveConversation(c, externalID, tenantID)
	if !okID {
		return
	}

	conv, err := h.convSvc.Get(c.Request.Context(), internalID, tenantID)
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		} else {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		}
		return
	}

	ok(c, http.StatusOK, toConversationResponse(externalID, conv))
}

// UpdateConversationTitle godoc
// @ID          updateConversationTitle
// @Summary     Rename a conversation
// @Description Updates the title of a conversation addressed by the partner's external identifier.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Conversation ID (partner external id)"  example(partner-conv-001)
// @Param       body             body    handlers.UpdateTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/title [put]
func (h *Handlers) UpdateConversationTitle(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, _, okAuth := mustIdentity(c)
	if !okAuth {
		return
	}
	externalID := c.Param("id")

	internalID, okID := h.resolveConversation(c, externalID, tenantID)
	if !okID {
		return
	}

	var req UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.guard.Do(ctx, tenantID, middleware.OperationName(c), key, func(tx *gorm.DB) (int, []byte, error) {
		// Run the rename through the transaction handle so it commits or
		// rolls back together with the idempotency record.
		if uerr := h.convSvc.UpdateTitleTx(ctx, tx, internalID, tenantID, req.Title); uerr != nil {
			return 0, nil, uerr
		}
		body, _ := json.Marshal(gin.H{"id": externalID, "title": req.Title})
		return http.StatusNoContent, body, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyTitle):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, "internal server error")
		}
		return
	}

	if key != "" {
		c.Header(middleware.HeaderIdempotencyKey, key)
	}
	if res.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	c.Status(res.Status)
}
