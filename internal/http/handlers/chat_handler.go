// Chat HTTP handlers.
//
// This file exposes the chat execution endpoints:
//   - POST /chat/run        (run a chat turn, streamed as Server-Sent Events)
//   - GET  /chat/stop/{id}  (cancel the active run of a conversation)
//
// The gateway does not answer chat turns itself: RunChat delegates to a
// ChatRunner collaborator and passes its events through to the partner
// unmodified. Conversation identifiers in requests are partner external ids;
// a first run for an unseen id registers the conversation and its identity
// mapping in one transaction.
//
// Idempotency:
// If the client supplies an Idempotency-Key header, the conversation
// registration step is deduplicated: a retried first run never creates a
// second conversation row. The event stream itself is produced fresh on
// every request.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
	"github.com/skylark-labs/northbound/internal/http/middleware"
	"github.com/skylark-labs/northbound/internal/repo"
	"github.com/skylark-labs/northbound/internal/services"
)

// maxPromptRunes caps the accepted prompt length at the edge.
const maxPromptRunes = 8000

//
// DTOs
//

// RunChatRequest is the JSON payload for executing a chat turn.
//
// ConversationID is chosen by the partner. The first run for an unseen id
// creates the conversation; later runs append to it.
type RunChatRequest struct {
	// ConversationID is the partner's identifier for the conversation.
	ConversationID string `json:"conversation_id" binding:"required,min=1,max=128" example:"partner-conv-001"`
	// AgentCode selects the agent answering this turn.
	AgentCode string `json:"agent_code" binding:"required,min=1" example:"support"`
	// Prompt is the user's message. It must be non-empty.
	Prompt string `json:"prompt" binding:"required,min=1" example:"Summarize my open tickets"`
	// Title optionally names a newly created conversation.
	Title string `json:"title" example:"Ticket triage"`
}

// StopChatResponse acknowledges a successful cancellation.
type StopChatResponse struct {
	ConversationID string `json:"conversation_id" example:"partner-conv-001"`
	Stopped        bool   `json:"stopped" example:"true"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizePrompt normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizePrompt(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// registerConversation creates the conversation row and its identity mapping
// in one transaction, deduplicated by the request's idempotency key. It
// returns the internal id of the conversation that owns the partner alias
// afterwards, whichever request created it.
func (h *Handlers) registerConversation(c *gin.Context, tenantID, userID string, req *RunChatRequest) (int64, error) {
	ctx := c.Request.Context()

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = h.convSvc.DeriveTitle(req.Prompt)
	}
	if title == "" {
		title = "New conversation"
	}

	key, _ := middleware.GetIdempotencyKey(c)
	_, err := h.guard.Do(ctx, tenantID, middleware.OperationName(c), key, func(tx *gorm.DB) (int, []byte, error) {
		conv, cerr := repo.CreateConversation(ctx, tx, tenantID, userID, title, req.AgentCode)
		if cerr != nil {
			return 0, nil, cerr
		}
		if _, cerr = repo.CreateMapping(ctx, tx, conv.InternalID, req.ConversationID, domain.MappingTypeConversation, tenantID, userID); cerr != nil {
			return 0, nil, cerr
		}
		body, _ := json.Marshal(gin.H{"conversation_id": req.ConversationID})
		return http.StatusCreated, body, nil
	})
	// A concurrent first run may have claimed the alias; the authoritative
	// row is whatever the mapping now points at.
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		return 0, err
	}
	return h.mapSvc.InternalIDFor(ctx, req.ConversationID, domain.MappingTypeConversation, tenantID, "")
}

//
// Handlers
//

// RunChat godoc
// @ID          runChat
// @Summary     Run a chat turn
// @Description Executes one chat turn against the selected agent and streams the result as Server-Sent Events.
// @Description The first run for an unseen conversation_id creates the conversation. Supports idempotency
// @Description via the Idempotency-Key header for the creation step.
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.RunChatRequest  true  "Chat run payload"
//
// @Success     200  {string} string "SSE event stream"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Unknown agent"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chat/run [post]
func (h *Handlers) RunChat(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, userID, okID := mustIdentity(c)
	if !okID {
		return
	}

	var req RunChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation_id, agent_code and prompt required")
		return
	}

	if !h.agents.Exists(req.AgentCode) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "unknown agent code")
		return
	}

	prompt := sanitizePrompt(req.Prompt)
	if prompt == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt required")
		return
	}
	if utf8.RuneCountInString(prompt) > maxPromptRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("prompt too long: max %d runes", maxPromptRunes))
		return
	}

	// Resolve the partner's conversation id; register it on first use.
	internalID, err := h.mapSvc.InternalIDFor(ctx, req.ConversationID, domain.MappingTypeConversation, tenantID, "")
	switch {
	case errors.Is(err, services.ErrMappingNotFound):
		internalID, err = h.registerConversation(c, tenantID, userID, &req)
		if err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeRunFailed, "internal server error")
			return
		}
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
		return
	}

	var authorization string
	if nc, okNC := middleware.NorthboundContextFrom(c); okNC {
		authorization = nc.Authorization
	}

	events, err := h.runner.Run(ctx, services.ChatRunRequest{
		TenantID:       tenantID,
		UserID:         userID,
		ConversationID: internalID,
		AgentCode:      req.AgentCode,
		Prompt:         prompt,
		Authorization:  authorization,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeRunFailed, "internal server error")
		return
	}

	if key, okKey := middleware.GetIdempotencyKey(c); okKey {
		c.Header(middleware.HeaderIdempotencyKey, key)
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// Pass engine events through until the stream closes or the client
	// disconnects; ctx cancellation stops the runner. Events are flushed
	// individually so partners see them as they are produced.
	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			c.SSEvent(ev.Type, ev.Data)
			c.Writer.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// StopChat godoc
// @ID          stopChat
// @Summary     Stop a running chat turn
// @Description Cancels the active run of the conversation addressed by the partner's external identifier.
// @Tags        Chat
// @Produce     json
//
// @Param       id  path  string  true  "Conversation ID (partner external id)"  example(partner-conv-001)
//
// @Success     200  {object} handlers.StopChatResponse
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "No active run"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chat/stop/{id} [get]
func (h *Handlers) StopChat(c *gin.Context) {
	tenantID, _, okAuth := mustIdentity(c)
	if !okAuth {
		return
	}
	externalID := c.Param("id")

	internalID, okID := h.resolveConversation(c, externalID, tenantID)
	if !okID {
		return
	}

	if err := h.runner.Stop(c.Request.Context(), tenantID, internalID); err != nil {
		if errors.Is(err, services.ErrRunNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no active run for conversation")
		} else {
			fail(c, http.StatusInternalServerError, ErrCodeStopFailed, "internal server error")
		}
		return
	}

	ok(c, http.StatusOK, StopChatResponse{ConversationID: externalID, Stopped: true})
}
