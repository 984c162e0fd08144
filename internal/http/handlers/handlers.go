// Handler wiring for the northbound API.
//
// This file declares the service contracts the HTTP layer programs against
// and the Handlers aggregate that binds them. Handlers are transport-thin:
// they validate input, translate partner-facing external identifiers via the
// mapping service, call application services, and render consistent HTTP
// responses. Internal numeric keys never appear in any response.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
	"github.com/skylark-labs/northbound/internal/http/middleware"
	"github.com/skylark-labs/northbound/internal/services"
)

//
// Service contracts (context-aware)
//

// ConversationService defines conversation lifecycle operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConversationService interface {
	// Create starts a new conversation for the tenant user.
	Create(ctx context.Context, tenantID, userID, title, agentCode string) (*domain.Conversation, error)
	// Get fetches a conversation by internal id within a tenant.
	Get(ctx context.Context, internalID int64, tenantID string) (*domain.Conversation, error)
	// ListPage returns a page of the tenant user's conversations and the total count.
	ListPage(ctx context.Context, tenantID, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
	// Stats returns the count and latest update time of the tenant user's
	// conversations, for change detection on list responses.
	Stats(ctx context.Context, tenantID, userID string) (int64, *time.Time, error)
	// UpdateTitle renames a conversation that belongs to the tenant.
	UpdateTitle(ctx context.Context, internalID int64, tenantID, title string) error
	// UpdateTitleTx renames within a caller-owned transaction.
	UpdateTitleTx(ctx context.Context, tx *gorm.DB, internalID int64, tenantID, title string) error
	// DeriveTitle builds a concise title from an opening prompt, or "".
	DeriveTitle(prompt string) string
}

// MappingService translates partner-chosen external identifiers to internal
// keys and back, excluding soft-deleted rows.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MappingService interface {
	// Add registers externalID as the partner alias for internalID.
	Add(ctx context.Context, internalID int64, externalID, mappingType, tenantID, userID string) error
	// InternalIDFor resolves a partner alias to its internal key.
	InternalIDFor(ctx context.Context, externalID, mappingType, tenantID, userID string) (int64, error)
	// ExternalIDFor resolves an internal key back to its partner alias.
	ExternalIDFor(ctx context.Context, internalID int64, mappingType, tenantID, userID string) (string, error)
	// Remove soft-deletes the active mapping for the alias.
	Remove(ctx context.Context, externalID, mappingType, tenantID, userID string) error
}

//
// Handler wiring
//

// Handlers groups the northbound HTTP endpoints for chat runs, conversations,
// and agents. It depends on abstract service interfaces to keep transport
// concerns separate from business logic; the idempotency guard and agent
// directory are small concrete collaborators.
type Handlers struct {
	convSvc ConversationService
	mapSvc  MappingService
	runner  services.ChatRunner
	agents  *services.AgentDirectory
	guard   *services.IdempotencyGuard
}

// New constructs and returns a Handlers instance bound to the given services.
func New(convSvc ConversationService, mapSvc MappingService, runner services.ChatRunner, agents *services.AgentDirectory, guard *services.IdempotencyGuard) *Handlers {
	return &Handlers{convSvc: convSvc, mapSvc: mapSvc, runner: runner, agents: agents, guard: guard}
}

// identity extracts the authenticated (tenant, user) pair from the Gin
// context, set by the upstream Authenticate middleware. There is no
// fallback: a request that reached a handler without a built context is a
// wiring defect, and the caller must reject it rather than guess an
// identity.
func identity(c *gin.Context) (tenantID, userID string, ok bool) {
	nc, ok := middleware.NorthboundContextFrom(c)
	if !ok {
		return "", "", false
	}
	return nc.TenantID, nc.UserID, true
}

// mustIdentity is identity plus the rejection: it writes a 401 and returns
// ok=false when no authenticated context is present.
func mustIdentity(c *gin.Context) (tenantID, userID string, ok bool) {
	tenantID, userID, ok = identity(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}
	return
}
