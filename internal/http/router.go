// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// authentication, idempotency, rate limiting, CORS, and security headers.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Authentication before anything that needs a tenant scope
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/auth"
	"github.com/skylark-labs/northbound/internal/config"
	"github.com/skylark-labs/northbound/internal/domain"
	"github.com/skylark-labs/northbound/internal/http/handlers"
	"github.com/skylark-labs/northbound/internal/http/middleware"
	"github.com/skylark-labs/northbound/internal/repo"
	"github.com/skylark-labs/northbound/internal/services"
)

// mappingRepoShim adapts the repository free functions to the
// services.MappingRepo interface expected by the MappingService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type mappingRepoShim struct{}

// CreateMapping proxies repo.CreateMapping.
func (mappingRepoShim) CreateMapping(ctx context.Context, db *gorm.DB, internalID int64, externalID, mappingType, tenantID, userID string) (*domain.IdentityMapping, error) {
	return repo.CreateMapping(ctx, db, internalID, externalID, mappingType, tenantID, userID)
}

// InternalIDFor proxies repo.InternalIDFor.
func (mappingRepoShim) InternalIDFor(ctx context.Context, db *gorm.DB, externalID, mappingType, tenantID, userID string) (int64, error) {
	return repo.InternalIDFor(ctx, db, externalID, mappingType, tenantID, userID)
}

// ExternalIDFor proxies repo.ExternalIDFor.
func (mappingRepoShim) ExternalIDFor(ctx context.Context, db *gorm.DB, internalID int64, mappingType, tenantID, userID string) (string, error) {
	return repo.ExternalIDFor(ctx, db, internalID, mappingType, tenantID, userID)
}

// SoftDeleteMapping proxies repo.SoftDeleteMapping.
func (mappingRepoShim) SoftDeleteMapping(ctx context.Context, db *gorm.DB, externalID, mappingType, tenantID, userID string) error {
	return repo.SoftDeleteMapping(ctx, db, externalID, mappingType, tenantID, userID)
}

// conversationRepoShim adapts the repository free functions to the
// services.ConversationRepo interface expected by the ConversationService.
type conversationRepoShim struct{}

// CreateConversation proxies repo.CreateConversation.
func (conversationRepoShim) CreateConversation(ctx context.Context, db *gorm.DB, tenantID, userID, title, agentCode string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, tenantID, userID, title, agentCode)
}

// GetConversation proxies repo.GetConversation.
func (conversationRepoShim) GetConversation(ctx context.Context, db *gorm.DB, internalID int64, tenantID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, internalID, tenantID)
}

// CountConversations proxies repo.CountConversations.
func (conversationRepoShim) CountConversations(ctx context.Context, db *gorm.DB, tenantID, userID string) (int64, error) {
	return repo.CountConversations(ctx, db, tenantID, userID)
}

// ListConversationsPage proxies repo.ListConversationsPage.
func (conversationRepoShim) ConversationStats(ctx context.Context, db *gorm.DB, tenantID, userID string) (int64, *time.Time, error) {
	return repo.ConversationStats(ctx, db, tenantID, userID)
}

func (conversationRepoShim) ListConversationsPage(ctx context.Context, db *gorm.DB, tenantID, userID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, tenantID, userID, offset, limit)
}

// UpdateConversationTitle proxies repo.UpdateConversationTitle.
func (conversationRepoShim) UpdateConversationTitle(ctx context.Context, db *gorm.DB, internalID int64, tenantID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, internalID, tenantID, title)
}

// newContextBuilder assembles the authentication pipeline from configuration:
// config-provisioned AK/SK credentials, the token resolver in the configured
// mode, and the GORM-backed tenant resolver with its default-tenant fallback.
func newContextBuilder(db *gorm.DB, cfg config.Config) *auth.ContextBuilder {
	creds := make([]auth.Credential, 0, len(cfg.Auth.Credentials))
	for _, c := range cfg.Auth.Credentials {
		creds = append(creds, auth.Credential{
			TenantID:  c.TenantID,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
		})
	}

	return &auth.ContextBuilder{
		Signatures: &auth.SignatureVerifier{
			Creds:  auth.NewStaticCredentials(creds),
			Window: cfg.Auth.SignatureWindow,
		},
		Tokens:       auth.NewTokenResolver(cfg.Auth.TokenSecret, cfg.Auth.Mode == config.AuthModeVerify),
		Tenants:      &auth.TenantResolver{Store: repo.UserTenantStore{DB: db}, DefaultTenant: cfg.Auth.DefaultTenant},
		Bypass:       cfg.Auth.Mode == config.AuthModeBypass,
		BypassUser:   cfg.Auth.BypassUserID,
		BypassTenant: cfg.Auth.BypassTenantID,
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), authentication,
// idempotency and rate limiting, CORS and security headers, health and
// metrics endpoints, and then mounts the versioned northbound API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and key-material scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//  8. (API group) Authenticate: signature + token + tenant, all-or-nothing
//  9. (API group) Idempotency validator (after auth: keys are tenant-scoped;
//     before rate limiter to allow bypass on replay)
//  10. (API group) Rate limiter per tenant/user, bypass on replay
func RegisterRoutes(r *gin.Engine, db *gorm.DB, runner services.ChatRunner, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (signature headers are masked by
	// default; X-Timestamp adds nothing useful to logs either)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Timestamp"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization",
		auth.HeaderAccessKey, auth.HeaderTimestamp, auth.HeaderSignature,
		middleware.HeaderIdempotencyKey,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{middleware.RequestIDHeader, "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    []string{middleware.RequestIDHeader, "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Compression; the chat event stream must not be buffered by gzip.
	apiBase := cfg.APIBasePath
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics", joinPath(apiBase, "/chat/run")})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (off by default)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/config
	mapSvc := services.NewMappingService(db, mappingRepoShim{})
	convSvc := services.NewConversationService(db, conversationRepoShim{})
	convSvc.TitleMaxLen = 255
	convSvc.TitleLocale = language.English
	agents := services.NewAgentDirectory(cfg.Agents)
	guard := services.NewIdempotencyGuard(db, cfg.IdempotencyTTL)
	if runner == nil {
		runner = services.NewLocalChatRunner()
	}
	h := handlers.New(convSvc, mapSvc, runner, agents, guard)

	builder := newContextBuilder(db, cfg)

	// Northbound API: everything below requires a full NorthboundContext.
	api := groupWithPrefix(r, apiBase)
	api.Use(middleware.Authenticate(builder))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, tenantID, operation, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, tenantID, operation, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByTenantUserOrIP())
	api.Use(rl.Handler())
	{
		// Chat
		api.POST("/chat/run", h.RunChat)
		api.GET("/chat/stop/:id", h.StopChat)

		// Conversations
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id", h.GetConversation)
		api.PUT("/conversations/:id/title", h.UpdateConversationTitle)

		// Agents
		api.GET("/agents", h.ListAgents)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

// joinPath concatenates a base path and a route suffix without doubling
// slashes.
func joinPath(base, suffix string) string {
	if base == "" || base == "/" {
		return suffix
	}
	return base + suffix
}
