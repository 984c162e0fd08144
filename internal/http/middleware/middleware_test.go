package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skylark-labs/northbound/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// seedIdentity injects an authenticated context the way Authenticate would.
func seedIdentity(tenantID, userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxKeyNorthbound, &auth.NorthboundContext{TenantID: tenantID, UserID: userID})
		c.Set(ctxKeyTenantID, tenantID)
		c.Set(ctxKeyUserID, userID)
		c.Next()
	}
}

func TestRequestID_EchoesInboundValue(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, RequestIDFrom(c)) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Body.String() != "req-123" {
		t.Fatalf("context id: %q", w.Body.String())
	}
	if got := w.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("response header: %q", got)
	}
}

func TestRequestID_MintsWhenAbsent(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("a correlation id must be minted")
	}
}

func TestOperationName_UsesMatchedRoute(t *testing.T) {
	r := gin.New()
	var got string
	r.PUT("/conversations/:id/title", func(c *gin.Context) {
		got = OperationName(c)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/conversations/abc/title", nil))

	if got != "PUT /conversations/:id/title" {
		t.Fatalf("operation name: %q", got)
	}
}

func TestIdempotencyValidator_AbsentHeaderIsNoop(t *testing.T) {
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, nil))
	r.POST("/x", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Error("no key must be stored")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), IdempotencyValidator(IdempotencyOptions{MaxLen: 16}, nil))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, key := range []string{
		"spaces are bad",
		"emoji-é☃",
		strings.Repeat("a", 17),
	} {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("key %q: status %d, want 400", key, w.Code)
		}
		if !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q: body %s", key, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_StoresKeyAndDetectsReplay(t *testing.T) {
	lookup := func(_ context.Context, tenantID, operation, key string, _ time.Time) (bool, error) {
		return tenantID == "acme" && operation == "POST /x" && key == "key-1", nil
	}

	r := gin.New()
	r.Use(RequestID(), seedIdentity("acme", "u1"), IdempotencyValidator(IdempotencyOptions{}, lookup))
	var sawKey string
	var sawReplay, sawBypass bool
	r.POST("/x", func(c *gin.Context) {
		sawKey, _ = GetIdempotencyKey(c)
		sawReplay = IsReplay(c)
		sawBypass = IsRateBypass(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || sawKey != "key-1" {
		t.Fatalf("status=%d key=%q", w.Code, sawKey)
	}
	if !sawReplay || !sawBypass {
		t.Fatalf("replay=%v bypass=%v, want both true", sawReplay, sawBypass)
	}

	// A fresh key is stored but not flagged.
	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-2")
	r.ServeHTTP(httptest.NewRecorder(), req)
	if sawKey != "key-2" || sawReplay || sawBypass {
		t.Fatalf("fresh key: key=%q replay=%v bypass=%v", sawKey, sawReplay, sawBypass)
	}
}

func TestRateLimiter_EnforcesBurst(t *testing.T) {
	rl := NewRateLimiter(0, 2, KeyByTenantUserOrIP())
	r := gin.New()
	r.Use(RequestID(), seedIdentity("acme", "u1"), rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d within burst: %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("over burst: %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}
	if !strings.Contains(w.Body.String(), "limit_exceeded") {
		t.Fatalf("body: %s", w.Body.String())
	}
}

func TestRateLimiter_BucketsScopedPerIdentity(t *testing.T) {
	rl := NewRateLimiter(0, 1, KeyByTenantUserOrIP())
	h := rl.Handler()

	serve := func(tenant, user string) int {
		r := gin.New()
		r.Use(seedIdentity(tenant, user), h)
		r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		return w.Code
	}

	if serve("acme", "u1") != http.StatusOK {
		t.Fatal("first request must pass")
	}
	if serve("acme", "u1") != http.StatusTooManyRequests {
		t.Fatal("same identity must be limited")
	}
	if serve("globex", "u1") != http.StatusOK {
		t.Fatal("another tenant owns a fresh bucket")
	}
}

func TestRateLimiter_ReplayBypassesLimiting(t *testing.T) {
	rl := NewRateLimiter(0, 1, KeyByTenantUserOrIP())
	r := gin.New()
	r.Use(seedIdentity("acme", "u1"), func(c *gin.Context) {
		c.Set(ctxKeyRateBypass, true)
		c.Next()
	}, rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("bypassed request %d: %d", i, w.Code)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(SecurityOptions{EnableHSTS: true, HSTSMaxAge: time.Hour}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("nosniff header missing")
	}
	if w.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must not be sent over plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("Strict-Transport-Security"); !strings.Contains(got, "max-age=3600") {
		t.Fatalf("HSTS over https: %q", got)
	}
}

func TestAuthenticate_BypassBuilderSetsIdentity(t *testing.T) {
	builder := &auth.ContextBuilder{Bypass: true, BypassUser: "dev-user", BypassTenant: "dev-tenant"}

	r := gin.New()
	r.Use(RequestID(), Authenticate(builder))
	r.GET("/x", func(c *gin.Context) {
		nc, ok := NorthboundContextFrom(c)
		if !ok {
			t.Error("authenticated context missing")
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, nc.TenantID+"/"+nc.UserID)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK || w.Body.String() != "dev-tenant/dev-user" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("correlation id must be set on the response")
	}
}

func TestAuthenticate_RejectsUnsignedRequest(t *testing.T) {
	builder := &auth.ContextBuilder{
		Signatures: &auth.SignatureVerifier{Creds: auth.NewStaticCredentials(nil), Window: 300 * time.Second},
	}

	r := gin.New()
	r.Use(RequestID(), Authenticate(builder))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request: %d, want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), "request_id") {
		t.Fatalf("error envelope: %s", w.Body.String())
	}
}
