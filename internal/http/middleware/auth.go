// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file wires the auth.ContextBuilder into the request pipeline. The
// middleware authenticates every northbound request (signature, token,
// tenant) before any handler logic runs, stashes the resulting
// NorthboundContext in the Gin context, and rejects failures with the
// documented status codes (401 for credential/token problems, 498 for
// signature mismatches, 500 for store failures). No partial identity ever
// reaches a handler.
package middleware

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skylark-labs/northbound/internal/auth"
)

// Context keys under which the authenticated identity is stashed.
const (
	ctxKeyNorthbound = "northbound.context"
	ctxKeyTenantID   = "tenantID"
	ctxKeyUserID     = "userID"
)

// authOutcomes counts authentication results by failure code ("ok" for
// success). Cardinality is bounded by the auth error taxonomy.
var authOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "northbound_auth_outcomes_total",
		Help: "Total authentication attempts by outcome code.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(authOutcomes)
}

// NorthboundContextFrom returns the authenticated per-request context stored
// by Authenticate. ok=false only on routes that skip authentication.
func NorthboundContextFrom(c *gin.Context) (*auth.NorthboundContext, bool) {
	v, ok := c.Get(ctxKeyNorthbound)
	if !ok {
		return nil, false
	}
	nc, ok := v.(*auth.NorthboundContext)
	return nc, ok && nc != nil
}

// Authenticate returns the middleware enforcing the northbound
// authentication protocol via the given builder.
//
// For mutating methods the request body is read for signature computation
// and restored so handlers can bind it afterwards. GET/HEAD bodies are
// ignored: they are not part of the signed canonical string.
func Authenticate(builder *auth.ContextBuilder) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			if c.Request.Body != nil {
				raw, err := io.ReadAll(c.Request.Body)
				if err != nil {
					authOutcomes.WithLabelValues("body_read_failed").Inc()
					c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
						"request_id": RequestIDFrom(c),
						"code":       "bad_request",
						"message":    "failed to read request body",
					})
					return
				}
				body = raw
				c.Request.Body = io.NopCloser(bytes.NewReader(raw))
			}
		}

		nc, aerr := builder.Build(c.Request.Context(), c.Request.Header, body, RequestIDFrom(c))
		if aerr != nil {
			authOutcomes.WithLabelValues(string(aerr.Code)).Inc()
			lg := LoggerFrom(c)
			if aerr.Code == auth.CodeStoreError {
				// Full detail stays server-side; the client sees a generic 500.
				lg.Error().Err(aerr).Msg("authentication store failure")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"request_id": RequestIDFrom(c),
					"code":       "internal_error",
					"message":    "internal server error",
				})
				return
			}
			lg.Warn().Str("code", string(aerr.Code)).Msg("authentication rejected")
			c.AbortWithStatusJSON(aerr.HTTPStatus(), gin.H{
				"request_id": RequestIDFrom(c),
				"code":       string(aerr.Code),
				"message":    aerr.Message,
			})
			return
		}

		authOutcomes.WithLabelValues("ok").Inc()
		c.Set(ctxKeyNorthbound, nc)
		c.Set(ctxKeyTenantID, nc.TenantID)
		c.Set(ctxKeyUserID, nc.UserID)
		c.Writer.Header().Set(RequestIDHeader, nc.RequestID)
		c.Next()
	}
}
