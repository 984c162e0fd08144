// Per-request northbound context construction.
package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// NorthboundContext is the ephemeral, per-request authentication result.
// It is created at request entry, threaded through handlers, and discarded
// at request exit; it is never persisted. Authorization retains the raw
// bearer value only so it can be passed through to downstream collaborators.
type NorthboundContext struct {
	RequestID     string
	TenantID      string
	UserID        string
	Authorization string
}

// ContextBuilder orchestrates signature verification, token resolution, and
// tenant resolution into a single all-or-nothing construction step. No
// partial context is ever returned: the first failure aborts the build.
type ContextBuilder struct {
	Signatures *SignatureVerifier
	Tokens     *TokenResolver
	Tenants    *TenantResolver

	// Bypass short-circuits the whole build with a fixed development
	// identity. It is only honored when the process booted in debug mode;
	// config.Load enforces that.
	Bypass       bool
	BypassUser   string
	BypassTenant string
}

// Build authenticates one request. headers must include the signature
// headers and Authorization; body is the raw request payload for mutating
// methods (empty otherwise); requestID is the inbound X-Request-Id value or
// empty to mint a fresh one.
//
// Step order, short-circuiting on first failure:
//  1. signature verification (cheapest rejection first);
//  2. Authorization header required;
//  3. token → user id;
//  4. user id → tenant id;
//  5. request id adoption or generation.
func (b *ContextBuilder) Build(ctx context.Context, headers http.Header, body []byte, requestID string) (*NorthboundContext, *Error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if b.Bypass {
		return &NorthboundContext{
			RequestID: requestID,
			TenantID:  b.BypassTenant,
			UserID:    b.BypassUser,
		}, nil
	}

	if _, err := b.Signatures.Verify(ctx, headers, body); err != nil {
		return nil, err
	}

	authorization := headers.Get("Authorization")
	if authorization == "" {
		return nil, newError(CodeUnauthorized, "missing authorization header")
	}

	userID, err := b.Tokens.Resolve(authorization)
	if err != nil {
		return nil, err
	}

	tenantID, err := b.Tenants.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &NorthboundContext{
		RequestID:     requestID,
		TenantID:      tenantID,
		UserID:        userID,
		Authorization: authorization,
	}, nil
}
