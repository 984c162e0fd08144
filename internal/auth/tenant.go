// Tenant resolution for authenticated users.
package auth

import (
	"context"

	"github.com/rs/zerolog/log"
)

// TenantStore looks up the persisted tenant relationship for a user.
// ok=false means the user has no explicit tenant row, which is a recoverable
// degraded state, not an error; err is reserved for store failures.
type TenantStore interface {
	TenantFor(ctx context.Context, userID string) (tenantID string, ok bool, err error)
}

// TenantResolver maps an internal user identifier to its tenant, falling
// back to a configured default tenant for users that were never provisioned
// with an explicit mapping.
type TenantResolver struct {
	Store         TenantStore
	DefaultTenant string
}

// Resolve returns the user's tenant. A missing relationship degrades to the
// default tenant with a warning; a store failure propagates as StoreError so
// outages are never mistaken for absence.
func (r *TenantResolver) Resolve(ctx context.Context, userID string) (string, *Error) {
	tenant, ok, err := r.Store.TenantFor(ctx, userID)
	if err != nil {
		return "", wrapError(CodeStoreError, "tenant lookup failed", err)
	}
	if !ok {
		log.Warn().
			Str("user_id", userID).
			Str("default_tenant", r.DefaultTenant).
			Msg("no tenant mapping for user, falling back to default tenant")
		return r.DefaultTenant, nil
	}
	return tenant, nil
}
