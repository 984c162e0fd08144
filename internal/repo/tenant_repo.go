// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file covers the user→tenant relationship consumed by
// the tenant resolver.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
)

// GetUserTenant fetches the tenant relationship for userID, or ErrNotFound.
func GetUserTenant(ctx context.Context, db *gorm.DB, userID string) (*domain.UserTenant, error) {
	var ut domain.UserTenant
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&ut).Error
	if err != nil {
		return nil, err
	}
	return &ut, nil
}

// UpsertUserTenant creates or updates the tenant relationship for userID.
// Provisioning is an admin-side concern; this helper exists for that flow
// and for tests.
func UpsertUserTenant(ctx context.Context, db *gorm.DB, userID, tenantID string) error {
	ut := &domain.UserTenant{UserID: userID, TenantID: tenantID}
	return db.WithContext(ctx).Save(ut).Error
}

// UserTenantStore adapts the user→tenant rows to the auth.TenantStore
// contract: not-found surfaces as ok=false, store failures propagate as
// errors.
type UserTenantStore struct {
	DB *gorm.DB
}

// TenantFor implements auth.TenantStore.
func (s UserTenantStore) TenantFor(ctx context.Context, userID string) (string, bool, error) {
	ut, err := GetUserTenant(ctx, s.DB, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ut.TenantID, true, nil
}
