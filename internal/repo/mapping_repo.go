// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// IdentityMapping model: the translation table between partner-visible
// external identifiers and internal primary keys.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
//
// Error semantics:
//   - Lookups return ErrNotFound when no active row matches. This is a valid
//     outcome, distinct from a store failure.
//   - Inserts return ErrDuplicate when an active row already exists for the
//     same (external_id, mapping_type, tenant_id).
//   - Any other DB error is propagated raw; callers must not collapse it
//     into absence.
//
// Soft deletion: rows are never removed. SoftDeleteMapping flips delete_flag
// to 'Y', and every lookup filters to delete_flag='N'. When historic data
// violates the active-row uniqueness (inserts used to be append-only),
// lookups impose a deterministic order: most recent created_at first, id as
// the final tiebreak.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates a row already exists for a unique scope
// (an active identity mapping, or an idempotency record).
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateMapping inserts a new active mapping row linking internalID to
// externalID within (mappingType, tenantID). The created_by/updated_by audit
// columns record userID. Returns ErrDuplicate when an active row already
// claims the same alias; the partial unique index makes the check atomic
// even under concurrent inserts.
func CreateMapping(ctx context.Context, db *gorm.DB, internalID int64, externalID, mappingType, tenantID, userID string) (*domain.IdentityMapping, error) {
	now := time.Now().UTC()
	m := &domain.IdentityMapping{
		ID:          uuid.NewString(),
		InternalID:  internalID,
		ExternalID:  externalID,
		MappingType: mappingType,
		TenantID:    tenantID,
		UserID:      userID,
		CreatedBy:   userID,
		UpdatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
		DeleteFlag:  domain.DeleteFlagActive,
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return m, nil
}

// activeMappings composes the base query over active rows of one mapping
// type, optionally narrowed by tenant and user. Empty narrowing values are
// skipped. Ordering is fixed so that a historic duplicate set still yields a
// deterministic "first match".
func activeMappings(ctx context.Context, db *gorm.DB, mappingType, tenantID, userID string) *gorm.DB {
	q := db.WithContext(ctx).
		Model(&domain.IdentityMapping{}).
		Where("mapping_type = ? AND delete_flag = ?", mappingType, domain.DeleteFlagActive)
	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	return q.Order("created_at DESC, id DESC")
}

// InternalIDFor resolves a partner external identifier to the internal
// primary key it maps to. Returns ErrNotFound when no active row matches;
// other errors are store failures.
func InternalIDFor(ctx context.Context, db *gorm.DB, externalID, mappingType, tenantID, userID string) (int64, error) {
	var m domain.IdentityMapping
	err := activeMappings(ctx, db, mappingType, tenantID, userID).
		Where("external_id = ?", externalID).
		First(&m).Error
	if err != nil {
		return 0, err
	}
	return m.InternalID, nil
}

// ExternalIDFor is the symmetric reverse lookup: the partner alias for an
// internal primary key. Returns ErrNotFound when no active row matches.
func ExternalIDFor(ctx context.Context, db *gorm.DB, internalID int64, mappingType, tenantID, userID string) (string, error) {
	var m domain.IdentityMapping
	err := activeMappings(ctx, db, mappingType, tenantID, userID).
		Where("internal_id = ?", internalID).
		First(&m).Error
	if err != nil {
		return "", err
	}
	return m.ExternalID, nil
}

// SoftDeleteMapping marks the active row for (externalID, mappingType,
// tenantID) as deleted, recording userID in updated_by. The row is retained
// for audit. Returns ErrNotFound when no active row matches.
func SoftDeleteMapping(ctx context.Context, db *gorm.DB, externalID, mappingType, tenantID, userID string) error {
	res := db.WithContext(ctx).
		Model(&domain.IdentityMapping{}).
		Where("external_id = ? AND mapping_type = ? AND tenant_id = ? AND delete_flag = ?",
			externalID, mappingType, tenantID, domain.DeleteFlagActive).
		Updates(map[string]interface{}{
			"delete_flag": domain.DeleteFlagDeleted,
			"updated_by":  userID,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
