// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// IdempotencyRecord model used to implement safe-retry semantics for
// mutating northbound operations.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
)

// GetIdempotency returns the non-expired record for (tenantID, operation,
// key) or ErrNotFound. Expired rows are treated as absent: the key becomes
// reusable once its retention window has passed.
func GetIdempotency(ctx context.Context, db *gorm.DB, tenantID, operation, key string, now time.Time) (*domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND operation = ? AND key = ? AND expires_at > ?", tenantID, operation, key, now).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record holding the first successful response
// for (tenantID, operation, key). The unique index over that tuple makes the
// insert atomic: a concurrent first call loses the race with ErrDuplicate
// instead of producing a second record.
func CreateIdempotency(ctx context.Context, db *gorm.DB, tenantID, operation, key string, status int, response []byte, ttl time.Duration) (*domain.IdempotencyRecord, error) {
	if response == nil {
		response = []byte{}
	}
	now := time.Now().UTC()
	rec := &domain.IdempotencyRecord{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Operation: operation,
		Key:       key,
		Status:    status,
		Response:  response,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteExpiredIdempotencyKey removes an expired record occupying the unique
// slot for (tenantID, operation, key) so the key can be claimed again
// immediately instead of waiting for the periodic purge.
func DeleteExpiredIdempotencyKey(ctx context.Context, db *gorm.DB, tenantID, operation, key string, now time.Time) error {
	return db.WithContext(ctx).
		Where("tenant_id = ? AND operation = ? AND key = ? AND expires_at <= ?", tenantID, operation, key, now).
		Delete(&domain.IdempotencyRecord{}).Error
}

// PurgeExpiredIdempotency hard-deletes records whose retention window has
// passed. Intended for a periodic maintenance call; correctness does not
// depend on it since lookups already exclude expired rows.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.IdempotencyRecord{})
	return res.RowsAffected, res.Error
}
