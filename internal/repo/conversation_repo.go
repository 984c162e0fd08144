// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
)

// CreateConversation inserts a new conversation owned by (tenantID, userID)
// and returns the persisted row with its generated internal id.
func CreateConversation(ctx context.Context, db *gorm.DB, tenantID, userID, title, agentCode string) (*domain.Conversation, error) {
	c := &domain.Conversation{
		TenantID:  tenantID,
		UserID:    userID,
		Title:     title,
		AgentCode: agentCode,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a single conversation by its internal id, scoped
// to the owning tenant. Returns ErrNotFound if missing.
func GetConversation(ctx context.Context, db *gorm.DB, internalID int64, tenantID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("internal_id = ? AND tenant_id = ?", internalID, tenantID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountConversations returns the total number of conversations owned by
// (tenantID, userID).
func CountConversations(ctx context.Context, db *gorm.DB, tenantID, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of conversations for (tenantID,
// userID), most recent first. The caller computes offset and limit.
func ListConversationsPage(ctx context.Context, db *gorm.DB, tenantID, userID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ConversationStats returns the row count and latest update time for a
// tenant user's conversations, for cheap ETag computation on list responses.
func ConversationStats(ctx context.Context, db *gorm.DB, tenantID, userID string) (int64, *time.Time, error) {
	var total int64
	if err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Count(&total).Error; err != nil {
		return 0, nil, err
	}
	// MAX over zero rows is NULL, which cannot scan into time.Time directly.
	var maxTS sql.NullTime
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Select("MAX(updated_at)").
		Scan(&maxTS).Error
	if err != nil || !maxTS.Valid {
		return total, nil, err
	}
	ts := maxTS.Time
	return total, &ts, nil
}

// UpdateConversationTitle renames a conversation identified by internal id
// and owning tenant. Returns ErrNotFound when no row is affected.
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, internalID int64, tenantID, title string) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("internal_id = ? AND tenant_id = ?", internalID, tenantID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
