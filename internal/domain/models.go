// Package domain defines the persistence models for the northbound partner
// gateway: identity mappings between partner-visible external identifiers and
// internal platform keys, user→tenant relationships, and conversations.
// These types are mapped with GORM and form the core data layer.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Mapping types currently recognized by the gateway. The column is a plain
// string so new resource kinds can be introduced without a schema change.
const (
	MappingTypeConversation = "CONVERSATION"
	MappingTypeAgent        = "AGENT"
)

// Values stored in the delete_flag column of IdentityMapping.
const (
	DeleteFlagActive  = "N"
	DeleteFlagDeleted = "Y"
)

// IdentityMapping links a partner-chosen external identifier to an internal
// numeric primary key, scoped by mapping type and tenant. Rows are never
// hard-deleted: delete_flag is flipped to 'Y' instead so history survives
// for audit. At most one active row may exist per
// (external_id, mapping_type, tenant_id); the partial unique index that
// enforces this is created in repo.AutoMigrate because GORM tags cannot
// express a WHERE clause.
//
// Fields:
//   - ID: surrogate primary key for the mapping row itself.
//   - InternalID: the platform's own primary key for the resource.
//   - ExternalID: the partner's identifier, opaque to the platform.
//   - MappingType: resource kind tag (CONVERSATION, AGENT, ...).
//   - TenantID / UserID: ownership scope of the mapping.
//   - CreatedBy / UpdatedBy: audit identities.
//   - DeleteFlag: 'N' for active, 'Y' for soft-deleted.
type IdentityMapping struct {
	ID          string    `json:"-"            gorm:"type:char(36);primaryKey"`
	InternalID  int64     `json:"-"            gorm:"not null;index:idx_mapping_internal,priority:1"`
	ExternalID  string    `json:"external_id"  gorm:"type:varchar(128);not null;index:idx_mapping_external,priority:1"`
	MappingType string    `json:"mapping_type" gorm:"type:varchar(32);not null;index:idx_mapping_external,priority:2;index:idx_mapping_internal,priority:2"`
	TenantID    string    `json:"tenant_id"    gorm:"type:varchar(64);not null;index:idx_mapping_external,priority:3;index:idx_mapping_internal,priority:3"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null"`
	CreatedBy   string    `json:"-"            gorm:"type:varchar(64)"`
	UpdatedBy   string    `json:"-"            gorm:"type:varchar(64)"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	DeleteFlag  string    `json:"-"            gorm:"type:char(1);not null;default:'N'"`
}

// TableName returns the database table name for IdentityMapping.
func (IdentityMapping) TableName() string { return "identity_mappings" }

// UserTenant records the tenant an internal user belongs to. Northbound
// traffic may arrive for users that have never been provisioned here; the
// TenantResolver then falls back to the configured default tenant.
type UserTenant struct {
	UserID    string    `json:"user_id"   gorm:"type:varchar(64);primaryKey"`
	TenantID  string    `json:"tenant_id" gorm:"type:varchar(64);not null;index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserTenant.
func (UserTenant) TableName() string { return "user_tenants" }

// Conversation represents a chat thread owned by a tenant user. Partners
// never see the numeric InternalID; responses carry the external identifier
// resolved through IdentityMapping.
//
// Fields:
//   - InternalID: auto-incremented platform primary key.
//   - TenantID / UserID: ownership scope.
//   - Title: human-readable name (normalized and clipped by the service).
//   - AgentCode: the agent answering this conversation.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Conversation struct {
	InternalID int64          `json:"-"          gorm:"column:internal_id;primaryKey;autoIncrement"`
	TenantID   string         `json:"tenant_id"  gorm:"type:varchar(64);not null;index:idx_tenant_convs,priority:1"`
	UserID     string         `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_tenant_convs,priority:2"`
	Title      string         `json:"title"      gorm:"type:varchar(255);not null;default:'New conversation'"`
	AgentCode  string         `json:"agent_code" gorm:"type:varchar(64)"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }
