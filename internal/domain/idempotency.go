// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// IdempotencyRecord stores the outcome of the first successful execution of
// a mutating northbound operation, keyed by (tenant_id, operation, key).
// Retries carrying the same Idempotency-Key within the TTL window replay the
// stored response byte-for-byte instead of re-executing side effects.
type IdempotencyRecord struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	TenantID  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_tenant_op_key,priority:1"`
	Operation string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_tenant_op_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_tenant_op_key,priority:3"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	Response  []byte    `gorm:"type:BLOB NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (IdempotencyRecord) TableName() string { return "idempotency_records" }
