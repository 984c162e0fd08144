// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file contains database bootstrapping helpers for
// SQLite (pure Go driver) and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/skylark-labs/northbound/internal/domain"
)

// OpenSQLite opens (or creates) a SQLite database, applies PRAGMAs, and
// installs the OpenTelemetry tracing plugin so store latency shows up on
// request spans.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if parent directory does not exist (instead of sqlite "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA foreign_keys=ON;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all persisted models and the
// partial unique index guarding active identity mappings. GORM tags cannot
// express a filtered index, so it is issued as raw DDL here.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&domain.IdentityMapping{},
		&domain.UserTenant{},
		&domain.Conversation{},
		&domain.IdempotencyRecord{},
	); err != nil {
		return err
	}
	// One active alias per (external_id, mapping_type, tenant_id); soft-deleted
	// rows stay out of the constraint so an alias can be reused after deletion.
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_mapping_active
		 ON identity_mappings(external_id, mapping_type, tenant_id)
		 WHERE delete_flag = 'N'`,
	).Error
}
