package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/skylark-labs/northbound/internal/domain"
)

// newTestDB opens a throwaway SQLite database and runs the full migration,
// including the partial unique index on active mappings.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestCreateMapping_SetsAuditFields(t *testing.T) {
	db := newTestDB(t)

	m, err := CreateMapping(context.Background(), db, 101, "ext-1", domain.MappingTypeConversation, "acme", "user-1")
	if err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}
	if m.ID == "" || m.InternalID != 101 || m.DeleteFlag != domain.DeleteFlagActive {
		t.Fatalf("unexpected mapping: %+v", m)
	}
	if m.CreatedBy != "user-1" || m.UpdatedBy != "user-1" {
		t.Fatalf("audit columns not recorded: %+v", m)
	}
}

func TestMapping_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreateMapping(ctx, db, 101, "ext-1", domain.MappingTypeConversation, "acme", "user-1"); err != nil {
		t.Fatalf("CreateMapping: %v", err)
	}

	id, err := InternalIDFor(ctx, db, "ext-1", domain.MappingTypeConversation, "acme", "")
	if err != nil || id != 101 {
		t.Fatalf("InternalIDFor: id=%d err=%v", id, err)
	}
	ext, err := ExternalIDFor(ctx, db, 101, domain.MappingTypeConversation, "acme", "")
	if err != nil || ext != "ext-1" {
		t.Fatalf("ExternalIDFor: ext=%q err=%v", ext, err)
	}
}

func TestMapping_NotFoundIsSentinel(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := InternalIDFor(ctx, db, "nope", domain.MappingTypeConversation, "acme", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := ExternalIDFor(ctx, db, 999, domain.MappingTypeConversation, "acme", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMapping_ScopedByTypeAndTenant(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Same external id, different mapping types and tenants: all distinct.
	mustCreate := func(internal int64, ext, typ, tenant string) {
		t.Helper()
		if _, err := CreateMapping(ctx, db, internal, ext, typ, tenant, "u"); err != nil {
			t.Fatalf("CreateMapping(%s/%s/%s): %v", ext, typ, tenant, err)
		}
	}
	mustCreate(1, "ext-1", domain.MappingTypeConversation, "acme")
	mustCreate(2, "ext-1", domain.MappingTypeAgent, "acme")
	mustCreate(3, "ext-1", domain.MappingTypeConversation, "globex")

	id, err := InternalIDFor(ctx, db, "ext-1", domain.MappingTypeConversation, "acme", "")
	if err != nil || id != 1 {
		t.Fatalf("acme conversation: id=%d err=%v", id, err)
	}
	id, err = InternalIDFor(ctx, db, "ext-1", domain.MappingTypeAgent, "acme", "")
	if err != nil || id != 2 {
		t.Fatalf("acme agent: id=%d err=%v", id, err)
	}
	id, err = InternalIDFor(ctx, db, "ext-1", domain.MappingTypeConversation, "globex", "")
	if err != nil || id != 3 {
		t.Fatalf("globex conversation: id=%d err=%v", id, err)
	}
}

func TestCreateMapping_DuplicateActiveRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreateMapping(ctx, db, 1, "ext-1", domain.MappingTypeConversation, "acme", "u"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := CreateMapping(ctx, db, 2, "ext-1", domain.MappingTypeConversation, "acme", "u"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestSoftDeleteMapping_HidesRowAndFreesAlias(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := CreateMapping(ctx, db, 1, "ext-1", domain.MappingTypeConversation, "acme", "u"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := SoftDeleteMapping(ctx, db, "ext-1", domain.MappingTypeConversation, "acme", "deleter"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	// Lookups treat the alias as absent.
	if _, err := InternalIDFor(ctx, db, "ext-1", domain.MappingTypeConversation, "acme", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted alias should be absent, got %v", err)
	}
	if _, err := ExternalIDFor(ctx, db, 1, domain.MappingTypeConversation, "acme", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted alias should be absent in reverse, got %v", err)
	}

	// The row itself survives for audit, with the deleter recorded.
	var m domain.IdentityMapping
	if err := db.Where("external_id = ?", "ext-1").First(&m).Error; err != nil {
		t.Fatalf("row must survive soft delete: %v", err)
	}
	if m.DeleteFlag != domain.DeleteFlagDeleted || m.UpdatedBy != "deleter" {
		t.Fatalf("unexpected audit state: %+v", m)
	}

	// The alias is reusable once the old row is inactive.
	if _, err := CreateMapping(ctx, db, 2, "ext-1", domain.MappingTypeConversation, "acme", "u"); err != nil {
		t.Fatalf("alias reuse after soft delete: %v", err)
	}
	id, err := InternalIDFor(ctx, db, "ext-1", domain.MappingTypeConversation, "acme", "")
	if err != nil || id != 2 {
		t.Fatalf("alias should resolve to the new row: id=%d err=%v", id, err)
	}
}

func TestSoftDeleteMapping_AbsentAliasIsNotFound(t *testing.T) {
	db := newTestDB(t)
	if err := SoftDeleteMapping(context.Background(), db, "ghost", domain.MappingTypeConversation, "acme", "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMapping_LookupOrderIsNewestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Historic data may contain several active rows for one alias (the
	// uniqueness constraint is newer than the table). Seed two directly,
	// bypassing CreateMapping and the index by deleting it first.
	if err := db.Exec("DROP INDEX IF EXISTS ux_mapping_active").Error; err != nil {
		t.Fatalf("drop index: %v", err)
	}
	old := domain.IdentityMapping{
		ID: "row-old", InternalID: 1, ExternalID: "ext-1",
		MappingType: domain.MappingTypeConversation, TenantID: "acme",
		UserID: "u", DeleteFlag: domain.DeleteFlagActive,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := old
	newer.ID = "row-new"
	newer.InternalID = 2
	newer.CreatedAt = old.CreatedAt.Add(time.Hour)
	if err := db.Create(&old).Error; err != nil {
		t.Fatalf("seed old: %v", err)
	}
	if err := db.Create(&newer).Error; err != nil {
		t.Fatalf("seed newer: %v", err)
	}

	id, err := InternalIDFor(ctx, db, "ext-1", domain.MappingTypeConversation, "acme", "")
	if err != nil || id != 2 {
		t.Fatalf("expected newest row to win, got id=%d err=%v", id, err)
	}
}
