package domain

import (
	"testing"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:domain_models?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestTableNames(t *testing.T) {
	if (IdentityMapping{}).TableName() != "identity_mappings" {
		t.Fatalf("IdentityMapping.TableName() = %q", (IdentityMapping{}).TableName())
	}
	if (UserTenant{}).TableName() != "user_tenants" {
		t.Fatalf("UserTenant.TableName() = %q", (UserTenant{}).TableName())
	}
	if (Conversation{}).TableName() != "conversations" {
		t.Fatalf("Conversation.TableName() = %q", (Conversation{}).TableName())
	}
	if (IdempotencyRecord{}).TableName() != "idempotency_records" {
		t.Fatalf("IdempotencyRecord.TableName() = %q", (IdempotencyRecord{}).TableName())
	}
}

func TestMigrations_TablesAndIndexes(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&IdentityMapping{}, &UserTenant{}, &Conversation{}, &IdempotencyRecord{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()

	for _, tbl := range []any{&IdentityMapping{}, &UserTenant{}, &Conversation{}, &IdempotencyRecord{}} {
		if !m.HasTable(tbl) {
			t.Fatalf("expected table for %T to exist", tbl)
		}
	}

	if !m.HasIndex(&IdentityMapping{}, "idx_mapping_external") {
		t.Fatal("external lookup index missing")
	}
	if !m.HasIndex(&IdentityMapping{}, "idx_mapping_internal") {
		t.Fatal("internal lookup index missing")
	}
	if !m.HasIndex(&IdempotencyRecord{}, "ux_tenant_op_key") {
		t.Fatal("idempotency unique index missing")
	}
	if !m.HasIndex(&Conversation{}, "idx_tenant_convs") {
		t.Fatal("tenant conversation index missing")
	}
}
