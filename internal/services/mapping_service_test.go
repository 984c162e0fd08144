package services

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
	"github.com/skylark-labs/northbound/internal/repo"
)

// fakeMappingRepo returns canned results and records the last call arguments.
type fakeMappingRepo struct {
	createErr error
	lookupID  int64
	lookupErr error
	extID     string
	extErr    error
	deleteErr error

	lastExternalID string
	lastType       string
	lastTenantID   string
	lastUserID     string
}

func (f *fakeMappingRepo) CreateMapping(_ context.Context, _ *gorm.DB, internalID int64, externalID, mappingType, tenantID, userID string) (*domain.IdentityMapping, error) {
	f.lastExternalID, f.lastType, f.lastTenantID, f.lastUserID = externalID, mappingType, tenantID, userID
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.IdentityMapping{InternalID: internalID, ExternalID: externalID}, nil
}

func (f *fakeMappingRepo) InternalIDFor(_ context.Context, _ *gorm.DB, externalID, mappingType, tenantID, userID string) (int64, error) {
	f.lastExternalID, f.lastType, f.lastTenantID, f.lastUserID = externalID, mappingType, tenantID, userID
	return f.lookupID, f.lookupErr
}

func (f *fakeMappingRepo) ExternalIDFor(_ context.Context, _ *gorm.DB, _ int64, mappingType, tenantID, userID string) (string, error) {
	f.lastType, f.lastTenantID, f.lastUserID = mappingType, tenantID, userID
	return f.extID, f.extErr
}

func (f *fakeMappingRepo) SoftDeleteMapping(_ context.Context, _ *gorm.DB, externalID, mappingType, tenantID, userID string) error {
	f.lastExternalID, f.lastType, f.lastTenantID, f.lastUserID = externalID, mappingType, tenantID, userID
	return f.deleteErr
}

func TestMappingServiceAdd_ValidatesInput(t *testing.T) {
	svc := NewMappingService(nil, &fakeMappingRepo{})
	ctx := context.Background()

	if err := svc.Add(ctx, 1, "", domain.MappingTypeConversation, "acme", "u1"); err == nil {
		t.Fatal("empty external id must be rejected")
	}
	if err := svc.Add(ctx, 1, "  ", domain.MappingTypeConversation, "acme", "u1"); err == nil {
		t.Fatal("blank external id must be rejected")
	}
	if err := svc.Add(ctx, 1, "ext-1", domain.MappingTypeConversation, "", "u1"); err == nil {
		t.Fatal("empty tenant id must be rejected")
	}
}

func TestMappingServiceAdd_TranslatesDuplicate(t *testing.T) {
	f := &fakeMappingRepo{createErr: repo.ErrDuplicate}
	svc := NewMappingService(nil, f)

	err := svc.Add(context.Background(), 1, "ext-1", domain.MappingTypeConversation, "acme", "u1")
	if !errors.Is(err, ErrDuplicateMapping) {
		t.Fatalf("want ErrDuplicateMapping, got %v", err)
	}
	if f.lastTenantID != "acme" || f.lastExternalID != "ext-1" {
		t.Fatalf("scope not forwarded: %+v", f)
	}
}

func TestMappingServiceLookup_TranslatesNotFound(t *testing.T) {
	f := &fakeMappingRepo{lookupErr: repo.ErrNotFound, extErr: repo.ErrNotFound}
	svc := NewMappingService(nil, f)
	ctx := context.Background()

	if _, err := svc.InternalIDFor(ctx, "ext-1", domain.MappingTypeConversation, "acme", "u1"); !errors.Is(err, ErrMappingNotFound) {
		t.Fatalf("want ErrMappingNotFound, got %v", err)
	}
	if _, err := svc.ExternalIDFor(ctx, 1, domain.MappingTypeConversation, "acme", "u1"); !errors.Is(err, ErrMappingNotFound) {
		t.Fatalf("want ErrMappingNotFound, got %v", err)
	}
}

func TestMappingServiceLookup_StoreErrorsPropagateUnchanged(t *testing.T) {
	boom := errors.New("disk on fire")
	f := &fakeMappingRepo{lookupErr: boom, extErr: boom, deleteErr: boom}
	svc := NewMappingService(nil, f)
	ctx := context.Background()

	if _, err := svc.InternalIDFor(ctx, "ext-1", domain.MappingTypeConversation, "acme", "u1"); !errors.Is(err, boom) {
		t.Fatalf("store error rewritten: %v", err)
	}
	if errors.Is(f.lookupErr, ErrMappingNotFound) {
		t.Fatal("sanity: boom must not alias the sentinel")
	}
	if _, err := svc.ExternalIDFor(ctx, 1, domain.MappingTypeConversation, "acme", "u1"); !errors.Is(err, boom) {
		t.Fatalf("store error rewritten: %v", err)
	}
	if err := svc.Remove(ctx, "ext-1", domain.MappingTypeConversation, "acme", "u1"); !errors.Is(err, boom) {
		t.Fatalf("store error rewritten: %v", err)
	}
}

func TestMappingServiceRemove_AbsentAlias(t *testing.T) {
	f := &fakeMappingRepo{deleteErr: repo.ErrNotFound}
	svc := NewMappingService(nil, f)

	err := svc.Remove(context.Background(), "ghost", domain.MappingTypeConversation, "acme", "u1")
	if !errors.Is(err, ErrMappingNotFound) {
		t.Fatalf("want ErrMappingNotFound, got %v", err)
	}
}

func TestMappingService_RoundTripAgainstStore(t *testing.T) {
	db := newServiceDB(t)
	svc := NewMappingService(db, realMappingRepo{})
	ctx := context.Background()

	if err := svc.Add(ctx, 41, "conv-abc", domain.MappingTypeConversation, "acme", "u1"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, err := svc.InternalIDFor(ctx, "conv-abc", domain.MappingTypeConversation, "acme", "u1")
	if err != nil || id != 41 {
		t.Fatalf("InternalIDFor: id=%d err=%v", id, err)
	}
	ext, err := svc.ExternalIDFor(ctx, 41, domain.MappingTypeConversation, "acme", "u1")
	if err != nil || ext != "conv-abc" {
		t.Fatalf("ExternalIDFor: ext=%q err=%v", ext, err)
	}

	if err := svc.Add(ctx, 99, "conv-abc", domain.MappingTypeConversation, "acme", "u1"); !errors.Is(err, ErrDuplicateMapping) {
		t.Fatalf("second claim of live alias: %v", err)
	}

	if err := svc.Remove(ctx, "conv-abc", domain.MappingTypeConversation, "acme", "u1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := svc.InternalIDFor(ctx, "conv-abc", domain.MappingTypeConversation, "acme", "u1"); !errors.Is(err, ErrMappingNotFound) {
		t.Fatalf("removed alias must read absent, got %v", err)
	}
	// The alias is free again after the soft delete.
	if err := svc.Add(ctx, 99, "conv-abc", domain.MappingTypeConversation, "acme", "u1"); err != nil {
		t.Fatalf("re-claim after removal: %v", err)
	}
}

// realMappingRepo adapts the repo free functions to the MappingRepo interface.
type realMappingRepo struct{}

func (realMappingRepo) CreateMapping(ctx context.Context, db *gorm.DB, internalID int64, externalID, mappingType, tenantID, userID string) (*domain.IdentityMapping, error) {
	return repo.CreateMapping(ctx, db, internalID, externalID, mappingType, tenantID, userID)
}

func (realMappingRepo) InternalIDFor(ctx context.Context, db *gorm.DB, externalID, mappingType, tenantID, userID string) (int64, error) {
	return repo.InternalIDFor(ctx, db, externalID, mappingType, tenantID, userID)
}

func (realMappingRepo) ExternalIDFor(ctx context.Context, db *gorm.DB, internalID int64, mappingType, tenantID, userID string) (string, error) {
	return repo.ExternalIDFor(ctx, db, internalID, mappingType, tenantID, userID)
}

func (realMappingRepo) SoftDeleteMapping(ctx context.Context, db *gorm.DB, externalID, mappingType, tenantID, userID string) error {
	return repo.SoftDeleteMapping(ctx, db, externalID, mappingType, tenantID, userID)
}
