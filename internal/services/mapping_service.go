// Package services – MappingService
//
// This file implements the identity-virtualization service. Partners address
// platform resources exclusively through identifiers they chose themselves;
// the MappingService translates those aliases to internal primary keys and
// back, excluding soft-deleted rows from every lookup. Internal keys never
// leak across the northbound boundary.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/domain"
	"github.com/skylark-labs/northbound/internal/repo"
)

// MappingRepo defines the repository contract required by MappingService.
type MappingRepo interface {
	// CreateMapping inserts a new active mapping row.
	CreateMapping(ctx context.Context, db *gorm.DB, internalID int64, externalID, mappingType, tenantID, userID string) (*domain.IdentityMapping, error)

	// InternalIDFor resolves an external identifier to its internal key.
	InternalIDFor(ctx context.Context, db *gorm.DB, externalID, mappingType, tenantID, userID string) (int64, error)

	// ExternalIDFor resolves an internal key to its external identifier.
	ExternalIDFor(ctx context.Context, db *gorm.DB, internalID int64, mappingType, tenantID, userID string) (string, error)

	// SoftDeleteMapping marks the active row for the alias as deleted.
	SoftDeleteMapping(ctx context.Context, db *gorm.DB, externalID, mappingType, tenantID, userID string) error
}

// MappingService provides alias translation scoped to a tenant. It is safe
// for concurrent use.
type MappingService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the mapping repository used by this service.
	Repo MappingRepo
}

// NewMappingService constructs a MappingService over db.
func NewMappingService(db *gorm.DB, r MappingRepo) *MappingService {
	return &MappingService{DB: db, Repo: r}
}

// Add records that externalID is the partner alias for internalID within
// (mappingType, tenantID). Returns ErrDuplicateMapping when the alias is
// already claimed by an active row; any other failure is a store error.
func (s *MappingService) Add(ctx context.Context, internalID int64, externalID, mappingType, tenantID, userID string) error {
	if strings.TrimSpace(externalID) == "" {
		return fmt.Errorf("external id must not be empty")
	}
	if strings.TrimSpace(tenantID) == "" {
		return fmt.Errorf("tenant id must not be empty")
	}
	_, err := s.Repo.CreateMapping(ctx, s.DB, internalID, externalID, mappingType, tenantID, userID)
	if errors.Is(err, repo.ErrDuplicate) {
		return ErrDuplicateMapping
	}
	return err
}

// InternalIDFor translates a partner alias to the internal key it maps to.
// tenantID and userID optionally narrow the match; pass "" to skip.
// Returns ErrMappingNotFound for a valid absence; store failures propagate
// unchanged so outages are never reported as missing rows.
func (s *MappingService) InternalIDFor(ctx context.Context, externalID, mappingType, tenantID, userID string) (int64, error) {
	id, err := s.Repo.InternalIDFor(ctx, s.DB, externalID, mappingType, tenantID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrMappingNotFound
	}
	return id, err
}

// ExternalIDFor translates an internal key back to its partner alias,
// symmetric to InternalIDFor.
func (s *MappingService) ExternalIDFor(ctx context.Context, internalID int64, mappingType, tenantID, userID string) (string, error) {
	ext, err := s.Repo.ExternalIDFor(ctx, s.DB, internalID, mappingType, tenantID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrMappingNotFound
	}
	return ext, err
}

// Remove soft-deletes the active mapping for the alias. The row survives for
// audit; subsequent lookups treat the alias as absent and Add may claim it
// again.
func (s *MappingService) Remove(ctx context.Context, externalID, mappingType, tenantID, userID string) error {
	err := s.Repo.SoftDeleteMapping(ctx, s.DB, externalID, mappingType, tenantID, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrMappingNotFound
	}
	return err
}
