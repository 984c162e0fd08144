// Package services – IdempotencyGuard
//
// This file implements at-most-once execution for mutating northbound
// operations. The first successful execution for a given key is persisted in
// the same transaction as its side effects; retries replay the stored
// response byte-identically without re-executing anything. Keys are scoped
// per (tenant, operation) so the same client key cannot collide across
// endpoints.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/skylark-labs/northbound/internal/repo"
)

// GuardResult is the outcome of a guarded mutation: the HTTP status and
// serialized body to return, and whether they were replayed from a stored
// record rather than freshly produced.
type GuardResult struct {
	Status   int
	Body     []byte
	Replayed bool
}

// IdempotencyGuard wraps mutating operations with safe-retry semantics
// backed by the idempotency_records table.
type IdempotencyGuard struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// TTL is the retention window after which a key becomes reusable.
	TTL time.Duration
}

// NewIdempotencyGuard constructs a guard with the given retention window.
func NewIdempotencyGuard(db *gorm.DB, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{DB: db, TTL: ttl}
}

// Do executes fn at most once per (tenantID, operation, key) within the TTL
// window. fn receives a transaction handle and returns the status and body
// to record; its side effects must go through that handle so they commit or
// roll back together with the idempotency record.
//
// An empty key disables the guard: fn runs unguarded against the base DB
// handle (the request simply is not retriable).
//
// Concurrency: two first calls racing on the same key are serialized by the
// unique index on (tenant_id, operation, key). The loser's transaction rolls
// back, fn's side effects included, and the stored winner's response is
// replayed, so the mutation is observed to execute exactly once.
func (g *IdempotencyGuard) Do(ctx context.Context, tenantID, operation, key string, fn func(tx *gorm.DB) (int, []byte, error)) (GuardResult, error) {
	if key == "" {
		status, body, err := fn(g.DB)
		return GuardResult{Status: status, Body: body}, err
	}

	now := time.Now().UTC()
	if rec, err := repo.GetIdempotency(ctx, g.DB, tenantID, operation, key, now); err == nil {
		return GuardResult{Status: rec.Status, Body: rec.Response, Replayed: true}, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return GuardResult{}, err
	}
	// An expired record still holds the unique slot; clear it so the key is
	// reusable now instead of after the next purge cycle.
	if err := repo.DeleteExpiredIdempotencyKey(ctx, g.DB, tenantID, operation, key, now); err != nil {
		return GuardResult{}, err
	}

	var status int
	var body []byte
	err := g.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ferr error
		status, body, ferr = fn(tx)
		if ferr != nil {
			return ferr
		}
		_, cerr := repo.CreateIdempotency(ctx, tx, tenantID, operation, key, status, body, g.TTL)
		return cerr
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost the first-call race: our transaction rolled back, replay the
		// winner's stored response.
		rec, gerr := repo.GetIdempotency(ctx, g.DB, tenantID, operation, key, now)
		if gerr != nil {
			return GuardResult{}, gerr
		}
		return GuardResult{Status: rec.Status, Body: rec.Response, Replayed: true}, nil
	}
	if err != nil {
		return GuardResult{}, err
	}
	return GuardResult{Status: status, Body: body}, nil
}
