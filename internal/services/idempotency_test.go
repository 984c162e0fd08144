package services

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/skylark-labs/northbound/internal/repo"
)

// newServiceDB opens a throwaway SQLite database with the full schema.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestGuardDo_ExecutesOnceAndReplays(t *testing.T) {
	db := newServiceDB(t)
	g := NewIdempotencyGuard(db, time.Hour)
	ctx := context.Background()

	calls := 0
	fn := func(tx *gorm.DB) (int, []byte, error) {
		calls++
		return http.StatusCreated, []byte(`{"result":"first"}`), nil
	}

	first, err := g.Do(ctx, "acme", "op", "key-1", fn)
	if err != nil {
		t.Fatalf("first Do: %v", err)
	}
	if first.Replayed || first.Status != http.StatusCreated {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := g.Do(ctx, "acme", "op", "key-1", fn)
	if err != nil {
		t.Fatalf("second Do: %v", err)
	}
	if !second.Replayed {
		t.Fatal("retry must be flagged as replay")
	}
	if calls != 1 {
		t.Fatalf("fn executed %d times, want 1", calls)
	}
	// Byte-identical replay.
	if string(second.Body) != string(first.Body) || second.Status != first.Status {
		t.Fatalf("replay differs: first=%+v second=%+v", first, second)
	}
}

func TestGuardDo_KeysScopedPerTenantAndOperation(t *testing.T) {
	db := newServiceDB(t)
	g := NewIdempotencyGuard(db, time.Hour)
	ctx := context.Background()

	calls := 0
	fn := func(tx *gorm.DB) (int, []byte, error) {
		calls++
		return http.StatusOK, []byte("x"), nil
	}

	if _, err := g.Do(ctx, "acme", "op-a", "key-1", fn); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if _, err := g.Do(ctx, "acme", "op-b", "key-1", fn); err != nil {
		t.Fatalf("Do other op: %v", err)
	}
	if _, err := g.Do(ctx, "globex", "op-a", "key-1", fn); err != nil {
		t.Fatalf("Do other tenant: %v", err)
	}
	if calls != 3 {
		t.Fatalf("same key across scopes must not collide: calls=%d", calls)
	}
}

func TestGuardDo_EmptyKeyRunsUnguarded(t *testing.T) {
	db := newServiceDB(t)
	g := NewIdempotencyGuard(db, time.Hour)
	ctx := context.Background()

	calls := 0
	fn := func(tx *gorm.DB) (int, []byte, error) {
		calls++
		return http.StatusOK, nil, nil
	}
	for i := 0; i < 3; i++ {
		res, err := g.Do(ctx, "acme", "op", "", fn)
		if err != nil || res.Replayed {
			t.Fatalf("unguarded run %d: res=%+v err=%v", i, res, err)
		}
	}
	if calls != 3 {
		t.Fatalf("empty key must disable the guard: calls=%d", calls)
	}
}

func TestGuardDo_FailedExecutionDoesNotBurnKey(t *testing.T) {
	db := newServiceDB(t)
	g := NewIdempotencyGuard(db, time.Hour)
	ctx := context.Background()

	boom := fmt.Errorf("downstream unavailable")
	if _, err := g.Do(ctx, "acme", "op", "key-1", func(tx *gorm.DB) (int, []byte, error) {
		return 0, nil, boom
	}); err == nil {
		t.Fatal("expected failure to propagate")
	}

	// The key is still usable: no record was stored for the failed attempt.
	res, err := g.Do(ctx, "acme", "op", "key-1", func(tx *gorm.DB) (int, []byte, error) {
		return http.StatusOK, []byte("ok"), nil
	})
	if err != nil || res.Replayed {
		t.Fatalf("retry after failure must execute fresh: res=%+v err=%v", res, err)
	}
}

func TestGuardDo_SideEffectsShareTransaction(t *testing.T) {
	db := newServiceDB(t)
	g := NewIdempotencyGuard(db, time.Hour)
	ctx := context.Background()

	// A failing fn must roll back its own writes together with the record.
	_, err := g.Do(ctx, "acme", "op", "key-1", func(tx *gorm.DB) (int, []byte, error) {
		if _, cerr := repo.CreateConversation(ctx, tx, "acme", "user-1", "doomed", "support"); cerr != nil {
			return 0, nil, cerr
		}
		return 0, nil, fmt.Errorf("abort after write")
	})
	if err == nil {
		t.Fatal("expected propagated failure")
	}
	n, cerr := repo.CountConversations(ctx, db, "acme", "user-1")
	if cerr != nil || n != 0 {
		t.Fatalf("side effect must roll back: n=%d err=%v", n, cerr)
	}
}

func TestGuardDo_ExpiredKeyIsReusable(t *testing.T) {
	db := newServiceDB(t)
	g := NewIdempotencyGuard(db, time.Hour)
	ctx := context.Background()

	// Seed an already-expired record directly.
	if _, err := repo.CreateIdempotency(ctx, db, "acme", "op", "key-1", http.StatusOK, []byte("stale"), -time.Minute); err != nil {
		t.Fatalf("seed expired: %v", err)
	}

	calls := 0
	res, err := g.Do(ctx, "acme", "op", "key-1", func(tx *gorm.DB) (int, []byte, error) {
		calls++
		return http.StatusOK, []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("Do after expiry: %v", err)
	}
	if res.Replayed || calls != 1 || string(res.Body) != "fresh" {
		t.Fatalf("expired record must not be replayed: res=%+v calls=%d", res, calls)
	}

	// The stale row was reclaimed, so a retry replays the fresh result.
	res, err = g.Do(ctx, "acme", "op", "key-1", func(tx *gorm.DB) (int, []byte, error) {
		calls++
		return http.StatusOK, []byte("newer"), nil
	})
	if err != nil || !res.Replayed || string(res.Body) != "fresh" || calls != 1 {
		t.Fatalf("retry after reclaim: res=%+v calls=%d err=%v", res, calls, err)
	}
}
