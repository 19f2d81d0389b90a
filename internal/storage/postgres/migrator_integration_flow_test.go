package postgres

import (
	"context"
	"testing"
	"time"
)

func TestMigrator_PostgresLifecycle(t *testing.T) {
	store := openBareTestStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := store.MigrateDown(ctx, 100); err != nil {
		t.Fatalf("migrate down reset: %v", err)
	}
	assertMigrationState(t, store, 0, 0, 3)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up all: %v", err)
	}
	assertMigrationState(t, store, 3, 3, 0)

	// Повторный up ничего не меняет.
	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("idempotent migrate up: %v", err)
	}
	assertMigrationState(t, store, 3, 3, 0)

	if err := store.MigrateDown(ctx, 1); err != nil {
		t.Fatalf("migrate down 1: %v", err)
	}
	assertMigrationState(t, store, 2, 2, 1)

	if err := store.MigrateDown(ctx, 0); err != nil {
		t.Fatalf("migrate down default step: %v", err)
	}
	assertMigrationState(t, store, 1, 1, 2)

	if err := store.MigrateUp(ctx, 1); err != nil {
		t.Fatalf("migrate up one step: %v", err)
	}
	assertMigrationState(t, store, 2, 2, 1)

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up rest: %v", err)
	}
	assertMigrationState(t, store, 3, 3, 0)
}

func TestMigrator_NilStoreGuards(t *testing.T) {
	var nilStore *Store
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := nilStore.MigrateUp(ctx, 0); err == nil {
		t.Fatal("expected error for nil store MigrateUp")
	}
	if err := nilStore.MigrateDown(ctx, 1); err == nil {
		t.Fatal("expected error for nil store MigrateDown")
	}
	if _, err := nilStore.MigrationStatus(ctx); err == nil {
		t.Fatal("expected error for nil store MigrationStatus")
	}
}

func assertMigrationState(t *testing.T, store *Store, version int64, applied, pending int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("migration status: %v", err)
	}
	if state.Version != version || state.Applied != applied || len(state.Pending) != pending {
		t.Fatalf("unexpected migration state: %+v (want version=%d applied=%d pending=%d)", state, version, applied, pending)
	}
}
