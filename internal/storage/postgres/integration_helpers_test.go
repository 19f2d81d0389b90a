package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// testDSNEnv включает интеграционные тесты с реальным PostgreSQL.
const testDSNEnv = "STOREFRONT_POSTGRES_TEST_DSN"

// openTestStore открывает базу, накатывает миграции и очищает таблицы витрины.
func openTestStore(t *testing.T) *Store {
	t.Helper()

	store := openBareTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `
		TRUNCATE TABLE idempotency_keys, outbox_messages, support_messages, profiles, order_items, orders, products
		RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("reset storefront tables: %v", err)
	}
	return store
}

// openBareTestStore открывает базу без миграций.
func openBareTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not reachable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
