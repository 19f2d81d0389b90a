package postgres

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqlFile(body string) *fstest.MapFile { return &fstest.MapFile{Data: []byte(body)} }

func TestLoadMigrationsFromFS_OrdersByVersion(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(fstest.MapFS{
		"sql/migrations/0002_orders.up.sql":    sqlFile("CREATE TABLE orders (id TEXT);"),
		"sql/migrations/0002_orders.down.sql":  sqlFile("DROP TABLE orders;"),
		"sql/migrations/0001_catalog.up.sql":   sqlFile("CREATE TABLE products (id TEXT);"),
		"sql/migrations/0001_catalog.down.sql": sqlFile("DROP TABLE products;"),
	})
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, int64(1), migrations[0].Version)
	assert.Equal(t, "catalog", migrations[0].Name)
	assert.Equal(t, "DROP TABLE products;", migrations[0].DownSQL)
	assert.Equal(t, int64(2), migrations[1].Version)
	assert.Equal(t, "orders", migrations[1].Name)
}

func TestLoadMigrationsFromFS_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fs      fstest.MapFS
		wantErr string
	}{
		"missing down": {
			fs:      fstest.MapFS{"sql/migrations/0001_catalog.up.sql": sqlFile("CREATE TABLE products (id TEXT);")},
			wantErr: "both up and down",
		},
		"bad file name": {
			fs:      fstest.MapFS{"sql/migrations/catalog.sql": sqlFile("SELECT 1;")},
			wantErr: "invalid migration file name",
		},
		"blank body": {
			fs: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql":   sqlFile("  \n"),
				"sql/migrations/0001_catalog.down.sql": sqlFile("DROP TABLE products;"),
			},
			wantErr: "empty",
		},
		"same version twice": {
			fs: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql":   sqlFile("CREATE TABLE products (id TEXT);"),
				"sql/migrations/001_catalog.up.sql":    sqlFile("CREATE TABLE products2 (id TEXT);"),
				"sql/migrations/0001_catalog.down.sql": sqlFile("DROP TABLE products;"),
			},
			wantErr: "duplicate up",
		},
		"name mismatch": {
			fs: fstest.MapFS{
				"sql/migrations/0001_catalog.up.sql":  sqlFile("CREATE TABLE products (id TEXT);"),
				"sql/migrations/0001_orders.down.sql": sqlFile("DROP TABLE orders;"),
			},
			wantErr: "name mismatch",
		},
		"no files": {
			fs:      fstest.MapFS{},
			wantErr: "no migration files",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadMigrationsFromFS(tc.fs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrationsFromFS(migrationsFS)
	require.NoError(t, err)
	require.Len(t, migrations, 3)
	for i, m := range migrations {
		assert.Equal(t, int64(i+1), m.Version, "versions must be contiguous")
	}

	assert.Contains(t, migrations[0].UpSQL, "CHECK (stock >= 0)", "stock must never go negative")
	assert.Contains(t, migrations[1].UpSQL, "published_at")
	assert.Contains(t, migrations[2].UpSQL, "support_messages")
}
