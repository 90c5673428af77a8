package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/resilink/internal/infra/storage"
)

func newSQLiteDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(context.Background(), Config{
		Driver: "sqlite3",
		Path:   filepath.Join(t.TempDir(), "queue.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStore_SQLite(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newSQLiteDB(t), "default")

	_, err := s.Get(ctx, "a")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	require.NoError(t, s.Put(ctx, "a", []byte(`{"n":1}`)))
	require.NoError(t, s.Put(ctx, "a", []byte(`{"n":2}`)))
	require.NoError(t, s.Put(ctx, "b", []byte(`{"n":3}`)))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":2}`, string(got))

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))
	all, _ = s.List(ctx)
	assert.Len(t, all, 1)
}

func TestStore_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	a := NewStore(db, "a")
	b := NewStore(db, "b")

	require.NoError(t, a.Put(ctx, "k", []byte("1")))
	require.NoError(t, b.Put(ctx, "k", []byte("2")))
	require.NoError(t, a.Clear(ctx))

	all, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))
}

func TestDataSource(t *testing.T) {
	tests := []struct {
		cfg     Config
		driver  string
		wantErr bool
	}{
		{Config{URL: "postgres://x"}, "pgx", false},
		{Config{Driver: "postgres", URL: "postgres://x"}, "postgres", false},
		{Config{Driver: "pgx"}, "", true},
		{Config{Driver: "sqlite3"}, "", true},
		{Config{Driver: "mysql", URL: "x"}, "", true},
	}

	for _, tt := range tests {
		driver, _, err := dataSource(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("dataSource(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			continue
		}
		if driver != tt.driver {
			t.Errorf("dataSource(%+v) driver = %q, want %q", tt.cfg, driver, tt.driver)
		}
	}
}
