package cache

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_PutGet(t *testing.T) {
	store := openStore(t)

	_, ok, err := store.Get("./src/A.stories.ts", "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put("./src/A.stories.ts", "h1", []byte(`{"title":"A"}`)))
	got, ok, err := store.Get("./src/A.stories.ts", "h1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"title":"A"}`, string(got))

	_, ok, err = store.Get("./src/A.stories.ts", "h2")
	require.NoError(t, err)
	assert.False(t, ok, "a stale hash is a miss")

	require.NoError(t, store.Put("./src/A.stories.ts", "h2", []byte(`{"title":"B"}`)))
	got, ok, err = store.Get("./src/A.stories.ts", "h2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"title":"B"}`, string(got))

	st, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Entries: 1, Hits: 1}, st)
}

func TestStore_Delete(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Put("./a.mdx", "h", []byte("x")))
	require.NoError(t, store.Delete("./a.mdx"))
	require.NoError(t, store.Delete("./missing.mdx"))

	_, ok, err := store.Get("./a.mdx", "h")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Prune(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Put("./a.stories.js", "h", []byte("x")))

	n, err := store.Prune(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = store.Prune(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put("./a.stories.js", "h", []byte("payload")))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	got, ok, err := store.Get("./a.stories.js", "h")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))
}

func TestOpen_RejectsBadPaths(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)

	_, err = Open(t.TempDir())
	assert.ErrorContains(t, err, "is a directory")
}

func TestEnsureSchema_RejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := sql.Open(driverName, "file:"+path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE schema_migrations (version INTEGER PRIMARY KEY, applied_at_utc TEXT NOT NULL DEFAULT (CURRENT_TIMESTAMP));
INSERT INTO schema_migrations(version) VALUES (99);`)
	require.NoError(t, err)
	err = EnsureSchema(db)
	require.NoError(t, db.Close())
	assert.ErrorContains(t, err, "newer than supported")
}

func TestIsCorruptError(t *testing.T) {
	assert.True(t, IsCorruptError(os.ErrInvalid))
	assert.False(t, IsCorruptError(sql.ErrConnDone))
	assert.False(t, IsCorruptError(nil))
}
