package boltsource

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/gitter-badger/ressor/source"
)

const (
	testBucket = "feeds"
	testKey    = "pricing"
)

func openTestDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "source.db"), 0o600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func putValue(t *testing.T, db *bolt.DB, value string) {
	t.Helper()
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(testBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(testKey), []byte(value))
	}))
}

func readAll(t *testing.T, res *source.LoadedResource) string {
	t.Helper()
	require.NotNil(t, res)
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Close())
	return string(data)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing db and path", Config{Bucket: testBucket, Key: testKey}, "db handle or path is required"},
		{"missing bucket", Config{Path: "x.db", Key: testKey}, "bucket is required"},
		{"missing key", Config{Path: "x.db", Bucket: testBucket}, "key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	db := openTestDB(t)
	putValue(t, db, "init")

	src, err := New(Config{DB: db, Bucket: testBucket, Key: testKey})
	require.NoError(t, err)

	res, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "init", readAll(t, res))
	assert.Equal(t, source.KindETag, res.Version.Kind())
	assert.Contains(t, res.ResourceID, "#feeds/pricing")
}

func TestLoad_MissingBucketAndKey(t *testing.T) {
	db := openTestDB(t)

	src, err := New(Config{DB: db, Bucket: testBucket, Key: testKey})
	require.NoError(t, err)

	_, err = src.Load(context.Background())
	require.Error(t, err)
	assert.True(t, source.IsFetchError(err))
	assert.ErrorIs(t, err, source.ErrNotFound)

	// Bucket exists but the key does not.
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(testBucket))
		return err
	}))
	_, err = src.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestLoadIfModified(t *testing.T) {
	db := openTestDB(t)
	putValue(t, db, "init")

	src, err := New(Config{DB: db, Bucket: testBucket, Key: testKey})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "init", readAll(t, res))

	for range 2 {
		next, modified, err := src.LoadIfModified(ctx, res.Version)
		require.NoError(t, err)
		assert.False(t, modified)
		assert.Nil(t, next)
	}

	putValue(t, db, "one")
	next, modified, err := src.LoadIfModified(ctx, res.Version)
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, "one", readAll(t, next))
	assert.False(t, next.Version.Equal(res.Version))
}

func TestLoadIfModified_EmptyPriorAlwaysModified(t *testing.T) {
	db := openTestDB(t)
	putValue(t, db, "init")

	src, err := New(Config{DB: db, Bucket: testBucket, Key: testKey})
	require.NoError(t, err)

	res, modified, err := src.LoadIfModified(context.Background(), source.Version{})
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, "init", readAll(t, res))
}

func TestLoadedValueSurvivesLaterWrites(t *testing.T) {
	// The returned body must be a copy; bbolt pages are reused after
	// the read transaction ends.
	db := openTestDB(t)
	putValue(t, db, "init")

	src, err := New(Config{DB: db, Bucket: testBucket, Key: testKey})
	require.NoError(t, err)

	res, err := src.Load(context.Background())
	require.NoError(t, err)

	putValue(t, db, "overwritten")
	assert.Equal(t, "init", readAll(t, res))
}

func TestNew_OpensOwnDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "own.db")
	seed, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, seed.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(testBucket))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(testKey), []byte("init"))
	}))
	require.NoError(t, seed.Close())

	src, err := New(Config{Path: path, Bucket: testBucket, Key: testKey})
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	res, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "init", readAll(t, res))
}

func TestClose_LeavesInjectedDBOpen(t *testing.T) {
	db := openTestDB(t)
	putValue(t, db, "init")

	src, err := New(Config{DB: db, Bucket: testBucket, Key: testKey})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	// The injected handle still works after the source is closed.
	require.NoError(t, db.View(func(tx *bolt.Tx) error { return nil }))
}
