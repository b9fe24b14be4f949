package s3source

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitter-badger/ressor/source"
)

// fakeS3 scripts one object with validator metadata and per-operation
// call counting.
type fakeS3 struct {
	mu sync.Mutex

	body         string
	etag         string
	lastModified *time.Time
	missing      bool

	gets  int
	heads int
}

func (f *fakeS3) set(body, etag string, lastModified *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = body
	f.etag = etag
	f.lastModified = lastModified
	f.missing = false
}

func (f *fakeS3) counts() (gets, heads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.heads
}

func (f *fakeS3) GetObject(_ context.Context, _ *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.missing {
		return nil, &types.NoSuchKey{}
	}
	out := &s3.GetObjectOutput{
		Body:         io.NopCloser(strings.NewReader(f.body)),
		LastModified: f.lastModified,
	}
	if f.etag != "" {
		out.ETag = aws.String(f.etag)
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	if f.missing {
		return nil, &types.NotFound{}
	}
	out := &s3.HeadObjectOutput{LastModified: f.lastModified}
	if f.etag != "" {
		out.ETag = aws.String(f.etag)
	}
	return out, nil
}

func newTestSource(t *testing.T, client API) *Source {
	t.Helper()
	src, err := New(Config{Client: client, Bucket: "feeds", Key: "pricing.json"})
	require.NoError(t, err)
	return src
}

func readAll(t *testing.T, res *source.LoadedResource) string {
	t.Helper()
	require.NotNil(t, res)
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Close())
	return string(data)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client is required")
	assert.Contains(t, err.Error(), "bucket is required")
	assert.Contains(t, err.Error(), "key is required")

	src := newTestSource(t, &fakeS3{})
	assert.Equal(t, "s3://feeds/pricing.json", src.ResourceID())
}

func TestLoad_VersionFromETag(t *testing.T) {
	fake := &fakeS3{}
	fake.set("init", `"1ab"`, timePtr(time.Now()))

	src := newTestSource(t, fake)

	res, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "init", readAll(t, res))
	assert.Equal(t, source.ETag(`"1ab"`), res.Version)

	gets, heads := fake.counts()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 0, heads)
}

func TestLoad_FallsBackToLastModified(t *testing.T) {
	stamp := time.Date(2019, time.June, 20, 18, 31, 34, 0, time.UTC)
	fake := &fakeS3{}
	fake.set("init", "", timePtr(stamp))

	src := newTestSource(t, fake)

	res, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "init", readAll(t, res))
	assert.True(t, res.Version.Equal(source.LastModified(stamp)))
}

func TestLoad_NotFound(t *testing.T) {
	src := newTestSource(t, &fakeS3{missing: true})

	_, err := src.Load(context.Background())
	require.Error(t, err)
	assert.True(t, source.IsFetchError(err))
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestLoadIfModified_UnchangedSkipsBody(t *testing.T) {
	fake := &fakeS3{}
	fake.set("init", `"1ab"`, nil)

	src := newTestSource(t, fake)
	ctx := context.Background()

	res, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "init", readAll(t, res))

	// Probe twice; the validator matches, so no body is ever fetched.
	for range 2 {
		next, modified, err := src.LoadIfModified(ctx, res.Version)
		require.NoError(t, err)
		assert.False(t, modified)
		assert.Nil(t, next)
	}

	gets, heads := fake.counts()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 2, heads)
}

func TestLoadIfModified_ChangedFetchesOnce(t *testing.T) {
	fake := &fakeS3{}
	fake.set("init", `"1ab"`, nil)

	src := newTestSource(t, fake)
	ctx := context.Background()

	res, err := src.Load(ctx)
	require.NoError(t, err)
	readAll(t, res)

	fake.set("one", `"1ad"`, nil)
	next, modified, err := src.LoadIfModified(ctx, res.Version)
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, "one", readAll(t, next))
	assert.Equal(t, source.ETag(`"1ad"`), next.Version)

	gets, heads := fake.counts()
	assert.Equal(t, 2, gets)
	assert.Equal(t, 1, heads)
}

func TestLoadIfModified_EmptyPriorSkipsProbe(t *testing.T) {
	fake := &fakeS3{}
	fake.set("init", `"1ab"`, nil)

	src := newTestSource(t, fake)

	res, modified, err := src.LoadIfModified(context.Background(), source.Version{})
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, "init", readAll(t, res))

	gets, heads := fake.counts()
	assert.Equal(t, 1, gets)
	assert.Equal(t, 0, heads)
}

func TestLoadIfModified_ProbeComparesPriorKind(t *testing.T) {
	// The object now carries both validators; the probe must compare
	// the one the prior version tracks.
	stamp := time.Date(2019, time.June, 20, 18, 31, 34, 0, time.UTC)
	fake := &fakeS3{}
	fake.set("init", `"1ab"`, timePtr(stamp))

	src := newTestSource(t, fake)

	prior := source.LastModified(stamp)
	next, modified, err := src.LoadIfModified(context.Background(), prior)
	require.NoError(t, err)
	assert.False(t, modified)
	assert.Nil(t, next)

	fake.set("one", `"1ab"`, timePtr(stamp.Add(time.Hour)))
	next, modified, err = src.LoadIfModified(context.Background(), prior)
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, "one", readAll(t, next))
}

func TestLoadIfModified_ProbeNotFound(t *testing.T) {
	fake := &fakeS3{}
	fake.set("init", `"1ab"`, nil)

	src := newTestSource(t, fake)

	res, err := src.Load(context.Background())
	require.NoError(t, err)
	readAll(t, res)

	fake.mu.Lock()
	fake.missing = true
	fake.mu.Unlock()

	_, _, err = src.LoadIfModified(context.Background(), res.Version)
	require.Error(t, err)
	assert.True(t, source.IsFetchError(err))
	assert.ErrorIs(t, err, source.ErrNotFound)
}
