package ressor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitter-badger/ressor/source"
	"github.com/gitter-badger/ressor/telemetry"
	"github.com/gitter-badger/ressor/translator"
)

// memorySource is an in-memory versioned resource. Tests mutate it
// between passes and count how often the service actually fetched.
type memorySource struct {
	mu      sync.Mutex
	body    string
	version source.Version
	err     error

	loads        int
	conditionals int
	entered      atomic.Int32

	// blocked, when non-nil, stalls every fetch until closed.
	blocked chan struct{}
}

func newMemorySource(body, tag string) *memorySource {
	return &memorySource{body: body, version: source.ETag(tag)}
}

func (m *memorySource) set(body, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body = body
	m.version = source.ETag(tag)
}

func (m *memorySource) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memorySource) block() chan struct{} {
	ch := make(chan struct{})
	m.mu.Lock()
	m.blocked = ch
	m.mu.Unlock()
	return ch
}

func (m *memorySource) ResourceID() string { return "mem://pricing" }

func (m *memorySource) Load(ctx context.Context) (*source.LoadedResource, error) {
	m.entered.Add(1)
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	return m.loadedLocked(), nil
}

func (m *memorySource) LoadIfModified(ctx context.Context, prior source.Version) (*source.LoadedResource, bool, error) {
	m.entered.Add(1)
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conditionals++
	if m.err != nil {
		return nil, false, m.err
	}
	if !prior.IsEmpty() && prior.Equal(m.version) {
		return nil, false, nil
	}
	return m.loadedLocked(), true, nil
}

func (m *memorySource) loadedLocked() *source.LoadedResource {
	return &source.LoadedResource{
		Body:       io.NopCloser(strings.NewReader(m.body)),
		Version:    m.version,
		ResourceID: m.ResourceID(),
	}
}

func (m *memorySource) wait() {
	m.mu.Lock()
	blocked := m.blocked
	m.mu.Unlock()
	if blocked != nil {
		<-blocked
	}
}

// watchableSource pushes change triggers like filesource does.
type watchableSource struct {
	memorySource
	events   chan struct{}
	watchErr error
}

func newWatchableSource(body, tag string) *watchableSource {
	w := &watchableSource{events: make(chan struct{}, 1)}
	w.body = body
	w.version = source.ETag(tag)
	return w
}

func (w *watchableSource) Watch(ctx context.Context) (<-chan struct{}, error) {
	if w.watchErr != nil {
		return nil, w.watchErr
	}
	return w.events, nil
}

// closableSource records Close calls from the service.
type closableSource struct {
	memorySource
	closes atomic.Int32
}

func (c *closableSource) Close() error {
	c.closes.Add(1)
	return nil
}

// recordingMetrics captures telemetry emitted by reload passes.
type recordingMetrics struct {
	mu       sync.Mutex
	statuses []telemetry.ReloadStatus
	versions []string
	ready    map[string]bool
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ready: make(map[string]bool)}
}

func (r *recordingMetrics) ObserveReload(_ string, status telemetry.ReloadStatus, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingMetrics) AddFetch(string, string) {}

func (r *recordingMetrics) SetResourceVersion(_ string, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions = append(r.versions, version)
}

func (r *recordingMetrics) SetServiceReady(service string, ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready[service] = ready
}

func (r *recordingMetrics) recorded() []telemetry.ReloadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.ReloadStatus(nil), r.statuses...)
}

func newStringService(t *testing.T, src source.Source, opts ...func(*Config[string])) *Service[string] {
	t.Helper()
	cfg := Config[string]{
		Name:       "pricing",
		Source:     src,
		Translator: translator.String(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	return svc
}

func TestNew_ValidatesConfig(t *testing.T) {
	_, err := New(Config[string]{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source is required")
	assert.Contains(t, err.Error(), "translator is required")
}

func TestNew_DefaultsNameToResourceID(t *testing.T) {
	svc, err := New(Config[string]{
		Source:     newMemorySource("init", "1ab"),
		Translator: translator.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, "mem://pricing", svc.Name())
}

func TestService_ReloadSwapsThenReportsUnchanged(t *testing.T) {
	src := newMemorySource("init", "1ab")
	metrics := newRecordingMetrics()
	svc := newStringService(t, src, func(c *Config[string]) { c.Metrics = metrics })

	swapped, err := svc.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, swapped)

	got, err := svc.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "init", got)

	swapped, err = svc.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, swapped)

	src.set("one", "1ad")
	swapped, err = svc.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, swapped)

	got, err = svc.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	assert.Equal(t, []telemetry.ReloadStatus{
		telemetry.ReloadStatusSwapped,
		telemetry.ReloadStatusUnchanged,
		telemetry.ReloadStatusSwapped,
	}, metrics.recorded())
	assert.Equal(t, 3, src.conditionals)
	assert.Zero(t, src.loads)
}

func TestService_ForceReloadFetchesUnconditionally(t *testing.T) {
	src := newMemorySource("init", "1ab")
	svc := newStringService(t, src)

	_, err := svc.Reload(context.Background())
	require.NoError(t, err)
	seq := svc.Handle().Seq()

	require.NoError(t, svc.ForceReload(context.Background()))

	assert.Equal(t, 1, src.loads)
	assert.Equal(t, seq+1, svc.Handle().Seq())
}

func TestService_FetchErrorKeepsInstance(t *testing.T) {
	src := newMemorySource("init", "1ab")
	metrics := newRecordingMetrics()

	var heard []error
	var mu sync.Mutex
	svc := newStringService(t, src, func(c *Config[string]) {
		c.Metrics = metrics
		c.OnError = func(err error) {
			mu.Lock()
			heard = append(heard, err)
			mu.Unlock()
		}
	})

	_, err := svc.Reload(context.Background())
	require.NoError(t, err)

	boom := errors.New("connection refused")
	src.fail(boom)
	_, err = svc.Reload(context.Background())
	require.ErrorIs(t, err, boom)

	got, err := svc.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "init", got)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, heard, 1)
	assert.ErrorIs(t, heard[0], boom)
	assert.Contains(t, metrics.recorded(), telemetry.ReloadStatusFetchError)
}

func TestService_TranslateErrorKeepsInstance(t *testing.T) {
	src := newMemorySource("init", "1ab")
	metrics := newRecordingMetrics()

	boom := errors.New("not a price table")
	failing := translator.Map(translator.String(), func(s string) (string, error) {
		if s == "garbage" {
			return "", boom
		}
		return s, nil
	})

	var heard []error
	var mu sync.Mutex
	svc, err := New(Config[string]{
		Name:       "pricing",
		Source:     src,
		Translator: failing,
		Metrics:    metrics,
		OnError: func(err error) {
			mu.Lock()
			heard = append(heard, err)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	_, err = svc.Reload(context.Background())
	require.NoError(t, err)

	src.set("garbage", "1ad")
	_, err = svc.Reload(context.Background())
	require.ErrorIs(t, err, boom)

	got, err := svc.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "init", got)
	assert.Equal(t, source.ETag("1ab"), svc.Handle().Version())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, heard, 1)
	assert.Contains(t, metrics.recorded(), telemetry.ReloadStatusTranslateError)
}

func TestService_ConcurrentReloadsShareOnePass(t *testing.T) {
	src := newMemorySource("init", "1ab")
	release := src.block()
	svc := newStringService(t, src)

	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			swapped, err := svc.Reload(context.Background())
			assert.NoError(t, err)
			results <- swapped
		}()
	}

	require.Eventually(t, func() bool { return src.entered.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case swapped := <-results:
			assert.True(t, swapped)
		case <-time.After(time.Second):
			t.Fatal("reload did not return")
		}
	}
	assert.Equal(t, 1, src.conditionals)
}

func TestService_BootstrapServesImmediately(t *testing.T) {
	src := newMemorySource("init", "1ab")
	bootstrap := "builtin"
	svc := newStringService(t, src, func(c *Config[string]) { c.Bootstrap = &bootstrap })

	assert.True(t, svc.Handle().IsReady())
	got, err := svc.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "builtin", got)
	assert.Zero(t, src.entered.Load())

	_, err = svc.Reload(context.Background())
	require.NoError(t, err)
	got, err = svc.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "init", got)
}

func TestService_CloseClosesSource(t *testing.T) {
	src := &closableSource{}
	src.body = "init"
	src.version = source.ETag("1ab")
	svc := newStringService(t, src)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
	assert.Equal(t, int32(1), src.closes.Load())

	require.Error(t, svc.StartPolling(time.Millisecond))
}
