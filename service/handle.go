// Package service holds the hot-swappable instance container. A Handle
// owns "the current instance" of a reloadable service and atomically
// replaces it when a reload succeeds; readers never observe a
// half-constructed value.
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/source"
)

// DefaultReadyTimeout bounds how long a read blocks before the first
// instance is installed when no bootstrap instance was configured.
const DefaultReadyTimeout = 30 * time.Second

// Snapshot is one immutable published state of a Handle. A forwarding
// wrapper takes a Snapshot at call entry and uses it for the whole
// call, so a reload landing mid-call never changes what that call sees.
type Snapshot[T any] struct {
	Instance T
	Version  source.Version
	// Seq increases by one per install and never goes backward; a
	// reader that observed Seq n never subsequently observes m < n.
	Seq         uint64
	InstalledAt time.Time
}

// Handle is the hot-swap container for a service instance of type T.
// Reads cost one atomic pointer load once an instance is installed.
// Safe for any number of concurrent goroutines.
type Handle[T any] struct {
	name         string
	logger       *zap.Logger
	readyTimeout time.Duration
	now          func() time.Time

	state atomic.Pointer[Snapshot[T]]

	readyOnce sync.Once
	ready     chan struct{}
}

// HandleOption configures a Handle at construction.
type HandleOption[T any] func(*Handle[T])

// WithBootstrap installs instance as the initial current value, so
// reads never block waiting for the first reload. The bootstrap
// carries the empty version and sequence zero.
func WithBootstrap[T any](instance T) HandleOption[T] {
	return func(h *Handle[T]) {
		h.state.Store(&Snapshot[T]{Instance: instance, InstalledAt: h.now()})
		h.markReady()
	}
}

// WithReadyTimeout bounds how long reads block before the first
// install. Values of zero or below keep DefaultReadyTimeout.
func WithReadyTimeout[T any](d time.Duration) HandleOption[T] {
	return func(h *Handle[T]) {
		if d > 0 {
			h.readyTimeout = d
		}
	}
}

// WithName labels the handle in logs and NotReadyError messages.
func WithName[T any](name string) HandleOption[T] {
	return func(h *Handle[T]) {
		if name != "" {
			h.name = name
		}
	}
}

// WithLogger attaches a logger; nil keeps the nop default.
func WithLogger[T any](logger *zap.Logger) HandleOption[T] {
	return func(h *Handle[T]) {
		if logger != nil {
			h.logger = logger.Named("handle")
		}
	}
}

// WithClock overrides the time source for installed-at stamps.
func WithClock[T any](now func() time.Time) HandleOption[T] {
	return func(h *Handle[T]) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHandle[T any](opts ...HandleOption[T]) *Handle[T] {
	h := &Handle[T]{
		name:         "service",
		logger:       zap.NewNop(),
		readyTimeout: DefaultReadyTimeout,
		now:          time.Now,
		ready:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Reload atomically installs instance as the current value. Readers
// see either the previous snapshot in full or the new one in full.
// Racing reloads resolve last-writer-wins by completion order; the
// sequence index still advances exactly once per call.
func (h *Handle[T]) Reload(instance T, version source.Version) {
	installedAt := h.now()
	for {
		current := h.state.Load()
		var seq uint64 = 1
		if current != nil {
			seq = current.Seq + 1
		}
		next := &Snapshot[T]{
			Instance:    instance,
			Version:     version,
			Seq:         seq,
			InstalledAt: installedAt,
		}
		if h.state.CompareAndSwap(current, next) {
			h.markReady()
			h.logger.Debug("instance installed",
				zap.String("service", h.name),
				zap.Uint64("seq", seq),
				zap.String("version", version.String()),
			)
			return
		}
	}
}

// Snapshot returns the current published state. It blocks like
// CurrentContext when nothing has been installed yet.
func (h *Handle[T]) Snapshot(ctx context.Context) (Snapshot[T], error) {
	if snap := h.state.Load(); snap != nil {
		return *snap, nil
	}
	if err := h.awaitReady(ctx); err != nil {
		return Snapshot[T]{}, err
	}
	return *h.state.Load(), nil
}

// CurrentContext returns the current instance. Before the first
// install it blocks until a reload lands, ctx is done, or the ready
// timeout elapses, failing with *NotReadyError in the latter cases.
func (h *Handle[T]) CurrentContext(ctx context.Context) (T, error) {
	snap, err := h.Snapshot(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return snap.Instance, nil
}

// Current is the convenience read. It blocks like CurrentContext and
// returns the zero value of T when the handle never became ready;
// callers that need the error use CurrentContext.
func (h *Handle[T]) Current() T {
	instance, _ := h.CurrentContext(context.Background())
	return instance
}

// Version returns the version of the data behind the current instance,
// the empty version while uninitialized.
func (h *Handle[T]) Version() source.Version {
	if snap := h.state.Load(); snap != nil {
		return snap.Version
	}
	return source.Version{}
}

// Seq returns the current sequence index, zero while uninitialized.
func (h *Handle[T]) Seq() uint64 {
	if snap := h.state.Load(); snap != nil {
		return snap.Seq
	}
	return 0
}

// Ready closes once the handle holds an instance.
func (h *Handle[T]) Ready() <-chan struct{} {
	return h.ready
}

// IsReady reports whether at least one instance is installed.
func (h *Handle[T]) IsReady() bool {
	select {
	case <-h.ready:
		return true
	default:
		return false
	}
}

func (h *Handle[T]) markReady() {
	h.readyOnce.Do(func() { close(h.ready) })
}

func (h *Handle[T]) awaitReady(ctx context.Context) error {
	waited := h.now()
	timer := time.NewTimer(h.readyTimeout)
	defer timer.Stop()

	select {
	case <-h.ready:
		return nil
	case <-ctx.Done():
		return &NotReadyError{Service: h.name, Waited: h.now().Sub(waited), Cause: ctx.Err()}
	case <-timer.C:
		return &NotReadyError{Service: h.name, Waited: h.readyTimeout}
	}
}
