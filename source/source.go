package source

import (
	"context"
	"io"
)

// Source fetches a versioned resource. Implementations are safe for
// concurrent use.
type Source interface {
	// Load performs an unconditional fetch.
	Load(ctx context.Context) (*LoadedResource, error)

	// LoadIfModified performs a conditional fetch against a prior
	// version. It returns (nil, false, nil) when the resource has not
	// changed; the current instance remains valid. A prior version the
	// source cannot validate, including the empty version, degrades to
	// an unconditional fetch that reports modified.
	LoadIfModified(ctx context.Context, prior Version) (*LoadedResource, bool, error)

	// ResourceID identifies the resource for diagnostics.
	ResourceID() string
}

// Watcher is implemented by sources that can push change triggers
// instead of relying purely on polling.
type Watcher interface {
	Source

	// Watch delivers a signal whenever the underlying resource may have
	// changed. The channel closes when ctx is done or the source is
	// closed. Signals are advisory; the receiver still calls
	// LoadIfModified to confirm.
	Watch(ctx context.Context) (<-chan struct{}, error)
}

// LoadedResource is the outcome of a fetch that returned content. Body
// is single-consumption; the receiver owns it and must drain and close
// it.
type LoadedResource struct {
	Body       io.ReadCloser
	Version    Version
	ResourceID string
}

// Close releases the body without reading the remainder.
func (r *LoadedResource) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}
