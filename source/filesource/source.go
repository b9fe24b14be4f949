// Package filesource loads a resource from the local filesystem,
// versioned by modification time. It can push change triggers through
// fsnotify so drivers avoid polling.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/source"
)

const DefaultDebounce = 200 * time.Millisecond

// Config controls one file source.
type Config struct {
	// Path locates the file. Required.
	Path string

	// Debounce coalesces bursts of filesystem events into one trigger.
	// Values of zero or below keep DefaultDebounce.
	Debounce time.Duration

	Logger *zap.Logger
}

// Source reads a file and reports changes by modification time. Safe
// for concurrent use.
type Source struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger
}

func New(cfg Config) (*Source, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("invalid file source config: path is required")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		path:     path,
		debounce: debounce,
		logger:   logger.Named("filesource"),
	}, nil
}

func (s *Source) ResourceID() string {
	return s.path
}

// Load opens the file. The version is taken from the open handle so it
// matches the bytes the caller will read even if the path is replaced
// concurrently.
func (s *Source) Load(ctx context.Context) (*source.LoadedResource, error) {
	if err := ctx.Err(); err != nil {
		return nil, source.NewFetchError(s.path, "load", 0, err)
	}

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = source.ErrNotFound
		}
		return nil, source.NewFetchError(s.path, "load", 0, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, source.NewFetchError(s.path, "load", 0, err)
	}

	return &source.LoadedResource{
		Body:       f,
		Version:    source.LastModified(info.ModTime()),
		ResourceID: s.path,
	}, nil
}

// LoadIfModified stats the file first and only opens it when the
// modification time differs from prior. A prior version of another
// kind, including the empty version, degrades to an unconditional load.
func (s *Source) LoadIfModified(ctx context.Context, prior source.Version) (*source.LoadedResource, bool, error) {
	if prior.Kind() != source.KindLastModified {
		res, err := s.Load(ctx)
		if err != nil {
			return nil, false, err
		}
		return res, true, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, false, source.NewFetchError(s.path, "probe", 0, err)
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = source.ErrNotFound
		}
		return nil, false, source.NewFetchError(s.path, "probe", 0, err)
	}
	if source.LastModified(info.ModTime()).Equal(prior) {
		s.logger.Debug("file unchanged",
			zap.String("resource", s.path),
			zap.Time("mtime", info.ModTime()),
		)
		return nil, false, nil
	}

	res, err := s.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

// Watch delivers a trigger whenever the file may have changed, bursts
// coalesced by the configured debounce. The parent directory is
// watched rather than the file itself, so rename-over saves and
// remove/recreate cycles keep reporting. The channel closes when ctx
// is done.
func (s *Source) Watch(ctx context.Context) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start file watcher: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)
	go s.runWatcher(ctx, watcher, ch)
	return ch, nil
}

func (s *Source) runWatcher(ctx context.Context, watcher *fsnotify.Watcher, ch chan struct{}) {
	defer close(ch)
	defer watcher.Close()

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				s.logger.Warn("file watcher error", zap.String("resource", s.path), zap.Error(err))
			}
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !s.eventMatches(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.debounce)
		case <-timerChan(timer):
			timer = nil
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (s *Source) eventMatches(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(s.path) {
		return false
	}
	return event.Op.Has(fsnotify.Write) ||
		event.Op.Has(fsnotify.Create) ||
		event.Op.Has(fsnotify.Rename) ||
		event.Op.Has(fsnotify.Remove)
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}

var _ source.Watcher = (*Source)(nil)
