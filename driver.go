package ressor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gitter-badger/ressor/source"
)

// StartPolling begins periodic conditional reloads. A non-positive
// interval falls back to the configured PollInterval. The first pass
// runs immediately; later ones on the ticker. Calling Start on a
// service that already has a driver running is a no-op.
func (s *Service[T]) StartPolling(interval time.Duration) error {
	if interval <= 0 {
		interval = s.cfg.PollInterval
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("service %s is closed", s.cfg.Name)
	}
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	done := make(chan struct{})
	s.ticker, s.stop, s.done = ticker, stop, done
	s.mu.Unlock()

	go s.runPoll(ticker, stop, done)
	s.logger.Info("polling started",
		zap.String("resource", s.src.ResourceID()),
		zap.Duration("interval", interval),
	)
	return nil
}

// StartWatching subscribes to the source's change notifications and
// reloads on each trigger. The source must implement source.Watcher;
// sources without push support poll instead.
func (s *Service[T]) StartWatching(ctx context.Context) error {
	watcher, ok := s.src.(source.Watcher)
	if !ok {
		return fmt.Errorf("source %s does not support watching", s.src.ResourceID())
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("service %s is closed", s.cfg.Name)
	}
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop, s.done = stop, done
	s.mu.Unlock()

	events, err := watcher.Watch(ctx)
	if err != nil {
		s.mu.Lock()
		if s.stop == stop {
			s.stop, s.done = nil, nil
		}
		s.mu.Unlock()
		// A racing Close may already hold done and be waiting on it.
		close(done)
		return err
	}

	go s.runWatch(ctx, events, stop, done)
	s.logger.Info("watching started", zap.String("resource", s.src.ResourceID()))
	return nil
}

func (s *Service[T]) runPoll(ticker *time.Ticker, stop, done chan struct{}) {
	defer close(done)

	s.attempt(context.Background())

	for {
		select {
		case <-ticker.C:
			s.attempt(context.Background())
		case <-stop:
			return
		}
	}
}

func (s *Service[T]) runWatch(ctx context.Context, events <-chan struct{}, stop, done chan struct{}) {
	defer close(done)

	s.attempt(ctx)

	for {
		select {
		case _, ok := <-events:
			if !ok {
				s.logger.Info("watch channel closed", zap.String("resource", s.src.ResourceID()))
				return
			}
			s.attempt(ctx)
		case <-stop:
			return
		}
	}
}

// attempt runs one driver-initiated pass. A trigger landing while a
// pass is in flight is dropped; the next tick or event picks up the
// change. Failures are logged and surfaced by the pass itself.
func (s *Service[T]) attempt(ctx context.Context) {
	if !s.gate.tryAcquire() {
		s.logger.Debug("reload in flight, skipping trigger",
			zap.String("resource", s.src.ResourceID()),
		)
		return
	}
	defer s.gate.release()

	_, _ = s.Reload(ctx)
}

// reloadGate admits one driver-initiated reload at a time.
type reloadGate struct {
	ch chan struct{}
}

func newReloadGate() *reloadGate {
	return &reloadGate{ch: make(chan struct{}, 1)}
}

func (g *reloadGate) tryAcquire() bool {
	select {
	case g.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *reloadGate) release() {
	select {
	case <-g.ch:
	default:
	}
}
