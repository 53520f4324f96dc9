// ABOUTME: Watches the certificate directory and reloads the active keystore when it changes
// ABOUTME: Uses fsnotify with a debounce so atomic rewrites trigger a single reload

package certs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the reloader waits after the last event.
const DefaultDebounce = 250 * time.Millisecond

// Reloader reloads one keystore slot whenever its file is rewritten.
type Reloader struct {
	manager  *Manager
	source   Source
	debounce time.Duration
	onReload func(*Material, error)
	ready    chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// NewReloader creates a reloader for source. onReload, if set, is called after
// every reload attempt.
func NewReloader(m *Manager, source Source, debounce time.Duration, onReload func(*Material, error)) *Reloader {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Reloader{
		manager:  m,
		source:   source,
		debounce: debounce,
		onReload: onReload,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the directory watch is installed.
func (r *Reloader) Ready() <-chan struct{} {
	return r.ready
}

// Run watches the certificate directory until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(r.manager.Dir()); err != nil {
		return fmt.Errorf("watching %s: %w", r.manager.Dir(), err)
	}

	target := filepath.Clean(r.manager.Path(r.source))
	logger := r.manager.logger.With("source", r.source)
	logger.Info("watching keystore", "path", target)
	close(r.ready)

	defer r.stopTimer()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("keystore event", "op", event.Op.String())
			r.schedule(ctx)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}

func (r *Reloader) schedule(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		r.reload(ctx)
	})
}

func (r *Reloader) reload(ctx context.Context) {
	mat, err := r.manager.Load(ctx, r.source)
	if err != nil {
		r.manager.logger.Warn("keystore reload failed, keeping current certificate",
			"source", r.source, "error", err)
	} else {
		r.manager.logger.Info("reloaded keystore", "source", r.source, "hostname", mat.Hostname)
	}
	if r.onReload != nil {
		r.onReload(mat, err)
	}
}

func (r *Reloader) stopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
}
